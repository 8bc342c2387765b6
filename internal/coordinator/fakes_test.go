/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/nodestream/streamclient/internal/backoff"
	"github.com/nodestream/streamclient/internal/broker"
	"github.com/nodestream/streamclient/internal/metadata"
)

// fakeLocator scripts a sequence of responses per stream. Once a stream's
// script is exhausted, its last entry repeats forever, which is enough to
// model "the broker never recovers" scenarios without an unbounded script.
type fakeLocator struct {
	mu      sync.Mutex
	scripts map[string][]metadata.StreamMetadata
	index   map[string]int
}

func newFakeLocator() *fakeLocator {
	return &fakeLocator{scripts: map[string][]metadata.StreamMetadata{}, index: map[string]int{}}
}

func (f *fakeLocator) script(stream string, responses ...metadata.StreamMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[stream] = responses
}

func (f *fakeLocator) Metadata(_ context.Context, streams ...string) (map[string]metadata.StreamMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]metadata.StreamMetadata, len(streams))
	for _, s := range streams {
		script := f.scripts[s]
		if len(script) == 0 {
			continue
		}
		i := f.index[s]
		if i >= len(script) {
			i = len(script) - 1
		}
		out[s] = script[i]
		f.index[s] = i + 1
	}
	return out, nil
}

func okLeader(stream string, leader broker.Key) metadata.StreamMetadata {
	l := leader
	return metadata.StreamMetadata{Name: stream, Code: metadata.CodeOK, Leader: &l}
}

func okNoLeader(stream string) metadata.StreamMetadata {
	return metadata.StreamMetadata{Name: stream, Code: metadata.CodeOK}
}

func deleted(stream string) metadata.StreamMetadata {
	return metadata.StreamMetadata{Name: stream, Code: metadata.CodeStreamDoesNotExist}
}

// syncScheduler runs every callback inline on the calling goroutine instead
// of after a real delay, making recovery passes deterministic in tests. It
// is safe because nothing in this package ever calls Scheduler.Schedule
// while holding coordinator.mu.
type syncScheduler struct{}

func (syncScheduler) Schedule(_ time.Duration, fn func()) CancelFunc {
	fn()
	return func() {}
}

// fakeConnection is the Connection every fakeFactory call returns.
type fakeConnection struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory records every ClientParameters it was asked to dial, so a
// test can reach back in and fire a captured ShutdownListener or
// MetadataListener directly.
type fakeFactory struct {
	mu    sync.Mutex
	calls []ClientParameters
	conns []*fakeConnection
}

func (f *fakeFactory) dial(_ context.Context, params ClientParameters) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := &fakeConnection{}
	f.calls = append(f.calls, params)
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFactory) paramsAt(i int) ClientParameters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// hookLog records the order in which lifecycle hooks fire, shared by
// fakeProducer and fakeConsumer.
type hookLog struct {
	mu     sync.Mutex
	events []string
}

func (h *hookLog) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *hookLog) count(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == event {
			n++
		}
	}
	return n
}

func (h *hookLog) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

type fakeProducer struct {
	hookLog
	mu               sync.Mutex
	lastPublishingID uint8
}

func (p *fakeProducer) SetPublishingID(id uint8) {
	p.mu.Lock()
	p.lastPublishingID = id
	p.mu.Unlock()
	p.record("setPublishingID")
}

func (p *fakeProducer) publishingID() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPublishingID
}

func (p *fakeProducer) SetClient(Connection)     { p.record("setClient") }
func (p *fakeProducer) Unavailable()             { p.record("unavailable") }
func (p *fakeProducer) Running()                 { p.record("running") }
func (p *fakeProducer) CloseAfterStreamDeletion() { p.record("closeAfterStreamDeletion") }

type fakeConsumer struct {
	hookLog
}

func (c *fakeConsumer) SetClient(Connection) { c.record("setClient") }
func (c *fakeConsumer) Unavailable()         { c.record("unavailable") }
func (c *fakeConsumer) Running()             { c.record("running") }

// fakeEnvironment wires a fakeLocator and a syncScheduler together with
// configurable backoff policies.
type fakeEnvironment struct {
	locator  *fakeLocator
	recovery backoff.Policy
	topology backoff.Policy
}

func newFakeEnvironment(locator *fakeLocator) *fakeEnvironment {
	return &fakeEnvironment{
		locator:  locator,
		recovery: backoff.Fixed(time.Millisecond),
		topology: backoff.Fixed(time.Millisecond),
	}
}

func (e *fakeEnvironment) Locator() metadata.Locator             { return e.locator }
func (e *fakeEnvironment) Scheduler() Scheduler                  { return syncScheduler{} }
func (e *fakeEnvironment) ClientParametersBase() any             { return nil }
func (e *fakeEnvironment) RecoveryBackoffPolicy() backoff.Policy { return e.recovery }
func (e *fakeEnvironment) TopologyBackoffPolicy() backoff.Policy { return e.topology }
