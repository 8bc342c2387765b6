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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodestream/streamclient/internal/backoff"
	"github.com/nodestream/streamclient/internal/broker"
	"github.com/nodestream/streamclient/internal/metadata"
)

var (
	leader1 = broker.New("broker1", 5552)
	leader2 = broker.New("broker2", 5552)
)

// S1 — pure registration failures.
func TestRegisterProducer_LocatorResponses(t *testing.T) {
	cases := []struct {
		name    string
		respond func(l *fakeLocator)
		wantErr error
	}{
		{
			name:    "stream missing from response",
			respond: func(l *fakeLocator) {},
			wantErr: ErrStreamDoesNotExist,
		},
		{
			name:    "stream does not exist code",
			respond: func(l *fakeLocator) { l.script("s", deleted("s")) },
			wantErr: ErrStreamDoesNotExist,
		},
		{
			name: "access refused",
			respond: func(l *fakeLocator) {
				l.script("s", metadata.StreamMetadata{Name: "s", Code: metadata.CodeAccessRefused})
			},
			wantErr: ErrIllegalState,
		},
		{
			name:    "ok with no leader",
			respond: func(l *fakeLocator) { l.script("s", okNoLeader("s")) },
			wantErr: ErrIllegalState,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			locator := newFakeLocator()
			tc.respond(locator)
			c := New(newFakeEnvironment(locator), (&fakeFactory{}).dial)

			_, err := c.RegisterProducer(context.Background(), &fakeProducer{}, "s")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr))
		})
	}
}

func TestRegisterProducer_Succeeds(t *testing.T) {
	locator := newFakeLocator()
	locator.script("s", okLeader("s", leader1))
	c := New(newFakeEnvironment(locator), (&fakeFactory{}).dial)

	p := &fakeProducer{}
	handle, err := c.RegisterProducer(context.Background(), p, "s")
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.Equal(t, 1, p.count("setClient"))
	assert.Equal(t, 1, c.PoolSize())
	assert.Equal(t, 1, c.ClientCount())
}

// S2 — shutdown-driven redistribution.
func TestShutdown_RedistributesAfterTransientGap(t *testing.T) {
	locator := newFakeLocator()
	// One OK response per registration, then the recovery responses.
	locator.script("s", okLeader("s", leader1), okLeader("s", leader1), okNoLeader("s"), okNoLeader("s"), okLeader("s", leader2))
	factory := &fakeFactory{}
	c := New(newFakeEnvironment(locator), factory.dial)

	producer := &fakeProducer{}
	consumer := &fakeConsumer{}
	_, err := c.RegisterProducer(context.Background(), producer, "s")
	require.NoError(t, err)
	_, err = c.RegisterCommittingConsumer(context.Background(), consumer, "s")
	require.NoError(t, err)

	require.Equal(t, 1, factory.callCount())
	shutdown := factory.paramsAt(0).ShutdownListener
	shutdown(ReasonRemoteClose)

	assert.Equal(t, 1, producer.count("unavailable"))
	assert.Equal(t, 2, producer.count("setClient"))
	assert.Equal(t, 1, producer.count("running"))

	assert.Equal(t, 1, consumer.count("unavailable"))
	assert.Equal(t, 2, consumer.count("setClient"))
	assert.Equal(t, 1, consumer.count("running"))

	assert.Equal(t, 1, c.PoolSize())
	assert.Equal(t, 1, c.ClientCount())
}

// S3 — shutdown recovery timeout.
func TestShutdown_TimesOutWhenLeaderNeverReturns(t *testing.T) {
	locator := newFakeLocator()
	locator.script("s", okLeader("s", leader1), okLeader("s", leader1), okNoLeader("s"))
	factory := &fakeFactory{}
	env := newFakeEnvironment(locator)
	env.recovery = backoff.FixedWithInitialDelayAndTimeout(10*time.Millisecond, 10*time.Millisecond, 100*time.Millisecond)
	c := New(env, factory.dial)

	producer := &fakeProducer{}
	consumer := &fakeConsumer{}
	_, err := c.RegisterProducer(context.Background(), producer, "s")
	require.NoError(t, err)
	_, err = c.RegisterCommittingConsumer(context.Background(), consumer, "s")
	require.NoError(t, err)

	factory.paramsAt(0).ShutdownListener(ReasonHeartbeatTimeout)

	assert.Equal(t, 1, producer.count("unavailable"))
	assert.Equal(t, 1, producer.count("closeAfterStreamDeletion"))
	assert.Equal(t, 0, producer.count("running"))

	assert.Equal(t, 1, consumer.count("unavailable"))
	assert.Equal(t, 0, consumer.count("running"))

	assert.Equal(t, 0, c.PoolSize())
	assert.Equal(t, 0, c.ClientCount())
}

// S4 — metadata update moves one of two streams sharing a manager.
func TestMetadataChange_MovesOnlyAffectedStream(t *testing.T) {
	locator := newFakeLocator()
	locator.script("moving-stream", okLeader("moving-stream", leader1), okLeader("moving-stream", leader1), okNoLeader("moving-stream"), okLeader("moving-stream", leader2))
	locator.script("fixed-stream", okLeader("fixed-stream", leader1))
	factory := &fakeFactory{}
	c := New(newFakeEnvironment(locator), factory.dial)

	movingProducer := &fakeProducer{}
	movingConsumer := &fakeConsumer{}
	fixedProducer := &fakeProducer{}
	fixedConsumer := &fakeConsumer{}

	_, err := c.RegisterProducer(context.Background(), movingProducer, "moving-stream")
	require.NoError(t, err)
	_, err = c.RegisterCommittingConsumer(context.Background(), movingConsumer, "moving-stream")
	require.NoError(t, err)
	_, err = c.RegisterProducer(context.Background(), fixedProducer, "fixed-stream")
	require.NoError(t, err)
	_, err = c.RegisterCommittingConsumer(context.Background(), fixedConsumer, "fixed-stream")
	require.NoError(t, err)

	require.Equal(t, 1, c.PoolSize())
	require.Equal(t, 1, c.ClientCount())

	metadataListener := factory.paramsAt(0).MetadataListener
	metadataListener("moving-stream", 0)

	assert.Equal(t, 1, movingProducer.count("unavailable"))
	assert.Equal(t, 2, movingProducer.count("setClient"))
	assert.Equal(t, 1, movingProducer.count("running"))
	assert.Equal(t, 1, movingConsumer.count("unavailable"))
	assert.Equal(t, 2, movingConsumer.count("setClient"))
	assert.Equal(t, 1, movingConsumer.count("running"))

	// Only the hooks from their own registration.
	assert.Equal(t, []string{"setPublishingID", "setClient"}, fixedProducer.snapshot())
	assert.Equal(t, []string{"setClient"}, fixedConsumer.snapshot())

	assert.Equal(t, 2, c.PoolSize())
	assert.Equal(t, 2, c.ClientCount())
}

// S5 — stream deleted via metadata event.
func TestMetadataChange_StreamDeleted(t *testing.T) {
	locator := newFakeLocator()
	locator.script("s", okLeader("s", leader1), deleted("s"))
	factory := &fakeFactory{}
	c := New(newFakeEnvironment(locator), factory.dial)

	producer := &fakeProducer{}
	_, err := c.RegisterProducer(context.Background(), producer, "s")
	require.NoError(t, err)

	factory.paramsAt(0).MetadataListener("s", 0)

	assert.Equal(t, []string{"setPublishingID", "setClient", "unavailable", "closeAfterStreamDeletion"}, producer.snapshot())
	assert.Equal(t, 0, c.PoolSize())
}

// S6 — slot packing and reclamation.
func TestSlotPacking(t *testing.T) {
	locator := newFakeLocator()
	locator.script("s", okLeader("s", leader1))
	factory := &fakeFactory{}
	c := New(newFakeEnvironment(locator), factory.dial)

	const k = 20
	handles := make([]CleanupHandle, 0, MaxProducersPerClient+k)
	for i := 0; i < MaxProducersPerClient+k; i++ {
		h, err := c.RegisterProducer(context.Background(), &fakeProducer{}, "s")
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, 2, c.ClientCount())

	consumerHandles := make([]CleanupHandle, 0, 2*MaxCommittingConsumersPerClient+1)
	for i := 0; i < 2*MaxCommittingConsumersPerClient+1; i++ {
		h, err := c.RegisterCommittingConsumer(context.Background(), &fakeConsumer{}, "s")
		require.NoError(t, err)
		consumerHandles = append(consumerHandles, h)
	}
	assert.Equal(t, 3, c.ClientCount())

	// Free the overflow client first, then every remaining committing
	// consumer, mirroring
	// growShrinkResourcesBasedOnProducersAndCommittingConsumersCount: a
	// manager that still holds producers must not be torn down just because
	// its committing consumers are gone.
	consumerHandles[len(consumerHandles)-1]()
	assert.Equal(t, 2, c.ClientCount())
	for _, h := range consumerHandles[:len(consumerHandles)-1] {
		h()
	}
	assert.Equal(t, 2, c.ClientCount())

	handles[10]()
	replacement := &fakeProducer{}
	_, err := c.RegisterProducer(context.Background(), replacement, "s")
	require.NoError(t, err)
	assert.Equal(t, uint8(10), replacement.publishingID())
	assert.Equal(t, 1, c.PoolSize())
	assert.Equal(t, 2, c.ClientCount())

	// Close the trailing producers; this frees a whole manager and part of
	// the next one.
	for i := len(handles) - (k + 20) + 1; i < len(handles); i++ {
		handles[i]()
	}
	assert.Equal(t, 1, c.ClientCount())
}

// Testable property 4: a cleanup handle invoked N times behaves like once.
func TestCleanupHandle_IsIdempotent(t *testing.T) {
	locator := newFakeLocator()
	locator.script("s", okLeader("s", leader1))
	c := New(newFakeEnvironment(locator), (&fakeFactory{}).dial)

	handle, err := c.RegisterProducer(context.Background(), &fakeProducer{}, "s")
	require.NoError(t, err)

	handle()
	assert.Equal(t, 0, c.ClientCount())
	handle()
	handle()
	assert.Equal(t, 0, c.ClientCount())
}

