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
	"time"

	"github.com/nodestream/streamclient/internal/backoff"
	"github.com/nodestream/streamclient/internal/broker"
	"github.com/nodestream/streamclient/internal/metadata"
)

// Connection is the opaque physical connection a Manager owns. The wire
// codec, TCP/TLS transport and frame splitting that back a real Connection
// are external collaborators per spec.md §1; the coordinator only ever
// closes one and hands it to producer/consumer hooks.
type Connection interface {
	Close() error
}

// Producer is the lifecycle hook surface the coordinator drives on a
// user-facing producer. PublishingID is the manager-local slot index; it
// is reassigned on every rebind.
type Producer interface {
	SetPublishingID(id uint8)
	SetClient(conn Connection)
	Unavailable()
	Running()
	CloseAfterStreamDeletion()
}

// CommittingConsumer is the lifecycle hook surface for the offset-commit
// side of a consumer. It has no publishing id and, unlike Producer, is
// never told to close on terminal failure: the consumer keeps its own main
// connection and the coordinator only ever owns this auxiliary one.
type CommittingConsumer interface {
	SetClient(conn Connection)
	Unavailable()
	Running()
}

// ShutdownReason classifies why a Manager's connection went away. Only
// ReasonOrderly is excluded from triggering recovery: it means the
// coordinator itself closed the connection as part of a deliberate
// teardown.
type ShutdownReason int

const (
	ReasonUnknown ShutdownReason = iota
	ReasonOrderly
	ReasonHeartbeatTimeout
	ReasonRemoteClose
)

// ShutdownListener is invoked by the transport when a Manager's connection
// terminates for any reason other than a coordinator-initiated close.
type ShutdownListener func(reason ShutdownReason)

// MetadataListener is invoked by the transport when the broker announces
// that a stream's topology changed on the connection a Manager owns.
type MetadataListener func(stream string, code metadata.Code)

// ClientParameters are handed to the ClientFactory to open a Manager's
// connection. Base carries whatever transport-level options the
// environment wants applied (TLS, auth, timeouts...); the coordinator only
// ever fills in Broker and the two listeners.
type ClientParameters struct {
	Broker           broker.Key
	Base             any
	ShutdownListener ShutdownListener
	MetadataListener MetadataListener
}

// ClientFactory opens one physical connection to the broker named in
// params.Broker, wiring the listeners the coordinator supplied so the
// transport can call back into it later.
type ClientFactory func(ctx context.Context, params ClientParameters) (Connection, error)

// Scheduler runs delayed, cancellable callbacks without blocking a worker
// thread. The coordinator borrows one rather than owning goroutines that
// sleep; recovery jobs schedule their next attempt through it.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) CancelFunc
}

// CancelFunc stops a scheduled callback if it has not already fired.
type CancelFunc func()

// Environment is the set of collaborators the surrounding client library
// provides. It matches the upstream StreamEnvironment's role: locator
// connection, scheduler, per-recovery-class backoff policies, and a
// template for client parameters.
type Environment interface {
	Locator() metadata.Locator
	Scheduler() Scheduler
	ClientParametersBase() any
	RecoveryBackoffPolicy() backoff.Policy
	TopologyBackoffPolicy() backoff.Policy
}
