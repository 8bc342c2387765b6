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

// Package metadata describes stream topology as reported by a cluster
// locator connection: which broker currently leads a stream, and who
// replicates it.
package metadata

import (
	"context"

	"github.com/nodestream/streamclient/internal/broker"
)

// Code mirrors the response codes a locator can return for a stream
// lookup. Only OK, StreamDoesNotExist and StreamNotAvailable drive
// coordinator behavior directly; AccessRefused and Other both fail
// registration as an illegal state and are left pending during recovery.
type Code int

const (
	// CodeOther is any response the coordinator does not special-case.
	CodeOther Code = iota
	// CodeOK means the lookup succeeded; Leader may still be nil if an
	// election is in progress.
	CodeOK
	// CodeStreamDoesNotExist means the stream has been deleted or never
	// existed.
	CodeStreamDoesNotExist
	// CodeStreamNotAvailable means the stream exists but currently has
	// no reachable leader; callers should retry.
	CodeStreamNotAvailable
	// CodeAccessRefused means the locator denied the lookup.
	CodeAccessRefused
)

// String implements fmt.Stringer for use in log fields.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeStreamDoesNotExist:
		return "stream_does_not_exist"
	case CodeStreamNotAvailable:
		return "stream_not_available"
	case CodeAccessRefused:
		return "access_refused"
	default:
		return "other"
	}
}

// StreamMetadata is the per-stream record a Locator returns. Leader is nil
// when no leader is currently known for the stream, which can happen even
// when Code is CodeOK during a leader election.
type StreamMetadata struct {
	Name     string
	Code     Code
	Leader   *broker.Key
	Replicas []broker.Key
}

// Locator fetches stream metadata from the cluster. Implementations talk to
// whatever connection the surrounding environment keeps open to a node that
// can answer topology queries; the coordinator only ever calls Metadata and
// never manages that connection itself.
//
// Metadata accepts several streams per call, but the coordinator always
// asks for one: registration looks up its own stream, and a recovery
// attempt issues one concurrent call per distinct stream it still has
// pending. A stream missing from the returned map is treated the same as
// CodeStreamDoesNotExist.
type Locator interface {
	Metadata(ctx context.Context, streams ...string) (map[string]StreamMetadata, error)
}
