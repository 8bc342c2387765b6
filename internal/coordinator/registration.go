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

// binding is the part of a registration's state the coordinator mutates
// while placing, rebinding or releasing it. Every field requires
// coordinator.mu to read or write, including from the cleanup handle
// returned to the user.
type binding struct {
	stream string

	manager *manager // nil when unbound
	slot    int      // meaningless when manager == nil

	// job is set while this registration sits in a recovery job's
	// affected set, so the cleanup handle can excise it from there
	// instead of (incorrectly) trying to release a manager slot it no
	// longer occupies.
	job *recoveryJob

	// removed is set the first time the cleanup handle runs, making every
	// later invocation a no-op (testable property 4).
	removed bool
}

// CleanupHandle is returned by RegisterProducer and
// RegisterCommittingConsumer. Calling it releases the registration's slot
// (or excises it from an in-flight recovery pass) and is safe to call any
// number of times, from any goroutine, at any point in the registration's
// lifetime.
type CleanupHandle func()

type producerRegistration struct {
	binding
	producer Producer
}

type consumerRegistration struct {
	binding
	consumer CommittingConsumer
}
