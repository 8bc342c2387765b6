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
	"github.com/google/uuid"

	"github.com/nodestream/streamclient/internal/broker"
)

// manager owns exactly one physical connection and the two bounded slot
// arrays that track what rides on it. A slot's index in the producers
// array is the publishing id the broker uses to correlate acks with that
// producer on this connection.
//
// manager carries no lock of its own: every field is mutated only while
// the owning Coordinator's mutex is held, per spec.md §5 ("all mutable
// state... is serialized by one logical coordinator mutex"). Methods on
// manager document that requirement instead of re-taking a lock, so a
// caller already holding coordinator.mu never has to reason about lock
// ordering between the two.
type manager struct {
	id   string
	key  broker.Key
	conn Connection

	producers     [MaxProducersPerClient]*producerRegistration
	consumers     [MaxCommittingConsumersPerClient]*consumerRegistration
	producerCount int
	consumerCount int

	// dead is set once this manager's connection has been torn down,
	// either by an unsolicited shutdown event or by a coordinator-driven
	// close. A dead manager is never offered for new slot allocation.
	dead bool
}

// newManager builds a manager shell before its connection exists, so the
// shutdown/metadata listener closures handed to the client factory can
// close over a stable pointer. Call setConn once the factory returns.
func newManager(key broker.Key) *manager {
	return &manager{
		id:  uuid.NewString(),
		key: key,
	}
}

// setConn attaches the connection once the client factory has returned
// it. Requires coordinator.mu.
func (m *manager) setConn(conn Connection) {
	m.conn = conn
}

// occupancy reports how many slots of each class are currently bound.
// Requires coordinator.mu.
func (m *manager) occupancy() (producers, consumers int) {
	return m.producerCount, m.consumerCount
}

// isEmpty reports whether the manager carries no registrations at all and
// is therefore eligible for teardown (invariant 2). Requires
// coordinator.mu.
func (m *manager) isEmpty() bool {
	return m.producerCount == 0 && m.consumerCount == 0
}

// acquireProducerSlot finds the lowest free producer slot and binds reg to
// it, returning the slot index. It fails if the manager is dead or full.
// Requires coordinator.mu.
func (m *manager) acquireProducerSlot(reg *producerRegistration) (int, bool) {
	if m.dead {
		return 0, false
	}
	for i, occupant := range m.producers {
		if occupant == nil {
			m.producers[i] = reg
			m.producerCount++
			return i, true
		}
	}
	return 0, false
}

// acquireConsumerSlot is the committing-consumer analogue of
// acquireProducerSlot. Requires coordinator.mu.
func (m *manager) acquireConsumerSlot(reg *consumerRegistration) (int, bool) {
	if m.dead {
		return 0, false
	}
	for i, occupant := range m.consumers {
		if occupant == nil {
			m.consumers[i] = reg
			m.consumerCount++
			return i, true
		}
	}
	return 0, false
}

// releaseProducerSlot clears a producer slot if it is still occupied.
// Requires coordinator.mu.
func (m *manager) releaseProducerSlot(slot int) {
	if m.producers[slot] != nil {
		m.producers[slot] = nil
		m.producerCount--
	}
}

// releaseConsumerSlot clears a committing-consumer slot if it is still
// occupied. Requires coordinator.mu.
func (m *manager) releaseConsumerSlot(slot int) {
	if m.consumers[slot] != nil {
		m.consumers[slot] = nil
		m.consumerCount--
	}
}

// snapshot collects every registration currently bound to this manager,
// for the shutdown path where all of them are displaced at once. Requires
// coordinator.mu.
func (m *manager) snapshot() (producers []*producerRegistration, consumers []*consumerRegistration) {
	for _, p := range m.producers {
		if p != nil {
			producers = append(producers, p)
		}
	}
	for _, c := range m.consumers {
		if c != nil {
			consumers = append(consumers, c)
		}
	}
	return producers, consumers
}
