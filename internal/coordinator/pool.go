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

import "github.com/nodestream/streamclient/internal/broker"

// pool groups every manager currently holding a connection to one broker.
// Managers are scanned in insertion order for the first with a free slot,
// so occupancy packs toward the front of the list and teardown naturally
// proceeds from the tail (spec.md §4.2, "placement constraint").
//
// Like manager, pool carries no lock of its own; every method requires
// coordinator.mu.
type pool struct {
	key      broker.Key
	managers []*manager
}

func newPool(key broker.Key) *pool {
	return &pool{key: key}
}

// firstWithFreeProducerSlot returns the first manager in insertion order
// that is not dead and is not already full of producers. Requires
// coordinator.mu.
func (p *pool) firstWithFreeProducerSlot() *manager {
	for _, m := range p.managers {
		if m.dead {
			continue
		}
		if m.producerCount < MaxProducersPerClient {
			return m
		}
	}
	return nil
}

// firstWithFreeConsumerSlot is the committing-consumer analogue. Requires
// coordinator.mu.
func (p *pool) firstWithFreeConsumerSlot() *manager {
	for _, m := range p.managers {
		if m.dead {
			continue
		}
		if m.consumerCount < MaxCommittingConsumersPerClient {
			return m
		}
	}
	return nil
}

// append adds a freshly created manager to the end of the pool. Requires
// coordinator.mu.
func (p *pool) append(m *manager) {
	p.managers = append(p.managers, m)
}

// remove drops m from the pool's list. Requires coordinator.mu.
func (p *pool) remove(m *manager) {
	for i, candidate := range p.managers {
		if candidate == m {
			p.managers = append(p.managers[:i], p.managers[i+1:]...)
			return
		}
	}
}

// isEmpty reports whether the pool holds no managers and can itself be
// dropped from the coordinator's map. Requires coordinator.mu.
func (p *pool) isEmpty() bool {
	return len(p.managers) == 0
}
