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

// ClientSnapshot reports one manager's occupancy.
type ClientSnapshot struct {
	ProducerSlotsUsed           int `json:"producerSlotsUsed"`
	CommittingConsumerSlotsUsed int `json:"committingConsumerSlotsUsed"`
}

// PoolSnapshot reports one broker's pool.
type PoolSnapshot struct {
	Broker  string           `json:"broker"`
	Clients []ClientSnapshot `json:"clients"`
}

// Snapshot is the JSON-serializable monitoring document described in
// spec.md §6. It is a point-in-time copy: mutating it has no effect on the
// Coordinator.
type Snapshot struct {
	Pools []PoolSnapshot `json:"pools"`
}

// Snapshot captures the current shape of every pool: which brokers the
// coordinator holds connections to, and how full each connection's slot
// arrays are.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Snapshot{Pools: make([]PoolSnapshot, 0, len(c.pools))}
	for key, p := range c.pools {
		ps := PoolSnapshot{Broker: key.String(), Clients: make([]ClientSnapshot, 0, len(p.managers))}
		for _, mgr := range p.managers {
			producers, consumers := mgr.occupancy()
			ps.Clients = append(ps.Clients, ClientSnapshot{
				ProducerSlotsUsed:           producers,
				CommittingConsumerSlotsUsed: consumers,
			})
		}
		out.Pools = append(out.Pools, ps)
	}
	return out
}
