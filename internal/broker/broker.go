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

// Package broker holds the node identity used to key connection pools.
package broker

import "fmt"

// Key identifies a cluster node by its advertised host and port. It is the
// primary index for the pools the coordinator keeps: every producer or
// committing consumer bound to a given stream leader lands in the pool
// keyed by that leader's Key.
type Key struct {
	Host string
	Port int
}

// New builds a Key from a host and port.
func New(host string, port int) Key {
	return Key{Host: host, Port: port}
}

// String renders the key the way it appears in logs and the monitoring
// snapshot, e.g. "broker1:5552".
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}
