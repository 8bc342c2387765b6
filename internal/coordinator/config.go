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
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// MaxProducersPerClient is the fixed capacity of a Manager's producer slot
// array. A slot index doubles as the publishing id handed to the broker,
// so this also bounds how many distinct publishing ids one connection can
// carry.
const MaxProducersPerClient = 256

// MaxCommittingConsumersPerClient is the fixed capacity of a Manager's
// committing-consumer slot array.
const MaxCommittingConsumersPerClient = 50

// Config holds the coordinator's own tunables. It is deliberately small:
// CLI parsing and the rest of the application's configuration are out of
// scope for this package (spec.md §1); this only covers backoff windows.
// The Coordinator itself never reads a Config: the policies it uses always
// come from its Environment.
type Config struct {
	// RecoveryInitialDelay is the delay before the first shutdown-driven
	// recovery attempt.
	RecoveryInitialDelay time.Duration `env:"COORDINATOR_RECOVERY_INITIAL_DELAY" envDefault:"500ms"`
	// RecoveryDelay is the delay between subsequent shutdown-driven
	// recovery attempts.
	RecoveryDelay time.Duration `env:"COORDINATOR_RECOVERY_DELAY" envDefault:"5s"`
	// TopologyInitialDelay is the delay before the first topology-driven
	// recovery attempt.
	TopologyInitialDelay time.Duration `env:"COORDINATOR_TOPOLOGY_INITIAL_DELAY" envDefault:"5ms"`
	// TopologyDelay is the delay between subsequent topology-driven
	// recovery attempts.
	TopologyDelay time.Duration `env:"COORDINATOR_TOPOLOGY_DELAY" envDefault:"1s"`
}

// LoadConfig parses Config from the process environment, applying the
// defaults above for anything unset.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse coordinator config: %w", err)
	}
	return cfg, nil
}
