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

import "go.uber.org/zap"

// safeCall runs a user-supplied hook and recovers from a panic so that one
// misbehaving producer or consumer can never stop the coordinator from
// processing the rest of a recovery pass (spec.md §7).
func safeCall(logger *zap.Logger, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("hook panicked", zap.String("hook", hook), zap.Any("recovered", r))
		}
	}()
	fn()
}

// removeProducer drops reg from slice by identity, if present.
func removeProducer(slice []*producerRegistration, reg *producerRegistration) []*producerRegistration {
	for i, candidate := range slice {
		if candidate == reg {
			return append(slice[:i:i], slice[i+1:]...)
		}
	}
	return slice
}

// removeConsumer drops reg from slice by identity, if present.
func removeConsumer(slice []*consumerRegistration, reg *consumerRegistration) []*consumerRegistration {
	for i, candidate := range slice {
		if candidate == reg {
			return append(slice[:i:i], slice[i+1:]...)
		}
	}
	return slice
}
