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

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixed(t *testing.T) {
	p := Fixed(50 * time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 50*time.Millisecond, p.Delay(attempt))
	}
}

func TestFixedWithInitialDelay(t *testing.T) {
	p := FixedWithInitialDelay(10*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, p.Delay(1))
	for attempt := 2; attempt <= 10; attempt++ {
		assert.Equal(t, 20*time.Millisecond, p.Delay(attempt))
	}
}

func TestFixedWithInitialDelayAndTimeout(t *testing.T) {
	p := FixedWithInitialDelayAndTimeout(10*time.Millisecond, 10*time.Millisecond, 100*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, p.Delay(1))
	// attemptLimit = (100-10)/10 + 1 = 10
	for attempt := 2; attempt < 10; attempt++ {
		assert.Equal(t, 10*time.Millisecond, p.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, Timeout, p.Delay(10))
	assert.Equal(t, Timeout, p.Delay(11))
}

func TestFixedWithInitialDelayAndTimeoutRejectsShortTimeout(t *testing.T) {
	require.Panics(t, func() {
		FixedWithInitialDelayAndTimeout(100*time.Millisecond, 10*time.Millisecond, 50*time.Millisecond)
	})
}

// TestSharedInstanceFirstDelayIsPerInstanceNotPerJob pins the documented
// quirk: the "first attempt" flag lives on the Policy instance, so two
// independent jobs sharing one Policy only see the initial delay once
// between them.
func TestSharedInstanceFirstDelayIsPerInstanceNotPerJob(t *testing.T) {
	shared := FixedWithInitialDelay(5*time.Millisecond, 25*time.Millisecond)

	jobADelay := shared.Delay(1)
	jobBDelay := shared.Delay(1)

	assert.Equal(t, 5*time.Millisecond, jobADelay)
	assert.Equal(t, 25*time.Millisecond, jobBDelay, "second caller never sees the initial delay")
}
