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

// Package backoff supplies the delay schedule recovery jobs wait on between
// attempts.
package backoff

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Timeout is the sentinel delay meaning "stop retrying". Recovery jobs that
// see Timeout returned from Policy.Delay finalize immediately instead of
// scheduling another attempt.
const Timeout = time.Duration(1<<63 - 1) // math.MaxInt64, mirrors Java's Long.MAX_VALUE millis sentinel

// Policy supplies a delay for a given recovery attempt, 1-indexed.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Fixed returns a policy that waits d before every attempt, including the
// first.
func Fixed(d time.Duration) Policy {
	return FixedWithInitialDelay(d, d)
}

// FixedWithInitialDelay returns a policy that waits initial before the
// first attempt and d before every attempt after that, forever.
func FixedWithInitialDelay(initial, d time.Duration) Policy {
	return &fixedPolicy{initial: initial, delay: d, attemptLimit: -1}
}

// FixedWithInitialDelayAndTimeout returns a policy like FixedWithInitialDelay
// but that gives up (returns Timeout) for every attempt numbered
// (timeout-initial)/d + 1 or higher, the division rounding down. For
// example initial=10ms, d=10ms, timeout=100ms returns Timeout from attempt
// 10 on. It panics if timeout is shorter than the initial delay, matching
// the upstream constructor's IllegalArgumentException.
func FixedWithInitialDelayAndTimeout(initial, d, timeout time.Duration) Policy {
	if timeout < initial {
		panic(fmt.Sprintf("backoff: timeout %s must not be shorter than initial delay %s", timeout, initial))
	}
	remaining := timeout - initial
	attemptLimit := int(remaining/d) + 1
	return &fixedPolicy{initial: initial, delay: d, attemptLimit: attemptLimit}
}

// fixedPolicy is the single implementation behind all three constructors.
// attemptLimit < 0 means "never time out".
//
// first is a one-shot flag: a shared Policy instance returns its initial
// delay exactly once across its entire lifetime, not once per job that
// borrows it. This matches the upstream AtomicBoolean and is an observable
// quirk documented in spec.md §9, not a bug — callers that want per-job
// initial delays must construct one Policy per job.
type fixedPolicy struct {
	initial      time.Duration
	delay        time.Duration
	attemptLimit int
	first        atomic.Bool
}

func (p *fixedPolicy) Delay(attempt int) time.Duration {
	if p.first.CompareAndSwap(false, true) {
		return p.initial
	}
	if p.attemptLimit >= 0 && attempt >= p.attemptLimit {
		return Timeout
	}
	return p.delay
}
