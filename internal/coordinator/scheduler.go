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

import "time"

// TimerScheduler is the default Scheduler, backed by time.AfterFunc. It is
// single-process, in-memory, and good enough for an environment that does
// not supply its own single-threaded executor.
type TimerScheduler struct{}

// NewTimerScheduler returns a ready-to-use TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// Schedule runs fn on its own goroutine after delay elapses. Calling the
// returned CancelFunc before delay elapses prevents fn from ever running;
// calling it after is a no-op.
func (TimerScheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	timer := time.AfterFunc(delay, fn)
	return func() {
		timer.Stop()
	}
}
