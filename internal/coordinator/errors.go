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
	"errors"
	"fmt"
)

// ErrStreamDoesNotExist is returned by RegisterProducer and
// RegisterCommittingConsumer when the target stream is absent from the
// locator's response or its response code says it was deleted.
var ErrStreamDoesNotExist = errors.New("stream does not exist")

// ErrIllegalState is returned when metadata comes back with a non-OK,
// non-deletion response code, or with code OK but no leader, or when the
// coordinator has already been closed.
var ErrIllegalState = errors.New("illegal state")

// ErrClosed is a more specific ErrIllegalState raised once Close has run.
var ErrClosed = fmt.Errorf("coordinator closed: %w", ErrIllegalState)
