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
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nodestream/streamclient/internal/backoff"
	"github.com/nodestream/streamclient/internal/broker"
	"github.com/nodestream/streamclient/internal/metadata"
)

// recoveryJob drives one PENDING -> ATTEMPT -> SUCCEEDED/FAILED_TRANSIENT/
// FAILED_TERMINAL state machine (spec.md §4.5) for the displaced
// registrations of one stream. A job is created per stream, so a shutdown
// that displaces registrations of several streams starts several jobs, and
// any later shutdown or metadata-change event for a stream that already has
// a job adds its registrations to that job. It carries no lock of its own:
// every field requires coordinator.mu, exactly like manager and pool.
type recoveryJob struct {
	coord   *Coordinator
	trigger string // "shutdown" or "topology", used for logging and metrics
	policy  backoff.Policy

	pendingProducers []*producerRegistration
	pendingConsumers []*consumerRegistration
}

func newRecoveryJob(c *Coordinator, trigger string, policy backoff.Policy) *recoveryJob {
	return &recoveryJob{coord: c, trigger: trigger, policy: policy}
}

// scheduleNext asks the policy for the delay before the given 1-indexed
// attempt and either schedules runAttempt or finalizes the job immediately
// if the policy returned backoff.Timeout.
func (j *recoveryJob) scheduleNext(attempt int) {
	delay := j.policy.Delay(attempt)
	if delay == backoff.Timeout {
		j.finalize()
		return
	}
	j.coord.env.Scheduler().Schedule(delay, func() {
		j.runAttempt(attempt)
	})
}

// runAttempt fetches fresh metadata for every stream this job still has
// pending registrations for, classifies each registration against the
// result, and rebinds, terminally drops or re-queues it accordingly.
func (j *recoveryJob) runAttempt(attempt int) {
	j.coord.mu.Lock()
	if j.coord.closed || (len(j.pendingProducers) == 0 && len(j.pendingConsumers) == 0) {
		j.coord.mu.Unlock()
		return
	}
	producersSnapshot := append([]*producerRegistration(nil), j.pendingProducers...)
	consumersSnapshot := append([]*consumerRegistration(nil), j.pendingConsumers...)
	j.coord.mu.Unlock()

	streams := distinctStreams(producersSnapshot, consumersSnapshot)
	start := time.Now()
	ctx, span := j.coord.tracer.startRecoveryAttempt(context.Background(), j.trigger, attempt)

	results, err := j.fetchMetadata(ctx, streams)
	if err != nil {
		endSpan(span, err)
		j.coord.logger.Warn("recovery metadata fetch failed",
			zap.String("trigger", j.trigger), zap.Int("attempt", attempt), zap.Error(err))
		j.scheduleNext(attempt + 1)
		return
	}

	resolvedProducers := map[*producerRegistration]struct{}{}
	resolvedConsumers := map[*consumerRegistration]struct{}{}

	for _, reg := range producersSnapshot {
		md := results[reg.stream]
		switch {
		case md.Code == metadata.CodeStreamDoesNotExist:
			j.terminalDeleteProducer(reg)
			resolvedProducers[reg] = struct{}{}
		case md.Code == metadata.CodeOK && md.Leader != nil:
			if j.rebindProducer(ctx, reg, *md.Leader) {
				resolvedProducers[reg] = struct{}{}
			}
		}
	}
	for _, reg := range consumersSnapshot {
		md := results[reg.stream]
		switch {
		case md.Code == metadata.CodeStreamDoesNotExist:
			j.terminalDeleteConsumer(reg)
			resolvedConsumers[reg] = struct{}{}
		case md.Code == metadata.CodeOK && md.Leader != nil:
			if j.rebindConsumer(ctx, reg, *md.Leader) {
				resolvedConsumers[reg] = struct{}{}
			}
		}
	}

	j.coord.mu.Lock()
	for reg := range resolvedProducers {
		if !reg.removed {
			j.pendingProducers = removeProducer(j.pendingProducers, reg)
			reg.job = nil
		}
	}
	for reg := range resolvedConsumers {
		if !reg.removed {
			j.pendingConsumers = removeConsumer(j.pendingConsumers, reg)
			reg.job = nil
		}
	}
	done := len(j.pendingProducers) == 0 && len(j.pendingConsumers) == 0
	if done {
		j.coord.clearJobFromIndexLocked(j)
	}
	j.coord.refreshMetricsLocked()
	j.coord.mu.Unlock()

	j.coord.metrics.observeRecoveryAttempt(j.trigger, time.Since(start))
	endSpan(span, nil)

	if done {
		j.coord.logger.Info("recovery succeeded",
			zap.String("trigger", j.trigger), zap.Int("attempt", attempt))
		return
	}
	j.scheduleNext(attempt + 1)
}

// fetchMetadata fans out one Locator.Metadata call per distinct stream,
// concurrently. Since every job is created for a single stream, an attempt
// currently makes exactly one call. Any
// single failure fails the whole attempt, per the "treat the batch as
// still pending" rule in spec.md §4.5.
func (j *recoveryJob) fetchMetadata(ctx context.Context, streams []string) (map[string]metadata.StreamMetadata, error) {
	var mu sync.Mutex
	results := make(map[string]metadata.StreamMetadata, len(streams))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range streams {
		stream := s
		g.Go(func() error {
			res, err := j.coord.env.Locator().Metadata(gctx, stream)
			if err != nil {
				return err
			}
			md, ok := res[stream]
			if !ok {
				md = metadata.StreamMetadata{Name: stream, Code: metadata.CodeStreamDoesNotExist}
			}
			mu.Lock()
			results[stream] = md
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// rebindProducer places reg on a manager connected to leader and runs its
// SetPublishingID/SetClient/Running hooks. It reports whether placement succeeded; a
// failure leaves reg pending for the next attempt. A reg whose cleanup
// handle already ran is treated as resolved without ever touching
// placeProducer: the registration's slot already belongs to no one, and
// the cleanup handle won't run a second time to release a slot rebinding
// would otherwise hand it.
func (j *recoveryJob) rebindProducer(ctx context.Context, reg *producerRegistration, leader broker.Key) bool {
	j.coord.mu.Lock()
	removed := reg.removed
	j.coord.mu.Unlock()
	if removed {
		return true
	}

	mgr, slot, err := j.coord.placeProducer(ctx, leader, reg)
	if err != nil {
		j.coord.logger.Warn("rebind failed, will retry",
			zap.String("stream", reg.stream), zap.String("broker", leader.String()), zap.Error(err))
		return false
	}
	safeCall(j.coord.logger, "SetPublishingID", func() { reg.producer.SetPublishingID(uint8(slot)) })
	safeCall(j.coord.logger, "SetClient", func() { reg.producer.SetClient(mgr.conn) })
	safeCall(j.coord.logger, "Running", reg.producer.Running)
	j.coord.metrics.observeRebind("producer")
	j.coord.logger.Info("producer rebound", zap.String("stream", reg.stream), zap.String("broker", leader.String()))
	return true
}

// rebindConsumer is the committing-consumer analogue of rebindProducer.
func (j *recoveryJob) rebindConsumer(ctx context.Context, reg *consumerRegistration, leader broker.Key) bool {
	j.coord.mu.Lock()
	removed := reg.removed
	j.coord.mu.Unlock()
	if removed {
		return true
	}

	mgr, _, err := j.coord.placeConsumer(ctx, leader, reg)
	if err != nil {
		j.coord.logger.Warn("rebind failed, will retry",
			zap.String("stream", reg.stream), zap.String("broker", leader.String()), zap.Error(err))
		return false
	}
	safeCall(j.coord.logger, "SetClient", func() { reg.consumer.SetClient(mgr.conn) })
	safeCall(j.coord.logger, "Running", reg.consumer.Running)
	j.coord.metrics.observeRebind("committing_consumer")
	j.coord.logger.Info("committing consumer rebound", zap.String("stream", reg.stream), zap.String("broker", leader.String()))
	return true
}

// terminalDeleteProducer closes a producer whose stream has been deleted.
// Besides a recovery timeout (see finalize), this is the only case where
// the coordinator tells a producer to close itself.
func (j *recoveryJob) terminalDeleteProducer(reg *producerRegistration) {
	safeCall(j.coord.logger, "CloseAfterStreamDeletion", reg.producer.CloseAfterStreamDeletion)
	j.coord.metrics.observeTerminalFailure("producer", "stream_deleted")
	j.coord.logger.Info("producer closed after stream deletion", zap.String("stream", reg.stream))
}

// terminalDeleteConsumer drops a committing consumer whose stream has been
// deleted. Unlike a producer it is never closed: it keeps its own main
// connection and simply stops committing offsets through this one.
func (j *recoveryJob) terminalDeleteConsumer(reg *consumerRegistration) {
	j.coord.metrics.observeTerminalFailure("committing_consumer", "stream_deleted")
	j.coord.logger.Info("committing consumer dropped after stream deletion", zap.String("stream", reg.stream))
}

// finalize runs when the policy reports backoff.Timeout: every registration
// still pending is given its terminal outcome and the job is torn down.
// Producers are closed; committing consumers are left live but orphaned,
// matching the asymmetry spec.md §4.6 documents.
func (j *recoveryJob) finalize() {
	j.coord.mu.Lock()
	producers := j.pendingProducers
	consumers := j.pendingConsumers
	for _, reg := range producers {
		reg.removed = true
		reg.job = nil
	}
	for _, reg := range consumers {
		reg.removed = true
		reg.job = nil
	}
	j.pendingProducers = nil
	j.pendingConsumers = nil
	j.coord.clearJobFromIndexLocked(j)
	j.coord.refreshMetricsLocked()
	j.coord.mu.Unlock()

	for _, reg := range producers {
		safeCall(j.coord.logger, "CloseAfterStreamDeletion", reg.producer.CloseAfterStreamDeletion)
		j.coord.metrics.observeTerminalFailure("producer", "timeout")
		j.coord.logger.Warn("producer recovery timed out", zap.String("stream", reg.stream))
	}
	for _, reg := range consumers {
		j.coord.metrics.observeTerminalFailure("committing_consumer", "timeout")
		j.coord.metrics.observeOrphanedConsumer()
		j.coord.logger.Warn("committing consumer orphaned after recovery timeout", zap.String("stream", reg.stream))
	}
}

// exciseProducer removes reg from this job's pending set, wherever it
// currently sits in the recovery lifecycle, and releases any manager slot
// the job may have already rebound it onto. Called from the cleanup handle,
// which may race an in-flight runAttempt; exciseProducer is correct
// regardless of which side wins that race.
func (j *recoveryJob) exciseProducer(reg *producerRegistration, mgr *manager, slot int) {
	j.coord.mu.Lock()
	j.pendingProducers = removeProducer(j.pendingProducers, reg)
	done := len(j.pendingProducers) == 0 && len(j.pendingConsumers) == 0
	if done {
		j.coord.clearJobFromIndexLocked(j)
	}
	j.coord.mu.Unlock()

	if mgr != nil {
		j.coord.releaseProducerSlot(mgr, slot)
	}
}

// exciseConsumer is the committing-consumer analogue of exciseProducer.
func (j *recoveryJob) exciseConsumer(reg *consumerRegistration, mgr *manager, slot int) {
	j.coord.mu.Lock()
	j.pendingConsumers = removeConsumer(j.pendingConsumers, reg)
	done := len(j.pendingProducers) == 0 && len(j.pendingConsumers) == 0
	if done {
		j.coord.clearJobFromIndexLocked(j)
	}
	j.coord.mu.Unlock()

	if mgr != nil {
		j.coord.releaseConsumerSlot(mgr, slot)
	}
}

// clearJobFromIndexLocked removes every entry in jobsByStream pointing at
// job. Requires coordinator.mu.
func (c *Coordinator) clearJobFromIndexLocked(job *recoveryJob) {
	for stream, j := range c.jobsByStream {
		if j == job {
			delete(c.jobsByStream, stream)
		}
	}
}

// distinctStreams collects the unique stream names referenced by producers
// and consumers.
func distinctStreams(producers []*producerRegistration, consumers []*consumerRegistration) []string {
	seen := map[string]struct{}{}
	var streams []string
	for _, reg := range producers {
		if _, ok := seen[reg.stream]; !ok {
			seen[reg.stream] = struct{}{}
			streams = append(streams, reg.stream)
		}
	}
	for _, reg := range consumers {
		if _, ok := seen[reg.stream]; !ok {
			seen[reg.stream] = struct{}{}
			streams = append(streams, reg.stream)
		}
	}
	return streams
}
