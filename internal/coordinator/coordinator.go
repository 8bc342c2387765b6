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

// Package coordinator multiplexes producers and committing consumers onto a
// shared pool of connections, one per stream leader, and repairs their
// bindings when a connection dies or a stream's topology changes.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nodestream/streamclient/internal/backoff"
	"github.com/nodestream/streamclient/internal/broker"
	"github.com/nodestream/streamclient/internal/metadata"
)

// Coordinator is the entry point of this package: one instance per client
// library session. It owns every pool, every manager's slot arrays and
// every registration's binding, all serialized by mu (spec.md §5).
type Coordinator struct {
	env           Environment
	clientFactory ClientFactory
	logger        *zap.Logger
	metrics       *metricsRegistry
	tracer        *tracer

	mu           sync.Mutex
	pools        map[broker.Key]*pool
	jobsByStream map[string]*recoveryJob
	closed       bool
}

// Option configures optional collaborators on a Coordinator.
type Option func(*Coordinator)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics wires a Prometheus-backed metrics registry. Omit this option
// and every metric call is a no-op.
func WithMetrics(m *metricsRegistry) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer wires an OpenTelemetry tracer. Omit this option and every span
// call degrades to the no-op span already active on the context.
func WithTracer(t *tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// New builds a Coordinator. env supplies the locator, scheduler and backoff
// policies; factory opens the physical connection for a new manager.
func New(env Environment, factory ClientFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		env:           env,
		clientFactory: factory,
		logger:        zap.NewNop(),
		pools:         make(map[broker.Key]*pool),
		jobsByStream:  make(map[string]*recoveryJob),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterProducer resolves stream's current leader, places p on a manager
// connected to it (reusing one with a free slot or opening a new
// connection), and assigns its publishing id. The returned CleanupHandle
// releases the slot exactly once, from any goroutine, at any later time.
func (c *Coordinator) RegisterProducer(ctx context.Context, p Producer, stream string) (CleanupHandle, error) {
	ctx, span := c.tracer.startRegistration(ctx, "producer", stream)
	var err error
	defer func() { endSpan(span, err) }()

	var leader broker.Key
	leader, err = c.lookupLeader(ctx, stream)
	if err != nil {
		return nil, err
	}

	reg := &producerRegistration{binding: binding{stream: stream}, producer: p}
	var mgr *manager
	var slot int
	mgr, slot, err = c.placeProducer(ctx, leader, reg)
	if err != nil {
		return nil, err
	}

	safeCall(c.logger, "SetPublishingID", func() { p.SetPublishingID(uint8(slot)) })
	safeCall(c.logger, "SetClient", func() { p.SetClient(mgr.conn) })

	c.logger.Debug("producer registered",
		zap.String("stream", stream), zap.String("broker", leader.String()), zap.Int("slot", slot))
	return c.producerCleanup(reg), nil
}

// RegisterCommittingConsumer is the committing-consumer analogue of
// RegisterProducer. There is no publishing id to assign.
func (c *Coordinator) RegisterCommittingConsumer(ctx context.Context, cc CommittingConsumer, stream string) (CleanupHandle, error) {
	ctx, span := c.tracer.startRegistration(ctx, "committing_consumer", stream)
	var err error
	defer func() { endSpan(span, err) }()

	var leader broker.Key
	leader, err = c.lookupLeader(ctx, stream)
	if err != nil {
		return nil, err
	}

	reg := &consumerRegistration{binding: binding{stream: stream}, consumer: cc}
	var mgr *manager
	var slot int
	mgr, slot, err = c.placeConsumer(ctx, leader, reg)
	if err != nil {
		return nil, err
	}

	safeCall(c.logger, "SetClient", func() { cc.SetClient(mgr.conn) })

	c.logger.Debug("committing consumer registered",
		zap.String("stream", stream), zap.String("broker", leader.String()), zap.Int("slot", slot))
	return c.consumerCleanup(reg), nil
}

// lookupLeader resolves stream's current leader, translating the locator's
// response code into the sentinel errors registration promises (spec.md
// §4.2 step 1).
func (c *Coordinator) lookupLeader(ctx context.Context, stream string) (broker.Key, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return broker.Key{}, fmt.Errorf("register stream %q: %w", stream, ErrClosed)
	}

	res, err := c.env.Locator().Metadata(ctx, stream)
	if err != nil {
		return broker.Key{}, fmt.Errorf("metadata lookup for stream %q: %w", stream, err)
	}
	md, ok := res[stream]
	if !ok || md.Code == metadata.CodeStreamDoesNotExist {
		return broker.Key{}, fmt.Errorf("stream %q: %w", stream, ErrStreamDoesNotExist)
	}
	if md.Code != metadata.CodeOK {
		return broker.Key{}, fmt.Errorf("stream %q: locator returned %s: %w", stream, md.Code, ErrIllegalState)
	}
	if md.Leader == nil {
		return broker.Key{}, fmt.Errorf("stream %q: no leader available: %w", stream, ErrIllegalState)
	}
	return *md.Leader, nil
}

// placeProducer implements the two-phase placement algorithm of spec.md
// §4.2: try to reuse a manager with a free slot under the lock; if none
// exists, open a new connection outside the lock, then re-check under the
// lock in case another goroutine already created room, discarding the
// redundant connection if so.
func (c *Coordinator) placeProducer(ctx context.Context, key broker.Key, reg *producerRegistration) (*manager, int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, 0, ErrClosed
	}
	if existing := c.poolLookup(key); existing != nil {
		if mgr := existing.firstWithFreeProducerSlot(); mgr != nil {
			slot, _ := mgr.acquireProducerSlot(reg)
			reg.manager, reg.slot = mgr, slot
			c.refreshMetricsLocked()
			c.mu.Unlock()
			return mgr, slot, nil
		}
	}
	c.mu.Unlock()

	mgr, conn, err := c.openManager(ctx, key)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		go safeCloseConnection(c.logger, conn)
		return nil, 0, ErrClosed
	}
	p := c.poolFor(key)
	if existing := p.firstWithFreeProducerSlot(); existing != nil {
		go safeCloseConnection(c.logger, conn)
		slot, _ := existing.acquireProducerSlot(reg)
		reg.manager, reg.slot = existing, slot
		c.refreshMetricsLocked()
		return existing, slot, nil
	}
	mgr.setConn(conn)
	p.append(mgr)
	slot, _ := mgr.acquireProducerSlot(reg)
	reg.manager, reg.slot = mgr, slot
	c.refreshMetricsLocked()
	return mgr, slot, nil
}

// placeConsumer mirrors placeProducer for committing consumers.
func (c *Coordinator) placeConsumer(ctx context.Context, key broker.Key, reg *consumerRegistration) (*manager, int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, 0, ErrClosed
	}
	if existing := c.poolLookup(key); existing != nil {
		if mgr := existing.firstWithFreeConsumerSlot(); mgr != nil {
			slot, _ := mgr.acquireConsumerSlot(reg)
			reg.manager, reg.slot = mgr, slot
			c.refreshMetricsLocked()
			c.mu.Unlock()
			return mgr, slot, nil
		}
	}
	c.mu.Unlock()

	mgr, conn, err := c.openManager(ctx, key)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		go safeCloseConnection(c.logger, conn)
		return nil, 0, ErrClosed
	}
	p := c.poolFor(key)
	if existing := p.firstWithFreeConsumerSlot(); existing != nil {
		go safeCloseConnection(c.logger, conn)
		slot, _ := existing.acquireConsumerSlot(reg)
		reg.manager, reg.slot = existing, slot
		c.refreshMetricsLocked()
		return existing, slot, nil
	}
	mgr.setConn(conn)
	p.append(mgr)
	slot, _ := mgr.acquireConsumerSlot(reg)
	reg.manager, reg.slot = mgr, slot
	c.refreshMetricsLocked()
	return mgr, slot, nil
}

// poolLookup returns the pool for key, or nil if none exists yet. Unlike
// poolFor it never creates one, so a placement attempt that ends up
// opening a new connection never leaves an empty pool behind if it fails
// partway through. Requires coordinator.mu.
func (c *Coordinator) poolLookup(key broker.Key) *pool {
	return c.pools[key]
}

// poolFor returns (creating if necessary) the pool for key. Requires
// coordinator.mu.
func (c *Coordinator) poolFor(key broker.Key) *pool {
	p, ok := c.pools[key]
	if !ok {
		p = newPool(key)
		c.pools[key] = p
	}
	return p
}

// openManager opens a new connection to key, outside coordinator.mu, and
// wires its shutdown/metadata listeners to this coordinator. The returned
// manager is a shell that still needs setConn plus insertion into a pool.
func (c *Coordinator) openManager(ctx context.Context, key broker.Key) (*manager, Connection, error) {
	mgr := newManager(key)
	params := ClientParameters{
		Broker: key,
		Base:   c.env.ClientParametersBase(),
		ShutdownListener: func(reason ShutdownReason) {
			c.onManagerShutdown(mgr, reason)
		},
		MetadataListener: func(stream string, code metadata.Code) {
			c.onMetadataChange(stream, code)
		},
	}
	conn, err := c.clientFactory(ctx, params)
	if err != nil {
		return nil, nil, fmt.Errorf("open connection to %s: %w", key, err)
	}
	return mgr, conn, nil
}

func safeCloseConnection(logger *zap.Logger, conn Connection) {
	if err := conn.Close(); err != nil {
		logger.Warn("error closing redundant connection", zap.Error(err))
	}
}

// producerCleanup returns the CleanupHandle for reg.
func (c *Coordinator) producerCleanup(reg *producerRegistration) CleanupHandle {
	return func() {
		c.mu.Lock()
		if reg.removed {
			c.mu.Unlock()
			return
		}
		reg.removed = true
		mgr, slot, job := reg.manager, reg.slot, reg.job
		reg.manager, reg.job = nil, nil
		c.mu.Unlock()

		if job != nil {
			job.exciseProducer(reg, mgr, slot)
			return
		}
		if mgr != nil {
			c.releaseProducerSlot(mgr, slot)
		}
	}
}

// consumerCleanup returns the CleanupHandle for reg.
func (c *Coordinator) consumerCleanup(reg *consumerRegistration) CleanupHandle {
	return func() {
		c.mu.Lock()
		if reg.removed {
			c.mu.Unlock()
			return
		}
		reg.removed = true
		mgr, slot, job := reg.manager, reg.slot, reg.job
		reg.manager, reg.job = nil, nil
		c.mu.Unlock()

		if job != nil {
			job.exciseConsumer(reg, mgr, slot)
			return
		}
		if mgr != nil {
			c.releaseConsumerSlot(mgr, slot)
		}
	}
}

// releaseProducerSlot frees a producer slot and tears the manager (and its
// pool, if now empty) down when it becomes empty, per invariant 2. The
// connection close happens outside coordinator.mu.
func (c *Coordinator) releaseProducerSlot(mgr *manager, slot int) {
	c.mu.Lock()
	mgr.releaseProducerSlot(slot)
	empty := mgr.isEmpty()
	if empty {
		c.tearDownManagerLocked(mgr)
	}
	c.refreshMetricsLocked()
	c.mu.Unlock()

	if empty {
		safeCloseConnection(c.logger, mgr.conn)
	}
}

// releaseConsumerSlot is the committing-consumer analogue of
// releaseProducerSlot.
func (c *Coordinator) releaseConsumerSlot(mgr *manager, slot int) {
	c.mu.Lock()
	mgr.releaseConsumerSlot(slot)
	empty := mgr.isEmpty()
	if empty {
		c.tearDownManagerLocked(mgr)
	}
	c.refreshMetricsLocked()
	c.mu.Unlock()

	if empty {
		safeCloseConnection(c.logger, mgr.conn)
	}
}

// tearDownManagerLocked removes an already-empty manager from its pool,
// dropping the pool too if it is now empty. Requires coordinator.mu.
func (c *Coordinator) tearDownManagerLocked(mgr *manager) {
	mgr.dead = true
	p, ok := c.pools[mgr.key]
	if !ok {
		return
	}
	p.remove(mgr)
	if p.isEmpty() {
		delete(c.pools, mgr.key)
	}
}

// onManagerShutdown is the ShutdownListener wired into every manager's
// connection. A coordinator-initiated close reports ReasonOrderly and is
// ignored here: Close already tore the manager down.
func (c *Coordinator) onManagerShutdown(mgr *manager, reason ShutdownReason) {
	if reason == ReasonOrderly {
		return
	}

	c.mu.Lock()
	if mgr.dead {
		c.mu.Unlock()
		return
	}
	producers, consumers := mgr.snapshot()
	for _, reg := range producers {
		reg.manager = nil
	}
	for _, reg := range consumers {
		reg.manager = nil
	}
	c.tearDownManagerLocked(mgr)
	c.refreshMetricsLocked()
	c.mu.Unlock()

	c.logger.Warn("manager connection lost, recovering registrations",
		zap.String("broker", mgr.key.String()), zap.Int("reason", int(reason)),
		zap.Int("producers", len(producers)), zap.Int("consumers", len(consumers)))

	for _, reg := range producers {
		safeCall(c.logger, "Unavailable", reg.producer.Unavailable)
	}
	for _, reg := range consumers {
		safeCall(c.logger, "Unavailable", reg.consumer.Unavailable)
	}

	c.admitDisplaced("shutdown", c.env.RecoveryBackoffPolicy(), producers, consumers)
}

// onMetadataChange is the MetadataListener wired into every manager's
// connection. Every notification for a stream displaces the registrations
// bound to that stream and starts (or joins) their recovery, whatever the
// code; the code is only logged.
func (c *Coordinator) onMetadataChange(stream string, code metadata.Code) {
	c.mu.Lock()
	var producers []*producerRegistration
	var consumers []*consumerRegistration
	for _, p := range c.pools {
		for _, mgr := range p.managers {
			for _, reg := range mgr.producers {
				if reg != nil && reg.stream == stream {
					producers = append(producers, reg)
				}
			}
			for _, reg := range mgr.consumers {
				if reg != nil && reg.stream == stream {
					consumers = append(consumers, reg)
				}
			}
		}
	}
	touched := map[*manager]struct{}{}
	for _, reg := range producers {
		reg.manager.releaseProducerSlot(reg.slot)
		touched[reg.manager] = struct{}{}
		reg.manager = nil
	}
	for _, reg := range consumers {
		reg.manager.releaseConsumerSlot(reg.slot)
		touched[reg.manager] = struct{}{}
		reg.manager = nil
	}
	var emptied []*manager
	for mgr := range touched {
		if mgr.isEmpty() {
			c.tearDownManagerLocked(mgr)
			emptied = append(emptied, mgr)
		}
	}
	c.refreshMetricsLocked()
	c.mu.Unlock()

	for _, mgr := range emptied {
		safeCloseConnection(c.logger, mgr.conn)
	}

	if len(producers) == 0 && len(consumers) == 0 {
		return
	}

	c.logger.Info("stream topology changed, recovering registrations",
		zap.String("stream", stream), zap.String("code", code.String()),
		zap.Int("producers", len(producers)), zap.Int("consumers", len(consumers)))

	for _, reg := range producers {
		safeCall(c.logger, "Unavailable", reg.producer.Unavailable)
	}
	for _, reg := range consumers {
		safeCall(c.logger, "Unavailable", reg.consumer.Unavailable)
	}

	c.admitDisplaced("topology", c.env.TopologyBackoffPolicy(), producers, consumers)
}

// admitDisplaced folds newly displaced registrations into the recovery job
// already tracking their stream, if one exists, or starts new jobs for
// streams that have none. It must be called without coordinator.mu held.
func (c *Coordinator) admitDisplaced(trigger string, policy backoff.Policy, producers []*producerRegistration, consumers []*consumerRegistration) {
	if len(producers) == 0 && len(consumers) == 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	created := map[*recoveryJob]struct{}{}
	for _, reg := range producers {
		if reg.removed {
			continue
		}
		job := c.jobFor(reg.stream, trigger, policy, created)
		reg.job = job
		job.pendingProducers = append(job.pendingProducers, reg)
	}
	for _, reg := range consumers {
		if reg.removed {
			continue
		}
		job := c.jobFor(reg.stream, trigger, policy, created)
		reg.job = job
		job.pendingConsumers = append(job.pendingConsumers, reg)
	}
	toStart := make([]*recoveryJob, 0, len(created))
	for job := range created {
		toStart = append(toStart, job)
	}
	c.mu.Unlock()

	for _, job := range toStart {
		job.scheduleNext(1)
	}
}

// jobFor returns the job already recovering stream, creating one if none
// exists, and records in created whether this call created it. Requires
// coordinator.mu.
func (c *Coordinator) jobFor(stream, trigger string, policy backoff.Policy, created map[*recoveryJob]struct{}) *recoveryJob {
	if job, ok := c.jobsByStream[stream]; ok {
		return job
	}
	job := newRecoveryJob(c, trigger, policy)
	c.jobsByStream[stream] = job
	created[job] = struct{}{}
	return job
}

// refreshMetricsLocked recomputes the gauges from the live pool map.
// Requires coordinator.mu.
func (c *Coordinator) refreshMetricsLocked() {
	if c.metrics == nil {
		return
	}
	producers, consumers, managers := 0, 0, 0
	for _, p := range c.pools {
		managers += len(p.managers)
		for _, mgr := range p.managers {
			pr, cn := mgr.occupancy()
			producers += pr
			consumers += cn
		}
	}
	c.metrics.setPools(len(c.pools))
	c.metrics.setManagers(managers)
	c.metrics.setSlotsUsed(producers, consumers)
}

// PoolSize returns the number of distinct broker pools currently resident.
func (c *Coordinator) PoolSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pools)
}

// ClientCount returns the number of live manager connections across every
// pool.
func (c *Coordinator) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.pools {
		n += len(p.managers)
	}
	return n
}

// Close tears down every manager connection. It is idempotent: calling it
// twice is a no-op the second time. Pending recovery jobs are abandoned;
// their registrations are left unbound rather than retried.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var managers []*manager
	for _, p := range c.pools {
		for _, mgr := range p.managers {
			mgr.dead = true
		}
		managers = append(managers, p.managers...)
	}
	c.pools = make(map[broker.Key]*pool)
	c.jobsByStream = make(map[string]*recoveryJob)
	c.mu.Unlock()

	var firstErr error
	for _, mgr := range managers {
		if err := mgr.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close manager %s: %w", mgr.key, err)
		}
	}
	return firstErr
}
