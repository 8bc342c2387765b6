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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsRegistry encapsulates the coordinator's Prometheus metrics. A nil
// *metricsRegistry is valid everywhere it is used (every method is a
// no-op receiver on nil), so a Coordinator built without metrics wiring
// never has to branch on whether metrics are enabled.
type metricsRegistry struct {
	pools               prometheus.Gauge
	managers            prometheus.Gauge
	producerSlotsUsed   prometheus.Gauge
	consumerSlotsUsed   prometheus.Gauge
	rebinds             *prometheus.CounterVec
	recoveryAttempts    *prometheus.CounterVec
	recoveryDuration    *prometheus.HistogramVec
	terminalFailures    *prometheus.CounterVec
	orphanedConsumers   prometheus.Counter
}

// NewMetricsRegistry creates and registers every coordinator metric
// against reg. Passing a dedicated *prometheus.Registry (rather than the
// global default one) keeps multiple coordinators in the same process
// from clashing, matching how itsHabib-pub's metrics.Registry wraps its
// own *prometheus.Registry instead of relying on global state.
func NewMetricsRegistry(reg *prometheus.Registry) *metricsRegistry {
	m := &metricsRegistry{
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_pools",
			Help: "Number of distinct broker pools currently resident.",
		}),
		managers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_managers",
			Help: "Number of live manager connections across all pools.",
		}),
		producerSlotsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_producer_slots_used",
			Help: "Total occupied producer slots across all managers.",
		}),
		consumerSlotsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_committing_consumer_slots_used",
			Help: "Total occupied committing-consumer slots across all managers.",
		}),
		rebinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_rebinds_total",
			Help: "Successful rebinds of a displaced registration onto a new manager.",
		}, []string{"kind"}),
		recoveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_recovery_attempts_total",
			Help: "Recovery attempts whose metadata fetch succeeded, labeled by trigger.",
		}, []string{"trigger"}),
		recoveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "coordinator_recovery_attempt_duration_seconds",
			Help: "Wall time spent classifying and rebinding one recovery attempt.",
		}, []string{"trigger"}),
		terminalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_terminal_failures_total",
			Help: "Registrations dropped after a terminal recovery outcome.",
		}, []string{"kind", "cause"}),
		orphanedConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_committing_consumer_orphaned_total",
			Help: "Committing consumers left live but no longer committing after a recovery timeout.",
		}),
	}
	reg.MustRegister(
		m.pools, m.managers, m.producerSlotsUsed, m.consumerSlotsUsed,
		m.rebinds, m.recoveryAttempts, m.recoveryDuration, m.terminalFailures,
		m.orphanedConsumers,
	)
	return m
}

func (m *metricsRegistry) setPools(n int) {
	if m == nil {
		return
	}
	m.pools.Set(float64(n))
}

func (m *metricsRegistry) setManagers(n int) {
	if m == nil {
		return
	}
	m.managers.Set(float64(n))
}

func (m *metricsRegistry) setSlotsUsed(producers, consumers int) {
	if m == nil {
		return
	}
	m.producerSlotsUsed.Set(float64(producers))
	m.consumerSlotsUsed.Set(float64(consumers))
}

func (m *metricsRegistry) observeRebind(kind string) {
	if m == nil {
		return
	}
	m.rebinds.WithLabelValues(kind).Inc()
}

func (m *metricsRegistry) observeRecoveryAttempt(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.recoveryAttempts.WithLabelValues(trigger).Inc()
	m.recoveryDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

func (m *metricsRegistry) observeTerminalFailure(kind, cause string) {
	if m == nil {
		return
	}
	m.terminalFailures.WithLabelValues(kind, cause).Inc()
}

func (m *metricsRegistry) observeOrphanedConsumer() {
	if m == nil {
		return
	}
	m.orphanedConsumers.Inc()
}
