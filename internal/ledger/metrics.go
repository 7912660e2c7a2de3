/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
)

const (
	outcomeOK           = "ok"
	outcomeBusy         = "busy"
	outcomeNotFound     = "not_found"
	outcomeEngineFailed = "engine_failed"
	outcomeStoreFailed  = "store_failed"
)

// Metrics are the ledger's operation counters. A nil *Metrics disables
// collection; every method tolerates it.
type Metrics struct {
	operations *prometheus.CounterVec
	inFlight   *prometheus.GaugeVec
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sds_volume_control",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Finished ledger operations by kind, operation and outcome.",
		}, []string{"kind", "operation", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sds_volume_control",
			Subsystem: "ledger",
			Name:      "operations_in_flight",
			Help:      "Operations currently holding a record's sequencer.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.inFlight)
	}
	return m
}

func (m *Metrics) observe(kind v1alpha1.ResourceKind, operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(kind), operation, outcome).Inc()
}

func (m *Metrics) started(kind v1alpha1.ResourceKind) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) finished(kind v1alpha1.ResourceKind) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(kind)).Dec()
}
