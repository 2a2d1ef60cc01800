// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"autoagent/platform/internal/credit"
	"autoagent/platform/internal/session"
)

// registerMetrics wires mgr and tracker into self-updating Prometheus
// gauges, grounded on the teacher's promRequestsTotal-style counters:
// observability here reads live state rather than being fed by explicit
// increment calls, since both sources already hold the numbers a
// /metrics scrape wants.
func registerMetrics(mgr *session.Manager, tracker *credit.Tracker) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "autoagent_active_sessions",
			Help: "Number of WebSocket sessions currently attached to the orchestrator.",
		},
		func() float64 { return float64(mgr.SessionCount()) },
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "autoagent_credit_total_cost_usd",
			Help: "Total tracked LLM/tool spend since process start, in USD.",
		},
		func() float64 { return tracker.GetUsageSummary().TotalCost },
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "autoagent_credit_llm_lock_held",
			Help: "1 if the process-wide code-generator LLM lock is currently held, else 0.",
		},
		func() float64 {
			if tracker.GetUsageSummary().LLMLocked {
				return 1
			}
			return 0
		},
	))
}
