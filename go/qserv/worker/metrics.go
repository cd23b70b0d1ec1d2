/*
Copyright 2026 The Qserv Authors.

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

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qserv_worker_tasks_completed_total",
		Help: "Tasks that ran to completion on this worker.",
	})
	tasksBooted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qserv_worker_tasks_booted_total",
		Help: "Tasks evicted mid-run for exceeding their scheduler's time budget.",
	})
	tasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qserv_worker_tasks_running",
		Help: "Tasks currently executing.",
	})
)
