// This file is part of PaV
// Copyright (c) 2022 The PaV Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pav-storage/pav/pkg/consts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	phaseRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: consts.AppName,
			Name:      "phase_runs_total",
			Help:      "Number of worker pod phase runs by phase and outcome.",
		},
		[]string{"phase", "outcome"},
	)

	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: consts.AppName,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of worker pod phase runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(phaseRuns, phaseDuration)
}

// RecordPhase records one terminal worker pod phase run.
func RecordPhase(phase string, succeeded bool, duration time.Duration) {
	outcome := "failure"
	if succeeded {
		outcome = "success"
	}
	phaseRuns.WithLabelValues(phase, outcome).Inc()
	phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// ServeMetrics starts the prometheus metrics endpoint and blocks until the
// context is cancelled.
func ServeMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	klog.V(3).Infof("Serving metrics on port %v", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
