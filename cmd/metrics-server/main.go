/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command metrics-server exposes one Engine's Stats counters over
// Prometheus's /metrics convention.
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	mptcpstate "github.com/runZeroInc/mptcpstate"
	"github.com/runZeroInc/mptcpstate/pkg/exporter"
)

func main() {
	addr := flag.String("listen", ":18080", "address to serve /metrics on")
	seed := flag.Int64("seed", 1, "PRNG seed for the demonstration session")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		logrus.Fatalf("hostname: %v", err)
	}

	e := mptcpstate.NewEngine(*seed)

	collector := exporter.NewGeneratedSessionCollector(func(err error) {
		logrus.Errorf("metrics-server: %v", err)
	})
	collector.Add(e.Session, nil)

	prometheus.MustRegister(collector)

	logrus.Infof("run_id=%s hostname=%s serving /metrics on %s", e.RunID, hostname, *addr)
	http.Handle("/metrics", promhttp.Handler())
	logrus.Fatal(http.ListenAndServe(*addr, nil))
}
