/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package exporter

import (
	"reflect"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/runZeroInc/mptcpstate/pkg/mstate"
)

type info struct {
	description *prometheus.Desc
	valueType   prometheus.ValueType
	supplier    func(stats mstate.Stats) float64
}

type sessionEntry struct {
	session *mstate.Session
	labels  []string
}

// SessionCollector is a prometheus.Collector over engine sessions:
// each registered entry is a *mstate.Session and the exported metrics
// are its Stats counters.
type SessionCollector struct {
	sessions map[*mstate.Session]sessionEntry
	mu       sync.Mutex
	// logger is a hook for callers that want future failure modes
	// surfaced; Collect itself cannot fail (Stats is a plain struct
	// read).
	logger func(error)
	infos  []info
}

func (c *SessionCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, i := range c.infos {
		descs <- i.description
	}
}

func (c *SessionCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.sessions {
		for _, i := range c.infos {
			metrics <- prometheus.MustNewConstMetric(
				i.description, i.valueType, i.supplier(entry.session.Stats), entry.labels...)
		}
	}
}

// Add registers a session under a set of label values, matching the
// shape of connectionLabels given to NewSessionCollector.
func (c *SessionCollector) Add(sess *mstate.Session, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[sess] = sessionEntry{session: sess, labels: labels}
}

// Remove stops a session being scraped, e.g. once a test run ends.
func (c *SessionCollector) Remove(sess *mstate.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, sess)
}

// NewSessionCollector builds descriptors from mstate.Stats's `prom`
// struct tags. cmd/metrics-gen generates a fixed descriptor list
// straight from the same tags (NewGeneratedSessionCollector) for
// callers that would rather avoid the reflection cost on a hot scrape
// path; that list carries the same names, types and help text but no
// name prefix, variable labels or constant labels. This constructor is
// the always-correct reference implementation.
func NewSessionCollector(
	prefix string,
	connectionLabels []string,
	constLabels prometheus.Labels,
	errorLoggingCallback func(error),
) *SessionCollector {
	c := &SessionCollector{
		sessions: make(map[*mstate.Session]sessionEntry),
		logger:   errorLoggingCallback,
	}
	c.addMetrics(prefix, connectionLabels, constLabels)
	return c
}

func (c *SessionCollector) addMetrics(prefix string, connectionLabels []string, constLabels prometheus.Labels) {
	t := reflect.TypeOf(mstate.Stats{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("prom")
		if tag == "" {
			continue
		}
		parts := strings.SplitN(tag, ",", 3)
		name := parts[0]
		valueType := prometheus.CounterValue
		if len(parts) > 1 && parts[1] == "gauge" {
			valueType = prometheus.GaugeValue
		}
		help := ""
		if len(parts) > 2 {
			help = parts[2]
		}

		fieldIndex := i
		desc := prometheus.NewDesc(prefix+name, help, connectionLabels, constLabels)
		c.infos = append(c.infos, info{
			description: desc,
			valueType:   valueType,
			supplier: func(stats mstate.Stats) float64 {
				return float64(reflect.ValueOf(stats).Field(fieldIndex).Uint())
			},
		})
	}
}
