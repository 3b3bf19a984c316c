package registry

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type fanoutMetrics struct {
	logger    *log.Logger
	topic     string
	start     time.Time
	delivered int
	pruned    int
}

func newFanoutMetrics(logger *log.Logger, topic string) *fanoutMetrics {
	return &fanoutMetrics{
		logger: logger,
		topic:  topic,
		start:  time.Now(),
	}
}

func (m *fanoutMetrics) ObserveDelivery() {
	m.delivered++
}

func (m *fanoutMetrics) ObservePrune() {
	m.pruned++
}

func (m *fanoutMetrics) Log() {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"topic":     m.topic,
		"delivered": m.delivered,
		"total_ms":  float64(time.Since(m.start)) / float64(time.Millisecond),
	}
	if m.pruned > 0 {
		fields["pruned"] = m.pruned
	}

	m.logger.WithFields(fields).Debug("fanout.metrics")
}
