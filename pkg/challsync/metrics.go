package challsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challsync",
		Name:      "events_total",
		Help:      "Sync events processed, by outcome.",
	}, []string{"outcome"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challsync",
		Name:      "records_total",
		Help:      "Challenge records handled, by outcome.",
	}, []string{"outcome"})
)

// Observe feeds one invocation outcome into the metrics. Used by the
// webhook server; the Lambda entrypoint has no scrape surface and
// skips it.
func Observe(res *Result, err error) {
	switch {
	case err != nil:
		eventsTotal.WithLabelValues("failed").Inc()
	case res != nil && res.Skipped:
		eventsTotal.WithLabelValues("skipped").Inc()
	default:
		eventsTotal.WithLabelValues("processed").Inc()
	}
	if res == nil {
		return
	}
	recordsTotal.WithLabelValues("applied").Add(float64(res.Applied))
	for _, f := range res.Failures {
		if f.Duplicate {
			recordsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		recordsTotal.WithLabelValues("failed").Inc()
	}
}
