package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	LocalWrites        prometheus.Counter
	RemoteSyncAttempts prometheus.Counter
	RemoteSyncFailures prometheus.Counter
	GenerationRequests prometheus.Counter
	GenerationFailures prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			LocalWrites: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nexuslab",
				Name:      "local_writes_total",
				Help:      "Total writes committed to the local store",
			}),
			RemoteSyncAttempts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nexuslab",
				Name:      "remote_sync_total",
				Help:      "Total best-effort calls attempted against the remote mirror",
			}),
			RemoteSyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nexuslab",
				Name:      "remote_sync_failures_total",
				Help:      "Total remote mirror calls that failed and were absorbed",
			}),
			GenerationRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nexuslab",
				Name:      "generation_requests_total",
				Help:      "Total content generation requests",
			}),
			GenerationFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nexuslab",
				Name:      "generation_failures_total",
				Help:      "Total content generation requests that failed",
			}),
		}
		prometheus.MustRegister(
			global.LocalWrites,
			global.RemoteSyncAttempts,
			global.RemoteSyncFailures,
			global.GenerationRequests,
			global.GenerationFailures,
		)
	})
	return global
}
