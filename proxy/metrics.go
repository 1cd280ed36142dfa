package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// featureRequests counts RequestFeatures calls by how they were resolved.
	featureRequests = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "proxy_feature_requests_total",
		Help: "Total number of feature requests by interface and resolution (immediate, deferred, destroyed)",
	}, []string{"interface", "resolution"})

	// roundtrips counts round trips issued by Sync.
	roundtrips = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "proxy_roundtrips_total",
		Help: "Total number of round trips issued by interface",
	}, []string{"interface"})

	// proxiesDestroyed counts proxies that reached the destroyed state.
	proxiesDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "proxy_destroyed_total",
		Help: "Total number of destroyed proxies by interface",
	}, []string{"interface"})
)
