package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics описывает запись снапшотов коллекций.
type StorageMetrics struct {
	persistDuration *prometheus.HistogramVec
	persistFailures *prometheus.CounterVec
	repairs         *prometheus.CounterVec
	entities        *prometheus.GaugeVec
}

// NewStorageMetrics регистрирует метрики в DefaultRegisterer.
func NewStorageMetrics() *StorageMetrics {
	return NewStorageMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorageMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewStorageMetricsWithRegisterer(registerer prometheus.Registerer) *StorageMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorageMetrics{
		persistDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_snapshot_persist_duration_seconds",
			Help:    "Duration of snapshot writes in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"collection"}),
		persistFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_snapshot_persist_failures_total",
			Help: "Total number of failed snapshot writes",
		}, []string{"collection"}),
		repairs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_snapshot_repaired_ids_total",
			Help: "Total number of entity ids reassigned while loading snapshots",
		}, []string{"collection"}),
		entities: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "marketplace_snapshot_entities",
			Help: "Number of entities in a collection snapshot",
		}, []string{"collection"}),
	}
}

// ObservePersist фиксирует одну запись снапшота.
func (m *StorageMetrics) ObservePersist(collection string, size int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.persistDuration.WithLabelValues(collection).Observe(duration.Seconds())
	if err != nil {
		m.persistFailures.WithLabelValues(collection).Inc()
		return
	}
	m.entities.WithLabelValues(collection).Set(float64(size))
}

// ObserveRepair учитывает переназначенные при загрузке идентификаторы.
func (m *StorageMetrics) ObserveRepair(collection string, repaired int) {
	if m == nil || repaired <= 0 {
		return
	}
	m.repairs.WithLabelValues(collection).Add(float64(repaired))
}
