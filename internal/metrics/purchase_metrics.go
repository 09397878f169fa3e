package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты покупки для метки result.
const (
	ResultPlaced       = "placed"
	ResultRejected     = "rejected"
	ResultOutOfStock   = "out_of_stock"
	ResultPersistError = "persist_error"
)

// PurchaseMetrics содержит метрики оформления покупок.
type PurchaseMetrics struct {
	purchases        *prometheus.CounterVec
	ordersCreated    prometheus.Counter
	unitsSold        prometheus.Counter
	rollbacks        prometheus.Counter
	purchaseDuration prometheus.Histogram
	inFlight         prometheus.Gauge
}

// NewPurchaseMetrics регистрирует метрики в DefaultRegisterer.
func NewPurchaseMetrics() *PurchaseMetrics {
	return NewPurchaseMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPurchaseMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewPurchaseMetricsWithRegisterer(registerer prometheus.Registerer) *PurchaseMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PurchaseMetrics{
		purchases: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_purchases_total",
			Help: "Total number of purchase requests by result",
		}, []string{"result"}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_created_total",
			Help: "Total number of orders created by purchases",
		}),
		unitsSold: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_units_sold_total",
			Help: "Total number of product units decremented from stock",
		}),
		rollbacks: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_purchase_rollbacks_total",
			Help: "Total number of purchases whose reservations were restocked",
		}),
		purchaseDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_purchase_duration_seconds",
			Help:    "Duration of purchase requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "marketplace_purchases_in_flight",
			Help: "Number of purchases currently being processed",
		}),
	}
}

// RecordStarted увеличивает число покупок в обработке.
func (m *PurchaseMetrics) RecordStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordFinished фиксирует результат и длительность покупки.
func (m *PurchaseMetrics) RecordFinished(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.purchases.WithLabelValues(result).Inc()
	m.purchaseDuration.Observe(duration.Seconds())
}

// RecordOrders учитывает созданные заказы и проданные единицы.
func (m *PurchaseMetrics) RecordOrders(orders, units int) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(float64(orders))
	m.unitsSold.Add(float64(units))
}

// RecordRollback увеличивает счётчик откатов резервирования.
func (m *PurchaseMetrics) RecordRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}
