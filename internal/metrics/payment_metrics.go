// Package metrics содержит Prometheus-метрики state machine платёжного шлюза.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Источники терминального перехода.
const (
	SourceSync    = "sync"
	SourceSettle  = "settle"
	SourceWebhook = "webhook"
)

// PaymentMetrics содержит метрики жизненного цикла PaymentProcess.
// Методы безопасно вызывать на nil.
type PaymentMetrics struct {
	// Захваты строк планировщиком
	claims *prometheus.CounterVec

	// Вызовы провайдеров
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec

	// Терминальные переходы
	finalized *prometheus.CounterVec

	// Проигранные гонки CAS
	casLost *prometheus.CounterVec

	// Тики планировщиков
	schedulerRuns     *prometheus.CounterVec
	schedulerDuration *prometheus.HistogramVec
}

// NewPaymentMetrics регистрирует метрики в DefaultRegisterer.
func NewPaymentMetrics() *PaymentMetrics {
	return NewPaymentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPaymentMetricsWithRegisterer нужен тестам и процессам с собственным реестром.
func NewPaymentMetricsWithRegisterer(registerer prometheus.Registerer) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PaymentMetrics{
		claims: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paycore_payment_claims_total",
			Help: "Total number of UNKNOWN to PENDING claim attempts by result",
		}, []string{"provider", "result"}),
		providerCalls: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paycore_provider_calls_total",
			Help: "Total number of provider calls by result",
		}, []string{"provider", "result"}),
		providerDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "paycore_provider_call_duration_seconds",
			Help:    "Duration of provider calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"provider"}),
		finalized: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paycore_payment_finalized_total",
			Help: "Total number of terminal payment process transitions",
		}, []string{"provider", "status", "source"}),
		casLost: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paycore_payment_cas_lost_total",
			Help: "Total number of compare-and-swap updates that affected no rows",
		}, []string{"transition"}),
		schedulerRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paycore_scheduler_runs_total",
			Help: "Total number of scheduler ticks by job and result",
		}, []string{"job", "result"}),
		schedulerDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "paycore_scheduler_run_duration_seconds",
			Help:    "Duration of scheduler ticks in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
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

// RecordClaim учитывает попытку захвата строки.
func (m *PaymentMetrics) RecordClaim(provider string, claimed bool) {
	if m == nil {
		return
	}
	result := "claimed"
	if !claimed {
		result = "lost"
	}
	m.claims.WithLabelValues(provider, result).Inc()
}

// RecordProviderCall учитывает вызов провайдера: ok, rejected или error.
func (m *PaymentMetrics) RecordProviderCall(provider, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, result).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordFinalized учитывает терминальный переход.
func (m *PaymentMetrics) RecordFinalized(provider, status, source string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(provider, status, source).Inc()
}

// RecordCASLost учитывает CAS, который уже выполнил кто-то другой.
func (m *PaymentMetrics) RecordCASLost(transition string) {
	if m == nil {
		return
	}
	m.casLost.WithLabelValues(transition).Inc()
}

// RecordSchedulerRun записывает результат и длительность тика.
func (m *PaymentMetrics) RecordSchedulerRun(job string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.schedulerRuns.WithLabelValues(job, result).Inc()
	m.schedulerDuration.WithLabelValues(job).Observe(duration.Seconds())
}
