package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements the domain Metrics interface using Prometheus.
type Recorder struct {
	ticksIngested  *prometheus.CounterVec
	ticksThrottled *prometheus.CounterVec
	candlesSealed  *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	regimeCurrent  *prometheus.GaugeVec
	regimeSwitches *prometheus.CounterVec
	closesTotal    *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	marginRatio    prometheus.Gauge
	marginLevel    prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder. Collectors register on the
// default registry, so construct it at most once per process.
func New() *Recorder {
	return &Recorder{
		ticksIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpilot_ticks_ingested_total",
				Help: "Ticks accepted into the ingestion pipeline",
			},
			[]string{"symbol"},
		),
		ticksThrottled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpilot_ticks_throttled_total",
				Help: "Ticks dropped by idle-symbol throttling",
			},
			[]string{"symbol"},
		),
		candlesSealed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpilot_candles_sealed_total",
				Help: "Candles sealed on bucket rollover",
			},
			[]string{"symbol", "timeframe"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskpilot_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		regimeCurrent: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskpilot_regime",
				Help: "Committed regime per symbol, 1 for the active label",
			},
			[]string{"symbol", "label"},
		),
		regimeSwitches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpilot_regime_switches_total",
				Help: "Committed regime transitions",
			},
			[]string{"symbol", "from", "to"},
		),
		closesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpilot_position_closes_total",
				Help: "Closed positions by reason",
			},
			[]string{"symbol", "reason"},
		),
		rejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpilot_risk_rejections_total",
				Help: "Trade admissions refused by the risk gate",
			},
			[]string{"reason"},
		),
		marginRatio: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskpilot_margin_ratio",
				Help: "Account equity divided by margin in use",
			},
		),
		marginLevel: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskpilot_margin_level",
				Help: "Margin severity: 0 safe, 1 warning, 2 danger, 3 critical",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpilot_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskpilot_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTick(symbol string) {
	r.ticksIngested.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordThrottled(symbol string) {
	r.ticksThrottled.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordCandleSealed(symbol string, tf string) {
	r.candlesSealed.WithLabelValues(symbol, tf).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordRegime marks label active for symbol and clears the other labels.
func (r *Recorder) RecordRegime(symbol string, label string) {
	for _, l := range []string{"trending", "ranging", "choppy"} {
		v := 0.0
		if l == label {
			v = 1.0
		}
		r.regimeCurrent.WithLabelValues(symbol, l).Set(v)
	}
}

func (r *Recorder) RecordRegimeSwitch(symbol string, from string, to string) {
	r.regimeSwitches.WithLabelValues(symbol, from, to).Inc()
}

func (r *Recorder) RecordClose(symbol string, reason string) {
	r.closesTotal.WithLabelValues(symbol, reason).Inc()
}

func (r *Recorder) RecordRejection(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordMarginRatio(ratio float64) {
	r.marginRatio.Set(ratio)
}

func (r *Recorder) RecordMarginLevel(severity int) {
	r.marginLevel.Set(float64(severity))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
