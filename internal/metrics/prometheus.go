package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は Prometheus に公開するプールと接続のメトリクス
// nil の Collector に対する呼び出しは何もしない
type Collector struct {
	JobsSubmitted  prometheus.Counter
	JobsCompleted  prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsRejected   *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	BusyWorkers    prometheus.Gauge
	Workers        prometheus.Gauge
	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	ResourceMisses *prometheus.CounterVec
}

// NewCollector は namespace 付きのコレクタを作成する（未登録）
func NewCollector(namespace string) *Collector {
	return &Collector{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total jobs accepted by the pool",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total jobs that ran to completion",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total jobs that panicked and were contained by a worker",
		}),
		JobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Total submissions refused by the pool",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Current number of jobs waiting in the queue",
		}),
		BusyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Workers currently executing a job",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Workers owned by the pool",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served, by response status line",
		}, []string{"status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request line read to response written",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		ResourceMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_missing_total",
			Help:      "Requests whose response resource could not be loaded",
		}, []string{"resource"}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.JobsSubmitted, c.JobsCompleted, c.JobsFailed, c.JobsRejected,
		c.QueueDepth, c.BusyWorkers, c.Workers,
		c.Requests, c.RequestLatency, c.ResourceMisses,
	}
}

// Register はすべてのメトリクスを reg に登録する
// 既に登録済みのものはエラーにしない
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler は reg 用の /metrics ハンドラを返す
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// JobSubmitted はジョブ投入を記録する
func (c *Collector) JobSubmitted() {
	if c == nil {
		return
	}
	c.JobsSubmitted.Inc()
}

// JobQueued はキューに入るジョブを記録する。投入より先に呼ぶ
func (c *Collector) JobQueued() {
	if c == nil {
		return
	}
	c.QueueDepth.Inc()
}

// JobUnqueued は投入が拒否されたジョブの JobQueued を取り消す
func (c *Collector) JobUnqueued() {
	if c == nil {
		return
	}
	c.QueueDepth.Dec()
}

// JobClaimed はワーカーがジョブを取り出したことを記録する
func (c *Collector) JobClaimed() {
	if c == nil {
		return
	}
	c.QueueDepth.Dec()
	c.BusyWorkers.Inc()
}

// JobFinished はジョブ終了を記録する
func (c *Collector) JobFinished(failed bool) {
	if c == nil {
		return
	}
	c.BusyWorkers.Dec()
	if failed {
		c.JobsFailed.Inc()
		return
	}
	c.JobsCompleted.Inc()
}

// JobRejected は拒否された投入を理由ごとに記録する
func (c *Collector) JobRejected(reason string) {
	if c == nil {
		return
	}
	c.JobsRejected.WithLabelValues(reason).Inc()
}

// SetWorkers はワーカー数を記録する
func (c *Collector) SetWorkers(n int) {
	if c == nil {
		return
	}
	c.Workers.Set(float64(n))
}

// RequestServed は応答済みリクエストを記録する
func (c *Collector) RequestServed(route, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(status).Inc()
	c.RequestLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ResourceMissing はリソース欠落を記録する
func (c *Collector) ResourceMissing(resource string) {
	if c == nil {
		return
	}
	c.ResourceMisses.WithLabelValues(resource).Inc()
}
