// Package metrics 暴露检索与生成链路的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector 聚合核心链路的全部指标。
type Collector struct {
	retrievalDuration *prometheus.HistogramVec
	retrievalDegraded *prometheus.CounterVec
	contextTokens     prometheus.Histogram
	contextItems      prometheus.Histogram

	generationDuration *prometheus.HistogramVec
	generationTokens   *prometheus.CounterVec
	generationCost     *prometheus.CounterVec
	providerFailovers  *prometheus.CounterVec
	providerState      *prometheus.GaugeVec

	citationsBound   prometheus.Counter
	citationsDropped prometheus.Counter
	ungroundedTotal  prometheus.Counter

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewCollector 创建并注册所有指标。reg 为空时使用默认注册表。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		retrievalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sophia",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Duration of one retrieval branch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"branch"}),
		retrievalDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Retrieval branch failures absorbed as degradation.",
		}, []string{"branch"}),
		contextTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sophia",
			Subsystem: "retrieval",
			Name:      "context_tokens",
			Help:      "Token count of assembled contexts.",
			Buckets:   []float64{250, 500, 1000, 2000, 3000, 4000, 6000, 8000},
		}),
		contextItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sophia",
			Subsystem: "retrieval",
			Name:      "context_items",
			Help:      "Item count of assembled contexts.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sophia",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of one generation call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		generationTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Tokens consumed, split by direction.",
		}, []string{"provider", "direction"}),
		generationCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "generation",
			Name:      "cost_usd_total",
			Help:      "Accumulated generation cost in USD.",
		}, []string{"provider"}),
		providerFailovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "generation",
			Name:      "failovers_total",
			Help:      "Failovers from one provider to the next.",
		}, []string{"from", "to"}),
		providerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sophia",
			Subsystem: "generation",
			Name:      "provider_state",
			Help:      "Provider health state (0 unknown, 1 healthy, 2 degraded, 3 unreachable).",
		}, []string{"provider"}),
		citationsBound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "citation",
			Name:      "bound_total",
			Help:      "Citations successfully bound to context sources.",
		}),
		citationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "citation",
			Name:      "dropped_total",
			Help:      "Citation markers dropped as invalid.",
		}),
		ungroundedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "citation",
			Name:      "ungrounded_total",
			Help:      "Answers that ended up with zero valid citations.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Answer cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Answer cache misses.",
		}),
	}

	reg.MustRegister(
		c.retrievalDuration, c.retrievalDegraded, c.contextTokens, c.contextItems,
		c.generationDuration, c.generationTokens, c.generationCost,
		c.providerFailovers, c.providerState,
		c.citationsBound, c.citationsDropped, c.ungroundedTotal,
		c.cacheHits, c.cacheMisses,
	)
	return c
}

// ObserveRetrieval 记录一条检索分支的耗时与降级。
func (c *Collector) ObserveRetrieval(branch string, d time.Duration, degraded bool) {
	if c == nil {
		return
	}
	c.retrievalDuration.WithLabelValues(branch).Observe(d.Seconds())
	if degraded {
		c.retrievalDegraded.WithLabelValues(branch).Inc()
	}
}

// ObserveContext 记录组装完成的上下文规模。
func (c *Collector) ObserveContext(items, tokens int) {
	if c == nil {
		return
	}
	c.contextItems.Observe(float64(items))
	c.contextTokens.Observe(float64(tokens))
}

// ObserveGeneration 记录一次生成调用。
func (c *Collector) ObserveGeneration(provider string, d time.Duration, promptTokens, completionTokens int, costUSD float64) {
	if c == nil {
		return
	}
	c.generationDuration.WithLabelValues(provider).Observe(d.Seconds())
	c.generationTokens.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	c.generationTokens.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	c.generationCost.WithLabelValues(provider).Add(costUSD)
}

// RecordFailover 记录一次故障转移。
func (c *Collector) RecordFailover(from, to string) {
	if c == nil {
		return
	}
	c.providerFailovers.WithLabelValues(from, to).Inc()
}

// SetProviderState 更新提供商健康状态。
func (c *Collector) SetProviderState(provider string, state int) {
	if c == nil {
		return
	}
	c.providerState.WithLabelValues(provider).Set(float64(state))
}

// RecordCitations 记录一次引用绑定结果。
func (c *Collector) RecordCitations(bound, dropped int, ungrounded bool) {
	if c == nil {
		return
	}
	c.citationsBound.Add(float64(bound))
	c.citationsDropped.Add(float64(dropped))
	if ungrounded {
		c.ungroundedTotal.Inc()
	}
}

// RecordCacheHit 记录缓存命中。
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss 记录缓存未命中。
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}
