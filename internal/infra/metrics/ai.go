package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiTokensTotal,
		aiCostMicro,
		aiCallsLatencyMs,
		aiRateLimitBlocks,
		aiProviderErrors,
		aiStreamMalformed,
		aiInflight,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Sum of total tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCostMicro = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_cost_micro_usd",
			Help: "Total spend in micro-USD per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "model", "success"},
	)

	aiRateLimitBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_rate_limit_blocks_total",
			Help: "Jobs rejected by a tenant ceiling, by kind (requests, tokens, cost).",
		},
		[]string{"kind"},
	)

	aiProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_provider_errors_total",
			Help: "Provider call failures by provider and error code.",
		},
		[]string{"provider", "code"},
	)

	aiStreamMalformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_stream_malformed_chunks_total",
			Help: "Stream fragments skipped because they could not be parsed.",
		},
		[]string{"provider"},
	)

	aiInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_inflight_calls",
			Help: "Outbound provider calls currently holding a concurrency slot.",
		},
		[]string{"provider"},
	)
)

func RateLimitBlocked(kind string) {
	aiRateLimitBlocks.WithLabelValues(norm(kind)).Inc()
}

func IncProviderError(provider, code string) {
	aiProviderErrors.WithLabelValues(norm(provider), norm(code)).Inc()
}

func IncMalformedChunk(provider string) {
	aiStreamMalformed.WithLabelValues(norm(provider)).Inc()
}

func AddInflight(provider string, d float64) {
	aiInflight.WithLabelValues(norm(provider)).Add(d)
}

func ObserveChatUsage(provider, model string, tokensIn, tokensOut, tokensTotal int, costMicro int64, latencyMs int, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiTokensTotal.WithLabelValues(lbl...).Add(float64(tokensTotal))
	aiCostMicro.WithLabelValues(lbl...).Add(float64(costMicro))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
