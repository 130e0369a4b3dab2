package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var (
	tailorStartedTotal   atomic.Uint64
	tailorCommittedTotal atomic.Uint64
	tailorReplayedTotal  atomic.Uint64
	tailorFailedTotal    atomic.Uint64
	ledgerBusyTotal      atomic.Uint64
	rateLimitedTotal     atomic.Uint64
	panicsTotal          atomic.Uint64

	creditsMu           sync.Mutex
	creditsChargedTotal decimal.Decimal

	tailorDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncTailorStarted counts a tailoring run that passed the balance pre-check.
func IncTailorStarted() {
	tailorStartedTotal.Add(1)
}

// IncTailorCommitted counts a committed ledger transaction.
func IncTailorCommitted() {
	tailorCommittedTotal.Add(1)
}

// IncTailorReplayed counts a request answered from an earlier commit.
func IncTailorReplayed() {
	tailorReplayedTotal.Add(1)
}

// IncTailorFailed counts a run that ended without a commit.
func IncTailorFailed() {
	tailorFailedTotal.Add(1)
}

// IncLedgerBusy counts user lock acquisitions that timed out.
func IncLedgerBusy() {
	ledgerBusyTotal.Add(1)
}

// IncRateLimited counts requests rejected by the rate limiter.
func IncRateLimited() {
	rateLimitedTotal.Add(1)
}

// IncPanics counts handler panics caught by the recovery middleware.
func IncPanics() {
	panicsTotal.Add(1)
}

// AddCreditsCharged accumulates debited credits.
func AddCreditsCharged(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	creditsMu.Lock()
	creditsChargedTotal = creditsChargedTotal.Add(amount)
	creditsMu.Unlock()
}

// ObserveTailorDurationMs records a tailoring duration in milliseconds.
func ObserveTailorDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	tailorDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	creditsMu.Lock()
	charged := creditsChargedTotal
	creditsMu.Unlock()

	var buf bytes.Buffer
	writeCounter(&buf, "tailor_started_total", "Total tailoring runs started", tailorStartedTotal.Load())
	writeCounter(&buf, "tailor_committed_total", "Total tailoring runs committed", tailorCommittedTotal.Load())
	writeCounter(&buf, "tailor_replayed_total", "Total tailoring requests replayed by idempotency key", tailorReplayedTotal.Load())
	writeCounter(&buf, "tailor_failed_total", "Total tailoring runs failed", tailorFailedTotal.Load())
	writeCounter(&buf, "ledger_busy_total", "Total ledger lock timeouts", ledgerBusyTotal.Load())
	writeCounter(&buf, "http_rate_limited_total", "Total requests rejected by the rate limiter", rateLimitedTotal.Load())
	writeCounter(&buf, "http_panics_total", "Total handler panics recovered", panicsTotal.Load())
	fmt.Fprintf(&buf, "# HELP credits_charged_total Total credits debited by tailoring\n")
	fmt.Fprintf(&buf, "# TYPE credits_charged_total counter\n")
	fmt.Fprintf(&buf, "credits_charged_total %s\n", charged.String())
	writeHistogram(&buf, "tailor_duration_ms", "Tailoring duration in milliseconds", tailorDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
