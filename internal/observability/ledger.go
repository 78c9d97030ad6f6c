package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics mencatat hasil posting jurnal dan efek samping costing.
// Nilai nil aman dipakai.
type LedgerMetrics struct {
	entriesPosted   *prometheus.CounterVec
	postingFailures *prometheus.CounterVec
	batchesConsumed prometheus.Counter
	zeroStockResets prometheus.Counter
}

// NewLedgerMetrics mendaftarkan kolektor ledger pada registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &LedgerMetrics{
		entriesPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_entries_posted_total",
			Help: "Jurnal yang berhasil diposting berdasarkan sumber.",
		}, []string{"kind"}),
		postingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_posting_failures_total",
			Help: "Posting jurnal yang gagal berdasarkan alasan.",
		}, []string{"reason"}),
		batchesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_inventory_batches_consumed_total",
			Help: "Batch persediaan yang dikurangi oleh alokasi biaya.",
		}),
		zeroStockResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_inventory_zero_stock_resets_total",
			Help: "Reset biaya karena stok habis.",
		}),
	}
	registerer.MustRegister(m.entriesPosted, m.postingFailures, m.batchesConsumed, m.zeroStockResets)
	return m
}

// EntryPosted menambah hitungan posting sukses.
func (m *LedgerMetrics) EntryPosted(kind string) {
	if m == nil {
		return
	}
	m.entriesPosted.WithLabelValues(kind).Inc()
}

// PostingFailed menambah hitungan posting gagal.
func (m *LedgerMetrics) PostingFailed(reason string) {
	if m == nil {
		return
	}
	m.postingFailures.WithLabelValues(reason).Inc()
}

// BatchesConsumed menambah jumlah batch yang dikurangi.
func (m *LedgerMetrics) BatchesConsumed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchesConsumed.Add(float64(n))
}

// ZeroStockReset menambah hitungan reset stok nol.
func (m *LedgerMetrics) ZeroStockReset() {
	if m == nil {
		return
	}
	m.zeroStockResets.Inc()
}
