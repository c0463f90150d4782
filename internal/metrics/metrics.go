// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks listing, voucher and settlement activity. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ListingsCreated   prometheus.Counter
	ListingRejections *prometheus.CounterVec
	ApprovalTxIssued  prometheus.Counter
	ListingsExpired   prometheus.Counter
	VouchersSigned    prometheus.Counter
	FillDuration      prometheus.Histogram
	SalesReconciled   prometheus.Counter
	ReconcileFailures *prometheus.CounterVec
	SalesExported     prometheus.Counter
}

// New registers every instrument on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ListingsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "nftpay_listings_created_total",
			Help: "Total number of listings persisted",
		}),
		ListingRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nftpay_listing_rejections_total",
			Help: "Create-listing requests rejected, by error kind",
		}, []string{"kind"}),
		ApprovalTxIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "nftpay_approval_tx_issued_total",
			Help: "Create-listing requests answered with a setApprovalForAll transaction",
		}),
		ListingsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "nftpay_listings_expired_total",
			Help: "Listings removed by the expiry sweep",
		}),
		VouchersSigned: f.NewCounter(prometheus.CounterOpts{
			Name: "nftpay_vouchers_signed_total",
			Help: "Sale vouchers signed for buyers",
		}),
		FillDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nftpay_fill_listing_duration_seconds",
			Help:    "Duration of fill-listing including the chain id lookup and signing",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		SalesReconciled: f.NewCounter(prometheus.CounterOpts{
			Name: "nftpay_sales_reconciled_total",
			Help: "Sold events handled by the reconciler",
		}),
		ReconcileFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nftpay_reconcile_failures_total",
			Help: "Reconciler steps that failed after retries, by step",
		}, []string{"step"}),
		SalesExported: f.NewCounter(prometheus.CounterOpts{
			Name: "nftpay_sales_exported_total",
			Help: "Sales written to the object storage ledger",
		}),
	}
}

// IncListingCreated records a persisted listing.
func (m *Metrics) IncListingCreated() {
	if m == nil {
		return
	}
	m.ListingsCreated.Inc()
}

// IncListingRejected records a rejected create-listing request.
func (m *Metrics) IncListingRejected(kind string) {
	if m == nil {
		return
	}
	m.ListingRejections.WithLabelValues(kind).Inc()
}

// IncApprovalTx records an approval transaction handed back to a seller.
func (m *Metrics) IncApprovalTx() {
	if m == nil {
		return
	}
	m.ApprovalTxIssued.Inc()
}

// AddListingsExpired records n listings removed by the sweep.
func (m *Metrics) AddListingsExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsExpired.Add(float64(n))
}

// ObserveFill records a completed fill-listing. Call with time.Now() taken at
// the start of the operation.
func (m *Metrics) ObserveFill(start time.Time) {
	if m == nil {
		return
	}
	m.VouchersSigned.Inc()
	m.FillDuration.Observe(time.Since(start).Seconds())
}

// IncSaleReconciled records a handled Sold event.
func (m *Metrics) IncSaleReconciled() {
	if m == nil {
		return
	}
	m.SalesReconciled.Inc()
}

// IncReconcileFailure records a reconciler step that gave up.
func (m *Metrics) IncReconcileFailure(step string) {
	if m == nil {
		return
	}
	m.ReconcileFailures.WithLabelValues(step).Inc()
}

// AddSalesExported records n exported sales.
func (m *Metrics) AddSalesExported(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SalesExported.Add(float64(n))
}
