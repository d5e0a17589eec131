// Package metrics holds the prometheus metrics of the app. They are registered on the default registry,
// served by the API under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
)

var (
	FormsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chuo_forms_open",
		Help: "Number of open server-side form sessions",
	})

	FormSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chuo_form_submissions_total",
		Help: "Total form submissions by schema and result (ok, invalid, failed)",
	}, []string{"schema", "result"})

	Validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chuo_validations_total",
		Help: "Total validation requests by schema and result (ok, invalid)",
	}, []string{"schema", "result"})

	AuditEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chuo_audit_entries_total",
		Help: "Total audit entries by category and result (ok, failed)",
	}, []string{"category", "result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chuo_notifications_total",
		Help: "Total notifications dispatched by severity and result (ok, failed)",
	}, []string{"severity", "result"})

	ChannelDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chuo_channel_deliveries_total",
		Help: "Total per-channel notification deliveries by channel and result (ok, failed)",
	}, []string{"channel", "result"})
)

// Result maps an error to the ok / failed result label.
func Result(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultOK
}
