// Package metrics содержит счётчики Prometheus ядра маркетплейса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal входящие события по типам.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_events_total",
		Help: "Inbound events processed, labelled by event type.",
	}, []string{"type"})

	// DecisionsTotal решения ревьюера по вердиктам.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_decisions_total",
		Help: "Reviewer decisions applied, labelled by verdict.",
	}, []string{"verdict"})

	// SweptAccountsTotal счета, обнулённые очисткой просроченных балансов.
	SweptAccountsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_swept_accounts_total",
		Help: "Ledger accounts zeroed by the expiry sweep.",
	})

	// DistributionsTotal месячные начисления токенов по подпискам.
	DistributionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_subscription_distributions_total",
		Help: "Monthly token distributions credited by the subscription sweep.",
	})
)
