package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "referral_engine"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ReferralsTracked *prometheus.CounterVec
	ReferralRewards  prometheus.Counter
	QuestsClaimed    prometheus.Counter
	ReconcileUsers   *prometheus.CounterVec
	ReconcileDrift   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReferralsTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referrals_tracked_total",
			Help:      "Referral track attempts by result.",
		}, []string{"result"}),
		ReferralRewards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_rewards_total",
			Help:      "Referral events transitioned to rewarded.",
		}),
		QuestsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quests_claimed_total",
			Help:      "Quest rewards granted.",
		}),
		ReconcileUsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_users_total",
			Help:      "Users processed by reconciliation by outcome.",
		}, []string{"outcome"}),
		ReconcileDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_drift_total",
			Help:      "Aggregate fields found out of sync with their source records.",
		}, []string{"field"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ReferralsTracked,
			m.ReferralRewards,
			m.QuestsClaimed,
			m.ReconcileUsers,
			m.ReconcileDrift,
		)
	}

	return m
}

func (m *Metrics) ReferralTracked(result string) {
	if m == nil {
		return
	}
	m.ReferralsTracked.WithLabelValues(result).Inc()
}

func (m *Metrics) ReferralRewarded() {
	if m == nil {
		return
	}
	m.ReferralRewards.Inc()
}

func (m *Metrics) QuestClaimed() {
	if m == nil {
		return
	}
	m.QuestsClaimed.Inc()
}

func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileUsers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Drift(field string) {
	if m == nil {
		return
	}
	m.ReconcileDrift.WithLabelValues(field).Inc()
}
