package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type PollMetrics struct {
	votesAccepted  *prometheus.CounterVec
	votesCancelled *prometheus.CounterVec
	claimsPaid     *prometheus.CounterVec
	rescues        prometheus.Counter
	totalStaked    *prometheus.GaugeVec
}

var (
	pollOnce     sync.Once
	pollRegistry *PollMetrics
)

func Poll() *PollMetrics {
	pollOnce.Do(func() {
		pollRegistry = &PollMetrics{
			votesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "poll_votes_accepted_total",
				Help: "Count of accepted votes by poll.",
			}, []string{"poll"}),
			votesCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "poll_votes_cancelled_total",
				Help: "Count of cancelled votes by poll.",
			}, []string{"poll"}),
			claimsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "poll_claims_paid_total",
				Help: "Count of settled claims by kind (creator, fee, refund).",
			}, []string{"kind"}),
			rescues: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poll_rescues_total",
				Help: "Count of admin fund rescues.",
			}),
			totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "poll_total_staked",
				Help: "Stake currently custodied per poll.",
			}, []string{"poll"}),
		}
		prometheus.MustRegister(
			pollRegistry.votesAccepted,
			pollRegistry.votesCancelled,
			pollRegistry.claimsPaid,
			pollRegistry.rescues,
			pollRegistry.totalStaked,
		)
	})
	return pollRegistry
}

func (m *PollMetrics) VoteAccepted(poll string) {
	if m == nil {
		return
	}
	m.votesAccepted.WithLabelValues(poll).Inc()
}

func (m *PollMetrics) VoteCancelled(poll string) {
	if m == nil {
		return
	}
	m.votesCancelled.WithLabelValues(poll).Inc()
}

func (m *PollMetrics) ClaimPaid(kind string) {
	if m == nil {
		return
	}
	m.claimsPaid.WithLabelValues(kind).Inc()
}

func (m *PollMetrics) Rescue() {
	if m == nil {
		return
	}
	m.rescues.Inc()
}

func (m *PollMetrics) SetStaked(poll string, amount float64) {
	if m == nil {
		return
	}
	m.totalStaked.WithLabelValues(poll).Set(amount)
}
