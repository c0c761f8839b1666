package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/limbo/stakepool/internal/metrics"
)

func TestCounters(t *testing.T) {
	m := metrics.New()
	m.PoolTransition("filling", "active")
	m.PoolTransition("filling", "active")
	m.Payout("payout", "confirmed")
	m.SetPendingPayouts(3)

	expected := `
# HELP stakepool_pool_transitions_total Pool status transitions.
# TYPE stakepool_pool_transitions_total counter
stakepool_pool_transitions_total{from="filling",to="active"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "stakepool_pool_transitions_total"))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "stakepool_settlement_pending_payouts 3")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.PoolTransition("a", "b")
		m.Proof("accepted")
		m.SettlementFailure()
		m.TransferRetry("submit_transfer")
	})
}
