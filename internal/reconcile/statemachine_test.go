package reconcile

import (
	"testing"

	"paysync/internal/domain/paymentsrepo"

	"github.com/stretchr/testify/require"
)

var allStatuses = []paymentsrepo.Status{
	paymentsrepo.StatusPending,
	paymentsrepo.StatusConfirmed,
	paymentsrepo.StatusFailed,
	paymentsrepo.StatusRefunded,
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]paymentsrepo.Status]bool{
		{paymentsrepo.StatusPending, paymentsrepo.StatusConfirmed}:  true,
		{paymentsrepo.StatusPending, paymentsrepo.StatusFailed}:     true,
		{paymentsrepo.StatusConfirmed, paymentsrepo.StatusRefunded}: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			require.Equal(t, allowed[[2]paymentsrepo.Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	require.False(t, IsTerminal(paymentsrepo.StatusPending))
	require.False(t, IsTerminal(paymentsrepo.StatusConfirmed))
	require.True(t, IsTerminal(paymentsrepo.StatusFailed))
	require.True(t, IsTerminal(paymentsrepo.StatusRefunded))
}

func TestReached(t *testing.T) {
	tests := []struct {
		current, target paymentsrepo.Status
		want            bool
	}{
		{paymentsrepo.StatusConfirmed, paymentsrepo.StatusConfirmed, true},
		{paymentsrepo.StatusRefunded, paymentsrepo.StatusConfirmed, true},
		{paymentsrepo.StatusRefunded, paymentsrepo.StatusPending, true},
		{paymentsrepo.StatusFailed, paymentsrepo.StatusPending, true},
		{paymentsrepo.StatusFailed, paymentsrepo.StatusConfirmed, false},
		{paymentsrepo.StatusPending, paymentsrepo.StatusConfirmed, false},
		{paymentsrepo.StatusConfirmed, paymentsrepo.StatusFailed, false},
		{paymentsrepo.StatusConfirmed, paymentsrepo.StatusRefunded, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Reached(tt.current, tt.target), "%s reached %s", tt.current, tt.target)
	}
}

func TestStatusNeverMovesBackward(t *testing.T) {
	// Every allowed edge goes to a status that cannot reach its source again.
	for _, from := range allStatuses {
		for _, to := range transitions[from] {
			require.False(t, Reached(from, to), "%s already past %s", from, to)
			require.True(t, Reached(to, from), "%s should imply %s happened", to, from)
		}
	}
}

func TestDecide(t *testing.T) {
	require.Equal(t, OutcomeApplied, decide(paymentsrepo.StatusPending, paymentsrepo.StatusConfirmed))
	require.Equal(t, OutcomeAlreadyApplied, decide(paymentsrepo.StatusConfirmed, paymentsrepo.StatusConfirmed))
	require.Equal(t, OutcomeAlreadyApplied, decide(paymentsrepo.StatusRefunded, paymentsrepo.StatusConfirmed))
	require.Equal(t, OutcomeRejected, decide(paymentsrepo.StatusFailed, paymentsrepo.StatusConfirmed))
	require.Equal(t, OutcomeRejected, decide(paymentsrepo.StatusPending, paymentsrepo.StatusRefunded))
	require.Equal(t, OutcomeRejected, decide(paymentsrepo.StatusConfirmed, paymentsrepo.StatusFailed))
}
