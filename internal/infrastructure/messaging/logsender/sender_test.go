package logsender

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
)

func TestSend(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(logging.NewLoggerFromCore(core))

	msg := &domainRenewal.Message{
		ID:        "m-1",
		BatchID:   3,
		KindName:  "first_call",
		Recipient: domainRenewal.Recipient{Address: "ip@acme.test", Locale: "en"},
		Total:     domainRenewal.Breakdown{TotalWithVAT: decimal.RequireFromString("1200.5")},
	}
	require.NoError(t, s.Send(context.Background(), msg))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ip@acme.test", fields["to"])
	assert.Equal(t, "1200.50", fields["total"])
	assert.Equal(t, int64(3), fields["batch_id"])
}

func TestSend_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, New(logging.NewNopLogger()).Send(ctx, &domainRenewal.Message{}), context.Canceled)
}
