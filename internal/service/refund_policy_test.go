package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
)

func TestRefundPolicy_Quote(t *testing.T) {
	policy := DefaultRefundPolicy()
	start := time.Date(2026, 7, 1, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		total      string
		until      time.Duration
		wantPct    int
		wantAmount string
		wantErr    error
	}{
		{name: "well ahead", total: "199.99", until: 10 * 24 * time.Hour, wantPct: 100, wantAmount: "199.99"},
		{name: "exactly 72h", total: "100", until: 72 * time.Hour, wantPct: 100, wantAmount: "100"},
		{name: "partial", total: "199.99", until: 30 * time.Hour, wantPct: 50, wantAmount: "100"},
		{name: "exactly 24h", total: "80", until: 24 * time.Hour, wantPct: 50, wantAmount: "40"},
		{name: "too late", total: "80", until: 23 * time.Hour, wantErr: domain.ErrRefundWindowClosed},
		{name: "free until start", total: "0", until: time.Minute, wantPct: 100, wantAmount: "0"},
		{name: "started", total: "0", until: 0, wantErr: domain.ErrEventStarted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, amount, err := policy.Quote(decimal.RequireFromString(tt.total), start, start.Add(-tt.until))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantPct, pct)
			assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(amount), "amount = %s", amount)
		})
	}
}
