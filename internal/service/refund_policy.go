package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
)

// RefundPolicy decides how much of a booking is returned on cancellation,
// based on how long before the event start the request arrives
type RefundPolicy struct {
	FullRefundBefore     time.Duration
	PartialRefundBefore  time.Duration
	PartialRefundPercent int
}

// DefaultRefundPolicy refunds everything up to 72h before start and half
// up to 24h before start
func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{
		FullRefundBefore:     72 * time.Hour,
		PartialRefundBefore:  24 * time.Hour,
		PartialRefundPercent: 50,
	}
}

// Quote returns the refund percentage and amount for cancelling a booking
// of total at now. Free bookings can be cancelled until the event starts.
func (p RefundPolicy) Quote(total decimal.Decimal, eventStart, now time.Time) (int, decimal.Decimal, error) {
	until := eventStart.Sub(now)
	if until <= 0 {
		return 0, decimal.Zero, domain.ErrEventStarted
	}
	if total.IsZero() {
		return 100, decimal.Zero, nil
	}

	var pct int
	switch {
	case until >= p.FullRefundBefore:
		pct = 100
	case until >= p.PartialRefundBefore:
		pct = p.PartialRefundPercent
	default:
		return 0, decimal.Zero, domain.ErrRefundWindowClosed
	}

	amount := total.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
	return pct, amount, nil
}
