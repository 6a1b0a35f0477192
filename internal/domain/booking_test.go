package domain

import (
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBooking_AddLine(t *testing.T) {
	now := time.Now()
	event := &Event{ID: "e1", Name: "Jazz Night", Venue: "Hall A", StartTime: now.Add(48 * time.Hour), EndTime: now.Add(50 * time.Hour)}
	vip := &TicketType{ID: "t1", EventID: "e1", Name: "VIP", Price: decimal.RequireFromString("150.50")}
	std := &TicketType{ID: "t2", EventID: "e1", Name: "Standard", Price: decimal.NewFromInt(40)}

	b := NewBooking("u1", "e1", "VND", now)
	assert.Equal(t, BookingStatusPending, b.Status)
	assert.Equal(t, PaymentStatusUnpaid, b.PaymentStatus)

	_, err := b.AddLine(vip, 2, event, now)
	require.NoError(t, err)
	_, err = b.AddLine(std, 3, event, now)
	require.NoError(t, err)

	assert.Len(t, b.Items, 2)
	assert.Len(t, b.Tickets, 5)
	assert.Equal(t, 5, b.TicketCount())
	assert.True(t, decimal.RequireFromString("421").Equal(b.TotalAmount), "total = %s", b.TotalAmount)
	assert.True(t, decimal.RequireFromString("301").Equal(b.Items[0].LineTotal))

	for _, tk := range b.Tickets {
		assert.Equal(t, TicketStatusValid, tk.Status)
		assert.Equal(t, "Jazz Night", tk.Snapshot.EventName)
		assert.Equal(t, "Hall A", tk.Snapshot.Venue)
		assert.Equal(t, b.ID, tk.BookingID)
		assert.False(t, tk.IsIssued())
	}

	// later price changes never touch the snapshot
	vip.Price = decimal.NewFromInt(999)
	assert.True(t, decimal.RequireFromString("150.50").Equal(b.Items[0].UnitPrice))

	_, err = b.AddLine(vip, 0, event, now)
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
}

func TestBooking_MarkPaidAndCancel(t *testing.T) {
	now := time.Now()
	b := NewBooking("u1", "e1", "VND", now)

	assert.ErrorIs(t, b.Cancel(decimal.Zero, now), ErrBookingNotCancellable)

	payID := "pay-1"
	b.MarkPaid(PaymentMethodWallet, &payID, now)
	assert.Equal(t, BookingStatusConfirmed, b.Status)
	assert.Equal(t, PaymentStatusPaid, b.PaymentStatus)
	require.NotNil(t, b.PaidAt)

	require.NoError(t, b.Cancel(decimal.NewFromInt(50), now))
	assert.Equal(t, BookingStatusCancelled, b.Status)
	assert.Equal(t, PaymentStatusPaid, b.PaymentStatus)
	assert.ErrorIs(t, b.Cancel(decimal.Zero, now), ErrBookingNotCancellable)
}

func TestGenerateTicketCode(t *testing.T) {
	pattern := regexp.MustCompile(fmt.Sprintf("^[A-Z2-9]{%d}$", TicketCodeLength))
	seen := make(map[string]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		code := GenerateTicketCode()
		require.Regexp(t, pattern, code)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}
