package di

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/internal/dto"
	"github.com/prohmpiriya/aievent-booking/internal/repository"
	"github.com/prohmpiriya/aievent-booking/pkg/config"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent map[string][]byte
}

func (m *recordingMailer) SendWithAttachment(ctx context.Context, to, subject string, pdf []byte, filename, eventName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = map[string][]byte{}
	}
	m.sent[to] = pdf
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Name: "aievent-booking", Store: "memory"},
		Kafka:   config.KafkaConfig{EventsTopic: "booking-events"},
		Booking: config.BookingConfig{DefaultCurrency: "VND", TransactionTimeout: 5 * time.Second},
		Refund: config.RefundConfig{
			FullRefundBefore:     72 * time.Hour,
			PartialRefundBefore:  24 * time.Hour,
			PartialRefundPercent: 50,
		},
		Issuance: config.IssuanceConfig{
			PollInterval:   10 * time.Millisecond,
			BatchSize:      10,
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			QRConcurrency:  2,
			StageTimeout:   5 * time.Second,
		},
		Ticket: config.TicketConfig{SigningSecret: "test-secret", Issuer: "aievent"},
	}
}

func TestNewContainer_RequiresStore(t *testing.T) {
	_, err := NewContainer(&ContainerConfig{Config: testConfig()})
	assert.Error(t, err)
}

func TestContainer_CheckoutThroughIssuance(t *testing.T) {
	store := repository.NewMemoryStore()
	SeedDemo(store, time.Now())
	mailer := &recordingMailer{}

	c, err := NewContainer(&ContainerConfig{Config: testConfig(), Store: store, Mailer: mailer, EmbedWorker: true})
	require.NoError(t, err)

	ctx := context.Background()
	confirmation, err := c.BookingService.CreateBooking(ctx, DemoUserID, &dto.CreateBookingRequest{
		EventID: DemoEventID,
		Items: []dto.BookingItemRequest{
			{TicketTypeID: DemoTicketGA, Quantity: 2},
			{TicketTypeID: DemoTicketVIP, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2_500_000).Equal(confirmation.TotalAmount))
	assert.True(t, decimal.NewFromInt(2_500_000).Equal(*confirmation.BalanceAfter))

	n, err := c.OutboxWorker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	booking, err := c.BookingService.GetBooking(ctx, confirmation.ID, DemoUserID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.IssuanceStatusIssued), booking.IssuanceStatus)
	require.Len(t, booking.Tickets, 3)
	for _, tk := range booking.Tickets {
		assert.NotEmpty(t, tk.QRRef)
		assert.NotNil(t, tk.IssuedAt)
	}
	assert.Contains(t, mailer.sent, "demo@aievent.local")

	ga, _ := store.TicketType(DemoTicketGA)
	assert.Equal(t, 198, ga.RemainingQuantity)
	event, _ := store.Event(DemoEventID)
	assert.Equal(t, 217, event.RemainingTickets)
}
