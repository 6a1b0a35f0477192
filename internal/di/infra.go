package di

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/internal/repository"
	"github.com/prohmpiriya/aievent-booking/pkg/config"
	"github.com/prohmpiriya/aievent-booking/pkg/database"
	"github.com/prohmpiriya/aievent-booking/pkg/kafka"
	"github.com/prohmpiriya/aievent-booking/pkg/logger"
)

// Demo fixture ids seeded into the memory store
const (
	DemoUserID      = "00000000-0000-0000-0000-000000000001"
	DemoEventID     = "00000000-0000-0000-0000-000000000100"
	DemoTicketGA    = "00000000-0000-0000-0000-000000000101"
	DemoTicketVIP   = "00000000-0000-0000-0000-000000000102"
	DemoFreeEventID = "00000000-0000-0000-0000-000000000200"
	DemoTicketFree  = "00000000-0000-0000-0000-000000000201"
)

// OpenStore connects the configured persistence backend. For postgres it
// returns the pool too so the caller can close it and probe it.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.UnitOfWorkFactory, *database.PostgresDB, error) {
	log := logger.Get()

	if cfg.App.Store == "memory" {
		store := repository.NewMemoryStore()
		SeedDemo(store, time.Now())
		log.Warn("Using in-memory store with demo data; state is lost on exit",
			zap.String("user_id", DemoUserID),
			zap.String("event_id", DemoEventID))
		return store, nil, nil
	}

	db, err := database.NewPostgres(ctx, database.FromConfig(&cfg.Database))
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	log.Info("Database connected", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	store := repository.NewPostgresStore(db)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("schema migration failed: %w", err)
		}
		log.Info("Database schema applied")
	}
	return store, db, nil
}

// ConnectKafka returns nil when kafka is disabled or unreachable; callers
// fall back to logging relayed events.
func ConnectKafka(ctx context.Context, cfg *config.Config) *kafka.Producer {
	log := logger.Get()
	if !cfg.Kafka.Enabled {
		log.Info("Kafka disabled, booking events will not be published")
		return nil
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		ClientID:   cfg.Kafka.ClientID,
		MaxRetries: 3,
	})
	if err != nil {
		log.Warn("Kafka connection failed, booking events will not be published", zap.Error(err))
		return nil
	}
	log.Info("Kafka producer connected", zap.Strings("brokers", cfg.Kafka.Brokers))
	return producer
}

// SeedDemo loads a buyer with a funded wallet, a paid event and a free
// event into a memory store
func SeedDemo(store *repository.MemoryStore, now time.Time) {
	store.SeedUser(domain.User{ID: DemoUserID, Email: "demo@aievent.local", FullName: "Demo Buyer", IsActive: true})
	store.SeedWallet(domain.Wallet{
		ID:        "00000000-0000-0000-0000-000000000010",
		UserID:    DemoUserID,
		Balance:   decimal.NewFromInt(5_000_000),
		Currency:  "VND",
		Status:    domain.WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})

	events := []struct {
		id    string
		name  string
		types []domain.TicketType
	}{
		{id: DemoEventID, name: "AI Summit Saigon", types: []domain.TicketType{
			{ID: DemoTicketGA, Name: "General Admission", Price: decimal.NewFromInt(500_000), TotalQuantity: 200},
			{ID: DemoTicketVIP, Name: "VIP", Price: decimal.NewFromInt(1_500_000), TotalQuantity: 20},
		}},
		{id: DemoFreeEventID, name: "Community Meetup", types: []domain.TicketType{
			{ID: DemoTicketFree, Name: "Free", Price: decimal.Zero, TotalQuantity: 100},
		}},
	}

	start := now.Add(14 * 24 * time.Hour)
	for _, e := range events {
		total := 0
		for _, tt := range e.types {
			tt.EventID = e.id
			tt.RemainingQuantity = tt.TotalQuantity
			tt.CreatedAt, tt.UpdatedAt = now, now
			store.SeedTicketType(tt)
			total += tt.TotalQuantity
		}
		store.SeedEvent(domain.Event{
			ID:               e.id,
			Name:             e.name,
			Venue:            "Ho Chi Minh City",
			StartTime:        start,
			EndTime:          start.Add(8 * time.Hour),
			Status:           domain.EventStatusApproved,
			IsPublished:      true,
			TotalTickets:     total,
			RemainingTickets: total,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
}
