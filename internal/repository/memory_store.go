package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
)

var errUnitClosed = errors.New("unit of work already closed")

// MemoryStore is an in-process store for tests and local runs. Units of
// work are serialized: Begin blocks until the previous unit has ended, and
// each unit mutates a private copy that replaces the shared state on
// Commit.
type MemoryStore struct {
	sem   chan struct{}
	state *memoryState
}

type memoryState struct {
	users          map[string]domain.User
	events         map[string]domain.Event
	ticketTypes    map[string]domain.TicketType
	wallets        map[string]domain.Wallet
	walletTxs      []domain.WalletTransaction
	payments       map[string]domain.PaymentTransaction
	bookings       map[string]domain.Booking
	bookingItems   map[string][]domain.BookingItem
	tickets        map[string]domain.Ticket
	bookingTickets map[string][]string
	outbox         map[string]domain.OutboxMessage
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem: make(chan struct{}, 1),
		state: &memoryState{
			users:          make(map[string]domain.User),
			events:         make(map[string]domain.Event),
			ticketTypes:    make(map[string]domain.TicketType),
			wallets:        make(map[string]domain.Wallet),
			payments:       make(map[string]domain.PaymentTransaction),
			bookings:       make(map[string]domain.Booking),
			bookingItems:   make(map[string][]domain.BookingItem),
			tickets:        make(map[string]domain.Ticket),
			bookingTickets: make(map[string][]string),
			outbox:         make(map[string]domain.OutboxMessage),
		},
	}
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		users:          maps.Clone(s.users),
		events:         maps.Clone(s.events),
		ticketTypes:    maps.Clone(s.ticketTypes),
		wallets:        maps.Clone(s.wallets),
		walletTxs:      slices.Clone(s.walletTxs),
		payments:       maps.Clone(s.payments),
		bookings:       maps.Clone(s.bookings),
		bookingItems:   maps.Clone(s.bookingItems),
		tickets:        maps.Clone(s.tickets),
		bookingTickets: maps.Clone(s.bookingTickets),
		outbox:         maps.Clone(s.outbox),
	}
}

// Begin waits for exclusive access or ctx cancellation
func (s *MemoryStore) Begin(ctx context.Context) (UnitOfWork, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to begin unit of work: %w", ctx.Err())
	}
	return &memoryUnitOfWork{store: s, state: s.state.clone()}, nil
}

func (s *MemoryStore) lock() func() {
	s.sem <- struct{}{}
	return func() { <-s.sem }
}

// SeedUser inserts or replaces a user
func (s *MemoryStore) SeedUser(u domain.User) {
	defer s.lock()()
	s.state.users[u.ID] = u
}

// SeedEvent inserts or replaces an event
func (s *MemoryStore) SeedEvent(e domain.Event) {
	defer s.lock()()
	s.state.events[e.ID] = e
}

// SeedTicketType inserts or replaces a ticket type
func (s *MemoryStore) SeedTicketType(t domain.TicketType) {
	defer s.lock()()
	s.state.ticketTypes[t.ID] = t
}

// SeedWallet inserts or replaces a wallet
func (s *MemoryStore) SeedWallet(w domain.Wallet) {
	defer s.lock()()
	s.state.wallets[w.ID] = w
}

// Event returns a copy of the committed event
func (s *MemoryStore) Event(id string) (domain.Event, bool) {
	defer s.lock()()
	e, ok := s.state.events[id]
	return e, ok
}

// TicketType returns a copy of the committed ticket type
func (s *MemoryStore) TicketType(id string) (domain.TicketType, bool) {
	defer s.lock()()
	t, ok := s.state.ticketTypes[id]
	return t, ok
}

// WalletByUser returns a copy of the user's committed wallet
func (s *MemoryStore) WalletByUser(userID string) (domain.Wallet, bool) {
	defer s.lock()()
	for _, w := range s.state.wallets {
		if w.UserID == userID {
			return w, true
		}
	}
	return domain.Wallet{}, false
}

// WalletTransactions returns the committed ledger rows of a wallet in order
func (s *MemoryStore) WalletTransactions(walletID string) []domain.WalletTransaction {
	defer s.lock()()
	var out []domain.WalletTransaction
	for _, wt := range s.state.walletTxs {
		if wt.WalletID == walletID {
			out = append(out, wt)
		}
	}
	return out
}

// OutboxMessages returns the committed outbox rows ordered by creation
func (s *MemoryStore) OutboxMessages() []domain.OutboxMessage {
	defer s.lock()()
	out := slices.Collect(maps.Values(s.state.outbox))
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// BookingCount returns the number of committed bookings
func (s *MemoryStore) BookingCount() int {
	defer s.lock()()
	return len(s.state.bookings)
}

type memoryUnitOfWork struct {
	store *MemoryStore
	state *memoryState
	done  bool
}

func (u *memoryUnitOfWork) Users() UserRepository { return &memoryUserRepository{u} }

func (u *memoryUnitOfWork) Events() EventRepository { return &memoryEventRepository{u} }

func (u *memoryUnitOfWork) TicketTypes() TicketTypeRepository {
	return &memoryTicketTypeRepository{u}
}

func (u *memoryUnitOfWork) Wallets() WalletRepository { return &memoryWalletRepository{u} }

func (u *memoryUnitOfWork) WalletTransactions() WalletTransactionRepository {
	return &memoryWalletTransactionRepository{u}
}

func (u *memoryUnitOfWork) Payments() PaymentRepository { return &memoryPaymentRepository{u} }

func (u *memoryUnitOfWork) Bookings() BookingRepository { return &memoryBookingRepository{u} }

func (u *memoryUnitOfWork) Outbox() OutboxRepository { return &memoryOutboxRepository{u} }

func (u *memoryUnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return errUnitClosed
	}
	u.done = true
	u.store.state = u.state
	<-u.store.sem
	return nil
}

func (u *memoryUnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	<-u.store.sem
	return nil
}

func (u *memoryUnitOfWork) check(ctx context.Context) error {
	if u.done {
		return errUnitClosed
	}
	return ctx.Err()
}

type memoryUserRepository struct{ u *memoryUnitOfWork }

func (r *memoryUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if err := r.u.check(ctx); err != nil {
		return nil, err
	}
	usr, ok := r.u.state.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &usr, nil
}

func (r *memoryUserRepository) FindActiveByID(ctx context.Context, id string) (*domain.User, error) {
	usr, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := usr.CheckActive(); err != nil {
		return nil, err
	}
	return usr, nil
}

type memoryEventRepository struct{ u *memoryUnitOfWork }

func (r *memoryEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	if err := r.u.check(ctx); err != nil {
		return nil, err
	}
	e, ok := r.u.state.events[id]
	if !ok || e.IsDeleted {
		return nil, domain.ErrEventNotFound
	}
	return &e, nil
}

func (r *memoryEventRepository) FindApprovedPublished(ctx context.Context, id string) (*domain.Event, error) {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != domain.EventStatusApproved || !e.IsPublished {
		return nil, domain.ErrEventNotFound
	}
	return e, nil
}

func (r *memoryEventRepository) ApplySale(ctx context.Context, id string, qty int) error {
	return r.mutate(ctx, id, func(e *domain.Event) error { return e.ApplySale(qty) })
}

func (r *memoryEventRepository) ApplyRelease(ctx context.Context, id string, qty int) error {
	return r.mutate(ctx, id, func(e *domain.Event) error { return e.ApplyRelease(qty) })
}

func (r *memoryEventRepository) mutate(ctx context.Context, id string, fn func(e *domain.Event) error) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	e, ok := r.u.state.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if err := fn(&e); err != nil {
		return err
	}
	e.UpdatedAt = time.Now()
	r.u.state.events[id] = e
	return nil
}

type memoryTicketTypeRepository struct{ u *memoryUnitOfWork }

func (r *memoryTicketTypeRepository) FindByIDsForUpdate(ctx context.Context, eventID string, ids []string) (map[string]*domain.TicketType, error) {
	if err := r.u.check(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]*domain.TicketType, len(ids))
	for _, id := range ids {
		t, ok := r.u.state.ticketTypes[id]
		if !ok || t.IsDeleted || t.EventID != eventID {
			continue
		}
		out[id] = &t
	}
	return out, nil
}

func (r *memoryTicketTypeRepository) Reserve(ctx context.Context, id string, qty int) error {
	return r.mutate(ctx, id, func(t *domain.TicketType) error { return t.Reserve(qty) })
}

func (r *memoryTicketTypeRepository) Release(ctx context.Context, id string, qty int) error {
	return r.mutate(ctx, id, func(t *domain.TicketType) error { return t.Release(qty) })
}

func (r *memoryTicketTypeRepository) mutate(ctx context.Context, id string, fn func(t *domain.TicketType) error) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	t, ok := r.u.state.ticketTypes[id]
	if !ok {
		return domain.ErrInvalidTicketTypes
	}
	if err := fn(&t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	r.u.state.ticketTypes[id] = t
	return nil
}

type memoryWalletRepository struct{ u *memoryUnitOfWork }

func (r *memoryWalletRepository) FindByUserForUpdate(ctx context.Context, userID string) (*domain.Wallet, error) {
	if err := r.u.check(ctx); err != nil {
		return nil, err
	}
	for _, w := range r.u.state.wallets {
		if w.UserID == userID && w.Status != domain.WalletStatusDeleted {
			return &w, nil
		}
	}
	return nil, domain.ErrWalletNotFound
}

func (r *memoryWalletRepository) UpdateBalance(ctx context.Context, w *domain.Wallet) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	cur, ok := r.u.state.wallets[w.ID]
	if !ok {
		return domain.ErrWalletNotFound
	}
	if w.Balance.IsNegative() {
		return fmt.Errorf("%w: wallet %s", domain.ErrInsufficientFunds, w.ID)
	}
	cur.Balance = w.Balance
	cur.UpdatedAt = w.UpdatedAt
	r.u.state.wallets[w.ID] = cur
	return nil
}

type memoryWalletTransactionRepository struct{ u *memoryUnitOfWork }

func (r *memoryWalletTransactionRepository) Append(ctx context.Context, wt *domain.WalletTransaction) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	r.u.state.walletTxs = append(r.u.state.walletTxs, *wt)
	return nil
}

type memoryPaymentRepository struct{ u *memoryUnitOfWork }

func (r *memoryPaymentRepository) Create(ctx context.Context, p *domain.PaymentTransaction) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	if _, exists := r.u.state.payments[p.BookingID]; exists {
		return fmt.Errorf("%w: booking %s already has a payment", domain.ErrConcurrentMutation, p.BookingID)
	}
	r.u.state.payments[p.BookingID] = *p
	return nil
}

func (r *memoryPaymentRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error) {
	if err := r.u.check(ctx); err != nil {
		return nil, err
	}
	p, ok := r.u.state.payments[bookingID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &p, nil
}

func (r *memoryPaymentRepository) UpdateRefund(ctx context.Context, p *domain.PaymentTransaction) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	if _, ok := r.u.state.payments[p.BookingID]; !ok {
		return domain.ErrBookingNotFound
	}
	r.u.state.payments[p.BookingID] = *p
	return nil
}

type memoryBookingRepository struct{ u *memoryUnitOfWork }

func (r *memoryBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	st := r.u.state
	if _, exists := st.bookings[b.ID]; exists {
		return fmt.Errorf("%w: booking %s exists", domain.ErrConcurrentMutation, b.ID)
	}

	row := *b
	row.Items, row.Tickets = nil, nil
	st.bookings[b.ID] = row

	items := make([]domain.BookingItem, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, *it)
	}
	st.bookingItems[b.ID] = items

	ids := make([]string, 0, len(b.Tickets))
	for _, t := range b.Tickets {
		st.tickets[t.ID] = *t
		ids = append(ids, t.ID)
	}
	st.bookingTickets[b.ID] = ids
	return nil
}

func (r *memoryBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	if err := r.u.check(ctx); err != nil {
		return nil, err
	}
	st := r.u.state
	row, ok := st.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	b := row
	for _, it := range st.bookingItems[id] {
		b.Items = append(b.Items, &it)
	}
	for _, tid := range st.bookingTickets[id] {
		t := st.tickets[tid]
		b.Tickets = append(b.Tickets, &t)
	}
	return &b, nil
}

func (r *memoryBookingRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryBookingRepository) UpdateStatus(ctx context.Context, b *domain.Booking) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	row, ok := r.u.state.bookings[b.ID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	row.Status = b.Status
	row.PaymentStatus = b.PaymentStatus
	row.PaymentMethod = b.PaymentMethod
	row.PaymentTransactionID = b.PaymentTransactionID
	row.RefundAmount = b.RefundAmount
	row.PaidAt = b.PaidAt
	row.CancelledAt = b.CancelledAt
	row.UpdatedAt = b.UpdatedAt
	r.u.state.bookings[b.ID] = row
	return nil
}

func (r *memoryBookingRepository) UpdateTicketsStatus(ctx context.Context, bookingID string, status domain.TicketStatus) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	now := time.Now()
	for _, tid := range r.u.state.bookingTickets[bookingID] {
		t := r.u.state.tickets[tid]
		t.Status = status
		t.UpdatedAt = now
		r.u.state.tickets[tid] = t
	}
	return nil
}

func (r *memoryBookingRepository) SaveTicketArtifacts(ctx context.Context, t *domain.Ticket) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	cur, ok := r.u.state.tickets[t.ID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	cur.QRToken = t.QRToken
	cur.QRRef = t.QRRef
	cur.IssuedAt = t.IssuedAt
	cur.UpdatedAt = t.UpdatedAt
	r.u.state.tickets[t.ID] = cur
	return nil
}

func (r *memoryBookingRepository) SetIssuanceStatus(ctx context.Context, bookingID string, status domain.IssuanceStatus, reason string) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	row, ok := r.u.state.bookings[bookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	row.IssuanceStatus = status
	row.IssuanceError = reason
	row.UpdatedAt = time.Now()
	r.u.state.bookings[bookingID] = row
	return nil
}

func (r *memoryBookingRepository) ListByIssuanceStatus(ctx context.Context, status domain.IssuanceStatus, limit int) ([]*domain.Booking, error) {
	if err := r.u.check(ctx); err != nil {
		return nil, err
	}
	var out []*domain.Booking
	for _, row := range r.u.state.bookings {
		if row.IssuanceStatus == status {
			b := row
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryOutboxRepository struct{ u *memoryUnitOfWork }

func (r *memoryOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	r.u.state.outbox[msg.ID] = *msg
	return nil
}

func (r *memoryOutboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.OutboxMessage, error) {
	if err := r.u.check(ctx); err != nil {
		return nil, err
	}
	var due []domain.OutboxMessage
	for _, m := range r.u.state.outbox {
		if (m.Status == domain.OutboxStatusPending || m.Status == domain.OutboxStatusFailed) && !m.NextAttemptAt.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*domain.OutboxMessage, 0, len(due))
	for _, m := range due {
		m.NextAttemptAt = now.Add(lease)
		r.u.state.outbox[m.ID] = m
		out = append(out, &m)
	}
	return out, nil
}

func (r *memoryOutboxRepository) ExtendLease(ctx context.Context, id string, until time.Time) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	m, ok := r.u.state.outbox[id]
	if !ok {
		return errOutboxNotFound
	}
	if m.Status == domain.OutboxStatusPending || m.Status == domain.OutboxStatusFailed {
		m.NextAttemptAt = until
		r.u.state.outbox[id] = m
	}
	return nil
}

func (r *memoryOutboxRepository) MarkPublished(ctx context.Context, id string, now time.Time) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	m, ok := r.u.state.outbox[id]
	if !ok {
		return errOutboxNotFound
	}
	m.MarkAsPublished(now)
	r.u.state.outbox[id] = m
	return nil
}

func (r *memoryOutboxRepository) MarkFailed(ctx context.Context, msg *domain.OutboxMessage) error {
	return r.put(ctx, msg)
}

func (r *memoryOutboxRepository) MarkDead(ctx context.Context, msg *domain.OutboxMessage) error {
	return r.put(ctx, msg)
}

func (r *memoryOutboxRepository) put(ctx context.Context, msg *domain.OutboxMessage) error {
	if err := r.u.check(ctx); err != nil {
		return err
	}
	if _, ok := r.u.state.outbox[msg.ID]; !ok {
		return errOutboxNotFound
	}
	r.u.state.outbox[msg.ID] = *msg
	return nil
}

func (r *memoryOutboxRepository) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	if err := r.u.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for id, m := range r.u.state.outbox {
		if m.Status == domain.OutboxStatusPublished && m.PublishedAt != nil && m.PublishedAt.Before(before) {
			delete(r.u.state.outbox, id)
			n++
		}
	}
	return n, nil
}

var _ UnitOfWorkFactory = (*MemoryStore)(nil)
