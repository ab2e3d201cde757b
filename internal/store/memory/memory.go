package memory

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tutupkasir/backend/internal/domain"
	"tutupkasir/backend/internal/store"
	"tutupkasir/backend/internal/xid"
)

// Store is the in-memory Repository used for dev/demo mode and tests. All
// returned values are copies; callers never share slices or structs with the
// store.
type Store struct {
	mu              sync.RWMutex
	shiftsByID      map[string]domain.Shift
	activeShiftKey  map[string]string
	ordersByID      map[string]domain.Order
	expensesByID    map[string]domain.Expense
	movementsByID   map[string]domain.StockMovement
	archived        map[string]map[string]map[string]domain.ArchivedRecord
	leasesByKey     map[string]domain.Lease
	auditEntries    []domain.AuditEntry
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		shiftsByID:      make(map[string]domain.Shift),
		activeShiftKey:  make(map[string]string),
		ordersByID:      make(map[string]domain.Order),
		expensesByID:    make(map[string]domain.Expense),
		movementsByID:   make(map[string]domain.StockMovement),
		archived:        make(map[string]map[string]map[string]domain.ArchivedRecord),
		leasesByKey:     make(map[string]domain.Lease),
		auditEntries:    make([]domain.AuditEntry, 0, 64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with operator accounts for dev/demo
// mode. Credentials come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD; hardcoded dev defaults are used (with a warning) when
// unset. Production deployments run against PostgreSQL instead.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	defaults := []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", "admin"},
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", "manager"},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", "cashier"},
	}

	now := time.Now().UTC()
	users := make(map[string]domain.UserAccount, len(defaults))
	for _, u := range defaults {
		password := os.Getenv(u.envKey)
		if password == "" {
			password = u.fallback
			log.Printf("[memory-store] WARNING: using default dev credentials for %s. Set %s to override.", u.username, u.envKey)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func shiftKey(tenantID string, locationID string) string {
	return tenantID + "|" + locationID
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.TenantID == "" || shift.LocationID == "" {
		return nil, store.ErrInvalidRequest
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.Status == "" {
		shift.Status = domain.ShiftStatusActive
	}
	if shift.StartedAt.IsZero() {
		shift.StartedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftKey(shift.TenantID, shift.LocationID)
	if _, exists := s.activeShiftKey[key]; exists {
		return nil, store.ErrShiftAlreadyActive
	}

	s.shiftsByID[shift.ID] = shift
	s.activeShiftKey[key] = shift.ID
	created := shift
	return &created, nil
}

func (s *Store) GetShiftByID(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := shift
	return &found, nil
}

func (s *Store) GetActiveShift(_ context.Context, tenantID string, locationID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.activeShiftKey[shiftKey(tenantID, locationID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift := s.shiftsByID[id]
	found := shift
	return &found, nil
}

func (s *Store) CloseShift(_ context.Context, shiftID string, endedAt time.Time, totals store.ShiftTotals) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrNoActiveShift
	}

	ended := endedAt.UTC()
	shift.Status = domain.ShiftStatusEnded
	shift.EndedAt = &ended
	shift.TotalSalesCents = totals.SalesCents
	shift.TotalExpensesCents = totals.ExpensesCents
	shift.TotalOrders = totals.Orders

	s.shiftsByID[shiftID] = shift
	delete(s.activeShiftKey, shiftKey(shift.TenantID, shift.LocationID))
	closed := shift
	return &closed, nil
}

func (s *Store) MarkShiftArchived(_ context.Context, shiftID string) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusEnded {
		return nil, store.ErrInvalidRequest
	}

	shift.Status = domain.ShiftStatusArchived
	s.shiftsByID[shiftID] = shift
	archived := shift
	return &archived, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.TenantID == "" || order.LocationID == "" || order.TotalCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Items = slices.Clone(order.Items)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordersByID[order.ID] = order
	created := order
	return &created, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.TenantID == "" || expense.LocationID == "" || expense.AmountCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) CreateMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.TenantID == "" || movement.LocationID == "" || movement.ItemID == "" {
		return nil, store.ErrInvalidRequest
	}
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.movementsByID[movement.ID] = movement
	created := movement
	return &created, nil
}

func inWindow(createdAt time.Time, from time.Time, to time.Time) bool {
	return !createdAt.Before(from) && !createdAt.After(to)
}

func (s *Store) ListOrders(_ context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 64)
	for _, order := range s.ordersByID {
		if order.TenantID != tenantID || order.LocationID != locationID {
			continue
		}
		if !inWindow(order.CreatedAt, from, to) {
			continue
		}
		copied := order
		copied.Items = slices.Clone(order.Items)
		orders = append(orders, copied)
	}

	slices.SortFunc(orders, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return orders, nil
}

func (s *Store) ListExpenses(_ context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 32)
	for _, expense := range s.expensesByID {
		if expense.TenantID != tenantID || expense.LocationID != locationID {
			continue
		}
		if !inWindow(expense.CreatedAt, from, to) {
			continue
		}
		expenses = append(expenses, expense)
	}

	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return expenses, nil
}

func (s *Store) ListMovements(_ context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]domain.StockMovement, 0, 32)
	for _, movement := range s.movementsByID {
		if movement.TenantID != tenantID || movement.LocationID != locationID {
			continue
		}
		if !inWindow(movement.CreatedAt, from, to) {
			continue
		}
		movements = append(movements, movement)
	}

	slices.SortFunc(movements, func(a, b domain.StockMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return movements, nil
}

// archivePut upserts one archive copy keyed by source id, which makes archive
// retries idempotent: a second write for the same (archiveID, sourceID) simply
// replaces the copy.
func (s *Store) archivePut(archiveID string, collection string, sourceID string, payload []byte) {
	byCollection, exists := s.archived[archiveID]
	if !exists {
		byCollection = make(map[string]map[string]domain.ArchivedRecord)
		s.archived[archiveID] = byCollection
	}
	bySource, exists := byCollection[collection]
	if !exists {
		bySource = make(map[string]domain.ArchivedRecord)
		byCollection[collection] = bySource
	}
	bySource[sourceID] = domain.ArchivedRecord{
		ArchiveID:          archiveID,
		SourceID:           sourceID,
		OriginalCollection: collection,
		Payload:            payload,
		ArchivedAt:         time.Now().UTC(),
	}
}

func (s *Store) ArchiveOrders(_ context.Context, archiveID string, orders []domain.Order) error {
	if archiveID == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range orders {
		payload, err := json.Marshal(order)
		if err != nil {
			return err
		}
		s.archivePut(archiveID, domain.CollectionOrders, order.ID, payload)
	}
	return nil
}

func (s *Store) ArchiveExpenses(_ context.Context, archiveID string, expenses []domain.Expense) error {
	if archiveID == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, expense := range expenses {
		payload, err := json.Marshal(expense)
		if err != nil {
			return err
		}
		s.archivePut(archiveID, domain.CollectionExpenses, expense.ID, payload)
	}
	return nil
}

func (s *Store) ArchiveMovements(_ context.Context, archiveID string, movements []domain.StockMovement) error {
	if archiveID == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, movement := range movements {
		payload, err := json.Marshal(movement)
		if err != nil {
			return err
		}
		s.archivePut(archiveID, domain.CollectionMovements, movement.ID, payload)
	}
	return nil
}

func (s *Store) CountArchived(_ context.Context, archiveID string, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCollection, exists := s.archived[archiveID]
	if !exists {
		return 0, nil
	}
	return len(byCollection[collection]), nil
}

func (s *Store) ListArchived(_ context.Context, archiveID string, collection string) ([]domain.ArchivedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCollection, exists := s.archived[archiveID]
	if !exists {
		return []domain.ArchivedRecord{}, nil
	}

	records := make([]domain.ArchivedRecord, 0, len(byCollection[collection]))
	for _, record := range byCollection[collection] {
		copied := record
		copied.Payload = slices.Clone(record.Payload)
		records = append(records, copied)
	}
	slices.SortFunc(records, func(a, b domain.ArchivedRecord) int {
		return strings.Compare(a.SourceID, b.SourceID)
	})
	return records, nil
}

func (s *Store) DeleteOrders(_ context.Context, tenantID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		order, exists := s.ordersByID[id]
		if !exists || order.TenantID != tenantID {
			continue
		}
		delete(s.ordersByID, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) DeleteExpenses(_ context.Context, tenantID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		expense, exists := s.expensesByID[id]
		if !exists || expense.TenantID != tenantID {
			continue
		}
		delete(s.expensesByID, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) DeleteMovements(_ context.Context, tenantID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		movement, exists := s.movementsByID[id]
		if !exists || movement.TenantID != tenantID {
			continue
		}
		delete(s.movementsByID, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) AcquireLease(_ context.Context, tenantID string, locationID string, holder string, token string, ttl time.Duration) (*domain.Lease, error) {
	if tenantID == "" || locationID == "" || token == "" || ttl <= 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := shiftKey(tenantID, locationID)
	if existing, exists := s.leasesByKey[key]; exists && existing.HeldUntil.After(now) {
		return nil, store.ErrResetInProgress
	}

	// A stale lease (held_until in the past) belongs to a crashed worker and
	// is stolen rather than honored.
	lease := domain.Lease{
		Token:      token,
		TenantID:   tenantID,
		LocationID: locationID,
		HeldBy:     holder,
		AcquiredAt: now,
		HeldUntil:  now.Add(ttl),
	}
	s.leasesByKey[key] = lease
	acquired := lease
	return &acquired, nil
}

func (s *Store) ReleaseLease(_ context.Context, token string) error {
	if token == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, lease := range s.leasesByKey {
		if lease.Token == token {
			delete(s.leasesByKey, key)
			return nil
		}
	}
	// Releasing an unknown or expired lease is a no-op.
	return nil
}

func (s *Store) GetLease(_ context.Context, tenantID string, locationID string) (*domain.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lease, exists := s.leasesByKey[shiftKey(tenantID, locationID)]
	if !exists || !lease.HeldUntil.After(time.Now().UTC()) {
		return nil, store.ErrNotFound
	}
	held := lease
	return &held, nil
}

func (s *Store) CreateAuditEntry(_ context.Context, entry domain.AuditEntry) error {
	if entry.TenantID == "" || entry.LocationID == "" || entry.ShiftID == "" {
		return store.ErrInvalidRequest
	}
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditEntries = append(s.auditEntries, entry)
	return nil
}

func (s *Store) GetAuditEntryByShiftID(_ context.Context, shiftID string) (*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.auditEntries {
		if entry.ShiftID == shiftID {
			found := entry
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListAuditEntries(_ context.Context, tenantID string, locationID string, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.AuditEntry, 0, 32)
	for _, entry := range s.auditEntries {
		if entry.TenantID != tenantID || entry.LocationID != locationID {
			continue
		}
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, func(a, b domain.AuditEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidRequest
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
