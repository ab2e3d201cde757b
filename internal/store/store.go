package store

import (
	"context"
	"errors"
	"time"

	"tutupkasir/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNoActiveShift      = errors.New("no active shift")
	ErrShiftAlreadyActive = errors.New("shift already active")
	ErrResetInProgress    = errors.New("reset already in progress")
)

// ShiftTotals carries the computed totals stamped onto a shift when it ends.
type ShiftTotals struct {
	SalesCents    int64
	ExpensesCents int64
	Orders        int
}

// Repository is the persistence boundary for the shift lifecycle engine.
// Archive writes are idempotent per (archiveID, sourceID); deletes are always
// per-record by id. Lease methods implement the reset concurrency guard.
type Repository interface {
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShiftByID(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, tenantID string, locationID string) (*domain.Shift, error)
	CloseShift(ctx context.Context, shiftID string, endedAt time.Time, totals ShiftTotals) (*domain.Shift, error)
	MarkShiftArchived(ctx context.Context, shiftID string) (*domain.Shift, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	CreateMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)

	ListOrders(ctx context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.Order, error)
	ListExpenses(ctx context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.Expense, error)
	ListMovements(ctx context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.StockMovement, error)

	ArchiveOrders(ctx context.Context, archiveID string, orders []domain.Order) error
	ArchiveExpenses(ctx context.Context, archiveID string, expenses []domain.Expense) error
	ArchiveMovements(ctx context.Context, archiveID string, movements []domain.StockMovement) error
	CountArchived(ctx context.Context, archiveID string, collection string) (int, error)
	ListArchived(ctx context.Context, archiveID string, collection string) ([]domain.ArchivedRecord, error)

	DeleteOrders(ctx context.Context, tenantID string, ids []string) (int, error)
	DeleteExpenses(ctx context.Context, tenantID string, ids []string) (int, error)
	DeleteMovements(ctx context.Context, tenantID string, ids []string) (int, error)

	AcquireLease(ctx context.Context, tenantID string, locationID string, holder string, token string, ttl time.Duration) (*domain.Lease, error)
	ReleaseLease(ctx context.Context, token string) error
	GetLease(ctx context.Context, tenantID string, locationID string) (*domain.Lease, error)

	CreateAuditEntry(ctx context.Context, entry domain.AuditEntry) error
	GetAuditEntryByShiftID(ctx context.Context, shiftID string) (*domain.AuditEntry, error)
	ListAuditEntries(ctx context.Context, tenantID string, locationID string, limit int) ([]domain.AuditEntry, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
