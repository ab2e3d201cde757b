package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tutupkasir/backend/internal/cache"
	"tutupkasir/backend/internal/domain"
	"tutupkasir/backend/internal/events"
	"tutupkasir/backend/internal/store"
	"tutupkasir/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ErrResetUnaudited reports a reset whose archive and clear completed but
// whose audit entry failed to persist. The reset is NOT retried; only the
// audit write is, via WriteAuditEntry.
var ErrResetUnaudited = errors.New("reset completed but audit entry not written")

type Service struct {
	repo            store.Repository
	signal          cache.ResetSignal
	publisher       events.Publisher
	log             *logrus.Logger
	defaultTenantID string
	leaseTTL        time.Duration
	holder          string
}

func New(repo store.Repository, signal cache.ResetSignal, publisher events.Publisher, log *logrus.Logger, defaultTenantID string, leaseTTL time.Duration) *Service {
	if defaultTenantID == "" {
		defaultTenantID = "default"
	}
	if leaseTTL <= 0 {
		leaseTTL = 60 * time.Second
	}
	if signal == nil {
		signal = cache.NoopResetSignal{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if log == nil {
		log = logrus.New()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	return &Service{
		repo:            repo,
		signal:          signal,
		publisher:       publisher,
		log:             log,
		defaultTenantID: defaultTenantID,
		leaseTTL:        leaseTTL,
		holder:          hostname,
	}
}

func (s *Service) tenantOrDefault(tenantID string) string {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return s.defaultTenantID
	}
	return tenantID
}

func (s *Service) actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

// StartShift opens a new shift for the (tenant, location) pair. With
// AutoChain set, any shift still active is ended first so back-to-back shifts
// never fail on a forgotten close.
func (s *Service) StartShift(ctx context.Context, req domain.StartShiftRequest) (*domain.ShiftResponse, error) {
	req.TenantID = s.tenantOrDefault(req.TenantID)
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.Name = strings.TrimSpace(req.Name)
	if req.LocationID == "" {
		return nil, store.ErrInvalidRequest
	}
	if req.CashFloatCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	if req.AutoChain {
		_, err := s.EndShift(ctx, domain.EndShiftRequest{
			TenantID:   req.TenantID,
			LocationID: req.LocationID,
			Reason:     domain.ResetReasonShiftEnd,
		})
		if err != nil && !errors.Is(err, store.ErrNoActiveShift) && !errors.Is(err, ErrResetUnaudited) {
			return nil, fmt.Errorf("auto-chain end shift: %w", err)
		}
		if errors.Is(err, ErrResetUnaudited) {
			s.log.WithFields(logrus.Fields{
				"tenant":   req.TenantID,
				"location": req.LocationID,
			}).Warn("auto-chained previous shift closed without audit entry")
		}
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("Shift %s", time.Now().UTC().Format("2006-01-02 15:04"))
	}

	shift := domain.Shift{
		ID:             xid.New("shift"),
		TenantID:       req.TenantID,
		LocationID:     req.LocationID,
		Name:           name,
		Status:         domain.ShiftStatusActive,
		OpenedBy:       s.actorName(ctx),
		CashFloatCents: req.CashFloatCents,
		Notes:          strings.TrimSpace(req.Notes),
		StartedAt:      time.Now().UTC(),
	}

	created, err := s.repo.CreateShift(ctx, shift)
	if err != nil {
		return nil, err
	}
	return &domain.ShiftResponse{Shift: *created}, nil
}

func (s *Service) ActiveShift(ctx context.Context, tenantID string, locationID string) (*domain.ShiftResponse, error) {
	tenantID = s.tenantOrDefault(tenantID)
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, store.ErrInvalidRequest
	}

	shift, err := s.repo.GetActiveShift(ctx, tenantID, locationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNoActiveShift
	}
	if err != nil {
		return nil, err
	}
	return &domain.ShiftResponse{Shift: *shift}, nil
}

// ArchiveShift transitions an ended shift to archived. The audit entry is the
// completion signal; this flag just hides the shift from day-to-day views.
func (s *Service) ArchiveShift(ctx context.Context, shiftID string) (*domain.ShiftResponse, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return nil, store.ErrInvalidRequest
	}

	shift, err := s.repo.MarkShiftArchived(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	return &domain.ShiftResponse{Shift: *shift}, nil
}

// ResetInProgress reports whether a reset currently holds the lease for the
// pair. The advisory cache signal is checked first; the store lease is
// authoritative.
func (s *Service) ResetInProgress(ctx context.Context, tenantID string, locationID string) (*domain.ResetStatusResponse, error) {
	tenantID = s.tenantOrDefault(tenantID)
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, store.ErrInvalidRequest
	}

	resp := &domain.ResetStatusResponse{TenantID: tenantID, LocationID: locationID}

	lease, err := s.repo.GetLease(ctx, tenantID, locationID)
	if errors.Is(err, store.ErrNotFound) {
		if busy, sErr := s.signal.InProgress(ctx, tenantID, locationID); sErr == nil && busy {
			resp.InProgress = true
		}
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	resp.InProgress = true
	resp.HeldBy = lease.HeldBy
	heldUntil := lease.HeldUntil
	resp.HeldUntil = &heldUntil
	return resp, nil
}

func (s *Service) ShiftHistory(ctx context.Context, tenantID string, locationID string, limit int) ([]domain.AuditEntry, error) {
	tenantID = s.tenantOrDefault(tenantID)
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, store.ErrInvalidRequest
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListAuditEntries(ctx, tenantID, locationID, limit)
}

// ShiftStats aggregates the audit history into dashboard figures.
func (s *Service) ShiftStats(ctx context.Context, tenantID string, locationID string) (*domain.ShiftStats, error) {
	tenantID = s.tenantOrDefault(tenantID)
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, store.ErrInvalidRequest
	}

	entries, err := s.repo.ListAuditEntries(ctx, tenantID, locationID, 0)
	if err != nil {
		return nil, err
	}

	stats := &domain.ShiftStats{TenantID: tenantID, LocationID: locationID}
	if len(entries) == 0 {
		return stats, nil
	}

	var totalDuration int64
	totalSales := decimal.Zero
	totalOrders := 0
	for _, entry := range entries {
		totalDuration += entry.Summary.DurationSeconds
		totalSales = totalSales.Add(entry.Summary.TotalSales)
		totalOrders += entry.Summary.TotalOrders
	}

	n := decimal.NewFromInt(int64(len(entries)))
	stats.Shifts = len(entries)
	stats.AvgDurationSeconds = totalDuration / int64(len(entries))
	stats.AvgSales = totalSales.DivRound(n, 2)
	stats.AvgOrders = decimal.NewFromInt(int64(totalOrders)).DivRound(n, 2)
	stats.TotalSales = totalSales
	return stats, nil
}

// WriteAuditEntry retries the audit write for a reset that ended with
// ErrResetUnaudited. It refuses shifts that are still active and refuses to
// duplicate an entry that already exists.
func (s *Service) WriteAuditEntry(ctx context.Context, summary domain.ShiftSummary) error {
	if summary.ShiftID == "" || summary.TenantID == "" || summary.LocationID == "" {
		return store.ErrInvalidRequest
	}

	shift, err := s.repo.GetShiftByID(ctx, summary.ShiftID)
	if err != nil {
		return err
	}
	if shift.Status == domain.ShiftStatusActive {
		return store.ErrInvalidRequest
	}

	if _, err := s.repo.GetAuditEntryByShiftID(ctx, summary.ShiftID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return s.repo.CreateAuditEntry(ctx, domain.AuditEntry{
		ID:         xid.New("audit"),
		TenantID:   summary.TenantID,
		LocationID: summary.LocationID,
		ShiftID:    summary.ShiftID,
		Summary:    summary,
		CreatedAt:  time.Now().UTC(),
	})
}

func (s *Service) ArchivedRecords(ctx context.Context, archiveID string, collection string) ([]domain.ArchivedRecord, error) {
	archiveID = strings.TrimSpace(archiveID)
	switch collection {
	case domain.CollectionOrders, domain.CollectionExpenses, domain.CollectionMovements:
	default:
		return nil, store.ErrInvalidRequest
	}
	if archiveID == "" {
		return nil, store.ErrInvalidRequest
	}
	return s.repo.ListArchived(ctx, archiveID, collection)
}

// RecordOrder attaches the order to the currently active shift, if any, and
// persists it. Producers outside this engine may also write orders directly.
func (s *Service) RecordOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	order.TenantID = s.tenantOrDefault(order.TenantID)
	if order.Status == "" {
		order.Status = domain.OrderStatusCompleted
	}
	if shift, err := s.repo.GetActiveShift(ctx, order.TenantID, order.LocationID); err == nil {
		order.ShiftID = shift.ID
	}
	return s.repo.CreateOrder(ctx, order)
}

func (s *Service) RecordExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	expense.TenantID = s.tenantOrDefault(expense.TenantID)
	return s.repo.CreateExpense(ctx, expense)
}

func (s *Service) RecordMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	movement.TenantID = s.tenantOrDefault(movement.TenantID)
	return s.repo.CreateMovement(ctx, movement)
}
