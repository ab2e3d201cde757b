package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tutupkasir/backend/internal/domain"
	"tutupkasir/backend/internal/store"
	"tutupkasir/backend/internal/summary"
	"tutupkasir/backend/internal/xid"
)

// PartialArchiveError reports an archive write that failed before every
// collection was copied. Live records are untouched when this is returned;
// the reset can simply be retried.
type PartialArchiveError struct {
	Collection string
	Err        error
}

func (e *PartialArchiveError) Error() string {
	return fmt.Sprintf("archive %s failed: %v", e.Collection, e.Err)
}

func (e *PartialArchiveError) Unwrap() error { return e.Err }

// PartialClearError reports a delete that failed after the archive was fully
// written. Every record has an archive copy, so a retry only re-deletes.
type PartialClearError struct {
	Collection string
	Err        error
}

func (e *PartialClearError) Error() string {
	return fmt.Sprintf("clear %s failed after archive: %v", e.Collection, e.Err)
}

func (e *PartialClearError) Unwrap() error { return e.Err }

// EndShift runs the full reset pipeline for the pair's active shift:
// lease, read window, summarize, archive, verify, clear, adjust inventory,
// close, audit, publish. Archive strictly precedes any delete.
func (s *Service) EndShift(ctx context.Context, req domain.EndShiftRequest) (*domain.EndShiftResponse, error) {
	started := time.Now()

	req.TenantID = s.tenantOrDefault(req.TenantID)
	req.LocationID = strings.TrimSpace(req.LocationID)
	if req.LocationID == "" {
		return nil, store.ErrInvalidRequest
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = domain.ResetReasonShiftEnd
	}
	switch reason {
	case domain.ResetReasonShiftEnd, domain.ResetReasonManual, domain.ResetReasonSystem:
	default:
		return nil, store.ErrInvalidRequest
	}

	shift, err := s.repo.GetActiveShift(ctx, req.TenantID, req.LocationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNoActiveShift
	}
	if err != nil {
		return nil, err
	}

	actor := s.actorName(ctx)
	token := uuid.NewString()
	if _, err := s.repo.AcquireLease(ctx, req.TenantID, req.LocationID, actor+"@"+s.holder, token, s.leaseTTL); err != nil {
		return nil, err
	}
	// Release must run even when the request context is already cancelled.
	defer func() {
		cleanup := context.WithoutCancel(ctx)
		if err := s.repo.ReleaseLease(cleanup, token); err != nil {
			s.log.WithError(err).WithField("token", token).Warn("failed to release reset lease")
		}
		if err := s.signal.ClearInProgress(cleanup, req.TenantID, req.LocationID); err != nil {
			s.log.WithError(err).Warn("failed to clear reset signal")
		}
	}()

	// Re-check under the lease: a competing reset may have closed the shift
	// between the first read and lease acquisition.
	current, err := s.repo.GetActiveShift(ctx, req.TenantID, req.LocationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNoActiveShift
	}
	if err != nil {
		return nil, err
	}
	if current.ID != shift.ID {
		return nil, store.ErrNoActiveShift
	}
	shift = current

	if err := s.signal.SetInProgress(ctx, req.TenantID, req.LocationID, s.leaseTTL); err != nil {
		s.log.WithError(err).Warn("failed to set reset signal")
	}

	windowStart := shift.StartedAt
	windowEnd := time.Now().UTC()
	archiveID := xid.ArchiveID(shift.ID, shift.StartedAt)

	live, err := s.readWindow(ctx, req.TenantID, req.LocationID, s.sweepStart(ctx, req.TenantID, req.LocationID, windowStart), windowEnd)
	if err != nil {
		return nil, fmt.Errorf("read reset window: %w", err)
	}

	// A prior attempt that failed mid-clear left the complete record set in
	// the archive with some live rows already deleted. Resume from the
	// archived set: re-issue the deletes for the original ids and audit the
	// original totals instead of summarizing the drained remainder.
	records := live
	resumed, err := s.clearWasInterrupted(ctx, archiveID, live)
	if err != nil {
		return nil, err
	}
	if resumed {
		records, err = s.loadArchivedSet(ctx, archiveID)
		if err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{
			"shift_id":   shift.ID,
			"archive_id": archiveID,
		}).Warn("resuming interrupted clear from archive partition")
	}

	sum := summary.Calculate(*shift, records, windowStart, windowEnd)
	sum.Actor = actor
	sum.ResetReason = reason
	sum.ResetAt = windowEnd
	sum.ArchiveID = archiveID

	if !resumed {
		if err := s.archiveAll(ctx, archiveID, records); err != nil {
			return nil, err
		}
	}
	sum.ArchivedOrders = len(records.Orders)
	sum.ArchivedExpenses = len(records.Expenses)
	sum.ArchivedMovements = len(records.Movements)
	sum.ArchivedCollections = archivedCollections(records)
	sum.ArchiveVerified = s.verifyArchive(ctx, archiveID, records)

	if err := s.clearAll(ctx, req.TenantID, records); err != nil {
		return nil, err
	}

	if !consumptionWritten(live.Movements, shift.ID) {
		sum.FailedAdjustments = s.adjustInventory(ctx, *shift, sum)
	}

	totals := store.ShiftTotals{Orders: sum.TotalOrders}
	for _, order := range records.Orders {
		if order.Status == domain.OrderStatusCompleted {
			totals.SalesCents += order.TotalCents
		}
	}
	for _, expense := range records.Expenses {
		totals.ExpensesCents += expense.AmountCents
	}
	if _, err := s.repo.CloseShift(ctx, shift.ID, windowEnd, totals); err != nil {
		return nil, fmt.Errorf("close shift: %w", err)
	}

	sum.ProcessingMS = time.Since(started).Milliseconds()

	// The audit entry is last on purpose: its presence marks the reset as
	// fully completed.
	if err := s.repo.CreateAuditEntry(ctx, domain.AuditEntry{
		ID:         xid.New("audit"),
		TenantID:   req.TenantID,
		LocationID: req.LocationID,
		ShiftID:    shift.ID,
		Summary:    sum,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"shift_id": shift.ID,
			"tenant":   req.TenantID,
		}).Error("audit entry write failed after completed reset")
		return &domain.EndShiftResponse{Summary: sum, Unaudited: true},
			fmt.Errorf("%w: %v", ErrResetUnaudited, err)
	}

	s.publishWithRetry(ctx, sum)

	s.log.WithFields(logrus.Fields{
		"shift_id":    shift.ID,
		"tenant":      req.TenantID,
		"location":    req.LocationID,
		"archive_id":  sum.ArchiveID,
		"orders":      sum.ArchivedOrders,
		"net_profit":  sum.NetProfit.String(),
		"duration_ms": sum.ProcessingMS,
	}).Info("shift reset completed")

	return &domain.EndShiftResponse{Summary: sum}, nil
}

// readWindow fans out the three collection reads. The window is inclusive on
// both ends.
func (s *Service) readWindow(ctx context.Context, tenantID string, locationID string, from time.Time, to time.Time) (domain.RecordSet, error) {
	var records domain.RecordSet
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		orders, err := s.repo.ListOrders(gctx, tenantID, locationID, from, to)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		records.Orders = orders
		return nil
	})
	g.Go(func() error {
		expenses, err := s.repo.ListExpenses(gctx, tenantID, locationID, from, to)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		records.Expenses = expenses
		return nil
	})
	g.Go(func() error {
		movements, err := s.repo.ListMovements(gctx, tenantID, locationID, from, to)
		if err != nil {
			return fmt.Errorf("list movements: %w", err)
		}
		records.Movements = movements
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.RecordSet{}, err
	}
	return records, nil
}

// sweepStart extends the read window backwards to the previous reset's window
// start. Records written between shifts, such as the consumption movements the
// previous reset produced, would otherwise sit outside every window forever.
func (s *Service) sweepStart(ctx context.Context, tenantID string, locationID string, windowStart time.Time) time.Time {
	entries, err := s.repo.ListAuditEntries(ctx, tenantID, locationID, 1)
	if err != nil || len(entries) == 0 {
		return windowStart
	}
	if prev := entries[0].Summary.WindowStart; !prev.IsZero() && prev.Before(windowStart) {
		return prev
	}
	return windowStart
}

// clearWasInterrupted reports whether this shift's archive partition holds a
// record whose live copy is already gone. Only the clear phase deletes live
// records, so a missing copy means a prior attempt failed between archive and
// clear. A partition that is empty or still a subset of the live window (a
// failed archive attempt) does not trigger a resume.
func (s *Service) clearWasInterrupted(ctx context.Context, archiveID string, live domain.RecordSet) (bool, error) {
	liveIDs := make(map[string]struct{}, live.Total())
	for _, o := range live.Orders {
		liveIDs[o.ID] = struct{}{}
	}
	for _, e := range live.Expenses {
		liveIDs[e.ID] = struct{}{}
	}
	for _, m := range live.Movements {
		liveIDs[m.ID] = struct{}{}
	}

	for _, collection := range []string{domain.CollectionOrders, domain.CollectionExpenses, domain.CollectionMovements} {
		archived, err := s.repo.ListArchived(ctx, archiveID, collection)
		if err != nil {
			return false, fmt.Errorf("inspect archive %s: %w", collection, err)
		}
		for _, record := range archived {
			if _, ok := liveIDs[record.SourceID]; !ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// loadArchivedSet rebuilds the first attempt's record set from its archive
// copies so a resumed reset deletes and audits exactly what was archived.
func (s *Service) loadArchivedSet(ctx context.Context, archiveID string) (domain.RecordSet, error) {
	var records domain.RecordSet

	archivedOrders, err := s.repo.ListArchived(ctx, archiveID, domain.CollectionOrders)
	if err != nil {
		return records, fmt.Errorf("load archived orders: %w", err)
	}
	for _, record := range archivedOrders {
		var order domain.Order
		if err := json.Unmarshal(record.Payload, &order); err != nil {
			return records, fmt.Errorf("decode archived order %s: %w", record.SourceID, err)
		}
		records.Orders = append(records.Orders, order)
	}

	archivedExpenses, err := s.repo.ListArchived(ctx, archiveID, domain.CollectionExpenses)
	if err != nil {
		return records, fmt.Errorf("load archived expenses: %w", err)
	}
	for _, record := range archivedExpenses {
		var expense domain.Expense
		if err := json.Unmarshal(record.Payload, &expense); err != nil {
			return records, fmt.Errorf("decode archived expense %s: %w", record.SourceID, err)
		}
		records.Expenses = append(records.Expenses, expense)
	}

	archivedMovements, err := s.repo.ListArchived(ctx, archiveID, domain.CollectionMovements)
	if err != nil {
		return records, fmt.Errorf("load archived movements: %w", err)
	}
	for _, record := range archivedMovements {
		var movement domain.StockMovement
		if err := json.Unmarshal(record.Payload, &movement); err != nil {
			return records, fmt.Errorf("decode archived movement %s: %w", record.SourceID, err)
		}
		records.Movements = append(records.Movements, movement)
	}

	return records, nil
}

// consumptionWritten reports whether a prior attempt already wrote the
// shift's consumption movements, so a resumed reset does not double-adjust.
func consumptionWritten(movements []domain.StockMovement, shiftID string) bool {
	for _, m := range movements {
		if m.Reason == domain.MovementReasonShiftConsumption && m.SourceID == shiftID {
			return true
		}
	}
	return false
}

func (s *Service) archiveAll(ctx context.Context, archiveID string, records domain.RecordSet) error {
	if err := s.repo.ArchiveOrders(ctx, archiveID, records.Orders); err != nil {
		return &PartialArchiveError{Collection: domain.CollectionOrders, Err: err}
	}
	if err := s.repo.ArchiveExpenses(ctx, archiveID, records.Expenses); err != nil {
		return &PartialArchiveError{Collection: domain.CollectionExpenses, Err: err}
	}
	if err := s.repo.ArchiveMovements(ctx, archiveID, records.Movements); err != nil {
		return &PartialArchiveError{Collection: domain.CollectionMovements, Err: err}
	}
	return nil
}

// verifyArchive re-counts the archive partition against what was read. A
// mismatch is logged but does not fail the reset; the summary carries the
// verification flag.
func (s *Service) verifyArchive(ctx context.Context, archiveID string, records domain.RecordSet) bool {
	checks := []struct {
		collection string
		want       int
	}{
		{domain.CollectionOrders, len(records.Orders)},
		{domain.CollectionExpenses, len(records.Expenses)},
		{domain.CollectionMovements, len(records.Movements)},
	}
	for _, check := range checks {
		got, err := s.repo.CountArchived(ctx, archiveID, check.collection)
		if err != nil || got < check.want {
			s.log.WithFields(logrus.Fields{
				"archive_id": archiveID,
				"collection": check.collection,
				"want":       check.want,
				"got":        got,
			}).Warn("archive verification mismatch")
			return false
		}
	}
	return true
}

func (s *Service) clearAll(ctx context.Context, tenantID string, records domain.RecordSet) error {
	ids := make([]string, 0, len(records.Orders))
	for _, o := range records.Orders {
		ids = append(ids, o.ID)
	}
	if _, err := s.repo.DeleteOrders(ctx, tenantID, ids); err != nil {
		return &PartialClearError{Collection: domain.CollectionOrders, Err: err}
	}

	ids = ids[:0]
	for _, e := range records.Expenses {
		ids = append(ids, e.ID)
	}
	if _, err := s.repo.DeleteExpenses(ctx, tenantID, ids); err != nil {
		return &PartialClearError{Collection: domain.CollectionExpenses, Err: err}
	}

	ids = ids[:0]
	for _, m := range records.Movements {
		ids = append(ids, m.ID)
	}
	if _, err := s.repo.DeleteMovements(ctx, tenantID, ids); err != nil {
		return &PartialClearError{Collection: domain.CollectionMovements, Err: err}
	}
	return nil
}

// adjustInventory writes one negative stock movement per item sold during the
// shift. Failures are collected, not fatal: inventory drift is repairable,
// a blocked reset is not.
func (s *Service) adjustInventory(ctx context.Context, shift domain.Shift, sum domain.ShiftSummary) []string {
	if len(sum.ItemSales) == 0 {
		return nil
	}

	itemIDs := make([]string, 0, len(sum.ItemSales))
	for itemID := range sum.ItemSales {
		itemIDs = append(itemIDs, itemID)
	}
	slices.Sort(itemIDs)

	var failed []string
	for _, itemID := range itemIDs {
		item := sum.ItemSales[itemID]
		_, err := s.repo.CreateMovement(ctx, domain.StockMovement{
			ID:         xid.New("mv"),
			TenantID:   shift.TenantID,
			LocationID: shift.LocationID,
			ItemID:     itemID,
			QtyDelta:   -item.Quantity,
			Reason:     domain.MovementReasonShiftConsumption,
			SourceID:   shift.ID,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"shift_id": shift.ID,
				"item_id":  itemID,
			}).Warn("inventory adjustment failed")
			failed = append(failed, itemID)
		}
	}
	return failed
}

// publishWithRetry delivers the shift-closed event with a few quick retries.
// Delivery is best-effort beyond that; the audit entry already persisted.
func (s *Service) publishWithRetry(ctx context.Context, sum domain.ShiftSummary) {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = s.publisher.PublishShiftClosed(ctx, sum); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	s.log.WithError(err).WithField("shift_id", sum.ShiftID).Warn("failed to publish shift-closed event")
}

func archivedCollections(records domain.RecordSet) []string {
	collections := make([]string, 0, 3)
	if len(records.Orders) > 0 {
		collections = append(collections, domain.CollectionOrders)
	}
	if len(records.Expenses) > 0 {
		collections = append(collections, domain.CollectionExpenses)
	}
	if len(records.Movements) > 0 {
		collections = append(collections, domain.CollectionMovements)
	}
	return collections
}
