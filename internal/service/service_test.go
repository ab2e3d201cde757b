package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tutupkasir/backend/internal/domain"
	"tutupkasir/backend/internal/events"
	"tutupkasir/backend/internal/store"
	"tutupkasir/backend/internal/store/memory"
	"tutupkasir/backend/internal/xid"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	svc := New(repo, nil, events.NoopPublisher{}, nil, "t1", time.Minute)
	return svc, repo
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "manager", Role: "manager"})
}

func seedShiftWithRecords(t *testing.T, svc *Service, repo store.Repository) *domain.Shift {
	t.Helper()
	ctx := managerCtx()

	resp, err := svc.StartShift(ctx, domain.StartShiftRequest{LocationID: "loc-1", Name: "Morning", CashFloatCents: 50000})
	if err != nil {
		t.Fatalf("start shift failed: %v", err)
	}
	shift := resp.Shift

	now := time.Now().UTC()
	orders := []domain.Order{
		{TenantID: "t1", LocationID: "loc-1", Status: domain.OrderStatusCompleted, PaymentMethod: "cash", TotalCents: 10000,
			Items: []domain.OrderLine{{ItemID: "kopi", Qty: 2, UnitPriceCents: 5000}}, CreatedAt: now},
		{TenantID: "t1", LocationID: "loc-1", Status: domain.OrderStatusCompleted, PaymentMethod: "card", TotalCents: 20000, CreatedAt: now},
		{TenantID: "t1", LocationID: "loc-1", Status: domain.OrderStatusCompleted, PaymentMethod: "qris", TotalCents: 5000, CreatedAt: now},
	}
	for _, o := range orders {
		if _, err := repo.CreateOrder(ctx, o); err != nil {
			t.Fatalf("create order failed: %v", err)
		}
	}
	if _, err := repo.CreateExpense(ctx, domain.Expense{TenantID: "t1", LocationID: "loc-1", Category: "supplies", AmountCents: 3000, CreatedAt: now}); err != nil {
		t.Fatalf("create expense failed: %v", err)
	}
	return &shift
}

func TestEndShiftFullReset(t *testing.T) {
	svc, repo := newTestService()
	ctx := managerCtx()
	shift := seedShiftWithRecords(t, svc, repo)

	resp, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	if err != nil {
		t.Fatalf("end shift failed: %v", err)
	}
	sum := resp.Summary

	if sum.TotalSales.String() != "350" {
		t.Fatalf("total sales = %s, want 350", sum.TotalSales)
	}
	if sum.TotalExpenses.String() != "30" {
		t.Fatalf("total expenses = %s, want 30", sum.TotalExpenses)
	}
	if sum.NetProfit.String() != "320" {
		t.Fatalf("net profit = %s, want 320", sum.NetProfit)
	}
	if sum.AverageOrderValue.String() != "116.67" {
		t.Fatalf("average order value = %s, want 116.67", sum.AverageOrderValue)
	}
	if sum.ArchivedOrders != 3 || sum.ArchivedExpenses != 1 {
		t.Fatalf("archived counts = %d orders, %d expenses", sum.ArchivedOrders, sum.ArchivedExpenses)
	}
	if !sum.ArchiveVerified {
		t.Fatalf("expected archive to verify")
	}
	if sum.ResetReason != domain.ResetReasonShiftEnd {
		t.Fatalf("reason = %s, want shift_end", sum.ResetReason)
	}
	if sum.Actor != "manager" {
		t.Fatalf("actor = %s, want manager", sum.Actor)
	}

	// Shift must be ended with totals stamped.
	ended, err := repo.GetShiftByID(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get shift failed: %v", err)
	}
	if ended.Status != domain.ShiftStatusEnded || ended.TotalSalesCents != 35000 || ended.TotalOrders != 3 {
		t.Fatalf("unexpected ended shift: %+v", ended)
	}

	// Live collections must be empty for the window.
	orders, _ := repo.ListOrders(ctx, "t1", "loc-1", shift.StartedAt, time.Now().UTC())
	if len(orders) != 0 {
		t.Fatalf("expected live orders cleared, got %d", len(orders))
	}

	// Archive copies must be readable.
	archived, err := svc.ArchivedRecords(ctx, sum.ArchiveID, domain.CollectionOrders)
	if err != nil {
		t.Fatalf("list archived failed: %v", err)
	}
	if len(archived) != 3 {
		t.Fatalf("expected 3 archived orders, got %d", len(archived))
	}

	// The audit entry is the completion signal.
	history, err := svc.ShiftHistory(ctx, "t1", "loc-1", 10)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 || history[0].ShiftID != shift.ID {
		t.Fatalf("expected one audit entry for the shift, got %+v", history)
	}

	// Inventory adjustment for the item sold.
	movements, _ := repo.ListMovements(ctx, "t1", "loc-1", shift.StartedAt, time.Now().UTC().Add(time.Minute))
	foundAdjustment := false
	for _, m := range movements {
		if m.Reason == domain.MovementReasonShiftConsumption && m.ItemID == "kopi" && m.QtyDelta == -2 {
			foundAdjustment = true
		}
	}
	if !foundAdjustment {
		t.Fatalf("expected shift_consumption movement for kopi, got %+v", movements)
	}
}

func TestEndShiftIsolatesNextShift(t *testing.T) {
	svc, repo := newTestService()
	ctx := managerCtx()
	seedShiftWithRecords(t, svc, repo)

	first, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	if err != nil {
		t.Fatalf("end shift failed: %v", err)
	}

	next, err := svc.StartShift(ctx, domain.StartShiftRequest{LocationID: "loc-1", Name: "Evening"})
	if err != nil {
		t.Fatalf("start next shift failed: %v", err)
	}
	if _, err := repo.CreateOrder(ctx, domain.Order{
		TenantID: "t1", LocationID: "loc-1", Status: domain.OrderStatusCompleted,
		PaymentMethod: "cash", TotalCents: 7500, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	second, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1", Reason: domain.ResetReasonManual})
	if err != nil {
		t.Fatalf("end next shift failed: %v", err)
	}

	if second.Summary.TotalOrders != 1 {
		t.Fatalf("next shift saw %d orders, want 1", second.Summary.TotalOrders)
	}
	if second.Summary.TotalSales.String() != "75" {
		t.Fatalf("next shift sales = %s, want 75", second.Summary.TotalSales)
	}
	if second.Summary.ArchiveID == first.Summary.ArchiveID {
		t.Fatalf("resets must use distinct archive partitions")
	}
	if next.Shift.ID == "" {
		t.Fatalf("expected next shift id")
	}
}

func TestEndShiftConcurrentSingleWinner(t *testing.T) {
	svc, repo := newTestService()
	seedShiftWithRecords(t, svc, repo)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.EndShift(managerCtx(), domain.EndShiftRequest{LocationID: "loc-1"})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, store.ErrResetInProgress):
		case errors.Is(err, store.ErrNoActiveShift):
		default:
			t.Fatalf("unexpected error from concurrent end: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning reset, got %d", winners)
	}

	history, _ := svc.ShiftHistory(managerCtx(), "t1", "loc-1", 10)
	if len(history) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(history))
	}
}

func TestEndShiftNoActiveShift(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.EndShift(managerCtx(), domain.EndShiftRequest{LocationID: "loc-1"})
	if !errors.Is(err, store.ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
}

func TestEndShiftRejectsUnknownReason(t *testing.T) {
	svc, repo := newTestService()
	seedShiftWithRecords(t, svc, repo)

	_, err := svc.EndShift(managerCtx(), domain.EndShiftRequest{LocationID: "loc-1", Reason: "because"})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

// faultRepo wraps the memory store and fails selected operations on demand.
type faultRepo struct {
	store.Repository
	mu                   sync.Mutex
	failArchiveMovements bool
	failDeleteExpenses   bool
	failCreateAudit      bool
}

func (f *faultRepo) ArchiveMovements(ctx context.Context, archiveID string, movements []domain.StockMovement) error {
	f.mu.Lock()
	fail := f.failArchiveMovements
	f.mu.Unlock()
	if fail {
		return errors.New("archive backend unavailable")
	}
	return f.Repository.ArchiveMovements(ctx, archiveID, movements)
}

func (f *faultRepo) DeleteExpenses(ctx context.Context, tenantID string, ids []string) (int, error) {
	f.mu.Lock()
	fail := f.failDeleteExpenses
	f.mu.Unlock()
	if fail {
		return 0, errors.New("delete backend unavailable")
	}
	return f.Repository.DeleteExpenses(ctx, tenantID, ids)
}

func (f *faultRepo) CreateAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	fail := f.failCreateAudit
	f.mu.Unlock()
	if fail {
		return errors.New("audit backend unavailable")
	}
	return f.Repository.CreateAuditEntry(ctx, entry)
}

func (f *faultRepo) set(archive bool, clear bool, audit bool) {
	f.mu.Lock()
	f.failArchiveMovements = archive
	f.failDeleteExpenses = clear
	f.failCreateAudit = audit
	f.mu.Unlock()
}

func TestEndShiftPartialArchiveLeavesLiveDataIntact(t *testing.T) {
	mem := memory.New()
	repo := &faultRepo{Repository: mem}
	svc := New(repo, nil, events.NoopPublisher{}, nil, "t1", time.Minute)
	ctx := managerCtx()
	shift := seedShiftWithRecords(t, svc, repo)

	repo.set(true, false, false)

	_, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	var partial *PartialArchiveError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialArchiveError, got %v", err)
	}
	if partial.Collection != domain.CollectionMovements {
		t.Fatalf("failed collection = %s, want stock_movements", partial.Collection)
	}

	// Nothing was deleted and the shift stayed active, so the reset can
	// simply run again.
	orders, _ := repo.ListOrders(ctx, "t1", "loc-1", shift.StartedAt, time.Now().UTC())
	if len(orders) != 3 {
		t.Fatalf("live orders must be intact after archive failure, got %d", len(orders))
	}
	active, err := repo.GetActiveShift(ctx, "t1", "loc-1")
	if err != nil || active.ID != shift.ID {
		t.Fatalf("shift must remain active after archive failure: %v", err)
	}

	repo.set(false, false, false)
	resp, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	if err != nil {
		t.Fatalf("retry after archive failure must succeed: %v", err)
	}
	if resp.Summary.ArchivedOrders != 3 {
		t.Fatalf("retry archived %d orders, want 3", resp.Summary.ArchivedOrders)
	}
}

func TestEndShiftRetryReusesArchivePartition(t *testing.T) {
	mem := memory.New()
	repo := &faultRepo{Repository: mem}
	svc := New(repo, nil, events.NoopPublisher{}, nil, "t1", time.Minute)
	ctx := managerCtx()
	shift := seedShiftWithRecords(t, svc, repo)
	archiveID := xid.ArchiveID(shift.ID, shift.StartedAt)

	repo.set(true, false, false)
	if _, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"}); err == nil {
		t.Fatalf("expected first attempt to fail")
	}

	// The failed attempt already wrote into the shift's partition.
	if n, _ := repo.CountArchived(ctx, archiveID, domain.CollectionOrders); n != 3 {
		t.Fatalf("failed attempt archived %d orders under %s, want 3", n, archiveID)
	}

	repo.set(false, false, false)
	resp, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if resp.Summary.ArchiveID != archiveID {
		t.Fatalf("retry used partition %s, want %s", resp.Summary.ArchiveID, archiveID)
	}

	// The upserts landed on the same keys: one copy per record, no orphaned
	// partition from the failed attempt.
	if n, _ := repo.CountArchived(ctx, archiveID, domain.CollectionOrders); n != 3 {
		t.Fatalf("partition holds %d order copies after retry, want 3", n)
	}
	if n, _ := repo.CountArchived(ctx, archiveID, domain.CollectionExpenses); n != 1 {
		t.Fatalf("partition holds %d expense copies after retry, want 1", n)
	}
}

func TestEndShiftResumesInterruptedClear(t *testing.T) {
	mem := memory.New()
	repo := &faultRepo{Repository: mem}
	svc := New(repo, nil, events.NoopPublisher{}, nil, "t1", time.Minute)
	ctx := managerCtx()
	shift := seedShiftWithRecords(t, svc, repo)

	repo.set(false, true, false)

	_, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	var partial *PartialClearError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialClearError, got %v", err)
	}
	if partial.Collection != domain.CollectionExpenses {
		t.Fatalf("failed collection = %s, want expenses", partial.Collection)
	}

	// Orders were deleted before the expense delete failed; the archive holds
	// the full set and the shift is still active.
	orders, _ := repo.ListOrders(ctx, "t1", "loc-1", shift.StartedAt, time.Now().UTC())
	if len(orders) != 0 {
		t.Fatalf("expected orders already cleared, got %d", len(orders))
	}
	if _, err := repo.GetActiveShift(ctx, "t1", "loc-1"); err != nil {
		t.Fatalf("shift must remain active after clear failure: %v", err)
	}

	repo.set(false, false, false)
	resp, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	if err != nil {
		t.Fatalf("retry after clear failure must succeed: %v", err)
	}

	// The resumed run audits the original totals, not the drained remainder.
	if resp.Summary.TotalSales.String() != "350" {
		t.Fatalf("resumed total sales = %s, want 350", resp.Summary.TotalSales)
	}
	if resp.Summary.TotalOrders != 3 {
		t.Fatalf("resumed total orders = %d, want 3", resp.Summary.TotalOrders)
	}
	if resp.Summary.TotalExpenses.String() != "30" {
		t.Fatalf("resumed total expenses = %s, want 30", resp.Summary.TotalExpenses)
	}
	if resp.Summary.ArchivedOrders != 3 || resp.Summary.ArchivedExpenses != 1 {
		t.Fatalf("resumed archive counts = %d orders, %d expenses", resp.Summary.ArchivedOrders, resp.Summary.ArchivedExpenses)
	}

	expenses, _ := repo.ListExpenses(ctx, "t1", "loc-1", shift.StartedAt, time.Now().UTC())
	if len(expenses) != 0 {
		t.Fatalf("expected expenses cleared on resume, got %d", len(expenses))
	}

	history, _ := svc.ShiftHistory(ctx, "t1", "loc-1", 10)
	if len(history) != 1 || history[0].Summary.TotalSales.String() != "350" {
		t.Fatalf("expected one audit entry with the original totals, got %+v", history)
	}

	// The consumption adjustment for the shift was written exactly once.
	movements, _ := repo.ListMovements(ctx, "t1", "loc-1", shift.StartedAt, time.Now().UTC().Add(time.Minute))
	adjustments := 0
	for _, m := range movements {
		if m.Reason == domain.MovementReasonShiftConsumption && m.SourceID == shift.ID {
			adjustments++
		}
	}
	if adjustments != 1 {
		t.Fatalf("expected one consumption adjustment, got %d", adjustments)
	}
}

func TestEndShiftSweepsConsumptionMovements(t *testing.T) {
	svc, repo := newTestService()
	ctx := managerCtx()
	shift := seedShiftWithRecords(t, svc, repo)

	if _, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"}); err != nil {
		t.Fatalf("end shift failed: %v", err)
	}

	if _, err := svc.StartShift(ctx, domain.StartShiftRequest{LocationID: "loc-1", Name: "Evening"}); err != nil {
		t.Fatalf("start next shift failed: %v", err)
	}
	if _, err := repo.CreateOrder(ctx, domain.Order{
		TenantID: "t1", LocationID: "loc-1", Status: domain.OrderStatusCompleted,
		PaymentMethod: "cash", TotalCents: 7500, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	second, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	if err != nil {
		t.Fatalf("end next shift failed: %v", err)
	}

	// The first reset's consumption movement lands between the two shifts; the
	// second reset must sweep it so it does not accumulate forever.
	if second.Summary.ArchivedMovements != 1 {
		t.Fatalf("second reset archived %d movements, want 1", second.Summary.ArchivedMovements)
	}
	if second.Summary.TotalSales.String() != "75" {
		t.Fatalf("swept movement must not change sales, got %s", second.Summary.TotalSales)
	}

	movements, _ := repo.ListMovements(ctx, "t1", "loc-1", shift.StartedAt.Add(-time.Hour), time.Now().UTC().Add(time.Minute))
	if len(movements) != 0 {
		t.Fatalf("expected no live movements after second reset, got %+v", movements)
	}
}

func TestEndShiftUnauditedAndRetry(t *testing.T) {
	mem := memory.New()
	repo := &faultRepo{Repository: mem}
	svc := New(repo, nil, events.NoopPublisher{}, nil, "t1", time.Minute)
	ctx := managerCtx()
	shift := seedShiftWithRecords(t, svc, repo)

	repo.set(false, false, true)

	resp, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"})
	if !errors.Is(err, ErrResetUnaudited) {
		t.Fatalf("expected ErrResetUnaudited, got %v", err)
	}
	if resp == nil || !resp.Unaudited {
		t.Fatalf("expected summary response flagged unaudited, got %+v", resp)
	}

	// The reset itself completed: records cleared, shift ended.
	ended, _ := repo.GetShiftByID(ctx, shift.ID)
	if ended.Status != domain.ShiftStatusEnded {
		t.Fatalf("shift status = %s, want ended", ended.Status)
	}
	orders, _ := repo.ListOrders(ctx, "t1", "loc-1", shift.StartedAt, time.Now().UTC())
	if len(orders) != 0 {
		t.Fatalf("expected orders cleared despite audit failure, got %d", len(orders))
	}

	// Only the audit write is retried, never the reset.
	repo.set(false, false, false)
	if err := svc.WriteAuditEntry(ctx, resp.Summary); err != nil {
		t.Fatalf("audit retry failed: %v", err)
	}
	if err := svc.WriteAuditEntry(ctx, resp.Summary); err != nil {
		t.Fatalf("repeated audit retry must be a no-op: %v", err)
	}

	history, _ := svc.ShiftHistory(ctx, "t1", "loc-1", 10)
	if len(history) != 1 {
		t.Fatalf("expected exactly one audit entry after retry, got %d", len(history))
	}
}

func TestStartShiftConflictsAndAutoChain(t *testing.T) {
	svc, repo := newTestService()
	ctx := managerCtx()
	first := seedShiftWithRecords(t, svc, repo)

	_, err := svc.StartShift(ctx, domain.StartShiftRequest{LocationID: "loc-1", Name: "Evening"})
	if !errors.Is(err, store.ErrShiftAlreadyActive) {
		t.Fatalf("expected ErrShiftAlreadyActive, got %v", err)
	}

	resp, err := svc.StartShift(ctx, domain.StartShiftRequest{LocationID: "loc-1", Name: "Evening", AutoChain: true})
	if err != nil {
		t.Fatalf("auto-chain start failed: %v", err)
	}
	if resp.Shift.ID == first.ID {
		t.Fatalf("auto-chain must create a new shift")
	}

	prev, _ := repo.GetShiftByID(ctx, first.ID)
	if prev.Status != domain.ShiftStatusEnded {
		t.Fatalf("previous shift status = %s, want ended", prev.Status)
	}

	history, _ := svc.ShiftHistory(ctx, "t1", "loc-1", 10)
	if len(history) != 1 || history[0].ShiftID != first.ID {
		t.Fatalf("auto-chain must leave an audit entry for the ended shift")
	}
}

func TestArchiveShiftTransition(t *testing.T) {
	svc, repo := newTestService()
	ctx := managerCtx()
	shift := seedShiftWithRecords(t, svc, repo)

	if _, err := svc.ArchiveShift(ctx, shift.ID); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("archiving an active shift must fail, got %v", err)
	}

	if _, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"}); err != nil {
		t.Fatalf("end shift failed: %v", err)
	}

	resp, err := svc.ArchiveShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("archive shift failed: %v", err)
	}
	if resp.Shift.Status != domain.ShiftStatusArchived {
		t.Fatalf("status = %s, want archived", resp.Shift.Status)
	}
}

func TestShiftStats(t *testing.T) {
	svc, repo := newTestService()
	ctx := managerCtx()

	seedShiftWithRecords(t, svc, repo)
	if _, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"}); err != nil {
		t.Fatalf("end shift failed: %v", err)
	}

	if _, err := svc.StartShift(ctx, domain.StartShiftRequest{LocationID: "loc-1"}); err != nil {
		t.Fatalf("start shift failed: %v", err)
	}
	if _, err := repo.CreateOrder(ctx, domain.Order{
		TenantID: "t1", LocationID: "loc-1", Status: domain.OrderStatusCompleted,
		PaymentMethod: "cash", TotalCents: 15000, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.EndShift(ctx, domain.EndShiftRequest{LocationID: "loc-1"}); err != nil {
		t.Fatalf("end second shift failed: %v", err)
	}

	stats, err := svc.ShiftStats(ctx, "t1", "loc-1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Shifts != 2 {
		t.Fatalf("shifts = %d, want 2", stats.Shifts)
	}
	// (350 + 150) / 2
	if stats.AvgSales.String() != "250" {
		t.Fatalf("avg sales = %s, want 250", stats.AvgSales)
	}
	if stats.TotalSales.String() != "500" {
		t.Fatalf("total sales = %s, want 500", stats.TotalSales)
	}
	if stats.AvgOrders.String() != "2" {
		t.Fatalf("avg orders = %s, want 2", stats.AvgOrders)
	}
}

func TestResetInProgressStatus(t *testing.T) {
	svc, repo := newTestService()
	ctx := managerCtx()

	status, err := svc.ResetInProgress(ctx, "t1", "loc-1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.InProgress {
		t.Fatalf("expected no reset in progress")
	}

	if _, err := repo.AcquireLease(ctx, "t1", "loc-1", "worker-a", "tok-a", time.Minute); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	status, err = svc.ResetInProgress(ctx, "t1", "loc-1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.InProgress || status.HeldBy != "worker-a" || status.HeldUntil == nil {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRecordOrderAttachesActiveShift(t *testing.T) {
	svc, _ := newTestService()
	ctx := managerCtx()

	resp, err := svc.StartShift(ctx, domain.StartShiftRequest{LocationID: "loc-1"})
	if err != nil {
		t.Fatalf("start shift failed: %v", err)
	}

	order, err := svc.RecordOrder(ctx, domain.Order{
		LocationID: "loc-1", PaymentMethod: "cash", TotalCents: 1200,
	})
	if err != nil {
		t.Fatalf("record order failed: %v", err)
	}
	if order.ShiftID != resp.Shift.ID {
		t.Fatalf("order shift id = %s, want %s", order.ShiftID, resp.Shift.ID)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("default status = %s, want completed", order.Status)
	}
}
