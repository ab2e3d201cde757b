package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tutupkasir/backend/internal/domain"
	"tutupkasir/backend/internal/store"
	"tutupkasir/backend/internal/xid"
)

// listBatchSize bounds each keyset page when draining a reset window.
const listBatchSize = 500

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS shifts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			opened_by TEXT NOT NULL DEFAULT '',
			cash_float_cents BIGINT NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			total_sales_cents BIGINT NOT NULL DEFAULT 0,
			total_expenses_cents BIGINT NOT NULL DEFAULT 0,
			total_orders INT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS shifts_one_active
			ON shifts (tenant_id, location_id) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			shift_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			payment_method TEXT NOT NULL DEFAULT '',
			total_cents BIGINT NOT NULL,
			items JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS orders_window
			ON orders (tenant_id, location_id, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			amount_cents BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS expenses_window
			ON expenses (tenant_id, location_id, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS stock_movements (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			qty_delta INT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS stock_movements_window
			ON stock_movements (tenant_id, location_id, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS archived_records (
			archive_id TEXT NOT NULL,
			original_collection TEXT NOT NULL,
			source_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			archived_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (archive_id, original_collection, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reset_leases (
			tenant_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			token TEXT NOT NULL,
			held_by TEXT NOT NULL DEFAULT '',
			acquired_at TIMESTAMPTZ NOT NULL,
			held_until TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, location_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			shift_id TEXT NOT NULL,
			summary JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_entries_pair
			ON audit_entries (tenant_id, location_id, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS audit_entries_shift
			ON audit_entries (shift_id)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, tenant_id, location_id, name, status, opened_by, cash_float_cents, notes, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shift.ID, shift.TenantID, shift.LocationID, shift.Name, shift.Status, shift.OpenedBy, shift.CashFloatCents, shift.Notes, shift.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrShiftAlreadyActive
		}
		return nil, err
	}
	created := shift
	return &created, nil
}

func scanShift(row interface{ Scan(...any) error }) (*domain.Shift, error) {
	var shift domain.Shift
	var endedAt sql.NullTime
	err := row.Scan(&shift.ID, &shift.TenantID, &shift.LocationID, &shift.Name, &shift.Status,
		&shift.OpenedBy, &shift.CashFloatCents, &shift.Notes, &shift.TotalSalesCents,
		&shift.TotalExpensesCents, &shift.TotalOrders, &shift.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		ended := endedAt.Time
		shift.EndedAt = &ended
	}
	return &shift, nil
}

const shiftColumns = `id, tenant_id, location_id, name, status, opened_by, cash_float_cents,
	notes, total_sales_cents, total_expenses_cents, total_orders, started_at, ended_at`

func (s *Store) GetShiftByID(ctx context.Context, id string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return shift, err
}

func (s *Store) GetActiveShift(ctx context.Context, tenantID string, locationID string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE tenant_id = $1 AND location_id = $2 AND status = 'active'
	`, tenantID, locationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return shift, err
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, endedAt time.Time, totals store.ShiftTotals) (*domain.Shift, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shifts
		SET status = 'ended', ended_at = $2, total_sales_cents = $3, total_expenses_cents = $4, total_orders = $5
		WHERE id = $1 AND status = 'active'
	`, shiftID, endedAt.UTC(), totals.SalesCents, totals.ExpensesCents, totals.Orders)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetShiftByID(ctx, shiftID); errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrNoActiveShift
	}
	return s.GetShiftByID(ctx, shiftID)
}

func (s *Store) MarkShiftArchived(ctx context.Context, shiftID string) (*domain.Shift, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shifts SET status = 'archived' WHERE id = $1 AND status = 'ended'
	`, shiftID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetShiftByID(ctx, shiftID); errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrInvalidRequest
	}
	return s.GetShiftByID(ctx, shiftID)
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.TenantID == "" || order.LocationID == "" || order.TotalCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, tenant_id, location_id, shift_id, status, payment_method, total_cents, items, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, order.ID, order.TenantID, order.LocationID, order.ShiftID, order.Status, order.PaymentMethod, order.TotalCents, items, order.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.TenantID == "" || expense.LocationID == "" || expense.AmountCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, tenant_id, location_id, category, description, amount_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.TenantID, expense.LocationID, expense.Category, expense.Description, expense.AmountCents, expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) CreateMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.TenantID == "" || movement.LocationID == "" || movement.ItemID == "" {
		return nil, store.ErrInvalidRequest
	}
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_movements (id, tenant_id, location_id, item_id, qty_delta, reason, source_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, movement.ID, movement.TenantID, movement.LocationID, movement.ItemID, movement.QtyDelta, movement.Reason, movement.SourceID, movement.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := movement
	return &created, nil
}

// ListOrders pages through the inclusive window with a keyset cursor so a
// long shift never needs one huge result set.
func (s *Store) ListOrders(ctx context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, listBatchSize)
	cursorAt := from.Add(-time.Nanosecond)
	cursorID := ""

	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, tenant_id, location_id, shift_id, status, payment_method, total_cents, items, created_at
			FROM orders
			WHERE tenant_id = $1 AND location_id = $2
			  AND created_at >= $3 AND created_at <= $4
			  AND (created_at, id) > ($5, $6)
			ORDER BY created_at, id
			LIMIT $7
		`, tenantID, locationID, from, to, cursorAt, cursorID, listBatchSize)
		if err != nil {
			return nil, err
		}

		count := 0
		for rows.Next() {
			var order domain.Order
			var items []byte
			if err := rows.Scan(&order.ID, &order.TenantID, &order.LocationID, &order.ShiftID,
				&order.Status, &order.PaymentMethod, &order.TotalCents, &items, &order.CreatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			if len(items) > 0 {
				if err := json.Unmarshal(items, &order.Items); err != nil {
					rows.Close()
					return nil, err
				}
			}
			orders = append(orders, order)
			cursorAt = order.CreatedAt
			cursorID = order.ID
			count++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if count < listBatchSize {
			return orders, nil
		}
	}
}

func (s *Store) ListExpenses(ctx context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	expenses := make([]domain.Expense, 0, listBatchSize)
	cursorAt := from.Add(-time.Nanosecond)
	cursorID := ""

	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, tenant_id, location_id, category, description, amount_cents, created_at
			FROM expenses
			WHERE tenant_id = $1 AND location_id = $2
			  AND created_at >= $3 AND created_at <= $4
			  AND (created_at, id) > ($5, $6)
			ORDER BY created_at, id
			LIMIT $7
		`, tenantID, locationID, from, to, cursorAt, cursorID, listBatchSize)
		if err != nil {
			return nil, err
		}

		count := 0
		for rows.Next() {
			var expense domain.Expense
			if err := rows.Scan(&expense.ID, &expense.TenantID, &expense.LocationID,
				&expense.Category, &expense.Description, &expense.AmountCents, &expense.CreatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			expenses = append(expenses, expense)
			cursorAt = expense.CreatedAt
			cursorID = expense.ID
			count++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if count < listBatchSize {
			return expenses, nil
		}
	}
}

func (s *Store) ListMovements(ctx context.Context, tenantID string, locationID string, from time.Time, to time.Time) ([]domain.StockMovement, error) {
	movements := make([]domain.StockMovement, 0, listBatchSize)
	cursorAt := from.Add(-time.Nanosecond)
	cursorID := ""

	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, tenant_id, location_id, item_id, qty_delta, reason, source_id, created_at
			FROM stock_movements
			WHERE tenant_id = $1 AND location_id = $2
			  AND created_at >= $3 AND created_at <= $4
			  AND (created_at, id) > ($5, $6)
			ORDER BY created_at, id
			LIMIT $7
		`, tenantID, locationID, from, to, cursorAt, cursorID, listBatchSize)
		if err != nil {
			return nil, err
		}

		count := 0
		for rows.Next() {
			var movement domain.StockMovement
			if err := rows.Scan(&movement.ID, &movement.TenantID, &movement.LocationID,
				&movement.ItemID, &movement.QtyDelta, &movement.Reason, &movement.SourceID, &movement.CreatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			movements = append(movements, movement)
			cursorAt = movement.CreatedAt
			cursorID = movement.ID
			count++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if count < listBatchSize {
			return movements, nil
		}
	}
}

// archiveBatch upserts archive copies inside one transaction. The composite
// key makes retries overwrite instead of duplicating.
func (s *Store) archiveBatch(ctx context.Context, archiveID string, collection string, payloads map[string][]byte) error {
	if archiveID == "" {
		return store.ErrInvalidRequest
	}
	if len(payloads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for sourceID, payload := range payloads {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO archived_records (archive_id, original_collection, source_id, payload, archived_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (archive_id, original_collection, source_id)
			DO UPDATE SET payload = EXCLUDED.payload, archived_at = EXCLUDED.archived_at
		`, archiveID, collection, sourceID, payload, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ArchiveOrders(ctx context.Context, archiveID string, orders []domain.Order) error {
	payloads := make(map[string][]byte, len(orders))
	for _, order := range orders {
		payload, err := json.Marshal(order)
		if err != nil {
			return err
		}
		payloads[order.ID] = payload
	}
	return s.archiveBatch(ctx, archiveID, domain.CollectionOrders, payloads)
}

func (s *Store) ArchiveExpenses(ctx context.Context, archiveID string, expenses []domain.Expense) error {
	payloads := make(map[string][]byte, len(expenses))
	for _, expense := range expenses {
		payload, err := json.Marshal(expense)
		if err != nil {
			return err
		}
		payloads[expense.ID] = payload
	}
	return s.archiveBatch(ctx, archiveID, domain.CollectionExpenses, payloads)
}

func (s *Store) ArchiveMovements(ctx context.Context, archiveID string, movements []domain.StockMovement) error {
	payloads := make(map[string][]byte, len(movements))
	for _, movement := range movements {
		payload, err := json.Marshal(movement)
		if err != nil {
			return err
		}
		payloads[movement.ID] = payload
	}
	return s.archiveBatch(ctx, archiveID, domain.CollectionMovements, payloads)
}

func (s *Store) CountArchived(ctx context.Context, archiveID string, collection string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM archived_records
		WHERE archive_id = $1 AND original_collection = $2
	`, archiveID, collection).Scan(&count)
	return count, err
}

func (s *Store) ListArchived(ctx context.Context, archiveID string, collection string) ([]domain.ArchivedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT archive_id, source_id, original_collection, payload, archived_at
		FROM archived_records
		WHERE archive_id = $1 AND original_collection = $2
		ORDER BY source_id
	`, archiveID, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ArchivedRecord, 0, 64)
	for rows.Next() {
		var record domain.ArchivedRecord
		if err := rows.Scan(&record.ArchiveID, &record.SourceID, &record.OriginalCollection, &record.Payload, &record.ArchivedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) deleteByIDs(ctx context.Context, table string, tenantID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, ids)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *Store) DeleteOrders(ctx context.Context, tenantID string, ids []string) (int, error) {
	return s.deleteByIDs(ctx, "orders", tenantID, ids)
}

func (s *Store) DeleteExpenses(ctx context.Context, tenantID string, ids []string) (int, error) {
	return s.deleteByIDs(ctx, "expenses", tenantID, ids)
}

func (s *Store) DeleteMovements(ctx context.Context, tenantID string, ids []string) (int, error) {
	return s.deleteByIDs(ctx, "stock_movements", tenantID, ids)
}

// AcquireLease takes the per-pair lease row, stealing it when the previous
// holder's held_until has passed. Zero rows affected means another reset
// still holds it.
func (s *Store) AcquireLease(ctx context.Context, tenantID string, locationID string, holder string, token string, ttl time.Duration) (*domain.Lease, error) {
	if tenantID == "" || locationID == "" || token == "" || ttl <= 0 {
		return nil, store.ErrInvalidRequest
	}

	now := time.Now().UTC()
	lease := domain.Lease{
		Token:      token,
		TenantID:   tenantID,
		LocationID: locationID,
		HeldBy:     holder,
		AcquiredAt: now,
		HeldUntil:  now.Add(ttl),
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reset_leases (tenant_id, location_id, token, held_by, acquired_at, held_until)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (tenant_id, location_id)
		DO UPDATE SET token = EXCLUDED.token, held_by = EXCLUDED.held_by,
			acquired_at = EXCLUDED.acquired_at, held_until = EXCLUDED.held_until
		WHERE reset_leases.held_until <= now()
	`, tenantID, locationID, token, holder, lease.AcquiredAt, lease.HeldUntil)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrResetInProgress
	}
	return &lease, nil
}

func (s *Store) ReleaseLease(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM reset_leases WHERE token = $1`, token)
	return err
}

func (s *Store) GetLease(ctx context.Context, tenantID string, locationID string) (*domain.Lease, error) {
	var lease domain.Lease
	err := s.db.QueryRowContext(ctx, `
		SELECT token, tenant_id, location_id, held_by, acquired_at, held_until
		FROM reset_leases
		WHERE tenant_id = $1 AND location_id = $2 AND held_until > now()
	`, tenantID, locationID).Scan(&lease.Token, &lease.TenantID, &lease.LocationID, &lease.HeldBy, &lease.AcquiredAt, &lease.HeldUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (s *Store) CreateAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	if entry.TenantID == "" || entry.LocationID == "" || entry.ShiftID == "" {
		return store.ErrInvalidRequest
	}
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	summary, err := json.Marshal(entry.Summary)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, tenant_id, location_id, shift_id, summary, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.TenantID, entry.LocationID, entry.ShiftID, summary, entry.CreatedAt)
	return err
}

func (s *Store) GetAuditEntryByShiftID(ctx context.Context, shiftID string) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var summary []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, location_id, shift_id, summary, created_at
		FROM audit_entries
		WHERE shift_id = $1
	`, shiftID).Scan(&entry.ID, &entry.TenantID, &entry.LocationID, &entry.ShiftID, &summary, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summary, &entry.Summary); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListAuditEntries(ctx context.Context, tenantID string, locationID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, location_id, shift_id, summary, created_at
		FROM audit_entries
		WHERE tenant_id = $1 AND location_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0, 32)
	for rows.Next() {
		var entry domain.AuditEntry
		var summary []byte
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.LocationID, &entry.ShiftID, &summary, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(summary, &entry.Summary); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRequest
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidRequest
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
