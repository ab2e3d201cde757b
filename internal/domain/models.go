package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shift is one bounded work session for a (tenant, location) pair. At most one
// shift per pair may be active at a time; the store enforces that invariant.
type Shift struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	LocationID         string     `json:"location_id"`
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	OpenedBy           string     `json:"opened_by"`
	CashFloatCents     int64      `json:"cash_float_cents"`
	Notes              string     `json:"notes,omitempty"`
	TotalSalesCents    int64      `json:"total_sales_cents"`
	TotalExpensesCents int64      `json:"total_expenses_cents"`
	TotalOrders        int        `json:"total_orders"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
}

const (
	ShiftStatusActive   = "active"
	ShiftStatusEnded    = "ended"
	ShiftStatusArchived = "archived"
)

const (
	ResetReasonShiftEnd = "shift_end"
	ResetReasonManual   = "manual"
	ResetReasonSystem   = "system"
)

const (
	OrderStatusCompleted = "completed"
	OrderStatusPending   = "pending"
	OrderStatusCancelled = "cancelled"
)

const (
	CollectionOrders    = "orders"
	CollectionExpenses  = "expenses"
	CollectionMovements = "stock_movements"
)

// MovementReasonShiftConsumption marks stock movements derived from per-item
// sales during a reset. The inventory subsystem reacts to these records; this
// engine never mutates stock levels directly.
const MovementReasonShiftConsumption = "shift_consumption"

type OrderLine struct {
	ItemID         string `json:"item_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Order is the canonical shape of a live sales record. The producing POS
// subsystem may store looser documents; the store normalizes them to this
// struct at the read boundary.
type Order struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id"`
	LocationID    string      `json:"location_id"`
	ShiftID       string      `json:"shift_id,omitempty"`
	Status        string      `json:"status"`
	PaymentMethod string      `json:"payment_method"`
	TotalCents    int64       `json:"total_cents"`
	Items         []OrderLine `json:"items,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

type Expense struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	LocationID  string    `json:"location_id"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

type StockMovement struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	LocationID string    `json:"location_id"`
	ItemID     string    `json:"item_id"`
	QtyDelta   int       `json:"qty_delta"`
	Reason     string    `json:"reason"`
	SourceID   string    `json:"source_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordSet groups every live record read for one reset window, one slice per
// collection.
type RecordSet struct {
	Orders    []Order
	Expenses  []Expense
	Movements []StockMovement
}

func (r RecordSet) Total() int {
	return len(r.Orders) + len(r.Expenses) + len(r.Movements)
}

// ArchivedRecord is the immutable archive copy of one live record. Payload
// holds the record marshaled at archive time; it is never rewritten.
type ArchivedRecord struct {
	ArchiveID          string    `json:"archive_id"`
	SourceID           string    `json:"source_id"`
	OriginalCollection string    `json:"original_collection"`
	Payload            []byte    `json:"payload"`
	ArchivedAt         time.Time `json:"archived_at"`
}

type PaymentTotal struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

type ItemTotal struct {
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// ShiftSummary is the authoritative aggregate computed for one reset. Monetary
// fields are decimals rounded to the currency minor unit (2dp).
type ShiftSummary struct {
	ShiftID           string          `json:"shift_id"`
	TenantID          string          `json:"tenant_id"`
	LocationID        string          `json:"location_id"`
	WindowStart       time.Time       `json:"window_start"`
	WindowEnd         time.Time       `json:"window_end"`
	DurationSeconds   int64           `json:"duration_seconds"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalExpenses     decimal.Decimal `json:"total_expenses"`
	NetProfit         decimal.Decimal `json:"net_profit"`
	UnattributedSales decimal.Decimal `json:"unattributed_sales"`
	TotalOrders       int             `json:"total_orders"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`

	PaymentBreakdown map[string]PaymentTotal `json:"payment_breakdown"`
	ItemSales        map[string]ItemTotal    `json:"item_sales"`

	ArchivedOrders    int `json:"archived_orders"`
	ArchivedExpenses  int `json:"archived_expenses"`
	ArchivedMovements int `json:"archived_movements"`

	ArchiveID           string    `json:"archive_id"`
	ArchivedCollections []string  `json:"archived_collections"`
	Actor               string    `json:"actor"`
	ResetReason         string    `json:"reset_reason"`
	ResetAt             time.Time `json:"reset_at"`
	ArchiveVerified     bool      `json:"archive_verified"`
	ProcessingMS        int64     `json:"processing_ms"`
	FailedAdjustments   []string  `json:"failed_adjustments,omitempty"`
}

// AuditEntry is the append-only completion record for one reset. Its presence
// for a shift id is the authoritative signal that the reset fully completed.
type AuditEntry struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenant_id"`
	LocationID string       `json:"location_id"`
	ShiftID    string       `json:"shift_id"`
	Summary    ShiftSummary `json:"summary"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Lease is the mutual-exclusion document guarding resets per (tenant,
// location). A lease whose HeldUntil is in the past is stealable.
type Lease struct {
	Token      string    `json:"token"`
	TenantID   string    `json:"tenant_id"`
	LocationID string    `json:"location_id"`
	HeldBy     string    `json:"held_by"`
	AcquiredAt time.Time `json:"acquired_at"`
	HeldUntil  time.Time `json:"held_until"`
}

type StartShiftRequest struct {
	TenantID       string `json:"tenant_id,omitempty"`
	LocationID     string `json:"location_id"`
	Name           string `json:"name"`
	CashFloatCents int64  `json:"cash_float_cents"`
	Notes          string `json:"notes,omitempty"`
	// AutoChain ends any currently active shift before starting the new one
	// instead of failing with ErrShiftAlreadyActive.
	AutoChain bool `json:"auto_chain,omitempty"`
}

type EndShiftRequest struct {
	TenantID   string `json:"tenant_id,omitempty"`
	LocationID string `json:"location_id"`
	Reason     string `json:"reason,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type EndShiftResponse struct {
	Summary ShiftSummary `json:"summary"`
	// Unaudited reports the completed-but-unaudited case: archive and clear
	// succeeded but the audit entry write failed and should be retried.
	Unaudited bool `json:"unaudited,omitempty"`
}

type ResetStatusResponse struct {
	TenantID   string     `json:"tenant_id"`
	LocationID string     `json:"location_id"`
	InProgress bool       `json:"in_progress"`
	HeldBy     string     `json:"held_by,omitempty"`
	HeldUntil  *time.Time `json:"held_until,omitempty"`
}

// ShiftStats aggregates audit history for dashboard views.
type ShiftStats struct {
	TenantID           string          `json:"tenant_id"`
	LocationID         string          `json:"location_id"`
	Shifts             int             `json:"shifts"`
	AvgDurationSeconds int64           `json:"avg_duration_seconds"`
	AvgSales           decimal.Decimal `json:"avg_sales"`
	AvgOrders          decimal.Decimal `json:"avg_orders"`
	TotalSales         decimal.Decimal `json:"total_sales"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
