// Package summary computes the authoritative financial aggregate for one
// shift reset. All money math runs on decimals built from integer cents, so
// results are exact before the final 2dp rounding.
package summary

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tutupkasir/backend/internal/domain"
)

// paymentAliases maps the loose method strings producers write to the four
// canonical buckets. Methods not listed here fall into UnattributedSales.
var paymentAliases = map[string]string{
	"cash":     "cash",
	"tunai":    "cash",
	"card":     "card",
	"debit":    "card",
	"credit":   "card",
	"qris":     "qris",
	"ewallet":  "ewallet",
	"e-wallet": "ewallet",
	"gcash":    "ewallet",
	"ovo":      "ewallet",
	"dana":     "ewallet",
}

// NormalizePaymentMethod returns the canonical bucket for a raw payment
// method string, or "" when the method is unrecognized.
func NormalizePaymentMethod(raw string) string {
	return paymentAliases[strings.ToLower(strings.TrimSpace(raw))]
}

func cents(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// Calculate aggregates one reset window. Only completed orders contribute to
// sales figures; every expense in the window counts. Archive bookkeeping
// fields on the returned summary are left zero for the caller to fill.
func Calculate(shift domain.Shift, records domain.RecordSet, windowStart time.Time, windowEnd time.Time) domain.ShiftSummary {
	totalSales := decimal.Zero
	unattributed := decimal.Zero
	totalOrders := 0
	breakdown := make(map[string]domain.PaymentTotal)
	itemSales := make(map[string]domain.ItemTotal)

	for _, order := range records.Orders {
		if order.Status != domain.OrderStatusCompleted {
			continue
		}
		amount := cents(order.TotalCents)
		totalSales = totalSales.Add(amount)
		totalOrders++

		if method := NormalizePaymentMethod(order.PaymentMethod); method != "" {
			bucket := breakdown[method]
			bucket.Amount = bucket.Amount.Add(amount)
			bucket.Count++
			breakdown[method] = bucket
		} else {
			unattributed = unattributed.Add(amount)
		}

		for _, line := range order.Items {
			if line.ItemID == "" || line.Qty <= 0 {
				continue
			}
			item := itemSales[line.ItemID]
			item.Quantity += line.Qty
			item.Revenue = item.Revenue.Add(cents(line.UnitPriceCents).Mul(decimal.NewFromInt(int64(line.Qty))))
			itemSales[line.ItemID] = item
		}
	}

	totalExpenses := decimal.Zero
	for _, expense := range records.Expenses {
		totalExpenses = totalExpenses.Add(cents(expense.AmountCents))
	}

	average := decimal.Zero
	if totalOrders > 0 {
		average = totalSales.DivRound(decimal.NewFromInt(int64(totalOrders)), 2)
	}

	duration := int64(windowEnd.Sub(windowStart).Seconds())
	if duration < 0 {
		duration = 0
	}

	return domain.ShiftSummary{
		ShiftID:           shift.ID,
		TenantID:          shift.TenantID,
		LocationID:        shift.LocationID,
		WindowStart:       windowStart,
		WindowEnd:         windowEnd,
		DurationSeconds:   duration,
		TotalSales:        totalSales.Round(2),
		TotalExpenses:     totalExpenses.Round(2),
		NetProfit:         totalSales.Sub(totalExpenses).Round(2),
		UnattributedSales: unattributed.Round(2),
		TotalOrders:       totalOrders,
		AverageOrderValue: average,
		PaymentBreakdown:  breakdown,
		ItemSales:         itemSales,
	}
}
