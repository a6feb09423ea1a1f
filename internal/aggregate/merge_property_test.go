package aggregate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/logging"
	"fourcash/backend/internal/reportdate"
	"fourcash/backend/internal/store"
	"fourcash/backend/internal/store/memory"
)

var propertyMethods = []string{"Tiền mặt", "Momo", "Chuyển khoản"}

func propertyBills(amounts []int, picks []int) []domain.Bill {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, saigon)
	bills := make([]domain.Bill, len(amounts))
	for i, amount := range amounts {
		pick := picks[i%len(picks)]
		v := float64(amount)
		bills[i] = domain.Bill{
			ID:            fmt.Sprintf("b%d", i),
			StoreID:       testStore,
			CreatedByUID:  "u1",
			CreatedByName: "Lan",
			CreatedAt:     at.Add(time.Duration(i) * time.Minute),
			Status:        domain.StatusCompleted,
			Subtotal:      v,
			TotalPayable:  v,
			TotalProfit:   float64(amount / 4),
			Payments:      map[string]float64{propertyMethods[pick]: v},
			Items: []domain.BillItem{{
				Price: v, Quantity: float64(pick + 1), Subtotal: v,
				Product: &domain.ProductSnapshot{ID: fmt.Sprintf("p%d", pick), ProductName: "Món"},
			}},
		}
	}
	return bills
}

func aggregateAll(bills []domain.Bill) (*domain.DailyReport, error) {
	s := memory.New()
	log := logging.Discard()
	engine := NewEngine(s, reportdate.NewResolver(s, saigon, log), log, WithShiftIDs(func() string { return "shift-1" }))
	ctx := context.Background()
	for _, b := range bills {
		if err := s.CreateBill(ctx, b); err != nil {
			return nil, err
		}
		if _, err := engine.AggregateBill(ctx, b.ID, b); err != nil {
			return nil, err
		}
	}
	return s.GetDailyReport(ctx, store.ReportID(testStore, "2024-03-01"))
}

func reversed(bills []domain.Bill) []domain.Bill {
	out := make([]domain.Bill, len(bills))
	for i, b := range bills {
		out[len(bills)-1-i] = b
	}
	return out
}

func TestMergeSumsDeltasInAnyOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("report totals equal the sum of bill deltas at both levels", prop.ForAll(
		func(amounts []int, picks []int) bool {
			if len(picks) == 0 {
				return true
			}
			bills := propertyBills(amounts, picks)
			forward, err := aggregateAll(bills)
			if err != nil {
				return false
			}
			backward, err := aggregateAll(reversed(bills))
			if err != nil {
				return false
			}

			var want domain.ReportTotals
			wantMethods := map[string]float64{}
			for _, b := range bills {
				d := DecomposeBill(b)
				want.BillCount += d.Totals.BillCount
				want.TotalRevenue += d.Totals.TotalRevenue
				want.TotalProfit += d.Totals.TotalProfit
				want.TotalCash += d.Totals.TotalCash
				want.TotalOtherPayments += d.Totals.TotalOtherPayments
				for m, v := range d.PaymentMethods {
					wantMethods[m] += v
				}
			}

			shift := forward.Shifts["shift-1"]
			return forward.ReportTotals == want &&
				shift.ReportTotals == want &&
				backward.ReportTotals == want &&
				fmt.Sprint(forward.PaymentMethods) == fmt.Sprint(wantMethods) &&
				fmt.Sprint(shift.PaymentMethods) == fmt.Sprint(wantMethods) &&
				fmt.Sprint(forward.Products) == fmt.Sprint(backward.Products)
		},
		gen.SliceOfN(6, gen.IntRange(1, 2_000_000)),
		gen.SliceOfN(6, gen.IntRange(0, len(propertyMethods)-1)),
	))

	properties.TestingRun(t)
}
