package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/unicode/norm"

	"fourcash/backend/internal/domain"
)

func price(v float64) *float64 { return &v }

func TestItemDiscountTimeBasedIgnoresQuantityAndPriceEdit(t *testing.T) {
	item := domain.BillItem{
		Price:         100000,
		Quantity:      3,
		DiscountValue: 10,
		DiscountUnit:  "%",
		Product: &domain.ProductSnapshot{
			ID:           "karaoke",
			ProductName:  "Phòng hát",
			SellPrice:    price(150000),
			ServiceSetup: &domain.ServiceSetup{IsTimeBased: true},
		},
	}
	assert.Equal(t, 10000.0, ItemDiscount(item).InexactFloat64())

	item.DiscountValue = 0
	assert.Equal(t, 0.0, ItemDiscount(item).InexactFloat64())

	item.DiscountValue = 5000
	item.DiscountUnit = "VND"
	assert.Equal(t, 5000.0, ItemDiscount(item).InexactFloat64())
}

func TestItemDiscountPriceEditPlusManual(t *testing.T) {
	item := domain.BillItem{
		Price:         40000,
		Quantity:      2,
		DiscountValue: 5,
		DiscountUnit:  "%",
		Product:       &domain.ProductSnapshot{ID: "p1", ProductName: "Cà phê", SellPrice: price(50000)},
	}
	assert.Equal(t, 25000.0, ItemDiscount(item).InexactFloat64())
}

func TestItemDiscountDefaultsUnitToPercentAndListPriceToPrice(t *testing.T) {
	item := domain.BillItem{
		Price:         20000,
		Quantity:      2,
		DiscountValue: 10,
		Product:       &domain.ProductSnapshot{ID: "p1", ProductName: "Trà"},
	}
	assert.Equal(t, 4000.0, ItemDiscount(item).InexactFloat64())

	item.DiscountUnit = "VND"
	item.DiscountValue = 1000
	assert.Equal(t, 2000.0, ItemDiscount(item).InexactFloat64())
}

func TestItemDiscountNeverNegativeForMarkups(t *testing.T) {
	item := domain.BillItem{
		Price:    60000,
		Quantity: 1,
		Product:  &domain.ProductSnapshot{ID: "p1", ProductName: "Bia", SellPrice: price(50000)},
	}
	assert.Equal(t, 0.0, ItemDiscount(item).InexactFloat64())
}

func TestSplitPayments(t *testing.T) {
	cash, other, breakdown := SplitPayments(map[string]float64{
		"Tiền mặt": 100000,
		"Momo":     50000,
	})
	assert.Equal(t, 100000.0, cash)
	assert.Equal(t, 50000.0, other)
	assert.Equal(t, map[string]float64{"Tiền mặt": 100000, "Momo": 50000}, breakdown)
}

func TestSplitPaymentsMatchesDecomposedCashLabel(t *testing.T) {
	decomposed := norm.NFD.String("Tiền mặt (quầy 2)")
	cash, other, breakdown := SplitPayments(map[string]float64{decomposed: 70000, "Thẻ": 0})
	assert.Equal(t, 70000.0, cash)
	assert.Equal(t, 0.0, other)
	assert.Len(t, breakdown, 1)
	assert.Contains(t, breakdown, norm.NFC.String(decomposed))
}

func TestSurchargeTotalUsesSubtotal(t *testing.T) {
	total := SurchargeTotal(200000, []domain.Surcharge{
		{Name: "Phí dịch vụ", Amount: 5, IsPercent: true},
		{Name: "Phí giao hàng", Amount: 15000},
	})
	assert.Equal(t, 25000.0, total)
}

func TestDecomposeBill(t *testing.T) {
	bill := domain.Bill{
		Subtotal:            180000,
		TotalPayable:        150000,
		TotalProfit:         60000,
		DebtAmount:          10000,
		Discount:            20000,
		VoucherDiscount:     5000,
		TaxAmount:           3000,
		CustomerPointsValue: 2000,
		Payments:            map[string]float64{"Tiền mặt": 100000, "Momo": 40000},
		Items: []domain.BillItem{
			{Price: 40000, Quantity: 2, Subtotal: 80000, DiscountValue: 5, DiscountUnit: "%",
				Product: &domain.ProductSnapshot{ID: "p1", ProductName: "Cà phê", ProductGroup: "Đồ uống", SellPrice: price(50000)}},
			{Price: 100000, Quantity: 1, Subtotal: 100000,
				Product: &domain.ProductSnapshot{ID: "p2", ProductName: "Bánh"}},
			{Price: 100000, Quantity: 0, Subtotal: 0, DiscountValue: 50,
				Product: &domain.ProductSnapshot{ID: "p3", ProductName: "Bỏ qua"}},
			{Price: 10000, Quantity: 1, Subtotal: 10000, DiscountValue: 1000, DiscountUnit: "VND"},
		},
	}

	d := DecomposeBill(bill)

	assert.Equal(t, 1.0, d.Totals.BillCount)
	assert.Equal(t, 150000.0, d.Totals.TotalRevenue)
	assert.Equal(t, 26000.0, d.Totals.TotalDiscount)
	assert.Equal(t, 20000.0, d.Totals.TotalBillDiscount)
	assert.Equal(t, 100000.0, d.Totals.TotalCash)
	assert.Equal(t, 40000.0, d.Totals.TotalOtherPayments)
	assert.Equal(t, 10000.0, d.Totals.TotalDebt)

	assert.Len(t, d.Products, 2)
	assert.Equal(t, domain.ProductSale{
		ProductID: "p1", ProductName: "Cà phê", ProductGroup: "Đồ uống",
		QuantitySold: 2, TotalRevenue: 80000, TotalDiscount: 25000,
	}, d.Products["p1"])
	assert.Equal(t, "Khác", d.Products["p2"].ProductGroup)
}

func TestDecomposeCashTransaction(t *testing.T) {
	rev := DecomposeCashTransaction(domain.CashTransaction{Type: domain.CashTransactionRevenue, Amount: 50000})
	assert.Equal(t, 50000.0, rev.Totals.TotalOtherRevenue)
	assert.Zero(t, rev.Totals.TotalOtherExpense)
	assert.Zero(t, rev.Totals.BillCount)

	exp := DecomposeCashTransaction(domain.CashTransaction{Type: domain.CashTransactionExpense, Amount: 20000})
	assert.Equal(t, 20000.0, exp.Totals.TotalOtherExpense)
}
