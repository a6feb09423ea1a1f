package aggregate

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"fourcash/backend/internal/domain"
)

const (
	cashMethodPrefix    = "Tiền mặt"
	defaultProductGroup = "Khác"
	discountUnitPercent = "%"
)

// Report document field names.
const (
	fieldBillCount            = "billCount"
	fieldTotalRevenue         = "totalRevenue"
	fieldTotalProfit          = "totalProfit"
	fieldTotalDebt            = "totalDebt"
	fieldTotalDiscount        = "totalDiscount"
	fieldTotalBillDiscount    = "totalBillDiscount"
	fieldTotalVoucherDiscount = "totalVoucherDiscount"
	fieldTotalPointsValue     = "totalPointsValue"
	fieldTotalTax             = "totalTax"
	fieldTotalSurcharges      = "totalSurcharges"
	fieldTotalCash            = "totalCash"
	fieldTotalOtherPayments   = "totalOtherPayments"
	fieldTotalOtherRevenue    = "totalOtherRevenue"
	fieldTotalOtherExpense    = "totalOtherExpense"

	fieldPaymentMethods = "paymentMethods"
	fieldProducts       = "products"
	fieldShifts         = "shifts"

	fieldProductID     = "productId"
	fieldProductName   = "productName"
	fieldProductGroup  = "productGroup"
	fieldQuantitySold  = "quantitySold"
	fieldProductTotal  = "totalRevenue"
	fieldProductDiscnt = "totalDiscount"
)

type field struct {
	name  string
	value float64
}

// Delta is what one bill or cash transaction adds to a report.
type Delta struct {
	Totals         domain.ReportTotals
	PaymentMethods map[string]float64
	Products       map[string]domain.ProductSale
}

func (d Delta) fields() []field {
	t := d.Totals
	return []field{
		{fieldBillCount, t.BillCount},
		{fieldTotalRevenue, t.TotalRevenue},
		{fieldTotalProfit, t.TotalProfit},
		{fieldTotalDebt, t.TotalDebt},
		{fieldTotalDiscount, t.TotalDiscount},
		{fieldTotalBillDiscount, t.TotalBillDiscount},
		{fieldTotalVoucherDiscount, t.TotalVoucherDiscount},
		{fieldTotalPointsValue, t.TotalPointsValue},
		{fieldTotalTax, t.TotalTax},
		{fieldTotalSurcharges, t.TotalSurcharges},
		{fieldTotalCash, t.TotalCash},
		{fieldTotalOtherPayments, t.TotalOtherPayments},
		{fieldTotalOtherRevenue, t.TotalOtherRevenue},
		{fieldTotalOtherExpense, t.TotalOtherExpense},
	}
}

func (d Delta) paymentKeys() []string {
	keys := make([]string, 0, len(d.PaymentMethods))
	for k := range d.PaymentMethods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d Delta) productKeys() []string {
	keys := make([]string, 0, len(d.Products))
	for k := range d.Products {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecomposeBill computes the report delta of a completed bill.
func DecomposeBill(bill domain.Bill) Delta {
	lineDiscount := decimal.Zero
	products := make(map[string]domain.ProductSale)

	for _, item := range bill.Items {
		if item.Quantity <= 0 {
			continue
		}
		discount := ItemDiscount(item)
		lineDiscount = lineDiscount.Add(discount)

		p := item.Product
		if p == nil || p.ID == "" || p.ProductName == "" {
			continue
		}
		sale := products[p.ID]
		sale.ProductID = p.ID
		sale.ProductName = p.ProductName
		sale.ProductGroup = p.ProductGroup
		if sale.ProductGroup == "" {
			sale.ProductGroup = defaultProductGroup
		}
		sale.QuantitySold = sum(sale.QuantitySold, item.Quantity)
		sale.TotalRevenue = sum(sale.TotalRevenue, item.Subtotal)
		sale.TotalDiscount = decimal.NewFromFloat(sale.TotalDiscount).Add(discount).InexactFloat64()
		products[p.ID] = sale
	}

	cash, other, methods := SplitPayments(bill.Payments)

	return Delta{
		Totals: domain.ReportTotals{
			BillCount:            1,
			TotalRevenue:         bill.TotalPayable,
			TotalProfit:          bill.TotalProfit,
			TotalDebt:            bill.DebtAmount,
			TotalDiscount:        lineDiscount.InexactFloat64(),
			TotalBillDiscount:    bill.Discount,
			TotalVoucherDiscount: bill.VoucherDiscount,
			TotalPointsValue:     bill.CustomerPointsValue,
			TotalTax:             bill.TaxAmount,
			TotalSurcharges:      SurchargeTotal(bill.Subtotal, bill.Surcharges),
			TotalCash:            cash,
			TotalOtherPayments:   other,
		},
		PaymentMethods: methods,
		Products:       products,
	}
}

// ItemDiscount returns the discount attributable to one line item.
//
// Time-based products only carry the manual discount, taken once against the
// unit price. Other products add the price-edit discount (list price above the
// charged price) to the manual discount, both per unit. An empty discount unit
// means percent.
func ItemDiscount(item domain.BillItem) decimal.Decimal {
	price := decimal.NewFromFloat(item.Price)
	qty := decimal.NewFromFloat(item.Quantity)
	value := decimal.NewFromFloat(item.DiscountValue)
	percent := item.DiscountUnit == "" || item.DiscountUnit == discountUnitPercent
	hasManual := item.DiscountValue > 0

	if item.Product.TimeBased() {
		switch {
		case !hasManual:
			return decimal.Zero
		case percent:
			return price.Mul(value).Div(decimal.NewFromInt(100))
		default:
			return value
		}
	}

	listPrice := price
	if item.Product != nil && item.Product.SellPrice != nil && *item.Product.SellPrice != 0 {
		listPrice = decimal.NewFromFloat(*item.Product.SellPrice)
	}

	priceEdit := decimal.Max(decimal.Zero, listPrice.Sub(price)).Mul(qty)
	manual := decimal.Zero
	switch {
	case !hasManual:
	case percent:
		manual = listPrice.Mul(value).Div(decimal.NewFromInt(100)).Mul(qty)
	default:
		manual = value.Mul(qty)
	}
	return priceEdit.Add(manual)
}

// SurchargeTotal sums flat surcharges and percentages of the pre-discount subtotal.
func SurchargeTotal(subtotal float64, surcharges []domain.Surcharge) float64 {
	base := decimal.NewFromFloat(subtotal)
	total := decimal.Zero
	for _, s := range surcharges {
		amount := decimal.NewFromFloat(s.Amount)
		if s.IsPercent {
			amount = base.Mul(amount).Div(decimal.NewFromInt(100))
		}
		total = total.Add(amount)
	}
	return total.InexactFloat64()
}

// SplitPayments separates cash from other payment methods. Method names are
// NFC-normalized before matching so that decomposed Vietnamese input still
// counts as cash; the breakdown keeps every nonzero method under its
// normalized name.
func SplitPayments(payments map[string]float64) (cash float64, other float64, breakdown map[string]float64) {
	cashSum, otherSum := decimal.Zero, decimal.Zero
	breakdown = make(map[string]float64, len(payments))
	for method, amount := range payments {
		if amount == 0 {
			continue
		}
		name := norm.NFC.String(strings.TrimSpace(method))
		d := decimal.NewFromFloat(amount)
		if IsCashMethod(name) {
			cashSum = cashSum.Add(d)
		} else {
			otherSum = otherSum.Add(d)
		}
		breakdown[name] = decimal.NewFromFloat(breakdown[name]).Add(d).InexactFloat64()
	}
	return cashSum.InexactFloat64(), otherSum.InexactFloat64(), breakdown
}

var cashPrefixNFC = norm.NFC.String(cashMethodPrefix)

// IsCashMethod reports whether a payment method name counts as cash.
func IsCashMethod(method string) bool {
	return strings.HasPrefix(norm.NFC.String(method), cashPrefixNFC)
}

// DecomposeCashTransaction routes the amount to other revenue or other expense.
func DecomposeCashTransaction(tx domain.CashTransaction) Delta {
	var totals domain.ReportTotals
	switch tx.Type {
	case domain.CashTransactionRevenue:
		totals.TotalOtherRevenue = tx.Amount
	case domain.CashTransactionExpense:
		totals.TotalOtherExpense = tx.Amount
	}
	return Delta{Totals: totals}
}

func sum(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).InexactFloat64()
}
