package httpapi

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"fourcash/backend/internal/domain"
)

type totalRow struct {
	key   string
	value float64
}

func totalRows(t domain.ReportTotals) []totalRow {
	return []totalRow{
		{"billCount", t.BillCount},
		{"totalRevenue", t.TotalRevenue},
		{"totalProfit", t.TotalProfit},
		{"totalDebt", t.TotalDebt},
		{"totalDiscount", t.TotalDiscount},
		{"totalBillDiscount", t.TotalBillDiscount},
		{"totalVoucherDiscount", t.TotalVoucherDiscount},
		{"totalPointsValue", t.TotalPointsValue},
		{"totalTax", t.TotalTax},
		{"totalSurcharges", t.TotalSurcharges},
		{"totalCash", t.TotalCash},
		{"totalOtherPayments", t.TotalOtherPayments},
		{"totalOtherRevenue", t.TotalOtherRevenue},
		{"totalOtherExpense", t.TotalOtherExpense},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func dailyReportToCSV(report domain.DailyReport) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "date", report.ReportDateKey},
		{"summary", "store_id", report.StoreID},
		{"summary", "openingBalance", formatAmount(report.OpeningBalance)},
	}
	for _, row := range totalRows(report.ReportTotals) {
		rows = append(rows, []string{"summary", row.key, formatAmount(row.value)})
	}
	for _, method := range sortedKeys(report.PaymentMethods) {
		rows = append(rows, []string{"payment", method, formatAmount(report.PaymentMethods[method])})
	}
	for _, id := range sortedKeys(report.Products) {
		p := report.Products[id]
		rows = append(rows,
			[]string{"product", p.ProductName + "_quantity", formatAmount(p.QuantitySold)},
			[]string{"product", p.ProductName + "_revenue", formatAmount(p.TotalRevenue)},
		)
	}
	for _, id := range sortedKeys(report.Shifts) {
		s := report.Shifts[id]
		rows = append(rows,
			[]string{"shift", id + "_user", s.UserName},
			[]string{"shift", id + "_revenue", formatAmount(s.TotalRevenue)},
			[]string{"shift", id + "_cash", formatAmount(s.TotalCash)},
		)
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const (
	sheetSummary  = "Tổng quan"
	sheetShifts   = "Ca làm việc"
	sheetProducts = "Sản phẩm"
)

// dailyReportToXLSX renders the report as a workbook with a summary, a shift
// and a product sheet.
func dailyReportToXLSX(report domain.DailyReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, err
	}
	summary := [][]any{
		{"Ngày", report.ReportDateKey},
		{"Cửa hàng", report.StoreID},
		{"openingBalance", report.OpeningBalance},
	}
	for _, row := range totalRows(report.ReportTotals) {
		summary = append(summary, []any{row.key, row.value})
	}
	for _, method := range sortedKeys(report.PaymentMethods) {
		summary = append(summary, []any{"Thanh toán: " + method, report.PaymentMethods[method]})
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(sheetShifts); err != nil {
		return nil, err
	}
	shifts := [][]any{{"Mã ca", "Nhân viên", "Bắt đầu", "Trạng thái", "Số hóa đơn", "Doanh thu", "Tiền mặt", "Khác"}}
	for _, id := range sortedKeys(report.Shifts) {
		s := report.Shifts[id]
		shifts = append(shifts, []any{id, s.UserName, s.StartTime.Format("2006-01-02 15:04"), s.Status, s.BillCount, s.TotalRevenue, s.TotalCash, s.TotalOtherPayments})
	}
	if err := writeRows(f, sheetShifts, shifts); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(sheetProducts); err != nil {
		return nil, err
	}
	products := [][]any{{"Mã", "Tên", "Nhóm", "Số lượng", "Doanh thu", "Giảm giá"}}
	for _, id := range sortedKeys(report.Products) {
		p := report.Products[id]
		products = append(products, []any{id, p.ProductName, p.ProductGroup, p.QuantitySold, p.TotalRevenue, p.TotalDiscount})
	}
	if err := writeRows(f, sheetProducts, products); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
