package store

import (
	"encoding/json"

	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
)

func decodeReport(doc docpath.Document) (*domain.DailyReport, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var report domain.DailyReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}
	UnescapeReportKeys(&report)
	return &report, nil
}

// UnescapeReportKeys rewrites escaped map keys back to their original form.
func UnescapeReportKeys(report *domain.DailyReport) {
	report.PaymentMethods = unescapeAmounts(report.PaymentMethods)
	report.Products = unescapeProducts(report.Products)
	if len(report.Shifts) == 0 {
		return
	}
	shifts := make(map[string]domain.ShiftReport, len(report.Shifts))
	for key, shift := range report.Shifts {
		shift.PaymentMethods = unescapeAmounts(shift.PaymentMethods)
		shift.Products = unescapeProducts(shift.Products)
		shifts[docpath.UnescapeKey(key)] = shift
	}
	report.Shifts = shifts
}

func unescapeAmounts(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]float64, len(in))
	for key, v := range in {
		out[docpath.UnescapeKey(key)] = v
	}
	return out
}

func unescapeProducts(in map[string]domain.ProductSale) map[string]domain.ProductSale {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]domain.ProductSale, len(in))
	for key, v := range in {
		out[docpath.UnescapeKey(key)] = v
	}
	return out
}
