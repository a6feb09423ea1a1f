package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/reportdate"
)

func TestReportUpdatesSeedShiftMetadataOnlyWhenMissing(t *testing.T) {
	shift := domain.Shift{ID: "s2", UserID: "u2", UserName: "Minh", Status: domain.ShiftStatusOpen, StartTime: time.Unix(0, 0)}
	delta := Delta{Totals: domain.ReportTotals{BillCount: 1, TotalRevenue: 10}}

	missing := reportUpdates(docpath.Document{"shifts": map[string]any{"s1": map[string]any{}}}, shift, delta)
	present := reportUpdates(docpath.Document{"shifts": map[string]any{"s2": map[string]any{}}}, shift, delta)

	assert.Len(t, missing, len(present)+7)
	for _, u := range present {
		assert.Equal(t, docpath.OpIncrement, u.Op, u.Key())
	}
}

func TestReportUpdatesNeverTargetWholeMaps(t *testing.T) {
	shift := domain.Shift{ID: "s1"}
	delta := Delta{
		Totals:         domain.ReportTotals{BillCount: 1},
		PaymentMethods: map[string]float64{"Thẻ.Visa": 5},
		Products:       map[string]domain.ProductSale{"p1": {ProductID: "p1", ProductName: "A", QuantitySold: 1}},
	}
	for _, u := range reportUpdates(docpath.Document{}, shift, delta) {
		assert.NotEqual(t, fieldPaymentMethods, u.Path[len(u.Path)-1])
		assert.NotEqual(t, fieldProducts, u.Path[len(u.Path)-1])
	}

	doc := docpath.Document{}
	require.NoError(t, docpath.Apply(doc, reportUpdates(doc, shift, delta)))
	v, ok := docpath.Get(doc, "shifts", "s1", "paymentMethods", "Thẻ%2EVisa")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
}

func TestNewReportDocumentMirrorsShift(t *testing.T) {
	day := reportdate.Info{Key: "2024-03-01", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	delta := Delta{
		Totals:         domain.ReportTotals{BillCount: 1, TotalCash: 10},
		PaymentMethods: map[string]float64{"Tiền mặt": 10},
	}
	doc := newReportDocument("store-1", day, domain.Shift{ID: "s1", Status: domain.ShiftStatusOpen}, delta)

	assert.Equal(t, 0.0, doc["openingBalance"])
	top, _ := docpath.Get(doc, "paymentMethods", "Tiền mặt")
	nested, _ := docpath.Get(doc, "shifts", "s1", "paymentMethods", "Tiền mặt")
	assert.Equal(t, top, nested)
	status, _ := docpath.Get(doc, "shifts", "s1", "status")
	assert.Equal(t, domain.ShiftStatusOpen, status)
}
