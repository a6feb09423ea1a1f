package aggregate

import (
	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/reportdate"
)

// newReportDocument builds the first version of a daily report. The store
// level and the single shift entry both equal the delta.
func newReportDocument(storeID string, day reportdate.Info, shift domain.Shift, delta Delta) docpath.Document {
	doc := docpath.Document{
		"storeId":        storeID,
		"reportDateKey":  day.Key,
		"date":           day.Date,
		"openingBalance": 0.0,
	}
	putTotals(doc, delta)

	entry := shiftMetadata(shift)
	putTotals(entry, delta)

	doc[fieldShifts] = docpath.Document{docpath.EscapeKey(shift.ID): entry}
	return doc
}

func putTotals(doc docpath.Document, delta Delta) {
	for _, f := range delta.fields() {
		doc[f.name] = f.value
	}
	methods := docpath.Document{}
	for _, key := range delta.paymentKeys() {
		methods[docpath.EscapeKey(key)] = delta.PaymentMethods[key]
	}
	doc[fieldPaymentMethods] = methods

	products := docpath.Document{}
	for _, key := range delta.productKeys() {
		p := delta.Products[key]
		products[docpath.EscapeKey(key)] = docpath.Document{
			fieldProductID:     p.ProductID,
			fieldProductName:   p.ProductName,
			fieldProductGroup:  p.ProductGroup,
			fieldQuantitySold:  p.QuantitySold,
			fieldProductTotal:  p.TotalRevenue,
			fieldProductDiscnt: p.TotalDiscount,
		}
	}
	doc[fieldProducts] = products
}

func shiftMetadata(shift domain.Shift) docpath.Document {
	return docpath.Document{
		"shiftId":        shift.ID,
		"userId":         shift.UserID,
		"userName":       shift.UserName,
		"startTime":      shift.StartTime,
		"status":         shift.Status,
		"endTime":        shift.EndTime,
		"openingBalance": shift.OpeningBalance,
	}
}

// reportUpdates turns a delta into path-scoped writes against an existing
// report. Every increment lands at the store level and under the shift entry.
// Maps are never replaced as a whole, so concurrent writers touching sibling
// keys do not clobber each other.
func reportUpdates(existing docpath.Document, shift domain.Shift, delta Delta) []docpath.Update {
	shiftKey := docpath.EscapeKey(shift.ID)
	both := func(op func(path ...string) docpath.Update, path ...string) []docpath.Update {
		shiftPath := append([]string{fieldShifts, shiftKey}, path...)
		return []docpath.Update{op(path...), op(shiftPath...)}
	}

	var updates []docpath.Update

	if _, found := docpath.Get(existing, fieldShifts, shiftKey); !found {
		meta := shiftMetadata(shift)
		for _, name := range []string{"shiftId", "userId", "userName", "startTime", "status", "endTime", "openingBalance"} {
			updates = append(updates, docpath.Set(meta[name], fieldShifts, shiftKey, name))
		}
	}

	for _, f := range delta.fields() {
		if f.value == 0 {
			continue
		}
		updates = append(updates, both(incrementBy(f.value), f.name)...)
	}

	for _, method := range delta.paymentKeys() {
		amount := delta.PaymentMethods[method]
		if amount == 0 {
			continue
		}
		updates = append(updates, both(incrementBy(amount), fieldPaymentMethods, docpath.EscapeKey(method))...)
	}

	for _, id := range delta.productKeys() {
		p := delta.Products[id]
		key := docpath.EscapeKey(id)
		updates = append(updates, both(setTo(p.ProductID), fieldProducts, key, fieldProductID)...)
		updates = append(updates, both(setTo(p.ProductName), fieldProducts, key, fieldProductName)...)
		updates = append(updates, both(setTo(p.ProductGroup), fieldProducts, key, fieldProductGroup)...)
		updates = append(updates, both(incrementBy(p.QuantitySold), fieldProducts, key, fieldQuantitySold)...)
		updates = append(updates, both(incrementBy(p.TotalRevenue), fieldProducts, key, fieldProductTotal)...)
		updates = append(updates, both(incrementBy(p.TotalDiscount), fieldProducts, key, fieldProductDiscnt)...)
	}
	return updates
}

func incrementBy(delta float64) func(path ...string) docpath.Update {
	return func(path ...string) docpath.Update {
		return docpath.Increment(delta, path...)
	}
}

func setTo(value any) func(path ...string) docpath.Update {
	return func(path ...string) docpath.Update {
		return docpath.Set(value, path...)
	}
}
