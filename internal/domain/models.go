package domain

import "time"

const (
	StatusCompleted = "completed"

	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"

	CashTransactionRevenue = "revenue"
	CashTransactionExpense = "expense"

	RoleOwner = "owner"
)

type ServiceSetup struct {
	IsTimeBased bool `json:"isTimeBased" bson:"isTimeBased"`
}

// ProductSnapshot is the copy of the product embedded in a bill line at sale time.
type ProductSnapshot struct {
	ID           string        `json:"id" bson:"id"`
	ProductName  string        `json:"productName" bson:"productName"`
	ProductGroup string        `json:"productGroup,omitempty" bson:"productGroup,omitempty"`
	SellPrice    *float64      `json:"sellPrice,omitempty" bson:"sellPrice,omitempty"`
	ServiceSetup *ServiceSetup `json:"serviceSetup,omitempty" bson:"serviceSetup,omitempty"`
}

func (p *ProductSnapshot) TimeBased() bool {
	return p != nil && p.ServiceSetup != nil && p.ServiceSetup.IsTimeBased
}

type BillItem struct {
	Price         float64          `json:"price" bson:"price"`
	Quantity      float64          `json:"quantity" bson:"quantity"`
	DiscountValue float64          `json:"discountValue,omitempty" bson:"discountValue,omitempty"`
	DiscountUnit  string           `json:"discountUnit,omitempty" bson:"discountUnit,omitempty"`
	Subtotal      float64          `json:"subtotal" bson:"subtotal"`
	Product       *ProductSnapshot `json:"product,omitempty" bson:"product,omitempty"`
}

type Surcharge struct {
	Name      string  `json:"name" bson:"name"`
	Amount    float64 `json:"amount" bson:"amount"`
	IsPercent bool    `json:"isPercent" bson:"isPercent"`
}

type Bill struct {
	ID                  string             `json:"id,omitempty" bson:"_id,omitempty"`
	StoreID             string             `json:"storeId" bson:"storeId" validate:"required"`
	CreatedByUID        string             `json:"createdByUid" bson:"createdByUid" validate:"required"`
	CreatedByName       string             `json:"createdByName" bson:"createdByName" validate:"required"`
	CreatedAt           time.Time          `json:"createdAt" bson:"createdAt" validate:"required"`
	Status              string             `json:"status" bson:"status"`
	Items               []BillItem         `json:"items" bson:"items"`
	Subtotal            float64            `json:"subtotal" bson:"subtotal"`
	TotalPayable        float64            `json:"totalPayable" bson:"totalPayable"`
	TotalProfit         float64            `json:"totalProfit" bson:"totalProfit"`
	DebtAmount          float64            `json:"debtAmount" bson:"debtAmount"`
	Discount            float64            `json:"discount" bson:"discount"`
	VoucherDiscount     float64            `json:"voucherDiscount" bson:"voucherDiscount"`
	TaxAmount           float64            `json:"taxAmount" bson:"taxAmount"`
	CustomerPointsValue float64            `json:"customerPointsValue" bson:"customerPointsValue"`
	Surcharges          []Surcharge        `json:"surcharges,omitempty" bson:"surcharges,omitempty"`
	Payments            map[string]float64 `json:"payments,omitempty" bson:"payments,omitempty"`
	ShiftID             string             `json:"shiftId,omitempty" bson:"shiftId,omitempty"`
	ReportDateKey       string             `json:"reportDateKey,omitempty" bson:"reportDateKey,omitempty"`
}

type CashTransaction struct {
	ID            string    `json:"id,omitempty" bson:"_id,omitempty"`
	StoreID       string    `json:"storeId" bson:"storeId" validate:"required"`
	UserID        string    `json:"userId" bson:"userId" validate:"required"`
	User          string    `json:"user" bson:"user" validate:"required"`
	Date          time.Time `json:"date" bson:"date" validate:"required"`
	Amount        float64   `json:"amount" bson:"amount" validate:"required"`
	Type          string    `json:"type" bson:"type" validate:"oneof=revenue expense"`
	Status        string    `json:"status" bson:"status"`
	Note          string    `json:"note,omitempty" bson:"note,omitempty"`
	ShiftID       string    `json:"shiftId,omitempty" bson:"shiftId,omitempty"`
	ReportDateKey string    `json:"reportDateKey,omitempty" bson:"reportDateKey,omitempty"`
}

type Shift struct {
	ID             string     `json:"id" bson:"_id"`
	StoreID        string     `json:"storeId" bson:"storeId"`
	UserID         string     `json:"userId" bson:"userId"`
	UserName       string     `json:"userName" bson:"userName"`
	ReportDateKey  string     `json:"reportDateKey" bson:"reportDateKey"`
	StartTime      time.Time  `json:"startTime" bson:"startTime"`
	EndTime        *time.Time `json:"endTime" bson:"endTime"`
	Status         string     `json:"status" bson:"status"`
	OpeningBalance float64    `json:"openingBalance" bson:"openingBalance"`
}

// ReportTotals is the numeric shape shared by the store-day level and every shift entry.
type ReportTotals struct {
	BillCount            float64 `json:"billCount" bson:"billCount"`
	TotalRevenue         float64 `json:"totalRevenue" bson:"totalRevenue"`
	TotalProfit          float64 `json:"totalProfit" bson:"totalProfit"`
	TotalDebt            float64 `json:"totalDebt" bson:"totalDebt"`
	TotalDiscount        float64 `json:"totalDiscount" bson:"totalDiscount"`
	TotalBillDiscount    float64 `json:"totalBillDiscount" bson:"totalBillDiscount"`
	TotalVoucherDiscount float64 `json:"totalVoucherDiscount" bson:"totalVoucherDiscount"`
	TotalPointsValue     float64 `json:"totalPointsValue" bson:"totalPointsValue"`
	TotalTax             float64 `json:"totalTax" bson:"totalTax"`
	TotalSurcharges      float64 `json:"totalSurcharges" bson:"totalSurcharges"`
	TotalCash            float64 `json:"totalCash" bson:"totalCash"`
	TotalOtherPayments   float64 `json:"totalOtherPayments" bson:"totalOtherPayments"`
	TotalOtherRevenue    float64 `json:"totalOtherRevenue" bson:"totalOtherRevenue"`
	TotalOtherExpense    float64 `json:"totalOtherExpense" bson:"totalOtherExpense"`
}

type ProductSale struct {
	ProductID     string  `json:"productId" bson:"productId"`
	ProductName   string  `json:"productName" bson:"productName"`
	ProductGroup  string  `json:"productGroup" bson:"productGroup"`
	QuantitySold  float64 `json:"quantitySold" bson:"quantitySold"`
	TotalRevenue  float64 `json:"totalRevenue" bson:"totalRevenue"`
	TotalDiscount float64 `json:"totalDiscount" bson:"totalDiscount"`
}

type ShiftReport struct {
	ReportTotals   `bson:",inline"`
	ShiftID        string                 `json:"shiftId" bson:"shiftId"`
	UserID         string                 `json:"userId" bson:"userId"`
	UserName       string                 `json:"userName" bson:"userName"`
	StartTime      time.Time              `json:"startTime" bson:"startTime"`
	EndTime        *time.Time             `json:"endTime" bson:"endTime"`
	Status         string                 `json:"status" bson:"status"`
	OpeningBalance float64                `json:"openingBalance" bson:"openingBalance"`
	PaymentMethods map[string]float64     `json:"paymentMethods,omitempty" bson:"paymentMethods,omitempty"`
	Products       map[string]ProductSale `json:"products,omitempty" bson:"products,omitempty"`
}

// DailyReport is the typed read view of a daily_reports document. Map keys
// are stored escaped; readers unescape them before handing the report out.
type DailyReport struct {
	ID             string                 `json:"id,omitempty" bson:"_id,omitempty"`
	StoreID        string                 `json:"storeId" bson:"storeId"`
	ReportDateKey  string                 `json:"reportDateKey" bson:"reportDateKey"`
	Date           time.Time              `json:"date" bson:"date"`
	OpeningBalance float64                `json:"openingBalance" bson:"openingBalance"`
	ReportTotals   `bson:",inline"`
	PaymentMethods map[string]float64     `json:"paymentMethods,omitempty" bson:"paymentMethods,omitempty"`
	Products       map[string]ProductSale `json:"products,omitempty" bson:"products,omitempty"`
	Shifts         map[string]ShiftReport `json:"shifts,omitempty" bson:"shifts,omitempty"`
}

type StoreSettings struct {
	StoreID            string `json:"storeId" bson:"_id"`
	ReportCutoffHour   int    `json:"reportCutoffHour" bson:"reportCutoffHour"`
	ReportCutoffMinute int    `json:"reportCutoffMinute" bson:"reportCutoffMinute"`
}

type Product struct {
	ID          string  `json:"id" bson:"_id"`
	StoreID     string  `json:"storeId" bson:"storeId"`
	ProductName string  `json:"productName" bson:"productName"`
	Stock       float64 `json:"stock" bson:"stock"`
	MinStock    float64 `json:"minStock" bson:"minStock"`
}

type UserAccount struct {
	UID                    string     `json:"uid" bson:"_id"`
	PhoneNumber            string     `json:"phoneNumber" bson:"phoneNumber"`
	DisplayName            string     `json:"displayName" bson:"displayName"`
	PasswordHash           string     `json:"-" bson:"passwordHash"`
	Role                   string     `json:"role" bson:"role"`
	StoreID                string     `json:"storeId" bson:"storeId"`
	Active                 bool       `json:"active" bson:"active"`
	SubscriptionExpiryDate *time.Time `json:"subscriptionExpiryDate,omitempty" bson:"subscriptionExpiryDate,omitempty"`
	FCMTokens              []string   `json:"fcmTokens,omitempty" bson:"fcmTokens,omitempty"`
}

// UserFilter matches users by equality; empty fields do not constrain.
type UserFilter struct {
	Role        string
	StoreID     string
	PhoneNumber string
}

type Actor struct {
	UID         string
	DisplayName string
	Role        string
	StoreID     string
}

type LoginRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	Password    string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	ExpiresAt   string `json:"expires_at"`
}

type RegistrationCheckRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required_without=StoreID"`
	StoreID     string `json:"storeId" validate:"required_without=PhoneNumber"`
}

type AndroidHints struct {
	Priority  string `json:"priority,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

type APNSHints struct {
	Sound string `json:"sound,omitempty"`
	Badge int    `json:"badge,omitempty"`
}

// PushMessage is what the notification sink delivers to device tokens.
type PushMessage struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Android AndroidHints      `json:"android"`
	APNS    APNSHints         `json:"apns"`
	Data    map[string]string `json:"data,omitempty"`
}
