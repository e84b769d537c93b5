package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

func (s Status) String() string {
	return string(s)
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusReturned:  true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
	StatusReturned:  {},
}

// CanTransition reports whether the status state machine allows from → to.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// paymentRank orders payment statuses so late or duplicated provider events
// can be recognised as stale: an order never moves to a lower-ranked status.
var paymentRank = map[PaymentStatus]int{
	PaymentPending:  0,
	PaymentFailed:   1,
	PaymentPaid:     2,
	PaymentRefunded: 3,
}

// PaymentRank returns the monotonic position of a payment status.
func PaymentRank(s PaymentStatus) int {
	return paymentRank[s]
}

type PaymentMethod string

const (
	MethodCard           PaymentMethod = "card"
	MethodBankTransfer   PaymentMethod = "bank_transfer"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodBankTransfer, MethodCashOnDelivery:
		return true
	}
	return false
}

type Address struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Line1    string `json:"line1"`
	City     string `json:"city"`
	State    string `json:"state"`
	Country  string `json:"country"`
}

// OrderItem is an immutable snapshot of a product at purchase time. Name,
// image and price are copies; later catalog changes never touch it.
type OrderItem struct {
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	Image     string    `json:"image" db:"image"`
	Price     float64   `json:"price" db:"price"`
	Quantity  int       `json:"quantity" db:"quantity"`
	LineTotal float64   `json:"line_total" db:"line_total"`
}

// StatusEvent is one entry of the append-only status history.
type StatusEvent struct {
	Status Status    `json:"status" db:"status"`
	Note   string    `json:"note" db:"note"`
	At     time.Time `json:"at" db:"at"`
}

type Order struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	OrderNumber      string         `json:"order_number" db:"order_number"`
	UserID           uuid.UUID      `json:"user_id" db:"user_id"`
	Items            []OrderItem    `json:"items" db:"-"`
	ShippingAddress  Address        `json:"shipping_address"`
	PaymentMethod    PaymentMethod  `json:"payment_method" db:"payment_method"`
	PaymentStatus    PaymentStatus  `json:"payment_status" db:"payment_status"`
	PaymentReference string         `json:"payment_reference" db:"payment_reference"`
	PaymentDetails   map[string]any `json:"payment_details" db:"payment_details"`
	Subtotal         float64        `json:"subtotal" db:"subtotal"`
	ShippingFee      float64        `json:"shipping_fee" db:"shipping_fee"`
	Tax              float64        `json:"tax" db:"tax"`
	Discount         float64        `json:"discount" db:"discount"`
	TotalAmount      float64        `json:"total_amount" db:"total_amount"`
	Status           Status         `json:"status" db:"status"`
	StatusHistory    []StatusEvent  `json:"status_history" db:"-"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// CheckoutItem names a requested purchase line. When a checkout request
// carries no explicit items the order is sourced from the user's cart.
type CheckoutItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type CheckoutRequest struct {
	UserID          uuid.UUID      `json:"user_id"`
	Items           []CheckoutItem `json:"items"`
	ShippingAddress Address        `json:"shipping_address"`
	PaymentMethod   PaymentMethod  `json:"payment_method"`
	Discount        float64        `json:"discount"`
}

// Filter narrows and pages an order listing. Zero values mean "no filter".
type Filter struct {
	UserID        uuid.UUID
	Status        Status
	PaymentStatus PaymentStatus
	Page          int
	Limit         int
}

type Page struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
}

// StatusCount is one row of the aggregate stats: orders and revenue per
// status. Revenue only counts paid orders.
type StatusCount struct {
	Status  Status  `json:"status"`
	Count   int     `json:"count"`
	Revenue float64 `json:"revenue"`
}

type Stats struct {
	TotalOrders  int           `json:"total_orders"`
	TotalRevenue float64       `json:"total_revenue"`
	ByStatus     []StatusCount `json:"by_status"`
}

type FailedDelete struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// BulkDeleteReport summarises a best-effort bulk delete.
type BulkDeleteReport struct {
	Deleted []uuid.UUID    `json:"deleted"`
	Failed  []FailedDelete `json:"failed"`
}
