package models

import "time"

// PaymentStatus represents the ledger state of a checkout session.
type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "CREATED"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is one ledger row per checkout session. Rows are created with a
// zero amount and reconciled by gateway events; never deleted.
type Payment struct {
	ID            string        `db:"id" json:"id"`
	SessionID     string        `db:"session_id" json:"session_id"`
	UserID        string        `db:"user_id" json:"user_id"`
	CourseID      string        `db:"course_id" json:"course_id"`
	Amount        int64         `db:"amount" json:"amount"`
	Currency      string        `db:"currency" json:"currency"`
	Status        PaymentStatus `db:"status" json:"status"`
	CustomerEmail string        `db:"customer_email" json:"customer_email"`
	CustomerName  string        `db:"customer_name" json:"customer_name"`
	PaymentMethod *string       `db:"payment_method" json:"payment_method,omitempty"`
	PaymentIntent *string       `db:"payment_intent" json:"payment_intent,omitempty"`
	Metadata      []byte        `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// PaymentFilter provides filters for listing ledger rows.
type PaymentFilter struct {
	UserID    string
	CourseID  string
	Status    PaymentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CheckoutSession is returned when a checkout session is opened.
type CheckoutSession struct {
	SessionID  string  `json:"session_id"`
	CourseID   string  `json:"course_id"`
	ProductRef *string `json:"product_ref,omitempty"`
	PriceRef   *string `json:"price_ref,omitempty"`
	Currency   string  `json:"currency"`
}

// GatewayEvent is a normalized webhook event from the checkout provider.
// Parsing the provider payload happens outside the core.
type GatewayEvent struct {
	Type          string `json:"type" validate:"required"`
	SessionID     string `json:"session_id" validate:"required"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
	PaymentMethod string `json:"payment_method"`
	PaymentIntent string `json:"payment_intent"`
}

// Gateway event types the ledger understands.
const (
	GatewayEventCompleted = "checkout.completed"
	GatewayEventFailed    = "checkout.failed"
	GatewayEventRefunded  = "charge.refunded"
)
