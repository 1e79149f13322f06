// Package domain defines the persistence models for the marketplace
// settlement engine: products, RFQs, quotes, negotiations with their
// message transcripts, and the orders produced by settlement. These types
// are mapped with GORM and form the core data layer of the application.
//
// All monetary fields use decimal.Decimal so that order totals are exact
// (unit price × quantity never goes through floating point) and serialize
// as decimal strings on the wire.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RFQ lifecycle states. An RFQ leaves "open" either through quote
// acceptance (→ accepted) or a manual transition by its buyer
// (→ closed / rejected). "accepted" and "closed" are terminal.
const (
	RFQStatusOpen     = "open"
	RFQStatusQuoted   = "quoted"
	RFQStatusAccepted = "accepted"
	RFQStatusRejected = "rejected"
	RFQStatusClosed   = "closed"
)

// Order lifecycle states, from settlement to fulfillment.
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Negotiation message senders.
const (
	SenderBuyer  = "buyer"
	SenderVendor = "vendor"
	SenderAI     = "ai"
)

// Quote row states. "pending" until the parent RFQ settles, then exactly
// one quote is "accepted" and the rest are "rejected".
const (
	QuoteStatusPending  = "pending"
	QuoteStatusAccepted = "accepted"
	QuoteStatusRejected = "rejected"
)

// Product is the catalog record the settlement engine reads when a buyer
// opens a negotiation (it supplies the vendor and the list price) and when
// the AI adapter builds a prompt. Catalog management itself lives outside
// this service; only the read path is exercised here.
type Product struct {
	ID               string          `json:"id"                 gorm:"type:char(36);primaryKey"`
	VendorID         string          `json:"vendor_id"          gorm:"type:varchar(64);not null;index"`
	Name             string          `json:"name"               gorm:"type:varchar(255);not null"`
	Description      string          `json:"description"        gorm:"type:text"`
	Price            decimal.Decimal `json:"price"              gorm:"type:decimal(10,2);not null"`
	MinOrderQuantity int             `json:"min_order_quantity" gorm:"not null;default:1"`
	StockQuantity    int             `json:"stock_quantity"     gorm:"not null;default:0"`
	IsActive         bool            `json:"is_active"          gorm:"not null;default:true"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// RFQ is a buyer's request for quote. Vendors respond with at most one
// Quote each; accepting a quote settles the RFQ.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - BuyerID: owner of the request; indexed for role-filtered listings.
//   - ProductID: optional reference product.
//   - TargetPrice / Deadline: optional buyer expectations.
//   - Status: one of the RFQStatus* constants. Immutable once accepted
//     or closed.
type RFQ struct {
	ID          string           `json:"id"           gorm:"type:char(36);primaryKey"`
	BuyerID     string           `json:"buyer_id"     gorm:"type:varchar(64);not null;index:idx_rfq_buyer"`
	ProductID   *string          `json:"product_id,omitempty" gorm:"type:char(36)"`
	Title       string           `json:"title"        gorm:"type:varchar(255);not null"`
	Description string           `json:"description"  gorm:"type:text"`
	Quantity    int              `json:"quantity"     gorm:"not null"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty" gorm:"type:decimal(10,2)"`
	Deadline    *time.Time       `json:"deadline,omitempty"`
	Status      string           `json:"status"       gorm:"type:varchar(16);not null;default:'open';check:status IN ('open','quoted','accepted','rejected','closed')"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TableName returns the database table name for RFQ.
func (RFQ) TableName() string { return "rfqs" }

// Quote is a vendor's priced response to an RFQ. A vendor holds at most one
// quote per RFQ (unique index); resubmitting updates the existing row.
// At most one quote per RFQ may ever have IsAccepted = true.
type Quote struct {
	ID           string          `json:"id"            gorm:"type:char(36);primaryKey"`
	RFQID        string          `json:"rfq_id"        gorm:"type:char(36);not null;index;uniqueIndex:ux_quote_rfq_vendor"`
	VendorID     string          `json:"vendor_id"     gorm:"type:varchar(64);not null;index;uniqueIndex:ux_quote_rfq_vendor"`
	Price        decimal.Decimal `json:"price"         gorm:"type:decimal(10,2);not null"`
	Quantity     int             `json:"quantity"      gorm:"not null"`
	DeliveryTime string          `json:"delivery_time" gorm:"type:varchar(128)"`
	ValidUntil   *time.Time      `json:"valid_until,omitempty"`
	Notes        string          `json:"notes"         gorm:"type:text"`
	IsAccepted   bool            `json:"is_accepted"   gorm:"not null;default:false"`
	Status       string          `json:"status"        gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','accepted','rejected')"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// RFQ is the parent request. Quotes are cascade-deleted with it.
	RFQ RFQ `json:"-" gorm:"foreignKey:RFQID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Quote.
func (Quote) TableName() string { return "quotes" }

// Negotiation is a bilateral price discussion between one buyer and one
// vendor over one product. CurrentPrice always reflects the latest offer
// from either side (or the AI); FinalPrice is set once on acceptance.
// The negotiation is terminal once IsActive = false.
type Negotiation struct {
	ID           string           `json:"id"            gorm:"type:char(36);primaryKey"`
	ProductID    string           `json:"product_id"    gorm:"type:char(36);not null;index"`
	BuyerID      string           `json:"buyer_id"      gorm:"type:varchar(64);not null;index:idx_neg_buyer"`
	VendorID     string           `json:"vendor_id"     gorm:"type:varchar(64);not null;index:idx_neg_vendor"`
	Quantity     int              `json:"quantity"      gorm:"not null;default:1"`
	InitialPrice decimal.Decimal  `json:"initial_price" gorm:"type:decimal(10,2);not null"`
	CurrentPrice decimal.Decimal  `json:"current_price" gorm:"type:decimal(10,2);not null"`
	FinalPrice   *decimal.Decimal `json:"final_price,omitempty" gorm:"type:decimal(10,2)"`
	IsActive     bool             `json:"is_active"     gorm:"not null;default:true"`
	IsAccepted   bool             `json:"is_accepted"   gorm:"not null;default:false"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`

	// Messages is the authoritative transcript, in append order.
	Messages []NegotiationMessage `json:"messages" gorm:"foreignKey:NegotiationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Negotiation.
func (Negotiation) TableName() string { return "negotiations" }

// AIData carries the structured reasoning block attached to AI-authored
// negotiation messages. It is stored as a JSON text column.
type AIData struct {
	Reasoning           string `json:"reasoning"`
	Recommendation      string `json:"recommendation"`
	MarketJustification string `json:"market_justification"`
}

// Value implements driver.Valuer so GORM can persist AIData as JSON text.
func (d AIData) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for reading AIData back from the database.
func (d *AIData) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = AIData{}
		return nil
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return errors.New("ai_data: unsupported column type")
	}
}

// NegotiationMessage is one immutable entry of a negotiation transcript.
// Appending is the only mutation; rows are never edited or removed.
// Seq is a per-negotiation monotonically increasing sequence assigned at
// insert time; it is the append order the realtime layer must preserve.
type NegotiationMessage struct {
	ID            string           `json:"id"             gorm:"type:char(36);primaryKey"`
	NegotiationID string           `json:"negotiation_id" gorm:"type:char(36);not null;index:idx_neg_msgs,priority:1"`
	Seq           int64            `json:"seq"            gorm:"not null;index:idx_neg_msgs,priority:2"`
	Sender        string           `json:"sender"         gorm:"type:varchar(8);not null;check:sender IN ('buyer','vendor','ai')"`
	SenderID      string           `json:"sender_id"      gorm:"type:varchar(64);not null"`
	Message       string           `json:"message"        gorm:"type:text"`
	Offer         *decimal.Decimal `json:"offer,omitempty" gorm:"type:decimal(10,2)"`
	AIData        *AIData          `json:"ai_data,omitempty" gorm:"type:text"`
	CreatedAt     time.Time        `json:"timestamp"`
}

// TableName returns the database table name for NegotiationMessage.
func (NegotiationMessage) TableName() string { return "negotiation_messages" }

// Order is the settlement artifact, created exactly once per successful
// quote acceptance or negotiation acceptance and never speculatively.
// TotalAmount is UnitPrice × Quantity, computed with decimal arithmetic.
type Order struct {
	ID            string          `json:"id"             gorm:"type:char(36);primaryKey"`
	OrderNumber   string          `json:"order_number"   gorm:"type:varchar(64);not null;uniqueIndex"`
	BuyerID       string          `json:"buyer_id"       gorm:"type:varchar(64);not null;index:idx_order_buyer"`
	VendorID      string          `json:"vendor_id"      gorm:"type:varchar(64);not null;index:idx_order_vendor"`
	ProductID     *string         `json:"product_id,omitempty" gorm:"type:char(36)"`
	RFQID         *string         `json:"rfq_id,omitempty"     gorm:"type:char(36)"`
	QuoteID       *string         `json:"quote_id,omitempty"   gorm:"type:char(36)"`
	NegotiationID *string         `json:"negotiation_id,omitempty" gorm:"type:char(36)"`
	Quantity      int             `json:"quantity"       gorm:"not null"`
	UnitPrice     decimal.Decimal `json:"unit_price"     gorm:"type:decimal(10,2);not null"`
	TotalAmount   decimal.Decimal `json:"total_amount"   gorm:"type:decimal(10,2);not null"`
	Status        string          `json:"status"         gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','confirmed','processing','shipped','delivered','cancelled')"`
	Notes         string          `json:"notes"          gorm:"type:text"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }
