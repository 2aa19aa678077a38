package commerce

import (
	"time"

	"github.com/uptrace/bun"
)

// Order statuses. Purchases commit straight to completed; failed rows only
// appear if a later fulfillment step downgrades them.
const (
	OrderStatusCompleted = "completed"
	OrderStatusPending   = "pending"
	OrderStatusFailed    = "failed"
)

// Product is read-only from this module's perspective; catalog writes belong
// to the admin surface.
type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Name          string    `bun:"name,notnull" json:"name"`
	Description   string    `bun:"description" json:"description"`
	SKU           string    `bun:"sku" json:"sku"`
	Category      string    `bun:"category" json:"category"`
	Brand         string    `bun:"brand" json:"brand"`
	Price         float64   `bun:"price,notnull" json:"price"`
	StockQuantity int       `bun:"stock_quantity,notnull,default:0" json:"stock_quantity"`
	IsActive      bool      `bun:"is_active,notnull,default:true" json:"is_active"`
	IsFeatured    bool      `bun:"is_featured,notnull,default:false" json:"is_featured"`
	PrimaryImage  string    `bun:"primary_image" json:"primary_image,omitempty"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Voucher transitions unused -> used exactly once and is immutable after.
type Voucher struct {
	bun.BaseModel `bun:"table:vouchers,alias:v"`

	ID                 int64      `bun:"id,pk,autoincrement" json:"id"`
	Code               string     `bun:"code,notnull,unique" json:"code"`
	Amount             float64    `bun:"amount,notnull" json:"amount"`
	IsUsed             bool       `bun:"is_used,notnull,default:false" json:"is_used"`
	GeneratedBySession string     `bun:"generated_by_session" json:"-"`
	UsedBySession      string     `bun:"used_by_session" json:"-"`
	UsedAt             *time.Time `bun:"used_at" json:"used_at,omitempty"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	ExpiresAt          *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
}

// Order references its voucher by code. The unique constraint on voucher_code
// is the purchase idempotency key: at most one order per voucher.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID          int64        `bun:"id,pk,autoincrement" json:"id"`
	SessionID   string       `bun:"session_id,notnull" json:"session_id"`
	VoucherCode string       `bun:"voucher_code,nullzero,unique" json:"voucher_code,omitempty"`
	TotalAmount float64      `bun:"total_amount,notnull" json:"total_amount"`
	Status      string       `bun:"status,notnull,default:'completed'" json:"status"`
	CreatedAt   time.Time    `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	Items       []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items"`
}

// OrderItem is a frozen snapshot of the cart line at purchase time; it is
// never re-derived from the mutable catalog.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID          int64   `bun:"id,pk,autoincrement" json:"id"`
	OrderID     int64   `bun:"order_id,notnull" json:"-"`
	ProductID   int64   `bun:"product_id,notnull" json:"product_id"`
	ProductName string  `bun:"product_name,notnull" json:"product_name"`
	Quantity    int     `bun:"quantity,notnull" json:"quantity"`
	UnitPrice   float64 `bun:"unit_price,notnull" json:"unit_price"`
	Subtotal    float64 `bun:"subtotal,notnull" json:"subtotal"`
}

// ShippingInfo is one mutable row per session; no history is kept.
type ShippingInfo struct {
	bun.BaseModel `bun:"table:shipping_info,alias:s"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	SessionID string    `bun:"session_id,notnull,unique" json:"session_id"`
	FullName  string    `bun:"full_name,notnull" json:"full_name"`
	Address   string    `bun:"address,notnull" json:"address"`
	City      string    `bun:"city,notnull" json:"city"`
	ZipCode   string    `bun:"zip_code,notnull" json:"zip_code"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}
