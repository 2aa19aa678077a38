// Package commerce is the DB-backed order/voucher transaction engine. All
// shared persisted state (orders, vouchers, shipping) is mutated here, one
// commit per purchase attempt, with the voucher-code uniqueness on orders
// serving as the idempotency key.
package commerce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	cartx "github.com/shoplytic/agent/agent/cart"
)

const (
	// VoucherAmount is the fixed face value of generated vouchers.
	VoucherAmount = 2000.00

	recentOrdersDefault = 5
)

type Config struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

// NewDB opens a bun handle over the Postgres driver.
func NewDB(cfg Config) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(strings.TrimSpace(cfg.DSN))))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Store wraps every persisted commerce operation.
type Store struct {
	db bun.IDB
}

func NewStore(db bun.IDB) *Store {
	return &Store{db: db}
}

/* -------------------------------- Products ------------------------------- */

// GetProduct fetches one catalog row. Returns (nil, nil) when absent.
func (s *Store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	product := new(Product)
	err := s.db.NewSelect().Model(product).Where("p.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

// ProductQuery filters and paginates the catalog read used by the API.
type ProductQuery struct {
	Search     string
	Category   string
	Brand      string
	MinPrice   *float64
	MaxPrice   *float64
	IsFeatured *bool
	IsActive   *bool
	Page       int
	PageSize   int
}

// SearchProducts runs a SQL catalog read (distinct from the vector search the
// handlers use). Returns the page plus the total match count.
func (s *Store) SearchProducts(ctx context.Context, q ProductQuery) ([]Product, int, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var products []Product
	sel := s.db.NewSelect().Model(&products)

	if q.IsActive != nil {
		sel = sel.Where("p.is_active = ?", *q.IsActive)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		sel = sel.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("lower(p.name) LIKE ?", pattern).
				WhereOr("lower(p.description) LIKE ?", pattern).
				WhereOr("lower(p.sku) LIKE ?", pattern)
		})
	}
	if q.Category != "" {
		sel = sel.Where("p.category = ?", q.Category)
	}
	if q.Brand != "" {
		sel = sel.Where("p.brand = ?", q.Brand)
	}
	if q.MinPrice != nil {
		sel = sel.Where("p.price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		sel = sel.Where("p.price <= ?", *q.MaxPrice)
	}
	if q.IsFeatured != nil {
		sel = sel.Where("p.is_featured = ?", *q.IsFeatured)
	}

	total, err := sel.
		Order("p.created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("search products: %w", err)
	}
	return products, total, nil
}

/* -------------------------------- Vouchers ------------------------------- */

// IssueVoucher returns the session's existing unused voucher or mints a new
// one at the fixed face value.
func (s *Store) IssueVoucher(ctx context.Context, sessionID string) (*Voucher, error) {
	existing := new(Voucher)
	err := s.db.NewSelect().Model(existing).
		Where("v.generated_by_session = ?", sessionID).
		Where("v.is_used = ?", false).
		Limit(1).
		Scan(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select voucher: %w", err)
	}

	voucher := &Voucher{
		Code:               newVoucherCode(),
		Amount:             VoucherAmount,
		GeneratedBySession: sessionID,
	}
	if _, err := s.db.NewInsert().Model(voucher).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert voucher: %w", err)
	}
	return voucher, nil
}

// GetVoucher fetches a voucher by code. Returns (nil, nil) when absent.
func (s *Store) GetVoucher(ctx context.Context, code string) (*Voucher, error) {
	voucher := new(Voucher)
	err := s.db.NewSelect().Model(voucher).Where("v.code = ?", code).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select voucher: %w", err)
	}
	return voucher, nil
}

func newVoucherCode() string {
	entropy := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "VOUCHER-" + entropy[:16]
}

/* -------------------------------- Shipping ------------------------------- */

// ShippingFields is the full shipping payload for create-or-replace.
type ShippingFields struct {
	FullName string
	Address  string
	City     string
	ZipCode  string
}

func (f ShippingFields) Validate() error {
	if strings.TrimSpace(f.FullName) == "" || len(f.FullName) > 255 {
		return errors.New("full name is required and must be 255 characters or less")
	}
	if strings.TrimSpace(f.Address) == "" || len(f.Address) > 500 {
		return errors.New("address is required and must be 500 characters or less")
	}
	if strings.TrimSpace(f.City) == "" || len(f.City) > 100 {
		return errors.New("city is required and must be 100 characters or less")
	}
	if strings.TrimSpace(f.ZipCode) == "" || len(f.ZipCode) > 20 {
		return errors.New("zip code is required and must be 20 characters or less")
	}
	return nil
}

// ShippingPatch applies partial updates; nil fields are left untouched.
type ShippingPatch struct {
	FullName *string
	Address  *string
	City     *string
	ZipCode  *string
}

// GetShipping fetches the session's shipping row. Returns (nil, nil) when absent.
func (s *Store) GetShipping(ctx context.Context, sessionID string) (*ShippingInfo, error) {
	info := new(ShippingInfo)
	err := s.db.NewSelect().Model(info).Where("s.session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select shipping info: %w", err)
	}
	return info, nil
}

// SaveShipping creates the session's shipping row or replaces it in full.
// Returns the stored row and whether it was newly created.
func (s *Store) SaveShipping(ctx context.Context, sessionID string, fields ShippingFields) (*ShippingInfo, bool, error) {
	if err := fields.Validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.GetShipping(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	if existing != nil {
		existing.FullName = strings.TrimSpace(fields.FullName)
		existing.Address = strings.TrimSpace(fields.Address)
		existing.City = strings.TrimSpace(fields.City)
		existing.ZipCode = strings.TrimSpace(fields.ZipCode)
		existing.UpdatedAt = now
		if _, err := s.db.NewUpdate().Model(existing).
			Column("full_name", "address", "city", "zip_code", "updated_at").
			WherePK().
			Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("update shipping info: %w", err)
		}
		return existing, false, nil
	}

	info := &ShippingInfo{
		SessionID: sessionID,
		FullName:  strings.TrimSpace(fields.FullName),
		Address:   strings.TrimSpace(fields.Address),
		City:      strings.TrimSpace(fields.City),
		ZipCode:   strings.TrimSpace(fields.ZipCode),
	}
	if _, err := s.db.NewInsert().Model(info).Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("insert shipping info: %w", err)
	}
	return info, true, nil
}

// PatchShipping updates only the provided fields. Returns the updated row and
// the names of the fields that changed; ErrNoShippingInfo when no row exists.
func (s *Store) PatchShipping(ctx context.Context, sessionID string, patch ShippingPatch) (*ShippingInfo, []string, error) {
	existing, err := s.GetShipping(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if existing == nil {
		return nil, nil, ErrNoShippingInfo
	}

	var updated []string
	if patch.FullName != nil {
		v := strings.TrimSpace(*patch.FullName)
		if v == "" || len(v) > 255 {
			return nil, nil, errors.New("full name must be non-empty and 255 characters or less")
		}
		existing.FullName = v
		updated = append(updated, "Full Name")
	}
	if patch.Address != nil {
		v := strings.TrimSpace(*patch.Address)
		if v == "" || len(v) > 500 {
			return nil, nil, errors.New("address must be non-empty and 500 characters or less")
		}
		existing.Address = v
		updated = append(updated, "Address")
	}
	if patch.City != nil {
		v := strings.TrimSpace(*patch.City)
		if v == "" || len(v) > 100 {
			return nil, nil, errors.New("city must be non-empty and 100 characters or less")
		}
		existing.City = v
		updated = append(updated, "City")
	}
	if patch.ZipCode != nil {
		v := strings.TrimSpace(*patch.ZipCode)
		if v == "" || len(v) > 20 {
			return nil, nil, errors.New("zip code must be non-empty and 20 characters or less")
		}
		existing.ZipCode = v
		updated = append(updated, "Zip Code")
	}
	if len(updated) == 0 {
		return nil, nil, errors.New("no valid fields provided to update")
	}

	existing.UpdatedAt = time.Now().UTC()
	if _, err := s.db.NewUpdate().Model(existing).
		Column("full_name", "address", "city", "zip_code", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("update shipping info: %w", err)
	}
	return existing, updated, nil
}

/* --------------------------------- Orders -------------------------------- */

// RecentOrders returns the session's newest orders with items, capped at limit.
func (s *Store) RecentOrders(ctx context.Context, sessionID string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = recentOrdersDefault
	}
	var orders []Order
	err := s.db.NewSelect().Model(&orders).
		Relation("Items").
		Where("o.session_id = ?", sessionID).
		Order("o.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return orders, nil
}

// GetOrder fetches one order with items, scoped to the owning session.
// Returns (nil, nil) when absent or owned by another session.
func (s *Store) GetOrder(ctx context.Context, sessionID string, orderID int64) (*Order, error) {
	order := new(Order)
	err := s.db.NewSelect().Model(order).
		Relation("Items").
		Where("o.id = ?", orderID).
		Where("o.session_id = ?", sessionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

// OrderByVoucher fetches the order referencing a voucher code, if any.
func (s *Store) OrderByVoucher(ctx context.Context, voucherCode string) (*Order, error) {
	order := new(Order)
	err := s.db.NewSelect().Model(order).
		Relation("Items").
		Where("o.voucher_code = ?", voucherCode).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select order by voucher: %w", err)
	}
	return order, nil
}

/* -------------------------------- Purchase ------------------------------- */

// PurchaseResult is the committed (or converged) outcome of a purchase attempt.
type PurchaseResult struct {
	AlreadyPlaced bool
	Order         *Order
	CartTotal     float64
	VoucherAmount float64
}

func (r PurchaseResult) RemainingBalance() float64 {
	return r.VoucherAmount - r.CartTotal
}

// Purchase converts the cart snapshot plus a voucher into a durable order in
// one atomic commit: idempotency check, used-flag consistency check, balance
// check, then order + items insert and voucher consumption. The caller clears
// the in-memory cart only after a nil error with AlreadyPlaced false.
//
// Concurrent duplicates are convergent rather than mutually exclusive: the
// loser of the unique voucher_code race re-reads the winner's order and
// reports AlreadyPlaced.
func (s *Store) Purchase(ctx context.Context, sessionID, voucherCode string, items []cartx.Item) (*PurchaseResult, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	var cartTotal float64
	for _, item := range items {
		cartTotal += item.Subtotal()
	}

	var result *PurchaseResult
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		shipping := new(ShippingInfo)
		err := tx.NewSelect().Model(shipping).Where("s.session_id = ?", sessionID).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoShippingInfo
		}
		if err != nil {
			return fmt.Errorf("select shipping info: %w", err)
		}

		voucher := new(Voucher)
		err = tx.NewSelect().Model(voucher).Where("v.code = ?", voucherCode).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrVoucherNotFound, voucherCode)
		}
		if err != nil {
			return fmt.Errorf("select voucher: %w", err)
		}

		existing := new(Order)
		err = tx.NewSelect().Model(existing).
			Relation("Items").
			Where("o.voucher_code = ?", voucherCode).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			existing = nil
		} else if err != nil {
			return fmt.Errorf("select order by voucher: %w", err)
		}

		switch decidePurchase(voucher, existing, cartTotal) {
		case decideAlreadyPlaced:
			result = &PurchaseResult{
				AlreadyPlaced: true,
				Order:         existing,
				CartTotal:     cartTotal,
				VoucherAmount: voucher.Amount,
			}
			return nil
		case decideInconsistentVoucher:
			return fmt.Errorf("%w: code=%s", ErrVoucherInconsistent, voucherCode)
		case decideInsufficientBalance:
			return &InsufficientBalanceError{CartTotal: cartTotal, VoucherAmount: voucher.Amount}
		}

		order := &Order{
			SessionID:   sessionID,
			VoucherCode: voucherCode,
			TotalAmount: cartTotal,
			Status:      OrderStatusCompleted,
		}
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		orderItems := make([]*OrderItem, 0, len(items))
		for _, item := range items {
			orderItems = append(orderItems, &OrderItem{
				OrderID:     order.ID,
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				Subtotal:    item.Subtotal(),
			})
		}
		if _, err := tx.NewInsert().Model(&orderItems).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}

		now := time.Now().UTC()
		voucher.IsUsed = true
		voucher.UsedBySession = sessionID
		voucher.UsedAt = &now
		if _, err := tx.NewUpdate().Model(voucher).
			Column("is_used", "used_by_session", "used_at").
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("consume voucher: %w", err)
		}

		order.Items = orderItems
		result = &PurchaseResult{
			Order:         order,
			CartTotal:     cartTotal,
			VoucherAmount: voucher.Amount,
		}
		return nil
	})
	if err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			// Lost the voucher_code race to a concurrent purchase.
			winner, werr := s.OrderByVoucher(ctx, voucherCode)
			if werr == nil && winner != nil {
				voucher, _ := s.GetVoucher(ctx, voucherCode)
				return convergedResult(winner, voucher, cartTotal), nil
			}
		}
		return nil, err
	}
	return result, nil
}
