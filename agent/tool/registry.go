package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cartx "github.com/shoplytic/agent/agent/cart"
	"github.com/shoplytic/agent/agent/commerce"
	"github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
	"github.com/shoplytic/agent/agent/retrieval"
	logx "github.com/shoplytic/agent/pkg/logger"
)

// Per-kind execution deadlines. Expiry becomes an error-string tool result,
// never a turn abort.
const (
	searchTimeout   = 15 * time.Second
	ordersTimeout   = 10 * time.Second
	purchaseTimeout = 15 * time.Second
	defaultTimeout  = 5 * time.Second
)

const (
	defaultSearchTopK    = 5
	defaultHandbookTopK  = 3
	defaultMinSimilarity = 0.35
)

// Outcome is one executed tool call: the string handed back to the model plus
// any retrieved sources and captured search parameters for the caller.
type Outcome struct {
	Result       string
	Sources      []contract.Source
	SearchParams map[string]any
}

// Option customizes a Registry.
type Option func(*Registry)

func WithTopK(k int) Option {
	return func(r *Registry) {
		if k > 0 {
			r.topK = k
		}
	}
}

func WithMinSimilarity(score float64) Option {
	return func(r *Registry) {
		r.minSimilarity = score
	}
}

// Registry executes tool calls against per-session state. It is safe for
// concurrent use across sessions.
type Registry struct {
	carts         *cartx.Store
	store         *commerce.Store
	search        retrieval.Searcher
	topK          int
	minSimilarity float64
	log           zerolog.Logger
}

func NewRegistry(carts *cartx.Store, store *commerce.Store, search retrieval.Searcher, opts ...Option) *Registry {
	r := &Registry{
		carts:         carts,
		store:         store,
		search:        search,
		topK:          defaultSearchTopK,
		minSimilarity: defaultMinSimilarity,
		log:           logx.Component("tool"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Execute dispatches one tool call. A non-nil error means the turn must be
// aborted (unknown tool, malformed arguments); executor failures come back as
// error-string results so the model can recover.
func (r *Registry) Execute(ctx context.Context, sessionID string, call llmx.ToolCall) (Outcome, error) {
	switch Kind(call.Name) {
	case KindSearchProducts:
		return r.searchProducts(ctx, call.Arguments)
	case KindAddToCart:
		return r.addToCart(ctx, sessionID, call.Arguments)
	case KindEditItemInCart:
		return r.editItemInCart(sessionID, call.Arguments)
	case KindRemoveFromCart:
		return r.removeFromCart(sessionID, call.Arguments)
	case KindViewCart:
		return r.viewCart(sessionID), nil
	case KindGetShippingInfo:
		return r.getShippingInfo(ctx, sessionID), nil
	case KindCreateShippingInfo:
		return r.createShippingInfo(ctx, sessionID, call.Arguments)
	case KindEditShippingInfo:
		return r.editShippingInfo(ctx, sessionID, call.Arguments)
	case KindGetOrders:
		return r.getOrders(ctx, sessionID, call.Arguments)
	case KindPurchase:
		return r.purchase(ctx, sessionID, call.Arguments)
	case KindRetrieveHandbook:
		return r.retrieveHandbook(ctx, call.Arguments)
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
}

func decodeArgs(raw string, dst any) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	if err := json.Unmarshal([]byte(trimmed), dst); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrMalformedArguments, err)
	}
	return nil
}

func errResult(err error) Outcome {
	return Outcome{Result: "Error: " + err.Error()}
}

/* -------------------------------- Search --------------------------------- */

func (r *Registry) searchProducts(ctx context.Context, rawArgs string) (Outcome, error) {
	var args struct {
		Query    string   `json:"query"`
		Category string   `json:"category"`
		Brand    string   `json:"brand"`
		MinPrice *float64 `json:"min_price"`
		MaxPrice *float64 `json:"max_price"`
		Featured *bool    `json:"is_featured"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return Outcome{Result: "Error: search query is required."}, nil
	}

	// The store only supports equality filters; price ranges are applied
	// client-side below.
	filter := map[string]any{}
	params := map[string]any{"query": args.Query}
	if args.Category != "" {
		filter["category"] = args.Category
		params["category"] = args.Category
	}
	if args.Brand != "" {
		filter["brand"] = args.Brand
		params["brand"] = args.Brand
	}
	if args.Featured != nil {
		filter["is_featured"] = *args.Featured
		params["is_featured"] = *args.Featured
	}
	if args.MinPrice != nil {
		params["min_price"] = *args.MinPrice
	}
	if args.MaxPrice != nil {
		params["max_price"] = *args.MaxPrice
	}
	if len(filter) == 0 {
		filter = nil
	}

	// Price ranges discard candidates after ranking, so over-fetch further
	// and truncate to k only after the price filter has run.
	fetchK := r.topK * 2
	if args.MinPrice != nil || args.MaxPrice != nil {
		fetchK = r.topK * 3
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	docs, err := r.search.Query(ctx, retrieval.CollectionProducts, args.Query, fetchK, filter)
	if err != nil {
		r.log.Error().Err(err).Str("query", args.Query).Msg("product search failed")
		return Outcome{Result: "Error: product search failed: " + err.Error(), SearchParams: params}, nil
	}

	docs = retrieval.FilterByThreshold(docs, similarityThreshold(ctx, r.minSimilarity), fetchK)
	docs = retrieval.FilterByPrice(docs, args.MinPrice, args.MaxPrice)
	if len(docs) > r.topK {
		docs = docs[:r.topK]
	}

	if len(docs) == 0 {
		return Outcome{Result: "No products matched the search.", SearchParams: params}, nil
	}

	sources := make([]contract.Source, 0, len(docs))
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d products:\n", len(docs))
	for i, doc := range docs {
		sources = append(sources, contract.Source{
			Content:    doc.Content,
			Metadata:   doc.Metadata,
			Similarity: doc.Similarity,
		})
		fmt.Fprintf(&sb, "\n%d. %s", i+1, doc.Content)
		if id, ok := doc.Metadata["product_id"]; ok {
			fmt.Fprintf(&sb, "\n   product_id: %v", id)
		}
		if price, ok := doc.Metadata["price"]; ok {
			fmt.Fprintf(&sb, " | price: $%v", price)
		}
		sb.WriteString("\n")
	}

	return Outcome{Result: sb.String(), Sources: sources, SearchParams: params}, nil
}

func (r *Registry) retrieveHandbook(ctx context.Context, rawArgs string) (Outcome, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return Outcome{Result: "Error: lookup query is required."}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	docs, err := r.search.Query(ctx, retrieval.CollectionHandbook, args.Query, defaultHandbookTopK*2, nil)
	if err != nil {
		r.log.Error().Err(err).Str("query", args.Query).Msg("handbook lookup failed")
		return Outcome{Result: "Error: handbook lookup failed: " + err.Error()}, nil
	}

	docs = retrieval.FilterByThreshold(docs, similarityThreshold(ctx, r.minSimilarity), defaultHandbookTopK)
	if len(docs) == 0 {
		return Outcome{Result: "No handbook entries matched the question."}, nil
	}

	sources := make([]contract.Source, 0, len(docs))
	contents := make([]string, 0, len(docs))
	for _, doc := range docs {
		sources = append(sources, contract.Source{
			Content:    doc.Content,
			Metadata:   doc.Metadata,
			Similarity: doc.Similarity,
		})
		contents = append(contents, doc.Content)
	}

	return Outcome{
		Result:  "Relevant handbook information:\n\n" + strings.Join(contents, "\n\n---\n\n"),
		Sources: sources,
	}, nil
}

/* --------------------------------- Cart ---------------------------------- */

func (r *Registry) addToCart(ctx context.Context, sessionID, rawArgs string) (Outcome, error) {
	var args struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}
	if args.ProductID <= 0 {
		return Outcome{Result: "Error: a valid product_id is required."}, nil
	}
	if args.Quantity <= 0 {
		args.Quantity = 1
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	product, err := r.store.GetProduct(ctx, args.ProductID)
	if err != nil {
		r.log.Error().Err(err).Int64("product_id", args.ProductID).Msg("product lookup failed")
		return errResult(err), nil
	}
	if product == nil {
		return Outcome{Result: fmt.Sprintf("Product with ID %d was not found.", args.ProductID)}, nil
	}
	if !product.IsActive {
		return Outcome{Result: fmt.Sprintf("%s is not available for purchase.", product.Name)}, nil
	}
	if product.StockQuantity < args.Quantity {
		return Outcome{Result: fmt.Sprintf("Only %d units of %s are in stock.", product.StockQuantity, product.Name)}, nil
	}

	out := r.carts.Add(sessionID, cartx.Item{
		ProductID:    product.ID,
		ProductName:  product.Name,
		Quantity:     args.Quantity,
		UnitPrice:    product.Price,
		PrimaryImage: product.PrimaryImage,
	})
	return Outcome{Result: cartMessage(out)}, nil
}

func (r *Registry) editItemInCart(sessionID, rawArgs string) (Outcome, error) {
	var args struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: cartMessage(r.carts.Edit(sessionID, args.ProductID, args.Quantity))}, nil
}

func (r *Registry) removeFromCart(sessionID, rawArgs string) (Outcome, error) {
	var args struct {
		ProductID int64 `json:"product_id"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: cartMessage(r.carts.Remove(sessionID, args.ProductID))}, nil
}

func (r *Registry) viewCart(sessionID string) Outcome {
	summary := r.carts.Summarize(sessionID)
	if summary.ItemCount == 0 {
		return Outcome{Result: "Your cart is empty."}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Cart contents (%d items):\n", summary.ItemCount)
	for _, item := range summary.Items {
		fmt.Fprintf(&sb, "- %dx %s @ $%.2f = $%.2f (product_id: %d)\n",
			item.Quantity, item.ProductName, item.UnitPrice, item.Subtotal(), item.ProductID)
	}
	fmt.Fprintf(&sb, "Total: %s", summary.TotalFormatted())
	return Outcome{Result: sb.String()}
}

func cartMessage(out cartx.Outcome) string {
	return fmt.Sprintf("%s Cart total: $%.2f (%d items).", out.Message, out.CartTotal, out.ItemCount)
}

/* ------------------------------- Shipping -------------------------------- */

func (r *Registry) getShippingInfo(ctx context.Context, sessionID string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	info, err := r.store.GetShipping(ctx, sessionID)
	if err != nil {
		r.log.Error().Err(err).Msg("shipping lookup failed")
		return errResult(err)
	}
	if info == nil {
		return Outcome{Result: "No shipping information on file. Use create_shipping_info to add it."}
	}
	return Outcome{Result: formatShipping(info)}
}

func (r *Registry) createShippingInfo(ctx context.Context, sessionID, rawArgs string) (Outcome, error) {
	var args struct {
		FullName string `json:"full_name"`
		Address  string `json:"address"`
		City     string `json:"city"`
		ZipCode  string `json:"zip_code"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	info, created, err := r.store.SaveShipping(ctx, sessionID, commerce.ShippingFields{
		FullName: args.FullName,
		Address:  args.Address,
		City:     args.City,
		ZipCode:  args.ZipCode,
	})
	if err != nil {
		return errResult(err), nil
	}
	verb := "updated"
	if created {
		verb = "saved"
	}
	return Outcome{Result: fmt.Sprintf("Shipping information %s.\n%s", verb, formatShipping(info))}, nil
}

func (r *Registry) editShippingInfo(ctx context.Context, sessionID, rawArgs string) (Outcome, error) {
	var args struct {
		FullName *string `json:"full_name"`
		Address  *string `json:"address"`
		City     *string `json:"city"`
		ZipCode  *string `json:"zip_code"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	info, updated, err := r.store.PatchShipping(ctx, sessionID, commerce.ShippingPatch{
		FullName: args.FullName,
		Address:  args.Address,
		City:     args.City,
		ZipCode:  args.ZipCode,
	})
	if errors.Is(err, commerce.ErrNoShippingInfo) {
		return Outcome{Result: "No shipping information on file. Use create_shipping_info to add it first."}, nil
	}
	if err != nil {
		return errResult(err), nil
	}
	return Outcome{Result: fmt.Sprintf("Updated %s.\n%s", strings.Join(updated, ", "), formatShipping(info))}, nil
}

func formatShipping(info *commerce.ShippingInfo) string {
	return fmt.Sprintf("Shipping to: %s, %s, %s %s", info.FullName, info.Address, info.City, info.ZipCode)
}

/* -------------------------------- Orders --------------------------------- */

func (r *Registry) getOrders(ctx context.Context, sessionID, rawArgs string) (Outcome, error) {
	var args struct {
		OrderID *int64 `json:"order_id"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, ordersTimeout)
	defer cancel()

	if args.OrderID != nil {
		order, err := r.store.GetOrder(ctx, sessionID, *args.OrderID)
		if err != nil {
			r.log.Error().Err(err).Int64("order_id", *args.OrderID).Msg("order lookup failed")
			return errResult(err), nil
		}
		if order == nil {
			return Outcome{Result: fmt.Sprintf("Order #%d was not found.", *args.OrderID)}, nil
		}
		return Outcome{Result: formatOrder(order)}, nil
	}

	orders, err := r.store.RecentOrders(ctx, sessionID, 0)
	if err != nil {
		r.log.Error().Err(err).Msg("orders lookup failed")
		return errResult(err), nil
	}
	if len(orders) == 0 {
		return Outcome{Result: "No orders found for this customer."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent orders (%d):\n", len(orders))
	for i := range orders {
		sb.WriteString("\n")
		sb.WriteString(formatOrder(&orders[i]))
		sb.WriteString("\n")
	}
	return Outcome{Result: sb.String()}, nil
}

func formatOrder(order *commerce.Order) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order #%d — %s — total $%.2f — placed %s",
		order.ID, order.Status, order.TotalAmount, order.CreatedAt.Format("2006-01-02"))
	for _, item := range order.Items {
		fmt.Fprintf(&sb, "\n  %dx %s @ $%.2f = $%.2f", item.Quantity, item.ProductName, item.UnitPrice, item.Subtotal)
	}
	return sb.String()
}

/* ------------------------------- Purchase -------------------------------- */

func (r *Registry) purchase(ctx context.Context, sessionID, rawArgs string) (Outcome, error) {
	var args struct {
		VoucherCode string `json:"voucher_code"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Outcome{}, err
	}

	// Hard gate before the engine is touched: the model gets a corrective
	// message instead of a transaction attempt.
	items := r.carts.Items(sessionID)
	if len(items) == 0 {
		return Outcome{Result: "Cannot purchase: your cart is empty. Add items to the cart first."}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, purchaseTimeout)
	defer cancel()

	shipping, err := r.store.GetShipping(ctx, sessionID)
	if err != nil {
		r.log.Error().Err(err).Msg("shipping lookup failed")
		return errResult(err), nil
	}
	if shipping == nil {
		return Outcome{Result: "Cannot purchase: no shipping information on file. Use create_shipping_info first."}, nil
	}
	if strings.TrimSpace(args.VoucherCode) == "" {
		return Outcome{Result: "Cannot purchase: a voucher_code is required."}, nil
	}

	result, err := r.store.Purchase(ctx, sessionID, strings.TrimSpace(args.VoucherCode), items)
	if err != nil {
		var balanceErr *commerce.InsufficientBalanceError
		switch {
		case errors.Is(err, commerce.ErrVoucherNotFound):
			return Outcome{Result: fmt.Sprintf("Voucher code %q was not found. Please check the code and try again.", args.VoucherCode)}, nil
		case errors.Is(err, commerce.ErrVoucherInconsistent):
			return Outcome{Result: "This voucher is marked as used but no order references it. Please contact support."}, nil
		case errors.As(err, &balanceErr):
			return Outcome{Result: fmt.Sprintf(
				"Insufficient voucher balance: the cart total is $%.2f but the voucher covers $%.2f. You need $%.2f more.",
				balanceErr.CartTotal, balanceErr.VoucherAmount, balanceErr.CartTotal-balanceErr.VoucherAmount)}, nil
		default:
			r.log.Error().Err(err).Msg("purchase failed")
			return Outcome{Result: "Error: purchase failed: " + err.Error()}, nil
		}
	}

	if result.AlreadyPlaced {
		// Idempotent replay: the voucher already paid for an order. The cart
		// is left untouched.
		return Outcome{Result: fmt.Sprintf(
			"This voucher was already used for order #%d. No new order was placed.", result.Order.ID)}, nil
	}

	// Clear only after the transaction committed.
	r.carts.Clear(sessionID)
	return Outcome{Result: fmt.Sprintf(
		"Order #%d placed successfully! Total charged: $%.2f. Voucher balance remaining: $%.2f.",
		result.Order.ID, result.CartTotal, result.RemainingBalance())}, nil
}
