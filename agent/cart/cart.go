// Package cart holds per-session shopping carts. State is purely in-process;
// a cart entry is owned by exactly one session and mutated only through the
// session's own tool executors.
package cart

import (
	"fmt"
	"sync"
)

// Item is one cart line. ProductName and UnitPrice are snapshots taken when
// the item was added, not live catalog reads.
type Item struct {
	ProductID    int64   `json:"product_id"`
	ProductName  string  `json:"product_name"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	PrimaryImage string  `json:"primary_image,omitempty"`
}

func (i Item) Subtotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// Outcome reports the result of a cart mutation in user-facing terms.
type Outcome struct {
	Success   bool
	Message   string
	CartTotal float64
	ItemCount int
}

// Summary is a read-only snapshot of a session's cart.
type Summary struct {
	Items     []Item  `json:"items"`
	ItemCount int     `json:"item_count"`
	Total     float64 `json:"total"`
}

func (s Summary) TotalFormatted() string {
	return fmt.Sprintf("$%.2f", s.Total)
}

// Store maps sessions to carts. Sessions never touch each other's entries, so
// one mutex over the map is enough.
type Store struct {
	mu    sync.Mutex
	carts map[string][]Item
}

func NewStore() *Store {
	return &Store{carts: make(map[string][]Item)}
}

// Add appends a new line for a product not yet in the cart. An existing line
// for the same product is rejected and the caller is directed to edit instead;
// quantities are never silently merged.
func (s *Store) Add(sessionID string, item Item) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[sessionID]
	for _, existing := range items {
		if existing.ProductID == item.ProductID {
			return Outcome{
				Success:   false,
				Message:   fmt.Sprintf("%s is already in your cart. Use edit_item_in_cart to update the quantity.", item.ProductName),
				CartTotal: totalOf(items),
				ItemCount: len(items),
			}
		}
	}

	items = append(items, item)
	s.carts[sessionID] = items
	return Outcome{
		Success:   true,
		Message:   fmt.Sprintf("Added %dx %s to cart", item.Quantity, item.ProductName),
		CartTotal: totalOf(items),
		ItemCount: len(items),
	}
}

// Edit sets a new quantity for an item already in the cart.
func (s *Store) Edit(sessionID string, productID int64, quantity int) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[sessionID]
	if quantity <= 0 {
		return Outcome{
			Success:   false,
			Message:   "Quantity must be greater than 0. Use remove_from_cart to remove items.",
			CartTotal: totalOf(items),
			ItemCount: len(items),
		}
	}

	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity = quantity
			return Outcome{
				Success:   true,
				Message:   fmt.Sprintf("Updated %s quantity to %d", items[i].ProductName, quantity),
				CartTotal: totalOf(items),
				ItemCount: len(items),
			}
		}
	}

	return Outcome{
		Success:   false,
		Message:   fmt.Sprintf("Product with ID %d not found in cart.", productID),
		CartTotal: totalOf(items),
		ItemCount: len(items),
	}
}

// Remove deletes an item entirely.
func (s *Store) Remove(sessionID string, productID int64) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[sessionID]
	for i := range items {
		if items[i].ProductID == productID {
			name := items[i].ProductName
			items = append(items[:i], items[i+1:]...)
			s.carts[sessionID] = items
			return Outcome{
				Success:   true,
				Message:   fmt.Sprintf("Removed %s from cart", name),
				CartTotal: totalOf(items),
				ItemCount: len(items),
			}
		}
	}

	return Outcome{
		Success:   false,
		Message:   fmt.Sprintf("Product with ID %d not found in cart.", productID),
		CartTotal: totalOf(items),
		ItemCount: len(items),
	}
}

// Items returns a copy of the session's cart lines.
func (s *Store) Items(sessionID string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[sessionID]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

func (s *Store) Total(sessionID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalOf(s.carts[sessionID])
}

func (s *Store) Summarize(sessionID string) Summary {
	items := s.Items(sessionID)
	return Summary{
		Items:     items,
		ItemCount: len(items),
		Total:     totalOf(items),
	}
}

// Clear empties the session's cart. Called only after a committed purchase.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
}

func totalOf(items []Item) float64 {
	var total float64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}
