package cart

import (
	"strings"
	"testing"
)

func TestAddRejectsDuplicateProduct(t *testing.T) {
	t.Parallel()

	store := NewStore()
	item := Item{ProductID: 7, ProductName: "Trail Shoes", Quantity: 1, UnitPrice: 89.99}

	if out := store.Add("s1", item); !out.Success {
		t.Fatalf("first Add() failed: %s", out.Message)
	}

	out := store.Add("s1", item)
	if out.Success {
		t.Fatal("second Add() for same product succeeded, want rejection")
	}
	if !strings.Contains(out.Message, "edit_item_in_cart") {
		t.Errorf("rejection message = %q, want redirect to edit_item_in_cart", out.Message)
	}
	if out.ItemCount != 1 {
		t.Errorf("ItemCount = %d after rejected duplicate, want 1", out.ItemCount)
	}
}

func TestNoTwoItemsShareProductID(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Add("s1", Item{ProductID: 1, ProductName: "A", Quantity: 1, UnitPrice: 10})
	store.Add("s1", Item{ProductID: 2, ProductName: "B", Quantity: 2, UnitPrice: 5})
	store.Add("s1", Item{ProductID: 1, ProductName: "A", Quantity: 3, UnitPrice: 10})
	store.Edit("s1", 2, 4)
	store.Remove("s1", 1)
	store.Add("s1", Item{ProductID: 1, ProductName: "A", Quantity: 1, UnitPrice: 10})

	seen := map[int64]bool{}
	for _, item := range store.Items("s1") {
		if seen[item.ProductID] {
			t.Fatalf("duplicate product_id %d in cart", item.ProductID)
		}
		seen[item.ProductID] = true
	}
}

func TestEditQuantity(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Add("s1", Item{ProductID: 3, ProductName: "Mug", Quantity: 1, UnitPrice: 12.50})

	out := store.Edit("s1", 3, 4)
	if !out.Success {
		t.Fatalf("Edit() failed: %s", out.Message)
	}
	if out.CartTotal != 50.0 {
		t.Errorf("CartTotal = %v, want 50.0", out.CartTotal)
	}

	out = store.Edit("s1", 3, 0)
	if out.Success {
		t.Fatal("Edit() with quantity 0 succeeded, want rejection")
	}
	if !strings.Contains(out.Message, "remove_from_cart") {
		t.Errorf("rejection message = %q, want redirect to remove_from_cart", out.Message)
	}

	out = store.Edit("s1", 99, 2)
	if out.Success {
		t.Fatal("Edit() for absent product succeeded, want rejection")
	}
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Add("s1", Item{ProductID: 1, ProductName: "A", Quantity: 2, UnitPrice: 10})
	store.Add("s1", Item{ProductID: 2, ProductName: "B", Quantity: 1, UnitPrice: 5})

	out := store.Remove("s1", 1)
	if !out.Success {
		t.Fatalf("Remove() failed: %s", out.Message)
	}
	if out.ItemCount != 1 || out.CartTotal != 5 {
		t.Errorf("after Remove: count=%d total=%v, want 1 and 5", out.ItemCount, out.CartTotal)
	}

	store.Clear("s1")
	if got := store.Summarize("s1"); got.ItemCount != 0 || got.Total != 0 {
		t.Errorf("after Clear: %+v, want empty", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Add("s1", Item{ProductID: 1, ProductName: "A", Quantity: 1, UnitPrice: 10})
	store.Add("s2", Item{ProductID: 1, ProductName: "A", Quantity: 5, UnitPrice: 10})

	if total := store.Total("s1"); total != 10 {
		t.Errorf("s1 total = %v, want 10", total)
	}
	if total := store.Total("s2"); total != 50 {
		t.Errorf("s2 total = %v, want 50", total)
	}
}

func TestSummaryFormatting(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Add("s1", Item{ProductID: 1, ProductName: "A", Quantity: 2, UnitPrice: 22.99})

	summary := store.Summarize("s1")
	if got := summary.TotalFormatted(); got != "$45.98" {
		t.Errorf("TotalFormatted() = %q, want $45.98", got)
	}
}
