// Package tool declares the callable operations exposed to the model and
// executes them against the cart, the commerce store, and the vector search
// service. Specs are data; execution is an exhaustive dispatch.
package tool

import (
	"errors"

	llmx "github.com/shoplytic/agent/agent/llm"
)

// Kind names a callable tool. The strings are the wire names the model sees.
type Kind string

const (
	KindSearchProducts     Kind = "search_products"
	KindAddToCart          Kind = "add_to_cart"
	KindEditItemInCart     Kind = "edit_item_in_cart"
	KindRemoveFromCart     Kind = "remove_from_cart"
	KindViewCart           Kind = "view_cart"
	KindGetShippingInfo    Kind = "get_shipping_info"
	KindCreateShippingInfo Kind = "create_shipping_info"
	KindEditShippingInfo   Kind = "edit_shipping_info"
	KindGetOrders          Kind = "get_orders"
	KindPurchase           Kind = "purchase"
	KindRetrieveHandbook   Kind = "retrieve_handbook_info"
)

// ErrUnknownTool aborts the turn: the model referenced a tool that was never
// offered to it.
var ErrUnknownTool = errors.New("unknown tool")

// OrderToolKinds is the full commerce toolset offered to the order handler.
var OrderToolKinds = []Kind{
	KindSearchProducts,
	KindAddToCart,
	KindEditItemInCart,
	KindRemoveFromCart,
	KindViewCart,
	KindGetShippingInfo,
	KindCreateShippingInfo,
	KindEditShippingInfo,
	KindGetOrders,
	KindPurchase,
}

// HandbookToolKinds is the single lookup tool offered to the general-info
// handler.
var HandbookToolKinds = []Kind{
	KindRetrieveHandbook,
}

// Specs returns the provider-facing definitions for the requested kinds, in
// the order given. Unknown kinds are skipped.
func Specs(kinds ...Kind) []llmx.ToolDef {
	defs := make([]llmx.ToolDef, 0, len(kinds))
	for _, kind := range kinds {
		if def, ok := definitions[kind]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

var definitions = map[Kind]llmx.ToolDef{
	KindSearchProducts: {
		Name:        string(KindSearchProducts),
		Description: "Search the product catalog by meaning. Supports optional category, brand, and price-range filters. Returns ranked products with their product_id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What the customer is looking for, in natural language.",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "Exact category to restrict results to.",
				},
				"brand": map[string]any{
					"type":        "string",
					"description": "Exact brand to restrict results to.",
				},
				"min_price": map[string]any{
					"type":        "number",
					"description": "Minimum unit price in dollars.",
				},
				"max_price": map[string]any{
					"type":        "number",
					"description": "Maximum unit price in dollars.",
				},
				"is_featured": map[string]any{
					"type":        "boolean",
					"description": "Restrict results to featured products.",
				},
			},
			"required": []string{"query"},
		},
	},
	KindAddToCart: {
		Name:        string(KindAddToCart),
		Description: "Add a product to the customer's cart by product_id. Fails if the product is already in the cart; use edit_item_in_cart for that.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_id": map[string]any{
					"type":        "integer",
					"description": "Catalog ID of the product to add.",
				},
				"quantity": map[string]any{
					"type":        "integer",
					"description": "How many units to add. Defaults to 1.",
				},
			},
			"required": []string{"product_id"},
		},
	},
	KindEditItemInCart: {
		Name:        string(KindEditItemInCart),
		Description: "Change the quantity of an item already in the cart.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_id": map[string]any{
					"type":        "integer",
					"description": "Catalog ID of the cart item to change.",
				},
				"quantity": map[string]any{
					"type":        "integer",
					"description": "New quantity. Must be greater than 0.",
				},
			},
			"required": []string{"product_id", "quantity"},
		},
	},
	KindRemoveFromCart: {
		Name:        string(KindRemoveFromCart),
		Description: "Remove an item from the cart entirely.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_id": map[string]any{
					"type":        "integer",
					"description": "Catalog ID of the cart item to remove.",
				},
			},
			"required": []string{"product_id"},
		},
	},
	KindViewCart: {
		Name:        string(KindViewCart),
		Description: "Show the current cart contents with quantities, unit prices, and the running total.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	KindGetShippingInfo: {
		Name:        string(KindGetShippingInfo),
		Description: "Show the shipping information on file for this customer, if any.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	KindCreateShippingInfo: {
		Name:        string(KindCreateShippingInfo),
		Description: "Save the customer's shipping information. All fields are required; replaces any existing record.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"full_name": map[string]any{
					"type":        "string",
					"description": "Recipient full name.",
				},
				"address": map[string]any{
					"type":        "string",
					"description": "Street address.",
				},
				"city": map[string]any{
					"type":        "string",
					"description": "City.",
				},
				"zip_code": map[string]any{
					"type":        "string",
					"description": "Postal code.",
				},
			},
			"required": []string{"full_name", "address", "city", "zip_code"},
		},
	},
	KindEditShippingInfo: {
		Name:        string(KindEditShippingInfo),
		Description: "Update one or more fields of the shipping information already on file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"full_name": map[string]any{
					"type":        "string",
					"description": "New recipient full name.",
				},
				"address": map[string]any{
					"type":        "string",
					"description": "New street address.",
				},
				"city": map[string]any{
					"type":        "string",
					"description": "New city.",
				},
				"zip_code": map[string]any{
					"type":        "string",
					"description": "New postal code.",
				},
			},
		},
	},
	KindGetOrders: {
		Name:        string(KindGetOrders),
		Description: "Look up this customer's recent orders, or one specific order by ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{
					"type":        "integer",
					"description": "Specific order ID to fetch. Omit for the most recent orders.",
				},
			},
		},
	},
	KindPurchase: {
		Name:        string(KindPurchase),
		Description: "Complete the purchase of everything in the cart using a voucher code. Requires a non-empty cart and shipping information on file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"voucher_code": map[string]any{
					"type":        "string",
					"description": "Voucher code covering the cart total.",
				},
			},
			"required": []string{"voucher_code"},
		},
	},
	KindRetrieveHandbook: {
		Name:        string(KindRetrieveHandbook),
		Description: "Look up store policies, FAQs, and general information from the customer handbook.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The policy or information question to look up.",
				},
			},
			"required": []string{"query"},
		},
	},
}
