package retrieval

// FilterByThreshold converts ranked distances to similarities
// (similarity = 1 - distance), keeps documents at or above minSimilarity in
// their original rank order, and stops once k results are accepted.
func FilterByThreshold(results []ScoredDocument, minSimilarity float64, k int) []ScoredDocument {
	var kept []ScoredDocument
	for _, doc := range results {
		similarity := 1 - doc.Distance
		if similarity >= minSimilarity {
			doc.Similarity = similarity
			kept = append(kept, doc)
		}
		if len(kept) >= k {
			break
		}
	}
	return kept
}

// FilterByPrice applies the numeric price range client-side; the store only
// supports equality filters. A document without a usable price passes max-only
// ranges but is excluded when a minimum is set.
func FilterByPrice(results []ScoredDocument, minPrice, maxPrice *float64) []ScoredDocument {
	if minPrice == nil && maxPrice == nil {
		return results
	}

	var kept []ScoredDocument
	for _, doc := range results {
		price, ok := priceOf(doc.Metadata)
		if !ok {
			if minPrice != nil {
				continue
			}
			kept = append(kept, doc)
			continue
		}
		if minPrice != nil && price < *minPrice {
			continue
		}
		if maxPrice != nil && price > *maxPrice {
			continue
		}
		kept = append(kept, doc)
	}
	return kept
}

func priceOf(meta map[string]any) (float64, bool) {
	switch v := meta["price"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
