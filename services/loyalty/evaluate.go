package loyalty

import "sort"

// NewlyAchieved returns the active levels reachable with total that are not
// in granted, cheapest first.
func NewlyAchieved(levels []*Level, granted map[string]bool, total float64) []*Level {
	var out []*Level
	for _, lvl := range levels {
		if !lvl.IsActive || lvl.MinPurchaseAmount > total || granted[lvl.ID] {
			continue
		}
		out = append(out, lvl)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MinPurchaseAmount != out[j].MinPurchaseAmount {
			return out[i].MinPurchaseAmount < out[j].MinPurchaseAmount
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}
