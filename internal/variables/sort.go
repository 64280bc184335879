package variables

import (
	"sort"

	"github.com/samber/lo"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

// sortedOrder returns snapshot indices ordered by the requested column using
// case-insensitive collation. Equal keys keep their snapshot order.
func sortedOrder(vars []domain.VariableRecord, column domain.SortColumn, ascending bool) []int {
	key := func(v domain.VariableRecord) string { return v.Name }
	if column == domain.SortByType {
		key = func(v domain.VariableRecord) string { return v.Type }
	}
	keys := lo.Map(vars, func(v domain.VariableRecord, _ int) string { return key(v) })

	// Collators are not safe for concurrent use.
	c := collate.New(language.Und, collate.IgnoreCase)
	order := lo.Range(len(vars))
	sort.SliceStable(order, func(i, j int) bool {
		cmp := c.CompareString(keys[order[i]], keys[order[j]])
		if ascending {
			return cmp < 0
		}
		return cmp > 0
	})
	return order
}
