package policy

// lookupFunc returns the records indexed under a value for a category.
type lookupFunc func(cat Category, value string) []*record

// match returns the records of pool that satisfy criteria, in pool order.
//
// Within a category the requested values are OR'd; across categories the
// results are AND'd. A category with no requested values does not narrow the
// set, and a record with no value in a requested category never matches it.
// Categories are applied in the fixed Categories order and evaluation stops as
// soon as the working set is empty, which only saves work.
func match(pool []*record, lookup lookupFunc, criteria Criteria) []*record {
	working := pool
	for _, cat := range Categories {
		if len(working) == 0 {
			break
		}

		values := criteria.values(cat)
		if len(values) == 0 {
			continue
		}

		eligible := make(map[*record]struct{})
		for _, v := range values {
			for _, rec := range lookup(cat, v) {
				eligible[rec] = struct{}{}
			}
		}

		narrowed := make([]*record, 0, len(working))
		for _, rec := range working {
			if _, ok := eligible[rec]; ok {
				narrowed = append(narrowed, rec)
			}
		}
		working = narrowed
	}

	return append([]*record(nil), working...)
}
