package pagination

// Total is a row total for the current view.
type Total struct {
	Value int64
	Known bool
	// Exact is true when Value came from a full count rather than an estimate.
	Exact bool
}

// NextOffset returns the offset of the page after cur. Only an exact total
// clamps the result to the start of the last page.
func NextOffset(cur, limit int, total Total) int {
	if limit <= 0 {
		return cur
	}
	next := cur + limit
	if !total.Known || !total.Exact {
		return next
	}
	last := lastPageStart(total.Value, limit)
	if next > last {
		if cur > last {
			return last
		}
		return cur
	}
	return next
}

// PrevOffset returns the offset of the page before cur, never below zero.
func PrevOffset(cur, limit int) int {
	return max(0, cur-limit)
}

func lastPageStart(total int64, limit int) int {
	if total <= 0 {
		return 0
	}
	return int((total - 1) / int64(limit) * int64(limit))
}

// PageNumber returns the 1-based page containing offset.
func PageNumber(offset, limit int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}
