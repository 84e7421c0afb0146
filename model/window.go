package model

// DefaultCount is the number of messages taken when a window does not say.
const DefaultCount = 10

// Window selects a contiguous slice of a newest-first message list.
// Start is 1-based.
type Window struct {
	Start int
	Count int
}

// Normalize fills in defaults for unset or nonsensical values.
func (w Window) Normalize() Window {
	if w.Start < 1 {
		w.Start = 1
	}
	if w.Count < 1 {
		w.Count = DefaultCount
	}
	return w
}

// Bounds returns the half-open index range [startIdx, endIdx) the window
// covers in a list of total identifiers. A window starting past the end of
// the list selects nothing.
func (w Window) Bounds(total int) (startIdx, endIdx int) {
	if total <= 0 || w.Start > total || w.Count <= 0 {
		return total, total
	}
	startIdx = min(max(w.Start-1, 0), total-1)
	endIdx = min(startIdx+w.Count, total)
	return startIdx, endIdx
}
