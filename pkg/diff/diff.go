// Package diff classifies element churn between two successive snapshots.
package diff

import (
	"math"

	"github.com/cgast/agbrowse/pkg/page"
)

// MoveThreshold is the per-axis position delta, in pixels, at which an
// element counts as moved.
const MoveThreshold = 5.0

// ComputeDiffStatus tags every element of current relative to previous and
// appends the elements that disappeared, tagged REMOVED with their last
// known geometry. Current elements keep their order; removed ones follow in
// previous order. Neither input is modified.
func ComputeDiffStatus(current, previous *page.Snapshot) []page.Element {
	var cur []page.Element
	if current != nil {
		cur = current.Elements
	}
	out := make([]page.Element, 0, len(cur))

	if previous == nil {
		for _, el := range cur {
			el.DiffStatus = page.DiffAdded
			out = append(out, el)
		}
		return out
	}

	prevByID := make(map[int]page.Element, len(previous.Elements))
	for _, el := range previous.Elements {
		prevByID[el.ID] = el
	}

	seen := make(map[int]bool, len(cur))
	for _, el := range cur {
		seen[el.ID] = true
		old, ok := prevByID[el.ID]
		if !ok {
			el.DiffStatus = page.DiffAdded
		} else {
			el.DiffStatus = classify(el, old)
		}
		out = append(out, el)
	}

	for _, old := range previous.Elements {
		if seen[old.ID] {
			continue
		}
		old.DiffStatus = page.DiffRemoved
		out = append(out, old)
		seen[old.ID] = true
	}
	return out
}

// classify compares an element present in both snapshots. Content change
// takes precedence over movement. Size-only changes are not tracked.
func classify(cur, prev page.Element) page.DiffStatus {
	contentChanged := cur.Role != prev.Role || cur.Text != prev.Text
	moved := math.Abs(cur.BBox.X-prev.BBox.X) >= MoveThreshold ||
		math.Abs(cur.BBox.Y-prev.BBox.Y) >= MoveThreshold

	switch {
	case contentChanged:
		return page.DiffModified
	case moved:
		return page.DiffMoved
	default:
		return ""
	}
}

// Actionable drops REMOVED elements; they stay in the diff for audit only.
func Actionable(elems []page.Element) []page.Element {
	out := make([]page.Element, 0, len(elems))
	for _, el := range elems {
		if el.DiffStatus == page.DiffRemoved {
			continue
		}
		out = append(out, el)
	}
	return out
}

// Summary counts elements per lifecycle tag.
type Summary struct {
	Added     int `json:"added"`
	Moved     int `json:"moved"`
	Modified  int `json:"modified"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Changed reports whether anything other than unchanged elements is present.
func (s Summary) Changed() bool {
	return s.Added+s.Moved+s.Modified+s.Removed > 0
}

// Summarize tallies the diff statuses of elems.
func Summarize(elems []page.Element) Summary {
	var s Summary
	for _, el := range elems {
		switch el.DiffStatus {
		case page.DiffAdded:
			s.Added++
		case page.DiffMoved:
			s.Moved++
		case page.DiffModified:
			s.Modified++
		case page.DiffRemoved:
			s.Removed++
		default:
			s.Unchanged++
		}
	}
	return s
}
