// Package page defines the element graph that agbrowse reasons about:
// ranked elements, the snapshots that own them, and the tabs they live in.
package page

import (
	"fmt"
	"time"
)

// DiffStatus is the lifecycle tag of an element relative to the previous snapshot.
// The zero value means unchanged.
type DiffStatus string

const (
	DiffAdded    DiffStatus = "ADDED"
	DiffMoved    DiffStatus = "MOVED"
	DiffModified DiffStatus = "MODIFIED"
	DiffRemoved  DiffStatus = "REMOVED"
)

// BBox is an element's bounding box in viewport coordinates.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b BBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// VisualCues carries rendering hints attached by the snapshot provider.
type VisualCues struct {
	IsPrimary           bool   `json:"is_primary"`
	IsClickable         bool   `json:"is_clickable"`
	BackgroundColorName string `json:"background_color_name,omitempty"`
}

// Element is one interactive node of a snapshot.
type Element struct {
	ID         int        `json:"id"`
	Role       string     `json:"role"`
	Text       string     `json:"text,omitempty"`
	Importance float64    `json:"importance"`
	BBox       BBox       `json:"bbox"`
	VisualCues VisualCues `json:"visual_cues"`
	InViewport bool       `json:"in_viewport"`
	IsOccluded bool       `json:"is_occluded"`
	ZIndex     int        `json:"z_index"`

	// Interaction state; nil means the provider did not report it.
	Disabled  *bool   `json:"disabled,omitempty"`
	Checked   *bool   `json:"checked,omitempty"`
	Expanded  *bool   `json:"expanded,omitempty"`
	Value     *string `json:"value,omitempty"`
	InputType string  `json:"input_type,omitempty"`

	DiffStatus DiffStatus `json:"diff_status,omitempty"`
}

// Visible reports whether the element is in the viewport and not covered.
func (e Element) Visible() bool {
	return e.InViewport && !e.IsOccluded
}

// Diagnostics is optional quality metadata about a snapshot.
type Diagnostics struct {
	Confidence *float64 `json:"confidence,omitempty"`
}

// Snapshot is an immutable, ranked view of a page at a point in time.
type Snapshot struct {
	Status      string       `json:"status"`
	URL         string       `json:"url"`
	Elements    []Element    `json:"elements"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitempty"`
	// Error is set by the provider when Status is "error".
	Error string `json:"error,omitempty"`
	// Screenshot is a data URL, present when requested.
	Screenshot string `json:"screenshot,omitempty"`

	// Generation is assigned by the runtime when the snapshot is stored.
	Generation uint64 `json:"generation,omitempty"`
}

// Confidence returns the reported confidence and whether one was present.
func (s *Snapshot) Confidence() (float64, bool) {
	if s == nil || s.Diagnostics == nil || s.Diagnostics.Confidence == nil {
		return 0, false
	}
	return *s.Diagnostics.Confidence, true
}

// Element looks up an element by id.
func (s *Snapshot) Element(id int) (Element, bool) {
	if s == nil {
		return Element{}, false
	}
	for _, el := range s.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return Element{}, false
}

// Ref addresses an element of one snapshot generation. Refs from an older
// generation must not be used against the live page.
type Ref struct {
	Generation uint64 `json:"generation"`
	ID         int    `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("g%d/#%d", r.Generation, r.ID)
}

// Ref returns the generation-scoped handle for an element of this snapshot.
func (s *Snapshot) Ref(id int) Ref {
	return Ref{Generation: s.Generation, ID: id}
}

// SnapshotFilter narrows what the provider returns.
type SnapshotFilter struct {
	MinArea      float64  `json:"min_area,omitempty" yaml:"min_area"`
	AllowedRoles []string `json:"allowed_roles,omitempty" yaml:"allowed_roles"`
}

// SnapshotOptions is passed through to the snapshot provider.
type SnapshotOptions struct {
	Limit       int             `json:"limit,omitempty" yaml:"limit"`
	Screenshot  bool            `json:"screenshot,omitempty" yaml:"screenshot"`
	ShowOverlay bool            `json:"show_overlay,omitempty" yaml:"show_overlay"`
	Filter      *SnapshotFilter `json:"filter,omitempty" yaml:"filter"`
}

// Tab describes one page of the live page collection.
type Tab struct {
	TabID    string `json:"tab_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	IsActive bool   `json:"is_active"`
}

// Bool returns a pointer to b; handy for interaction state literals.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s.
func String(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
