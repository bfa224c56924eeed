package page

import "fmt"

// Element is one page element as seen by the safety planner. The
// attribute values are any-typed because snapshots also arrive as
// JSON from the API, where booleans stay booleans.
type Element struct {
	ID         string         `json:"id"`
	Tag        string         `json:"tagName"`
	Text       string         `json:"text,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Attr returns the named attribute value, if present.
func (e *Element) Attr(name string) (any, bool) {
	if e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// StringAttr returns the named attribute rendered as a string, or ""
// when absent.
func (e *Element) StringAttr(name string) string {
	v, ok := e.Attr(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Snapshot is a read-only view of the page at one point in time.
// Predicate evaluation never mutates it.
type Snapshot struct {
	URL      string    `json:"url"`
	HTML     string    `json:"html,omitempty"`
	Elements []Element `json:"elements"`
}

// Find returns the first element with the given id, or nil.
func (s *Snapshot) Find(id string) *Element {
	for i := range s.Elements {
		if s.Elements[i].ID == id {
			return &s.Elements[i]
		}
	}
	return nil
}

// Count returns how many elements carry the given id.
func (s *Snapshot) Count(id string) int {
	n := 0
	for i := range s.Elements {
		if s.Elements[i].ID == id {
			n++
		}
	}
	return n
}
