// Package probewire defines the wire contract exchanged with the
// browser-side Probe: coordinate queries, DOM scans, cursor/hover
// reports, and automation dispatch. These are plain JSON-tagged structs;
// the Control Plane decodes/encodes them directly with exported struct
// fields rather than a generic map for anything with a known shape.
package probewire

// CoordRequest is what GET /coord-request returns: either an empty
// object (no pending query) or the pending query's fields.
type CoordRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Selector  string `json:"selector,omitempty"`
	LabelText string `json:"label_text,omitempty"`
}

// Tri is a tri-state boolean: true, false, or unknown/null. Checkable
// inputs report true/false; other elements report Unknown.
type Tri int

const (
	TriUnknown Tri = iota
	TriFalse
	TriTrue
)

// MarshalJSON encodes TriUnknown as JSON null, matching the wire
// contract's {true, false, null} tri-state.
func (t Tri) MarshalJSON() ([]byte, error) {
	switch t {
	case TriTrue:
		return []byte("true"), nil
	case TriFalse:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true/false/null.
func (t *Tri) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "true":
		*t = TriTrue
	case "false":
		*t = TriFalse
	default:
		*t = TriUnknown
	}
	return nil
}

// CoordResponse is the Probe's POST /coord-response body: a fresh DOM
// snapshot answering the pending query.
type CoordResponse struct {
	RequestID          string  `json:"request_id"`
	Found              bool    `json:"found"`
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	CursorX            float64 `json:"cursor_x"`
	CursorY            float64 `json:"cursor_y"`
	Value              string  `json:"value"`
	Checked            Tri     `json:"checked"`
	Focused            bool    `json:"focused"`
	TagName            string  `json:"tag_name"`
	InputType          string  `json:"input_type"`
	InViewport         bool    `json:"in_viewport"`
	ViewportTop        float64 `json:"viewport_top"`
	ViewportH          float64 `json:"viewport_h"`
	ScrollDeltaNeeded  float64 `json:"scroll_delta_needed"`
	HoveredLabelText   string  `json:"hovered_label_text,omitempty"`
	VpLeft             *float64 `json:"vp_left,omitempty"`
	VpTop              *float64 `json:"vp_top,omitempty"`
	VpRight            *float64 `json:"vp_right,omitempty"`
	VpBottom           *float64 `json:"vp_bottom,omitempty"`
}

// HasViewport reports whether this response carried fresh viewport
// bounds.
func (r CoordResponse) HasViewport() bool {
	return r.VpLeft != nil && r.VpTop != nil && r.VpRight != nil && r.VpBottom != nil
}

// ScanRequest is what GET /scan-request returns.
type ScanRequest struct {
	RequestID string `json:"request_id,omitempty"`
}

// QuestionType enumerates the kinds of question descriptor a scan can
// report.
type QuestionType string

const (
	QuestionRadio    QuestionType = "radio"
	QuestionCheckbox QuestionType = "checkbox"
	QuestionTextarea QuestionType = "textarea"
)

// Question is one entry in a scan's ordered results.
type Question struct {
	UUID         string       `json:"uuid"`
	Selector     string       `json:"selector"`
	Label        string       `json:"label"`
	Type         QuestionType `json:"type"`
	InViewport   bool         `json:"in_viewport"`
	CheckedLabel string       `json:"checked_label,omitempty"`
	Value        string       `json:"value,omitempty"`
	Options      []string     `json:"labels,omitempty"`
	X            float64      `json:"x"`
	Y            float64      `json:"y"`
	ViewportTop  float64      `json:"viewport_top"`
}

// ScanResponse is the Probe's POST /scan-response body.
type ScanResponse struct {
	RequestID string     `json:"request_id"`
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
	Visible   int        `json:"visible"`
	VpLeft    float64    `json:"vp_left"`
	VpTop     float64    `json:"vp_top"`
	VpRight   float64    `json:"vp_right"`
	VpBottom  float64    `json:"vp_bottom"`
	CursorX   float64    `json:"cursor_x"`
	CursorY   float64    `json:"cursor_y"`
}

// CursorPosition is the Probe's POST /cursor-position body.
type CursorPosition struct {
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	HoveredID   string   `json:"hovered_id"`
	HoveredName string   `json:"hovered_name"`
	VpLeft      *float64 `json:"vp_left,omitempty"`
	VpTop       *float64 `json:"vp_top,omitempty"`
	VpRight     *float64 `json:"vp_right,omitempty"`
	VpBottom    *float64 `json:"vp_bottom,omitempty"`
}

// HasViewport reports whether this position update carried fresh
// viewport bounds.
func (c CursorPosition) HasViewport() bool {
	return c.VpLeft != nil && c.VpTop != nil && c.VpRight != nil && c.VpBottom != nil
}

// CursorHover is the Probe's POST /cursor-hover body — hover-only,
// must never be used to update cursor position.
type CursorHover struct {
	HoveredID   string `json:"hovered_id"`
	HoveredName string `json:"hovered_name"`
}

// AutomationRequest is the body of POST /automation: a raw command
// list plus an optional cursor hint.
type AutomationRequest struct {
	Commands []string `json:"commands"`
	CursorX  *float64 `json:"cursor_x,omitempty"`
	CursorY  *float64 `json:"cursor_y,omitempty"`
}
