package connector

import "encoding/json"

// LegacyPainter is implemented by connectors that still use the legacy
// hierarchical paint format.
type LegacyPainter interface {
	PaintContent(target *PaintTarget) error
}

// PaintTarget collects the attributes and variables painted by one legacy
// connector.
type PaintTarget struct {
	tag   string
	attrs map[string]any
	vars  map[string]any
}

// NewPaintTarget creates a paint target for the given tag.
func NewPaintTarget(tag string) *PaintTarget {
	return &PaintTarget{tag: tag, attrs: make(map[string]any)}
}

// AddAttribute sets a painted attribute.
func (p *PaintTarget) AddAttribute(name string, value any) {
	p.attrs[name] = value
}

// AddVariable sets a painted variable. Variables are sent back by the
// client through legacy change-variables invocations.
func (p *PaintTarget) AddVariable(name string, value any) {
	if p.vars == nil {
		p.vars = make(map[string]any)
	}
	p.vars[name] = value
}

// MarshalJSON encodes the target as [tag, {attrs..., "v": {vars}}].
func (p *PaintTarget) MarshalJSON() ([]byte, error) {
	attrs := make(map[string]any, len(p.attrs)+1)
	for k, v := range p.attrs {
		attrs[k] = v
	}
	if len(p.vars) > 0 {
		attrs["v"] = p.vars
	}
	return json.Marshal([]any{p.tag, attrs})
}
