package projects

import (
	"encoding/json"
	"fmt"

	"resume-tailor/internal/versions"
)

// EncodeColumns renders the JSONB columns content, section_history and
// section_pointers.
func EncodeColumns(p Project) (content, history, pointers []byte, err error) {
	if content, err = json.Marshal(p.Content); err != nil {
		return nil, nil, nil, fmt.Errorf("encode content: %w", err)
	}
	h := p.Versions.History
	if h == nil {
		h = versions.History{}
	}
	if history, err = json.Marshal(h); err != nil {
		return nil, nil, nil, fmt.Errorf("encode section history: %w", err)
	}
	ptr := p.Versions.Pointers
	if ptr == nil {
		ptr = versions.Pointers{}
	}
	if pointers, err = json.Marshal(ptr); err != nil {
		return nil, nil, nil, fmt.Errorf("encode section pointers: %w", err)
	}
	return content, history, pointers, nil
}

// DecodeColumns fills p from the raw JSONB columns. Empty columns decode to
// an empty document and empty version state.
func DecodeColumns(p *Project, content, history, pointers []byte) error {
	p.Versions = versions.NewState()
	if len(content) > 0 {
		if err := json.Unmarshal(content, &p.Content); err != nil {
			return fmt.Errorf("decode content: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &p.Versions.History); err != nil {
			return fmt.Errorf("decode section history: %w", err)
		}
	}
	if len(pointers) > 0 {
		if err := json.Unmarshal(pointers, &p.Versions.Pointers); err != nil {
			return fmt.Errorf("decode section pointers: %w", err)
		}
	}
	if p.Versions.History == nil {
		p.Versions.History = versions.History{}
	}
	if p.Versions.Pointers == nil {
		p.Versions.Pointers = versions.Pointers{}
	}
	return nil
}
