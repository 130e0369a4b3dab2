// Package versions keeps the per-section version history of a resume project.
//
// Version numbers start at 0 and are contiguous. A stored snapshot is never
// overwritten; promotions always append a new number.
package versions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"resume-tailor/resume/model"
)

// ErrVersionNotFound is returned when activating a version that was never written.
var ErrVersionNotFound = errors.New("version not found")

// SectionHistory maps version numbers to snapshots of one section.
type SectionHistory map[int]model.SectionContent

// Head returns the highest version number, or -1 when empty.
func (h SectionHistory) Head() int {
	head := -1
	for v := range h {
		if v > head {
			head = v
		}
	}
	return head
}

// Versions returns the stored version numbers in ascending order.
func (h SectionHistory) Versions() []int {
	out := make([]int, 0, len(h))
	for v := range h {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy; a nil history clones to an empty one.
func (h SectionHistory) Clone() SectionHistory {
	out := make(SectionHistory, len(h))
	for v, c := range h {
		out[v] = model.Clone(c)
	}
	return out
}

// History holds the version history of every section.
type History map[model.Section]SectionHistory

// UnmarshalJSON decodes {"summary": {"0": [...]}, ...} into typed snapshots.
func (h *History) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(History, len(raw))
	for name, entries := range raw {
		section, err := model.ParseSection(name)
		if err != nil {
			return err
		}
		sh := make(SectionHistory, len(entries))
		for key, payload := range entries {
			version, err := strconv.Atoi(key)
			if err != nil || version < 0 {
				return fmt.Errorf("section %s: invalid version %q", section, key)
			}
			content, err := model.DecodeSection(section, payload)
			if err != nil {
				return err
			}
			sh[version] = content
		}
		out[section] = sh
	}
	*h = out
	return nil
}

// Pointers maps each section to its active version number.
type Pointers map[model.Section]int

// Outcome describes what reconciliation did to a section.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeChanged   Outcome = "changed"
)

// Reconciliation is the result of ReconcileSection.
type Reconciliation struct {
	History  SectionHistory
	Pointer  int
	Outcome  Outcome
	Repaired bool
}

// ReconcileSection decides whether incoming differs from current and, if so,
// promotes it to a new version. Inputs are never mutated; the returned
// history is a fresh copy.
//
// When either side is absent the section is skipped. A missing snapshot at
// the pointer is filled from current before comparing.
func ReconcileSection(section model.Section, current, incoming model.SectionContent, history SectionHistory, pointer int) Reconciliation {
	out := Reconciliation{History: history.Clone(), Pointer: pointer, Outcome: OutcomeSkipped}
	if current == nil || incoming == nil {
		return out
	}
	if current.Section() != section || incoming.Section() != section {
		return out
	}

	if _, ok := out.History[pointer]; !ok {
		out.History[pointer] = model.Clone(current)
		out.Repaired = true
	}

	if model.Equal(current, incoming) {
		out.Outcome = OutcomeUnchanged
		return out
	}

	// Head+1 rather than pointer+1 so an activated older version never
	// causes an existing snapshot to be overwritten.
	next := out.History.Head() + 1
	out.History[next] = model.Clone(incoming)
	out.Pointer = next
	out.Outcome = OutcomeChanged
	return out
}

// SectionOutcome reports the reconciliation result for one section.
type SectionOutcome struct {
	Section  model.Section `json:"section"`
	Outcome  Outcome       `json:"outcome"`
	Version  int           `json:"version"`
	Repaired bool          `json:"repaired,omitempty"`
}

// State is the version history and pointers of one project.
type State struct {
	History  History  `json:"history"`
	Pointers Pointers `json:"pointers"`
}

// NewState returns an empty state.
func NewState() State {
	return State{History: History{}, Pointers: Pointers{}}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := NewState()
	for section, h := range s.History {
		out.History[section] = h.Clone()
	}
	for section, p := range s.Pointers {
		out.Pointers[section] = p
	}
	return out
}

// Reconcile applies ReconcileSection to every tracked section and returns the
// new live document. Sections are independent: an unchanged section keeps its
// pointer even when others are promoted.
func (s *State) Reconcile(current, incoming model.Document) (model.Document, []SectionOutcome) {
	if s.History == nil {
		s.History = History{}
	}
	if s.Pointers == nil {
		s.Pointers = Pointers{}
	}
	live := current.Clone()
	outcomes := make([]SectionOutcome, 0, len(model.AllSections))
	for _, section := range model.AllSections {
		r := ReconcileSection(section, current.Get(section), incoming.Get(section), s.History[section], s.Pointers[section])
		if r.Outcome == OutcomeSkipped {
			outcomes = append(outcomes, SectionOutcome{Section: section, Outcome: r.Outcome, Version: s.Pointers[section]})
			continue
		}
		s.History[section] = r.History
		s.Pointers[section] = r.Pointer
		_ = live.Set(section, r.History[r.Pointer])
		outcomes = append(outcomes, SectionOutcome{
			Section:  section,
			Outcome:  r.Outcome,
			Version:  r.Pointer,
			Repaired: r.Repaired,
		})
	}
	return live, outcomes
}

// Activate moves the pointer of section to an existing version and returns
// that snapshot, which becomes the live content.
func (s *State) Activate(section model.Section, version int) (model.SectionContent, error) {
	content, ok := s.History[section][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, section, version)
	}
	if s.Pointers == nil {
		s.Pointers = Pointers{}
	}
	s.Pointers[section] = version
	return model.Clone(content), nil
}

// Reset clears all history and pointers.
func (s *State) Reset() {
	s.History = History{}
	s.Pointers = Pointers{}
}

// Changed returns the sections promoted to a new version.
func Changed(outcomes []SectionOutcome) []model.Section {
	var out []model.Section
	for _, o := range outcomes {
		if o.Outcome == OutcomeChanged {
			out = append(out, o.Section)
		}
	}
	return out
}
