package versions

import (
	"encoding/json"
	"errors"
	"testing"

	"resume-tailor/resume/model"
)

func summary(lines ...string) model.SectionContent {
	return model.SummaryContent{Lines: lines}
}

func TestReconcileSectionUnchangedIsNoOp(t *testing.T) {
	current := summary("Go engineer")
	history := SectionHistory{0: summary("Go engineer")}

	first := ReconcileSection(model.SectionSummary, current, summary("Go engineer"), history, 0)
	if first.Outcome != OutcomeUnchanged {
		t.Fatalf("expected unchanged, got %s", first.Outcome)
	}
	second := ReconcileSection(model.SectionSummary, current, summary("Go engineer"), first.History, first.Pointer)
	if second.Outcome != OutcomeUnchanged || second.Pointer != 0 {
		t.Fatalf("expected stable pointer 0, got %d (%s)", second.Pointer, second.Outcome)
	}
	if len(second.History) != 1 {
		t.Fatalf("expected history size 1, got %d", len(second.History))
	}
}

func TestReconcileSectionRepairsMissingSnapshot(t *testing.T) {
	current := summary("base")
	r := ReconcileSection(model.SectionSummary, current, summary("tailored"), nil, 0)
	if !r.Repaired {
		t.Fatalf("expected repair of version 0")
	}
	if r.Outcome != OutcomeChanged || r.Pointer != 1 {
		t.Fatalf("expected change to version 1, got %s v%d", r.Outcome, r.Pointer)
	}
	if !model.Equal(r.History[0], current) {
		t.Fatalf("expected version 0 to hold the base content")
	}
	if !model.Equal(r.History[1], summary("tailored")) {
		t.Fatalf("expected version 1 to hold the tailored content")
	}
}

func TestReconcileSectionSkipsAbsentContent(t *testing.T) {
	history := SectionHistory{0: summary("a")}
	r := ReconcileSection(model.SectionSummary, summary("a"), nil, history, 0)
	if r.Outcome != OutcomeSkipped || r.Repaired {
		t.Fatalf("expected skip without repair, got %+v", r)
	}
	r = ReconcileSection(model.SectionSummary, nil, summary("b"), nil, 0)
	if r.Outcome != OutcomeSkipped || len(r.History) != 0 {
		t.Fatalf("expected skip with empty history, got %+v", r)
	}
}

func TestReconcileSectionDoesNotMutateInput(t *testing.T) {
	history := SectionHistory{0: summary("a")}
	_ = ReconcileSection(model.SectionSummary, summary("a"), summary("b"), history, 0)
	if len(history) != 1 {
		t.Fatalf("expected caller history untouched, got %d entries", len(history))
	}
}

func TestPointerIsMonotonic(t *testing.T) {
	state := NewState()
	current := model.Document{}
	_ = current.Set(model.SectionSummary, summary("v0"))

	inputs := []string{"v1", "v1", "v2", "v3", "v3", "v4"}
	last := 0
	for i, text := range inputs {
		var incoming model.Document
		_ = incoming.Set(model.SectionSummary, summary(text))
		live, outcomes := state.Reconcile(current, incoming)
		got := state.Pointers[model.SectionSummary]
		if got < last {
			t.Fatalf("step %d: pointer decreased from %d to %d", i, last, got)
		}
		if outcomes[0].Outcome == OutcomeChanged && got != last+1 {
			t.Fatalf("step %d: expected pointer %d, got %d", i, last+1, got)
		}
		if outcomes[0].Outcome == OutcomeUnchanged && got != last {
			t.Fatalf("step %d: expected pointer to stay %d, got %d", i, last, got)
		}
		last = got
		current = live
	}
	if last != 4 {
		t.Fatalf("expected final pointer 4, got %d", last)
	}
}

func TestHistoryEntriesAreImmutable(t *testing.T) {
	state := NewState()
	var current model.Document
	_ = current.Set(model.SectionSummary, summary("v0"))
	_ = current.Set(model.SectionSkills, model.SkillsContent{Skills: model.SkillSet{Languages: []string{"Go"}}})

	var incoming model.Document
	_ = incoming.Set(model.SectionSummary, summary("v1"))
	_ = incoming.Set(model.SectionSkills, current.Get(model.SectionSkills))
	current, _ = state.Reconcile(current, incoming)

	before := state.Clone()

	// Promote skills only; summary snapshots must not move.
	incoming = current.Clone()
	_ = incoming.Set(model.SectionSkills, model.SkillsContent{Skills: model.SkillSet{Languages: []string{"Go", "Rust"}}})
	current, _ = state.Reconcile(current, incoming)

	for v, snap := range before.History[model.SectionSummary] {
		if !model.Equal(state.History[model.SectionSummary][v], snap) {
			t.Fatalf("summary v%d changed", v)
		}
	}
	for v, snap := range before.History[model.SectionSkills] {
		if !model.Equal(state.History[model.SectionSkills][v], snap) {
			t.Fatalf("skills v%d changed", v)
		}
	}
	if state.Pointers[model.SectionSummary] != 1 || state.Pointers[model.SectionSkills] != 1 {
		t.Fatalf("unexpected pointers: %+v", state.Pointers)
	}
	if !model.Equal(current.Get(model.SectionSkills), state.History[model.SectionSkills][1]) {
		t.Fatalf("live skills must match the active snapshot")
	}
}

func TestActivateThenChangeAppendsAtHead(t *testing.T) {
	state := NewState()
	var current model.Document
	_ = current.Set(model.SectionSummary, summary("v0"))
	for _, text := range []string{"v1", "v2"} {
		var incoming model.Document
		_ = incoming.Set(model.SectionSummary, summary(text))
		current, _ = state.Reconcile(current, incoming)
	}

	content, err := state.Activate(model.SectionSummary, 0)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	_ = current.Set(model.SectionSummary, content)

	var incoming model.Document
	_ = incoming.Set(model.SectionSummary, summary("v3"))
	_, outcomes := state.Reconcile(current, incoming)
	if outcomes[0].Version != 3 {
		t.Fatalf("expected promotion to v3, got v%d", outcomes[0].Version)
	}
	if !model.Equal(state.History[model.SectionSummary][1], summary("v1")) {
		t.Fatalf("v1 must not be overwritten")
	}
}

func TestActivateUnknownVersion(t *testing.T) {
	state := NewState()
	if _, err := state.Activate(model.SectionSkills, 2); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	state := NewState()
	state.History[model.SectionSummary] = SectionHistory{0: summary("a"), 1: summary("b")}
	state.History[model.SectionSkills] = SectionHistory{0: model.SkillsContent{Skills: model.SkillSet{Tools: []string{"git"}}}}
	state.Pointers[model.SectionSummary] = 1

	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded State
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Pointers[model.SectionSummary] != 1 {
		t.Fatalf("pointer lost: %+v", decoded.Pointers)
	}
	if !model.Equal(decoded.History[model.SectionSummary][1], summary("b")) {
		t.Fatalf("summary v1 lost")
	}
	if _, ok := decoded.History[model.SectionSkills][0].(model.SkillsContent); !ok {
		t.Fatalf("expected typed skills snapshot")
	}
}
