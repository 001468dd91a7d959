package lifecycle

import (
	"errors"
	"testing"
)

func TestAllStatesOrderedAndIndexed(t *testing.T) {
	all := AllStates()
	if len(all) != 8 {
		t.Fatalf("Expected 8 states, got %d", len(all))
	}
	if all[0].Value != StatePlanning {
		t.Errorf("Expected first state planning, got %s", all[0].Value)
	}
	for _, s := range all {
		got, ok := StateByValue(s.Value)
		if !ok {
			t.Fatalf("State %s not indexed", s.Value)
		}
		if got.Label == "" {
			t.Errorf("State %s has empty label", s.Value)
		}
	}
}

func TestDisposedIsOnlyTerminalState(t *testing.T) {
	for _, s := range AllStates() {
		if s.Value == StateDisposed {
			if !s.IsTerminal {
				t.Error("disposed should be terminal")
			}
			continue
		}
		if s.IsTerminal {
			t.Errorf("State %s should not be terminal", s.Value)
		}
	}
	if len(ValidTransitions(StateDisposed)) != 0 {
		t.Error("Terminal state must have no outgoing transitions")
	}
}

func TestValidTransitions(t *testing.T) {
	targets := ValidTransitions(StateInInventory)
	want := map[string]bool{
		StateDeployed:        true,
		StateUnderConversion: true,
		StateRetired:         true,
	}
	if len(targets) != len(want) {
		t.Fatalf("Expected %d transitions from in_inventory, got %d", len(want), len(targets))
	}
	for _, s := range targets {
		if !want[s.Value] {
			t.Errorf("Unexpected transition in_inventory -> %s", s.Value)
		}
	}
}

func TestTransitionRuleLookup(t *testing.T) {
	r, err := TransitionRule(StatePlanning, StateProcurement)
	if err != nil {
		t.Fatalf("Expected rule, got error: %v", err)
	}
	if r.RequestLevel != 3 || r.RequiresApproval {
		t.Errorf("Unexpected rule for planning->procurement: %+v", r)
	}

	if _, err := TransitionRule(StatePlanning, StateDeployed); !errors.Is(err, ErrUnknownTransition) {
		t.Errorf("Expected ErrUnknownTransition, got %v", err)
	}
}

func TestApprovalRulesCarryApproverLevels(t *testing.T) {
	conv, err := TransitionRule(StateInInventory, StateUnderConversion)
	if err != nil {
		t.Fatal(err)
	}
	if !conv.RequiresApproval || conv.ApprovalLevels != 1 || conv.ApproverLevelL1 != 2 {
		t.Errorf("Unexpected conversion rule: %+v", conv)
	}

	retire, err := TransitionRule(StateDeployed, StateRetired)
	if err != nil {
		t.Fatal(err)
	}
	if retire.ApprovalLevels != 2 || retire.ApproverLevelL1 != 3 || retire.ApproverLevelL2 != 2 {
		t.Errorf("Unexpected retire rule: %+v", retire)
	}
}
