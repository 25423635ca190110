package handoff

import (
	"errors"
	"fmt"
	"testing"

	"github.com/muurk/symbridge/internal/symbolic"
)

func TestPolicyOutcome(t *testing.T) {
	found := symbolic.NewState(0x2000)
	second := symbolic.NewState(0x2000)
	decode := symbolic.ErroredState{State: symbolic.NewState(0x5000), Err: &symbolic.DecodeError{Addr: 0x5000}}
	unmapped := symbolic.ErroredState{State: symbolic.NewState(0x1000), Err: &symbolic.UnmappedReadError{Addr: 0x8000, Size: 4}}
	limit := symbolic.ErroredState{State: symbolic.NewState(0x1000), Err: symbolic.ErrStepLimit}

	tests := []struct {
		name string
		x    *symbolic.Exploration
		want Kind
		is   error
	}{
		{
			name: "first found wins",
			x:    &symbolic.Exploration{Found: []*symbolic.State{found, second}, Errored: []symbolic.ErroredState{decode}},
			want: OutcomeFound,
		},
		{
			name: "decode fault is inapplicable",
			x:    &symbolic.Exploration{Errored: []symbolic.ErroredState{unmapped, decode}},
			want: OutcomeInapplicable,
			is:   ErrInapplicable,
		},
		{
			name: "only avoided fails",
			x:    &symbolic.Exploration{Avoided: []*symbolic.State{found}},
			want: OutcomeFailed,
			is:   ErrFailed,
		},
		{
			name: "unmapped read fails",
			x:    &symbolic.Exploration{Errored: []symbolic.ErroredState{unmapped}},
			want: OutcomeFailed,
			is:   ErrFailed,
		},
		{
			name: "step limit fails",
			x:    &symbolic.Exploration{Errored: []symbolic.ErroredState{limit}},
			want: OutcomeFailed,
			is:   symbolic.ErrStepLimit,
		},
		{
			name: "nothing at all fails",
			x:    &symbolic.Exploration{},
			want: OutcomeFailed,
			is:   ErrFailed,
		},
		{
			name: "nil exploration fails",
			want: OutcomeFailed,
			is:   ErrFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Policy{Find: []uint64{0x2000}}.Outcome(tt.x)
			if out.Kind != tt.want {
				t.Fatalf("Kind = %s, want %s", out.Kind, tt.want)
			}
			err := out.Err()
			if tt.want == OutcomeFound {
				if err != nil {
					t.Errorf("Err() = %v, want nil", err)
				}
				if out.State != found {
					t.Errorf("State is not the first found state")
				}
				return
			}
			if !errors.Is(err, tt.is) {
				t.Errorf("Err() = %v, want errors.Is %v", err, tt.is)
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyWrapped(t *testing.T) {
	inapplicable := &InapplicableError{PC: 0x5000, Err: &symbolic.DecodeError{Addr: 0x5000}}

	tests := []struct {
		err  error
		want Kind
	}{
		{nil, OutcomeFound},
		{inapplicable, OutcomeInapplicable},
		{fmt.Errorf("scenario x: %w", inapplicable), OutcomeInapplicable},
		{&FailedError{Reason: "no path"}, OutcomeFailed},
		{errors.New("connection refused"), OutcomeFailed},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	var decode *symbolic.DecodeError
	if !errors.As(inapplicable, &decode) || decode.Addr != 0x5000 {
		t.Errorf("InapplicableError does not unwrap to the decode fault")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseAttached, PhaseConcreteRunning, true},
		{PhaseAttached, PhaseSymbolicExploring, false},
		{PhaseConcreteStopped, PhaseSymbolicExploring, true},
		{PhaseSymbolicExploring, PhaseConcreteResuming, false},
		{PhaseSymbolicFound, PhaseConcreteResuming, true},
		{PhaseSymbolicAvoided, PhaseConcreteResuming, false},
		{PhaseSymbolicErrored, PhaseConcreteStopped, true},
		{PhaseConcreteResuming, PhaseConcreteRunning, true},
		{PhaseConcreteRunning, PhaseSymbolicExploring, false},
		{PhaseSymbolicExploring, PhaseDetached, true},
		{PhaseDetached, PhaseDetached, false},
		{PhaseDetached, PhaseConcreteRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
