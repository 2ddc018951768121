package request_test

import (
	"errors"
	"testing"

	"github.com/pricepub/pricepub/internal/request"
)

func TestLegalTransitions(t *testing.T) {
	var b request.Base
	for _, to := range []request.State{
		request.StateReady,
		request.StateSubmitted,
		request.StateSubscribedSignature,
		request.StateConfirmed,
		request.StateDone,
	} {
		if err := b.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if !b.Done() {
		t.Fatal("expected done after reaching StateDone")
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	var b request.Base
	if err := b.Transition(request.StateSubmitted); err == nil {
		t.Fatal("expected rejection skipping StateReady")
	}
}

func TestFailFromAnyState(t *testing.T) {
	var b request.Base
	if err := b.Transition(request.StateReady); err != nil {
		t.Fatal(err)
	}
	b.Fail(errors.New("boom"))
	if b.State() != request.StateError {
		t.Fatalf("got state %s", b.State())
	}
	if !b.Done() {
		t.Fatal("expected done after Fail")
	}
}
