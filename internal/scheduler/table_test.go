package scheduler

import (
	"errors"
	"testing"
)

func TestTableInsertAndGet(t *testing.T) {
	tb := NewTable()

	if err := tb.Insert(&Task{ID: "a"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := tb.Insert(&Task{ID: "a"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate Insert() error = %v, want ErrDuplicateID", err)
	}
	if _, err := tb.Get("a"); err != nil {
		t.Errorf("Get(a) error = %v", err)
	}
	if _, err := tb.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

// TestTableTransitions walks the task state machine.
func TestTableTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []Status
		valid bool
	}{
		{"happy path", []Status{StatusEligible, StatusQueued, StatusRunning, StatusSucceeded}, true},
		{"retry loop", []Status{StatusEligible, StatusQueued, StatusRunning, StatusQueued, StatusRunning, StatusFailed}, true},
		{"cancel pending", []Status{StatusCancelled}, true},
		{"cancel queued", []Status{StatusEligible, StatusQueued, StatusCancelled}, true},
		{"cancel running", []Status{StatusEligible, StatusQueued, StatusRunning, StatusCancelled}, true},
		{"queue wait exhausted", []Status{StatusEligible, StatusQueued, StatusFailed}, true},
		{"skip eligible", []Status{StatusQueued}, false},
		{"pending to running", []Status{StatusRunning}, false},
		{"resurrect succeeded", []Status{StatusEligible, StatusQueued, StatusRunning, StatusSucceeded, StatusQueued}, false},
		{"resurrect failed", []Status{StatusEligible, StatusQueued, StatusRunning, StatusFailed, StatusRunning}, false},
		{"resurrect cancelled", []Status{StatusCancelled, StatusEligible}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := NewTable()
			if err := tb.Insert(&Task{ID: "x"}); err != nil {
				t.Fatal(err)
			}
			var err error
			for _, next := range tt.path {
				if err = tb.Transition("x", next); err != nil {
					break
				}
			}
			if tt.valid && err != nil {
				t.Errorf("path %v failed: %v", tt.path, err)
			}
			if !tt.valid {
				if err == nil {
					t.Errorf("path %v should have failed", tt.path)
				} else if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("error = %v, want ErrInvalidTransition", err)
				}
			}
		})
	}
}

func TestTableTransitionUnknownTask(t *testing.T) {
	tb := NewTable()
	if err := tb.Transition("ghost", StatusEligible); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
