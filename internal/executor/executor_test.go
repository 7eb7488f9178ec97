package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("uniswap", Func(func(ctx context.Context, req Request) (Result, error) {
		return Result{Output: "swapped"}, nil
	}))

	e, err := r.Lookup("uniswap")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	res, err := e.Execute(context.Background(), Request{TaskID: "t1"})
	if err != nil || res.Output != "swapped" {
		t.Fatalf("execute = %+v, %v", res, err)
	}

	_, err = r.Lookup("unknown")
	if err == nil {
		t.Fatal("lookup of unregistered protocol succeeded")
	}
	if IsRetryable(err) {
		t.Error("missing executor should be a permanent error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("rpc timeout"), true},
		{"permanent", Permanent(errors.New("reverted")), false},
		{"wrapped permanent", fmt.Errorf("attempt 2: %w", Permanent(errors.New("reverted"))), false},
		{"context canceled", context.Canceled, false},
		{"wrapped cancel", fmt.Errorf("call: %w", context.Canceled), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestPermanentUnwrap(t *testing.T) {
	inner := errors.New("insufficient funds")
	err := Permanent(inner)
	if !errors.Is(err, inner) {
		t.Fatal("Permanent does not unwrap to the inner error")
	}
	if err.Error() != inner.Error() {
		t.Errorf("Error() = %q, want %q", err.Error(), inner.Error())
	}
}
