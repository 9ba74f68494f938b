package api_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/momentics/hioload-rpc/api"
)

func TestStructuredErrorUnwrapsToSentinel(t *testing.T) {
	err := api.NewError(api.ErrCodeNotFound, "no such blob").WithContext("id", 7)
	if !errors.Is(err, api.ErrNotFound) {
		t.Fatal("structured error does not match its sentinel")
	}
	if !strings.Contains(err.Error(), "id:7") {
		t.Errorf("message %q lacks context", err.Error())
	}
	wrapped := fmt.Errorf("get: %w", err)
	if api.CodeOf(wrapped) != api.ErrCodeNotFound {
		t.Errorf("CodeOf(wrapped) = %v", api.CodeOf(wrapped))
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want api.ErrorCode
	}{
		{nil, api.ErrCodeOK},
		{fmt.Errorf("x: %w", api.ErrInvalidArgument), api.ErrCodeInvalidArgument},
		{api.ErrOperationTimeout, api.ErrCodeTimeout},
		{api.ErrResourceExhausted, api.ErrCodeResourceExhausted},
		{errors.New("disk on fire"), api.ErrCodeInternal},
	}
	for _, c := range cases {
		if got := api.CodeOf(c.err); got != c.want {
			t.Errorf("CodeOf(%v) = %v, want %v", c.err, got, c.want)
		}
	}
	if api.ErrorCode(99).String() != "code(99)" {
		t.Error("unknown code string")
	}
}

func TestInterest(t *testing.T) {
	rw := api.Readable | api.Writable
	if !rw.Has(api.Writable) || api.Readable.Has(rw) {
		t.Fatal("Has")
	}
	if rw.String() != "readable|writable" || api.Interest(0).String() != "none" {
		t.Fatalf("String = %q", rw.String())
	}
}
