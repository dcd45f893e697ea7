package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("MK-TEST-1000", "test message"),
			expected: "[MK-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("MK-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[MK-TEST-1001] test message: extra info",
		},
		{
			name:     "error with details and cause",
			err:      NewDomainError("MK-TEST-1002", "test message").Detailf("file %s", "a.rdb").WithCause(errors.New("eof")),
			expected: "[MK-TEST-1002] test message: file a.rdb: eof",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("MK-TEST-1000", "message 1")
	err2 := NewDomainError("MK-TEST-1000", "message 2")
	err3 := NewDomainError("MK-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := NewDomainError("MK-TEST-1000", "wrapper").WithCause(cause)

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
	if errors.Unwrap(NewDomainError("MK-TEST-1000", "no cause")) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestDomainError_CopiesDoNotMutate(t *testing.T) {
	original := NewDomainError("MK-TEST-1000", "original message")
	withDetails := original.WithDetails("additional details")
	withCause := original.WithCause(errors.New("root"))

	if original.Details != "" || original.Cause != nil {
		t.Error("copies should not modify original error")
	}
	if withDetails.Details != "additional details" {
		t.Errorf("Details = %q", withDetails.Details)
	}
	if withCause.Code != original.Code || withCause.Message != original.Message {
		t.Errorf("WithCause lost code or message: %+v", withCause)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"domain error", ErrBusy, "MK-BUSY-4090"},
		{"wrapped domain error", fmt.Errorf("save: %w", ErrIO.WithDetails("put dump.rdb")), "MK-IO-5000"},
		{"regular error", fmt.Errorf("regular error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.expected {
				t.Errorf("CodeOf() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := map[string]int{
		"MK-SNAP-4040": 404,
		"MK-BUSY-4090": 409,
		"MK-SNAP-4120": 412,
		"MK-FMT-4220":  422,
		"MK-CONF-4000": 400,
		"MK-KEY-4001":  400,
		"MK-LOAD-5030": 503,
		"MK-IO-5000":   500,
		"MK-X-0420":    500,
		"MK-X-40400":   500,
		"MK-X-abcd":    500,
		"":             500,
	}
	for code, want := range tests {
		if got := StatusOf(code); got != want {
			t.Errorf("StatusOf(%q) = %d, want %d", code, got, want)
		}
	}
	if ErrFormat.WithDetails("x").Status() != 422 {
		t.Errorf("ErrFormat.Status() = %d", ErrFormat.Status())
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrConfiguration, "MK-CONF-4000"},
		{ErrIO, "MK-IO-5000"},
		{ErrFormat, "MK-FMT-4220"},
		{ErrBusy, "MK-BUSY-4090"},
		{ErrNotFound, "MK-SNAP-4040"},
		{ErrDisabled, "MK-SNAP-4120"},
		{ErrWrongType, "MK-KEY-4001"},
		{ErrInvalidDB, "MK-KEY-4002"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

func TestEntry_IsExpired(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	tests := []struct {
		name     string
		expireAt int64
		want     bool
	}{
		{"no expiry", 0, false},
		{"future", 1_000_001, false},
		{"exact", 1_000_000, true},
		{"past", 999_999, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewString(0, "k", []byte("v")).WithExpireAt(tt.expireAt)
			if got := e.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_CloneAndEqual(t *testing.T) {
	entries := []*Entry{
		NewString(0, "s", []byte("hello")),
		{DB: 1, Key: "l", Kind: KindList, Items: [][]byte{[]byte("a"), []byte("b")}},
		{DB: 2, Key: "z", Kind: KindSet, Items: [][]byte{[]byte("y"), []byte("x")}},
		{DB: 3, Key: "h", Kind: KindHash, Fields: map[string][]byte{"f": []byte("1")}, ExpireAt: 42},
	}
	for _, e := range entries {
		t.Run(e.Kind.String(), func(t *testing.T) {
			c := e.Clone()
			if !e.Equal(c) {
				t.Fatalf("clone not equal: %+v vs %+v", e, c)
			}
			c.ExpireAt++
			if e.Equal(c) {
				t.Error("entries with different expiry should differ")
			}
		})
	}

	a := &Entry{Key: "z", Kind: KindSet, Items: [][]byte{[]byte("x"), []byte("y")}}
	b := &Entry{Key: "z", Kind: KindSet, Items: [][]byte{[]byte("y"), []byte("x")}}
	if !a.Equal(b) {
		t.Error("set equality should ignore member order")
	}
	a.Kind, b.Kind = KindList, KindList
	if a.Equal(b) {
		t.Error("list equality should respect element order")
	}
}

func TestKind_String(t *testing.T) {
	if KindHash.String() != "hash" || Kind(0).String() != "none" {
		t.Errorf("unexpected kind names: %s %s", KindHash, Kind(0))
	}
	if Kind(9).Valid() {
		t.Error("Kind(9) should be invalid")
	}
}
