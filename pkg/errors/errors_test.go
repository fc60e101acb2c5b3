package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

var (
	errInner = errors.New("inner")
	errPlain = errors.New("plain error")
)

func TestExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, vaulterr.ExitSuccess},
		{"general error", vaulterr.ErrGeneral, vaulterr.ExitGeneral},
		{"input error", vaulterr.ErrInvalidAddress, vaulterr.ExitInput},
		{"validation error", vaulterr.ErrInsufficientFunds, vaulterr.ExitValidation},
		{"network error", vaulterr.ErrHTTPStatus, vaulterr.ExitNetwork},
		{"programming error", vaulterr.ErrSigningFailed, vaulterr.ExitProgramming},
		{"plain error", errPlain, vaulterr.ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, vaulterr.ExitCode(tt.err))
		})
	}
}

// TestClassOf tests that every sentinel reports its handling class, even when wrapped.
func TestClassOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected vaulterr.Class
	}{
		{"invalid address", vaulterr.ErrInvalidAddress, vaulterr.ClassInput},
		{"currency mismatch", vaulterr.ErrCurrencyMismatch, vaulterr.ClassInput},
		{"insufficient funds", vaulterr.ErrInsufficientFunds, vaulterr.ClassValidation},
		{"fee too low", vaulterr.ErrFeeTooLow, vaulterr.ClassValidation},
		{"address unreachable", vaulterr.ErrAddressUnreachable, vaulterr.ClassValidation},
		{"http status", vaulterr.ErrHTTPStatus, vaulterr.ClassNetwork},
		{"decoding", vaulterr.ErrDecoding, vaulterr.ClassNetwork},
		{"unsupported asset", vaulterr.ErrUnsupportedAsset, vaulterr.ClassProgramming},
		{"encoding", vaulterr.ErrEncoding, vaulterr.ClassProgramming},
		{"wrapped", vaulterr.Wrap(vaulterr.ErrFeeTooLow, "candidate %s", "abc"), vaulterr.ClassValidation},
		{"fmt wrapped", fmt.Errorf("outer: %w", vaulterr.ErrDecoding), vaulterr.ClassNetwork},
		{"plain", errPlain, vaulterr.ClassUnknown},
		{"nil", nil, vaulterr.ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, vaulterr.ClassOf(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	assert.True(t, vaulterr.IsFatal(vaulterr.ErrSigningFailed))
	assert.True(t, vaulterr.IsFatal(vaulterr.Wrap(vaulterr.ErrUnsupportedAsset, "xlm")))
	assert.False(t, vaulterr.IsFatal(vaulterr.ErrInsufficientFunds))
	assert.False(t, vaulterr.IsFatal(errPlain))
}

func TestWithCause(t *testing.T) {
	t.Parallel()
	err := vaulterr.WithCause(vaulterr.ErrDecoding, errInner)

	require.ErrorIs(t, err, vaulterr.ErrDecoding)
	require.ErrorIs(t, err, errInner)
	assert.Equal(t, "failed to decode remote response: inner", err.Error())

	// The sentinel itself must stay untouched.
	assert.NoError(t, vaulterr.ErrDecoding.Unwrap())
}

func TestWithDetails(t *testing.T) {
	t.Parallel()
	details := map[string]string{
		"required":  "0.5",
		"available": "0.1",
		"symbol":    "ETH",
	}

	err := vaulterr.WithDetails(vaulterr.ErrInsufficientFunds, details)

	var we *vaulterr.WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, details, we.Details)
	assert.Equal(t, vaulterr.ClassValidation, we.Class)
	assert.Nil(t, vaulterr.ErrInsufficientFunds.Details)
}

func TestWithSuggestion(t *testing.T) {
	t.Parallel()
	suggestion := "Check balance with 'coinvault balance eth <address>'"
	err := vaulterr.WithSuggestion(vaulterr.ErrInsufficientFunds, suggestion)

	var we *vaulterr.WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, suggestion, we.Suggestion)
}

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("preserves identity", func(t *testing.T) {
		t.Parallel()
		wrapped := vaulterr.Wrap(vaulterr.ErrNotFound, "account %s", "main")
		assert.Contains(t, wrapped.Error(), "account main")
		require.ErrorIs(t, wrapped, vaulterr.ErrNotFound)
	})

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, vaulterr.Wrap(nil, "context"))
	})

	t.Run("plain error", func(t *testing.T) {
		t.Parallel()
		wrapped := vaulterr.Wrap(errPlain, "context")
		var we *vaulterr.WalletError
		require.ErrorAs(t, wrapped, &we)
		assert.Equal(t, "GENERAL_ERROR", we.Code)
		assert.Equal(t, errPlain, we.Cause)
		assert.Equal(t, vaulterr.ClassUnknown, we.Class)
	})

	t.Run("field preservation", func(t *testing.T) {
		t.Parallel()
		original := vaulterr.WithDetails(vaulterr.ErrNotFound, map[string]string{"key": "val"})
		original = vaulterr.WithSuggestion(original, "try this")
		wrapped := vaulterr.Wrap(original, "context")

		var we *vaulterr.WalletError
		require.ErrorAs(t, wrapped, &we)
		assert.Equal(t, "NOT_FOUND", we.Code)
		assert.Equal(t, map[string]string{"key": "val"}, we.Details)
		assert.Equal(t, "try this", we.Suggestion)
		assert.Equal(t, vaulterr.ExitNotFound, we.ExitCode)
	})
}

func TestWalletError_Error(t *testing.T) {
	t.Parallel()

	t.Run("with details sorted", func(t *testing.T) {
		t.Parallel()
		err := &vaulterr.WalletError{
			Code:    "TEST",
			Message: "failed",
			Details: map[string]string{"beta": "2", "alpha": "1"},
		}
		assert.Equal(t, "failed (alpha: 1) (beta: 2)", err.Error())
	})

	t.Run("with details and cause", func(t *testing.T) {
		t.Parallel()
		err := &vaulterr.WalletError{
			Code:    "TEST",
			Message: "outer",
			Details: map[string]string{"key": "val"},
			Cause:   errInner,
		}
		assert.Equal(t, "outer (key: val): inner", err.Error())
	})
}

func TestWalletError_Is(t *testing.T) {
	t.Parallel()
	a := &vaulterr.WalletError{Code: "SAME_CODE", Message: "a"}
	b := &vaulterr.WalletError{Code: "SAME_CODE", Message: "b"}
	c := &vaulterr.WalletError{Code: "OTHER", Message: "c"}

	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
	assert.False(t, a.Is(errPlain))
}

func TestCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "FEE_TOO_LOW", vaulterr.Code(vaulterr.ErrFeeTooLow))
	assert.Equal(t, "GENERAL_ERROR", vaulterr.Code(errPlain))
	assert.Equal(t, "GENERAL_ERROR", vaulterr.Code(nil))
}
