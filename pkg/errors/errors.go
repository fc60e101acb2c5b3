// Package errors provides structured error handling for coinvault.
// Every error carries a machine-readable code, a class that tells the caller
// how to react to it, and an exit code for the CLI.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess     = 0  // Successful execution
	ExitGeneral     = 1  // General/unknown error
	ExitInput       = 2  // Invalid input
	ExitAuth        = 3  // Authentication failed
	ExitNotFound    = 4  // Resource not found
	ExitValidation  = 5  // Transaction rejected by local validation
	ExitNetwork     = 6  // Remote ledger or transport failure
	ExitProgramming = 70 // Internal contract violation
)

// Class groups errors by how a caller is expected to handle them.
type Class string

// Error classes.
const (
	// ClassInput is a malformed request rejected before any network call.
	ClassInput Class = "input"
	// ClassValidation is a recoverable rejection; adjusting the candidate fixes it.
	ClassValidation Class = "validation"
	// ClassNetwork is a transport, decoding or remote-status failure.
	ClassNetwork Class = "network"
	// ClassProgramming is a caller contract violation and is not recoverable.
	ClassProgramming Class = "programming"
	// ClassUnknown is anything not produced by this package.
	ClassUnknown Class = "unknown"
)

// WalletError is the structured error type for coinvault.
type WalletError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Class      Class             // Handling class
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *WalletError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *WalletError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for WalletError.
func (e *WalletError) Is(target error) bool {
	var t *WalletError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func (e *WalletError) clone() *WalletError {
	c := *e
	return &c
}

// Sentinel errors.
var (
	ErrGeneral = &WalletError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		Class:    ClassUnknown,
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &WalletError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrNotFound = &WalletError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		Class:    ClassInput,
		ExitCode: ExitNotFound,
	}

	ErrInvalidMnemonic = &WalletError{
		Code:     "INVALID_MNEMONIC",
		Message:  "invalid mnemonic phrase",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrNotLoggedIn = &WalletError{
		Code:     "NOT_LOGGED_IN",
		Message:  "no active session",
		Class:    ClassInput,
		ExitCode: ExitAuth,
	}

	// Input errors.
	ErrInvalidAddress = &WalletError{
		Code:     "INVALID_ADDRESS",
		Message:  "invalid address format",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrInvalidChecksum = &WalletError{
		Code:     "INVALID_CHECKSUM",
		Message:  "invalid address checksum",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrUnsupportedVersion = &WalletError{
		Code:     "UNSUPPORTED_VERSION",
		Message:  "unsupported address version",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrAmountRequired = &WalletError{
		Code:     "AMOUNT_REQUIRED",
		Message:  "amount is required",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrInvalidAmount = &WalletError{
		Code:     "INVALID_AMOUNT",
		Message:  "invalid amount",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrCurrencyMismatch = &WalletError{
		Code:     "CURRENCY_MISMATCH",
		Message:  "values have different currencies",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrUnknownCurrency = &WalletError{
		Code:     "UNKNOWN_CURRENCY",
		Message:  "unknown currency",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrInvalidFeeTier = &WalletError{
		Code:     "INVALID_FEE_TIER",
		Message:  "invalid fee tier",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrInvalidURI = &WalletError{
		Code:     "INVALID_URI",
		Message:  "invalid payment URI",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrInvalidScope = &WalletError{
		Code:     "INVALID_SCOPE",
		Message:  "invalid account scope",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrMemoTooLong = &WalletError{
		Code:     "MEMO_TOO_LONG",
		Message:  "memo exceeds chain limit",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	// Validation failures.
	ErrInsufficientFunds = &WalletError{
		Code:     "INSUFFICIENT_FUNDS",
		Message:  "insufficient funds for transaction",
		Class:    ClassValidation,
		ExitCode: ExitValidation,
	}

	ErrFeeTooLow = &WalletError{
		Code:     "FEE_TOO_LOW",
		Message:  "fee is below the network minimum",
		Class:    ClassValidation,
		ExitCode: ExitValidation,
	}

	ErrAddressUnreachable = &WalletError{
		Code:     "ADDRESS_UNREACHABLE",
		Message:  "destination address is not reachable on this chain",
		Class:    ClassValidation,
		ExitCode: ExitValidation,
	}

	ErrNoUTXOs = &WalletError{
		Code:     "NO_UTXOS",
		Message:  "no spendable outputs available",
		Class:    ClassValidation,
		ExitCode: ExitValidation,
	}

	ErrReservationConflict = &WalletError{
		Code:     "RESERVATION_CONFLICT",
		Message:  "output is already reserved by another transaction",
		Class:    ClassValidation,
		ExitCode: ExitValidation,
	}

	// Network errors.
	ErrNetworkError = &WalletError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		Class:    ClassNetwork,
		ExitCode: ExitNetwork,
	}

	ErrHTTPStatus = &WalletError{
		Code:     "HTTP_STATUS",
		Message:  "unexpected HTTP status",
		Class:    ClassNetwork,
		ExitCode: ExitNetwork,
	}

	ErrDecoding = &WalletError{
		Code:     "DECODING_FAILED",
		Message:  "failed to decode remote response",
		Class:    ClassNetwork,
		ExitCode: ExitNetwork,
	}

	ErrTxRejected = &WalletError{
		Code:     "TX_REJECTED",
		Message:  "transaction rejected by network",
		Class:    ClassNetwork,
		ExitCode: ExitNetwork,
	}

	ErrNoLinkedAccount = &WalletError{
		Code:     "NO_LINKED_ACCOUNT",
		Message:  "no linked exchange account",
		Class:    ClassNetwork,
		ExitCode: ExitNotFound,
	}

	// Programming errors.
	ErrUnsupportedAsset = &WalletError{
		Code:     "UNSUPPORTED_ASSET",
		Message:  "operation not supported for this asset",
		Class:    ClassProgramming,
		ExitCode: ExitProgramming,
	}

	ErrSigningFailed = &WalletError{
		Code:     "SIGNING_FAILED",
		Message:  "key pair cannot sign for this chain",
		Class:    ClassProgramming,
		ExitCode: ExitProgramming,
	}

	ErrEncoding = &WalletError{
		Code:     "ENCODING_FAILED",
		Message:  "malformed signed transaction",
		Class:    ClassProgramming,
		ExitCode: ExitProgramming,
	}

	ErrStageMismatch = &WalletError{
		Code:     "STAGE_MISMATCH",
		Message:  "transaction stage belongs to a different chain",
		Class:    ClassProgramming,
		ExitCode: ExitProgramming,
	}

	// Config-specific errors.
	ErrConfigNotFound = &WalletError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		Class:    ClassInput,
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &WalletError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		Class:    ClassInput,
		ExitCode: ExitInput,
	}

	ErrCacheNotFound = &WalletError{
		Code:     "CACHE_NOT_FOUND",
		Message:  "no cached data available",
		Class:    ClassInput,
		ExitCode: ExitNotFound,
	}
)

// New creates a new WalletError with the given code and message.
func New(code, message string) *WalletError {
	return &WalletError{
		Code:     code,
		Message:  message,
		Class:    ClassUnknown,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var we *WalletError
	if errors.As(err, &we) {
		return &WalletError{
			Code:       we.Code,
			Message:    fmt.Sprintf("%s: %s", msg, we.Message),
			Class:      we.Class,
			Details:    we.Details,
			Suggestion: we.Suggestion,
			Cause:      err,
			ExitCode:   we.ExitCode,
		}
	}

	return &WalletError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Class:    ClassUnknown,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithCause attaches an underlying cause to a sentinel while keeping its code and class.
func WithCause(sentinel *WalletError, cause error) error {
	e := sentinel.clone()
	e.Cause = cause
	return e
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var we *WalletError
	if errors.As(err, &we) {
		e := we.clone()
		e.Details = details
		return e
	}

	return &WalletError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Class:    ClassUnknown,
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var we *WalletError
	if errors.As(err, &we) {
		e := we.clone()
		e.Suggestion = suggestion
		return e
	}

	return &WalletError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Class:      ClassUnknown,
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var we *WalletError
	if errors.As(err, &we) {
		return we.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var we *WalletError
	if errors.As(err, &we) {
		return we.Code
	}
	return "GENERAL_ERROR"
}

// ClassOf returns the handling class of an error.
func ClassOf(err error) Class {
	var we *WalletError
	if errors.As(err, &we) && we.Class != "" {
		return we.Class
	}
	return ClassUnknown
}

// IsFatal reports whether err indicates a caller contract violation.
func IsFatal(err error) bool {
	return ClassOf(err) == ClassProgramming
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
