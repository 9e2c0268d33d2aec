package errs

import (
	"errors"
	"strconv"
	"strings"
)

// CodeError is the wire-visible failure shape for rejected calls.
// Code identifies the failure class, Msg is stable, Detail is per-call.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Is matches by code so WithDetail copies still satisfy errors.Is
// against their base value.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// Failure codes, grouped by taxonomy. Codes are part of the client
// protocol; renumbering is a breaking change.
const (
	CodeOutdatedClient = 1001 // rejected-at-entry: version below minimum or unparseable
	CodeUnauthorized   = 1002 // rejected-at-entry: token missing/invalid
	CodeQueueFull      = 1003 // rejected-at-entry: admission queue overflow
	CodeNotAllowed     = 1004 // rejected-at-entry: business rule refusal
	CodeTimeout        = 1101 // deadline exceeded while queued or executing
	CodeConnClosed     = 1102 // connection closed mid-call
	CodeDataRejected   = 1201 // push payload failed validation, nothing fanned out
	CodeInternal       = 1500 // fatal-unexpected, logged with context
)

var (
	ErrOutdatedClient = NewCodeError(CodeOutdatedClient, "client version rejected")
	ErrUnauthorized   = NewCodeError(CodeUnauthorized, "unauthorized")
	ErrQueueFull      = NewCodeError(CodeQueueFull, "concurrency limit exceeded, try again later")
	ErrNotAllowed     = NewCodeError(CodeNotAllowed, "operation not allowed")
	ErrTimeout        = NewCodeError(CodeTimeout, "call timed out")
	ErrConnClosed     = NewCodeError(CodeConnClosed, "cancelled due to disconnect")
	ErrDataRejected   = NewCodeError(CodeDataRejected, "invalid data provided")
	ErrInternal       = NewCodeError(CodeInternal, "internal error")
)
