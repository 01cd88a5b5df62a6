/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package rlmerrors defines the error-kind taxonomy shared by every layer of
// the runtime: sandbox, orchestrator, storage, and the (out-of-scope) HTTP
// front-end that will eventually project these onto status codes.
package rlmerrors

import "fmt"

// Code is a stable error kind, never a free-text message.
type Code string

const (
	Unauthorized       Code = "UNAUTHORIZED"
	Forbidden          Code = "FORBIDDEN"
	SessionNotFound    Code = "SESSION_NOT_FOUND"
	ExecutionNotFound  Code = "EXECUTION_NOT_FOUND"
	SessionNotReady    Code = "SESSION_NOT_READY"
	SessionExpired     Code = "SESSION_EXPIRED"
	ValidationError    Code = "VALIDATION_ERROR"
	RateLimited        Code = "RATE_LIMITED"
	RequestTooLarge    Code = "REQUEST_TOO_LARGE"
	BudgetExceeded     Code = "BUDGET_EXCEEDED"
	MaxTurnsExceeded   Code = "MAX_TURNS_EXCEEDED"
	StepTimeout        Code = "STEP_TIMEOUT"
	SandboxAstRejected Code = "SANDBOX_AST_REJECTED"
	SandboxLineLimit   Code = "SANDBOX_LINE_LIMIT"
	StateInvalidType   Code = "STATE_INVALID_TYPE"
	StateTooLarge      Code = "STATE_TOO_LARGE"
	StateOffloadError  Code = "STATE_OFFLOAD_ERROR"
	ChecksumMismatch   Code = "CHECKSUM_MISMATCH"
	S3ReadError        Code = "S3_READ_ERROR"
	ParserError        Code = "PARSER_ERROR"
	LLMProviderError   Code = "LLM_PROVIDER_ERROR"
	InternalError      Code = "INTERNAL_ERROR"
)

// HTTPStatus maps each code to the status an external front-end would surface it as.
var HTTPStatus = map[Code]int{
	Unauthorized:       401,
	Forbidden:          403,
	SessionNotFound:    404,
	ExecutionNotFound:  404,
	SessionNotReady:    409,
	SessionExpired:     410,
	ValidationError:    422,
	RateLimited:        429,
	RequestTooLarge:    413,
	BudgetExceeded:     400,
	MaxTurnsExceeded:   400,
	StepTimeout:        400,
	SandboxAstRejected: 400,
	SandboxLineLimit:   400,
	StateInvalidType:   400,
	StateTooLarge:      400,
	StateOffloadError:  502,
	ChecksumMismatch:   400,
	S3ReadError:        502,
	ParserError:        502,
	LLMProviderError:   502,
	InternalError:      500,
}

// Error is the structured error value every component in this module returns
// instead of an opaque wrapped error, so callers can branch on Code without
// string matching.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an *Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e with details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	out := *e
	out.Details = details
	return &out
}

// As reports whether err is an *Error with the given code.
func As(err error, code Code) bool {
	rlmErr, ok := err.(*Error)
	return ok && rlmErr.Code == code
}
