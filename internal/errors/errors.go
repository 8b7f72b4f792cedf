// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package errors defines the gateway's wire-level error codes and a small
// typed wrapper for carrying one across the control channel.
package errors

import "fmt"

// Code is a closed set of wire error codes reported to clients via
// stt.error. The first four are protocol-level: the session continues.
// The last three are recognizer-level: they terminate the recognizer
// worker but not the session.
type Code string

const (
	InvalidPayload        Code = "INVALID_PAYLOAD"
	UnknownEvent          Code = "UNKNOWN_EVENT"
	SessionNotInitialized Code = "SESSION_NOT_INITIALIZED"
	InvalidOffer          Code = "INVALID_OFFER"
	InvalidCandidate      Code = "INVALID_CANDIDATE"
	GoogleAuthMissing     Code = "GOOGLE_AUTH_MISSING"
	UpstreamFail          Code = "UPSTREAM_FAIL"
	NotImplemented        Code = "NOT_IMPLEMENTED"
)

// WireError pairs a wire code with a human-readable message. It implements
// error so call sites can return it, wrap it, or hand it directly to an
// event emitter.
type WireError struct {
	Code    Code
	Message string
}

func (e *WireError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a WireError from a code and a formatted message.
func New(code Code, format string, args ...interface{}) *WireError {
	return &WireError{Code: code, Message: fmt.Sprintf(format, args...)}
}
