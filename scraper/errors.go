package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failure at the transport/browser boundary so the
// control loop can branch on kind instead of matching message substrings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindAuth
	KindConfig
	KindCaptcha
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindConfig:
		return "config"
	case KindCaptcha:
		return "captcha"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// KindError tags an underlying error with a classification kind.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable (timeouts, connection resets).
func Transient(err error) error {
	return &KindError{Kind: KindTransient, Err: err}
}

// Transientf builds a retryable error from a format string.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	return &KindError{Kind: KindPermanent, Err: err}
}

// ConfigError marks a missing or invalid market/source configuration.
// Fatal to the current market only.
func ConfigError(format string, args ...any) error {
	return &KindError{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// AuthError is fatal to the current market. Credential-classified auth
// errors additionally trip the cross-market circuit breaker, since every
// remaining market would fail against the same account pool.
type AuthError struct {
	Credential bool
	Err        error
}

func (e *AuthError) Error() string {
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// CredentialError builds an AuthError that trips the cross-market breaker.
func CredentialError(format string, args ...any) error {
	return &AuthError{Credential: true, Err: fmt.Errorf(format, args...)}
}

// Classify resolves the kind of an arbitrary error. Typed wrappers win;
// otherwise net timeouts and context deadlines are treated as transient.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return KindAuth
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// IsCredentialError reports whether err should trip the cross-market
// circuit breaker.
func IsCredentialError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Credential
}

// retryable reports whether the loop may retry the same page fetch.
func retryable(err error) bool {
	return Classify(err) == KindTransient
}
