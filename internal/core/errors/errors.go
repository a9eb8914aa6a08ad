package errors

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorCode string

const (
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
	CodeResolution      ErrorCode = "RESOLUTION_ERROR"
	CodeConfig          ErrorCode = "CONFIG_ERROR"
	CodeContent         ErrorCode = "CONTENT_ERROR"
	CodeBundle          ErrorCode = "BUNDLE_ERROR"
	CodeWorker          ErrorCode = "WORKER_ERROR"
	CodeCycle           ErrorCode = "CYCLE_ERROR"
	CodeIO              ErrorCode = "IO_ERROR"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxPath      = "path"
	CtxVariant   = "variant"
	CtxVariants  = "variants"
	CtxBundle    = "bundle"
	CtxHandler   = "handler"
	CtxBundler   = "bundler"
	CtxSpecifier = "specifier"
	CtxWorker    = "worker"
	CtxOperation = "operation"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// AddContext attaches a context value, wrapping non-domain errors as internal.
func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

// IsCode reports whether any error in the chain carries code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			if IsCode(inner, code) {
				return true
			}
		}
		return false
	}
	switch e := err.(type) {
	case *DomainError:
		if e.Code == code {
			return true
		}
	case *CycleError:
		return code == CodeCycle
	}
	return IsCode(errors.Unwrap(err), code)
}

// CodeOf returns the outermost code in err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var ce *CycleError
	var de *DomainError
	switch {
	case errors.As(err, &de):
		return de.Code
	case errors.As(err, &ce):
		return CodeCycle
	default:
		return CodeInternal
	}
}

func Resolution(specifier, from string, err error) error {
	return (&DomainError{Code: CodeResolution, Message: fmt.Sprintf("cannot resolve %q", specifier), Err: err}).
		WithContext(CtxSpecifier, specifier).
		WithContext(CtxPath, from)
}

func Config(msg string) error {
	return &DomainError{Code: CodeConfig, Message: msg}
}

func Configf(format string, args ...any) error {
	return &DomainError{Code: CodeConfig, Message: fmt.Sprintf(format, args...)}
}

func Content(handler string, variants []string, path string, err error) error {
	return (&DomainError{Code: CodeContent, Message: "handler failed", Err: err}).
		WithContext(CtxHandler, handler).
		WithContext(CtxVariants, strings.Join(variants, ",")).
		WithContext(CtxPath, path)
}

func Bundle(bundler, bundle, variant string, err error) error {
	return (&DomainError{Code: CodeBundle, Message: "bundler failed", Err: err}).
		WithContext(CtxBundler, bundler).
		WithContext(CtxBundle, bundle).
		WithContext(CtxVariant, variant)
}

func Worker(index int, msg string) error {
	return (&DomainError{Code: CodeWorker, Message: msg}).WithContext(CtxWorker, index)
}

// CycleError reports an import cycle found while ordering a variant.
type CycleError struct {
	Variant string
	// Cycle lists the modules on the DFS stack from the re-entered module onward.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("[%s] import cycle detected in variant %q: %s", CodeCycle, e.Variant, strings.Join(e.Cycle, " -> "))
}

func IO(op, path string, err error) error {
	return (&DomainError{Code: CodeIO, Message: op, Err: err}).WithContext(CtxPath, path)
}
