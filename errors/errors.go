// Package errors classifies failures and carries the connection error
// taxonomy shared by every semlink package.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller whether retrying can help.
type ErrorClass int

const (
	ErrorTransient ErrorClass = iota
	ErrorInvalid
	ErrorFatal
)

var classNames = [...]string{"transient", "invalid", "fatal"}

func (ec ErrorClass) String() string {
	if ec < 0 || int(ec) >= len(classNames) {
		return "unknown"
	}
	return classNames[ec]
}

// ClassifiedError attaches a class and the observing component to a cause.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// rule classifies unwrapped errors that carry no ClassifiedError. Sentinels
// are checked first, then lower-cased message fragments.
type rule struct {
	class     ErrorClass
	sentinels []error
	fragments []string
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{
		class: ErrorTransient,
		sentinels: []error{
			ErrConnectionTimeout, ErrConnectionLost, ErrNoConnection,
			ErrStorageUnavailable, ErrQueueFull, ErrAwaitTimeout,
			context.DeadlineExceeded, context.Canceled,
		},
		fragments: []string{"timeout", "connection", "network", "temporary", "unavailable", "busy", "retry"},
	},
	{
		class:     ErrorFatal,
		sentinels: []error{ErrInvalidConfig, ErrMissingConfig, ErrResourceExhausted},
		fragments: []string{"fatal", "panic", "corrupt", "invalid config", "missing config", "out of memory"},
	},
	{
		class:     ErrorInvalid,
		sentinels: []error{ErrInvalidData, ErrParsingFailed, ErrKeyNotFound, ErrBucketNotFound},
	},
}

func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	if IsTaxonomy(err) {
		return ErrorInvalid, true
	}
	for _, r := range rules {
		if matchesAny(err, r.sentinels) {
			return r.class, true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, f := range r.fragments {
			if strings.Contains(msg, f) {
				return r.class, true
			}
		}
	}
	return ErrorTransient, false
}

// Classify returns the class of err. Errors nothing recognises are treated as
// transient so callers may retry them.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	class, _ := classOf(err)
	return class
}

// IsTransient reports whether err is known to be temporary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	class, known := classOf(err)
	return known && class == ErrorTransient
}

func IsFatal(err error) bool {
	return err != nil && Classify(err) == ErrorFatal
}

func IsInvalid(err error) bool {
	return err != nil && Classify(err) == ErrorInvalid
}

// Wrap prefixes err as "component.method: action failed: cause".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Is, As, New and Join forward to the standard library so callers need a
// single errors import.
func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func New(text string) error         { return errors.New(text) }
func Join(errs ...error) error      { return errors.Join(errs...) }
