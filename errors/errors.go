// Package errors provides error values that carry a captured stack trace
// and can wrap an inner error. It mirrors the standard library's errors
// package in shape so it can be used as a drop-in replacement; every
// package in this module returns errors constructed here rather than with
// fmt.Errorf, so a failure anywhere in the client can be traced back to the
// goroutine that raised it.
package errors

import (
	"bytes"
	"fmt"
	"reflect"
	"runtime"
	"sync"
)

// DropboxError exposes additional information about the error.
type DropboxError interface {
	// GetMessage returns the error message without the stack trace.
	GetMessage() string

	// GetInner returns the wrapped error, or nil if this does not wrap
	// another error.
	GetInner() error

	// Error implements the built-in error interface.
	Error() string

	// StackAddrs returns stack addresses as a string that can be supplied
	// to a helper tool to get the actual stack trace. This does not
	// resolve full stack frames and is therefore a lot cheaper.
	StackAddrs() string

	// StackFrames returns stack frames.
	StackFrames() []StackFrame

	// GetStack returns a string representation of the stack frames.
	GetStack() string
}

// StackFrame represents a single stack frame.
type StackFrame struct {
	PC         uintptr
	Func       *runtime.Func
	FuncName   string
	File       string
	LineNumber int
}

// baseError is the standard struct for general types of errors.
type baseError struct {
	msg   string
	inner error

	stack       []uintptr
	framesOnce  sync.Once
	stackFrames []StackFrame
}

// GetMessage returns the error string without stack trace information.
func GetMessage(err interface{}) string {
	switch e := err.(type) {
	case DropboxError:
		return extractFullErrorMessage(e, false)
	case runtime.Error:
		return runtime.Error(e).Error()
	case error:
		return e.Error()
	default:
		return "Passed a non-error to GetMessage"
	}
}

func (e *baseError) Error() string {
	return extractFullErrorMessage(e, true)
}

func (e *baseError) GetMessage() string {
	return e.msg
}

func (e *baseError) GetInner() error {
	return e.inner
}

func (e *baseError) StackAddrs() string {
	buf := bytes.NewBuffer(make([]byte, 0, len(e.stack)*8))
	for _, pc := range e.stack {
		fmt.Fprintf(buf, "0x%x ", pc)
	}
	bufBytes := buf.Bytes()
	return string(bufBytes[:len(bufBytes)-1])
}

func (e *baseError) StackFrames() []StackFrame {
	e.framesOnce.Do(func() {
		e.stackFrames = make([]StackFrame, 0, len(e.stack))
		if len(e.stack) == 0 {
			return
		}
		// CallersFrames, unlike FuncForPC, resolves inlined calls to the
		// logical caller rather than the innermost inlined function.
		frames := runtime.CallersFrames(e.stack)
		for {
			f, more := frames.Next()
			e.stackFrames = append(e.stackFrames, StackFrame{
				PC:         f.PC,
				Func:       f.Func,
				FuncName:   f.Function,
				File:       f.File,
				LineNumber: f.Line,
			})
			if !more {
				break
			}
		}
	})
	return e.stackFrames
}

func (e *baseError) GetStack() string {
	stackFrames := e.StackFrames()
	buf := bytes.NewBuffer(make([]byte, 0, 256))
	for _, frame := range stackFrames {
		_, _ = buf.WriteString(frame.FuncName)
		_, _ = buf.WriteString("\n")
		fmt.Fprintf(buf, "\t%s:%d +0x%x\n", frame.File, frame.LineNumber, frame.PC)
	}
	return buf.String()
}

// New returns a new DropboxError initialized with the given message and the
// current stack trace.
func New(msg string) DropboxError {
	return newErr(nil, msg)
}

// Newf is like New, but with fmt.Printf-style parameters.
func Newf(format string, args ...interface{}) DropboxError {
	return newErr(nil, fmt.Sprintf(format, args...))
}

// Wrap wraps another error in a new DropboxError.
func Wrap(err error, msg string) DropboxError {
	return newErr(err, msg)
}

// Wrapf is like Wrap, but with fmt.Printf-style parameters.
func Wrapf(err error, format string, args ...interface{}) DropboxError {
	return newErr(err, fmt.Sprintf(format, args...))
}

// newErr constructs a baseError. If there is more than one level of
// redirection to call this function, the stack trace will include that
// level too.
func newErr(err error, msg string) *baseError {
	stack := make([]uintptr, 200)
	stackLength := runtime.Callers(3, stack)
	return &baseError{
		msg:   msg,
		stack: stack[:stackLength],
		inner: err,
	}
}

// extractFullErrorMessage constructs the full error message for a given
// DropboxError by traversing all of its inner errors. If includeStack is
// true, it also includes the stack trace from the deepest DropboxError in
// the chain.
func extractFullErrorMessage(e DropboxError, includeStack bool) string {
	var ok bool
	var lastDbxErr DropboxError
	errMsg := bytes.NewBuffer(make([]byte, 0, 1024))

	dbxErr := e
	for {
		lastDbxErr = dbxErr
		errMsg.WriteString(dbxErr.GetMessage())

		innerErr := dbxErr.GetInner()
		if innerErr == nil {
			break
		}
		dbxErr, ok = innerErr.(DropboxError)
		if !ok {
			errMsg.WriteString("\n")
			errMsg.WriteString(innerErr.Error())
			break
		}
		errMsg.WriteString("\n")
	}
	if includeStack {
		errMsg.WriteString("\nORIGINAL STACK TRACE:\n")
		errMsg.WriteString(lastDbxErr.GetStack())
	}
	return errMsg.String()
}

// unwrapError returns a wrapped error, or nil if there is none.
func unwrapError(ierr error) (nerr error) {
	if dbxErr, ok := ierr.(DropboxError); ok {
		return dbxErr.GetInner()
	}

	defer func() {
		if x := recover(); x != nil {
			nerr = nil
		}
	}()

	// Go system errors have a convention but paradoxically no interface;
	// all of these panic on error, hence the recover above.
	errV := reflect.ValueOf(ierr).Elem()
	errV = errV.FieldByName("Err")
	return errV.Interface().(error)
}

// RootError peels away layers of context until a primitive error is
// revealed.
func RootError(ierr error) (nerr error) {
	nerr = ierr
	for i := 0; i < 20; i++ {
		terr := unwrapError(nerr)
		if terr == nil {
			return nerr
		}
		nerr = terr
	}
	return fmt.Errorf("too many iterations: %T", nerr)
}

// IsError performs a deep check, unwrapping errors as much as possible and
// comparing the string form of the error (a value is not equal to its
// pointer value, so string comparison is the only robust option here).
func IsError(err, errConst error) bool {
	if err == errConst {
		return true
	}
	rootErrStr := ""
	rootErr := RootError(err)
	if rootErr != nil {
		rootErrStr = rootErr.Error()
	}
	errConstStr := ""
	if errConst != nil {
		errConstStr = errConst.Error()
	}
	return rootErrStr == errConstStr
}
