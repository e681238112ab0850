package errors

import (
	"fmt"
	"regexp"
	"syscall"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackTrace(t *testing.T) {
	const testMsg = "test error"
	er := New(testMsg)

	assert.Equal(t, testMsg, er.GetMessage())
	assert.NotContains(t, er.GetStack(), "beitmemcached/errors/errors.go",
		"stack trace generation code should not be in the error stack trace")
	assert.Contains(t, er.GetStack(), "TestStackTrace", "stack trace must have test code in it")

	for i, r := range er.GetStack() {
		if !(unicode.IsSpace(r) || unicode.IsPrint(r)) {
			t.Errorf("stack trace has an unexpected rune at index %v (%q)", i, r)
			break
		}
	}
}

func TestWrappedError(t *testing.T) {
	const (
		innerMsg  = "I am inner error"
		middleMsg = "I am the middle error"
		outerMsg  = "I am the mighty outer error"
	)
	inner := fmt.Errorf(innerMsg)
	middle := Wrap(inner, middleMsg)
	outer := Wrap(middle, outerMsg)
	errorStr := outer.Error()

	assert.Contains(t, errorStr, innerMsg+"\n")
	assert.Contains(t, errorStr, middleMsg+"\n")
	assert.Contains(t, errorStr, outerMsg+"\n")
}

func TestRootErrors(t *testing.T) {
	const (
		innerMsg = "inner error"
	)
	inner := fmt.Errorf(innerMsg)
	middle := Wrap(inner, "middle error")
	outer := Wrap(middle, "outer error")

	assert.Equal(t, inner, RootError(outer))
}

func TestStackAddrs(t *testing.T) {
	pat := regexp.MustCompile("^0x[a-h0-9]+( 0x[a-h0-9]+)*$")
	er := New("big trouble")
	assert.Regexp(t, pat, er.StackAddrs())
}

type databaseError struct {
	DropboxError
	code int
}

func newDatabaseError(msg string, code int) databaseError {
	return databaseError{DropboxError: New(msg), code: code}
}

func TestCustomError(t *testing.T) {
	dbMsg := "database error 1205 (lock wait time exceeded)"
	outerMsg := "outer msg"

	dbError := newDatabaseError(dbMsg, 1205)
	outerError := Wrap(dbError, outerMsg)

	errorStr := outerError.Error()
	assert.Contains(t, errorStr, dbMsg)
	assert.Contains(t, errorStr, outerMsg)
	assert.Contains(t, errorStr, "errors.TestCustomError")
}

type customErr struct{}

func (ce *customErr) Error() string { return "testing error" }

type customNestedErr struct {
	Err error
}

func (cne *customNestedErr) Error() string { return "nested testing error" }

func TestRootError(t *testing.T) {
	assert.Nil(t, RootError(nil))

	ce := &customErr{}
	require.Equal(t, ce, RootError(ce))

	cne := &customNestedErr{}
	require.Equal(t, cne, RootError(cne))

	cne = &customNestedErr{ce}
	assert.Equal(t, ce, RootError(cne))

	assert.Equal(t, syscall.ECONNREFUSED, RootError(syscall.ECONNREFUSED))
}

func BenchmarkNew(b *testing.B) {
	a := func() error {
		inner := func() error {
			return New("hello world, grab me a stack trace")
		}
		return inner()
	}
	nRoutines := 100
	errChan := make(chan error, nRoutines)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for k := 0; k < nRoutines; k++ {
			go func() {
				errChan <- a()
			}()
		}
		for k := 0; k < nRoutines; k++ {
			<-errChan
		}
	}
}
