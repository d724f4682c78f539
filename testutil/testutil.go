// Package testutil has common helpers for tests across the codebase.
package testutil

import (
	"fmt"
	"os"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	green = "\u001b[32m"
	red   = "\u001b[31m"
	reset = "\u001b[0m"

	checkmark = "✔️"
	cross     = "❌"
)

//SkipIfCI skips the given test if we're running on CI
func SkipIfCI(t *testing.T) {
	if os.Getenv("CI") != "" {
		t.Skip("Skipping test on CI")
	}
}

// FatalMsg fails the test immediately, printing a red
// error message containing the given test message
func FatalMsg(t *testing.T, message interface{}) {
	t.Helper()
	var msg string

	switch message := message.(type) {
	case error:
		msg = message.Error()
	case fmt.Stringer:
		msg = message.String()
	case string:
		msg = message
	}

	FatalMsgf(t, "%s", msg)
}

// FatalMsgf fails the test immediately, printing a red error message containing
// the given format string interpolated with the given args
func FatalMsgf(t *testing.T, format string, args ...interface{}) {
	t.Helper()
	message := fmt.Sprintf(format, args...)
	t.Fatalf("\t%s%s\t error: %s%s", red, cross, message, reset)
}

//AssertMsg asserts that the given condition holds, failing with the given
// message if it doesn't
func AssertMsg(t *testing.T, cond bool, message string) {
	t.Helper()
	if !cond {
		FatalMsgf(t, "Assertion error: %s", message)
	}
}

// AssertMsgf asserts that the given condition holds, failing with the given
// format string and args if it doesn't
func AssertMsgf(t *testing.T, cond bool, format string, args ...interface{}) {
	t.Helper()
	AssertMsg(t, cond, fmt.Sprintf(format, args...))
}

// AssertEqual asserts that the given expected and actual values are equal,
// diffing structs with go-cmp
func AssertEqual(t *testing.T, expected interface{}, actual interface{}) {
	t.Helper()

	if reflect.ValueOf(expected).Kind() == reflect.Struct &&
		reflect.ValueOf(actual).Kind() == reflect.Struct {
		if !reflect.DeepEqual(expected, actual) {
			FatalMsgf(t, "expected structs to be equal: %s", cmp.Diff(expected, actual))
		}
		return
	}

	if expected != actual {
		FatalMsgf(t, "Expected (%+v) is not equal to actual (%+v)!", expected, actual)
	}
}

// Succeedf logs the given format message and arguments with a green checkmark
func Succeedf(t *testing.T, format string, args ...interface{}) {
	t.Helper()
	message := fmt.Sprintf(format, args...)
	t.Logf("\t%s%s\t%s%s", green, checkmark, message, reset)
}
