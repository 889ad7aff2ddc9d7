// Package dxtest collects small test helpers shared across this repo's
// package tests, mirroring aistore's tools/tassert and tools/trand helpers.
package dxtest

import (
	"fmt"
	"reflect"
	"testing"
)

// Fatalf fails the test immediately with a formatted message, the way
// tassert.Errorf/Fatalf gate most aistore integration tests.
func Fatalf(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// CheckError fails the test if err is non-nil.
func CheckError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// CheckFatal fails the test if err is non-nil, with extra context.
func CheckFatal(t *testing.T, err error, context string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", context, err)
	}
}

// Equal fails the test if got != want, reporting both values. msg is a
// Printf-style format string, formatted with args before the got/want
// suffix is appended.
func Equal(t *testing.T, got, want any, msg string, args ...any) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("%s: got %v, want %v", fmt.Sprintf(msg, args...), got, want)
	}
}
