// Package testutil provides shared test assertions for the calibration and
// telemetry packages.
package testutil

import (
	"errors"
	"math"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t testing.TB, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// AssertNear fails the test if got and want differ by more than tol.
func AssertNear(t testing.TB, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("got %.6g, want %.6g (tol %.1g)", got, want, tol)
	}
}

// AssertAllNear checks every element of got against want.
func AssertAllNear(t testing.TB, got []float32, want, tol float64) {
	t.Helper()
	for i, v := range got {
		if math.Abs(float64(v)-want) > tol {
			t.Fatalf("element %d = %.6g, want %.6g (tol %.1g)", i, v, want, tol)
		}
	}
}
