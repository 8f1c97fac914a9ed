package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testT *testing.T

func SetT(t *testing.T) {
	testT = t
}

func NoErr[T any](v T, err error) T {
	require.NoError(testT, err)
	return v
}

func Err[T any](_ T, err error) error {
	require.Error(testT, err)
	return err
}

// Recv waits for a value on ch, failing the test after timeout.
func Recv[T any](ch <-chan T, timeout time.Duration) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(testT, "timed out waiting on channel")
	}
	var zero T
	return zero
}

// NoRecv asserts that nothing arrives on ch within wait.
func NoRecv[T any](ch <-chan T, wait time.Duration) {
	select {
	case v := <-ch:
		require.FailNow(testT, "unexpected value on channel", "%v", v)
	case <-time.After(wait):
	}
}
