// Package testutil holds helpers shared by the package tests: block
// builders, float tolerance checks and a recording engine.Host.
package testutil

import (
	"os"
	"testing"
)

// SkipUnlessEnv skips the test unless the given env var equals the wanted value.
func SkipUnlessEnv(t *testing.T, key, want string) {
	t.Helper()
	if os.Getenv(key) != want {
		t.Skipf("skipped: set %s=%s to run", key, want)
	}
}

// IsCI reports whether running under common CI environments.
func IsCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// Channels allocates n zeroed channels of frames samples.
func Channels(n, frames int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}

// ConstBlock allocates one channel per value, each filled with that value.
func ConstBlock(frames int, values ...float32) [][]float32 {
	out := Channels(len(values), frames)
	for c, v := range values {
		for i := range out[c] {
			out[c][i] = v
		}
	}
	return out
}
