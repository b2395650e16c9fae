// Package testutil holds helpers shared by the container-backed tests of
// the queue backends, the coordination stores and the stats sink.
package testutil

import (
	"os"
	"testing"
)

// integrationEnv opts CI runs into tests that start containers.
const integrationEnv = "INTEGRATION_TESTS"

// RequireIntegration skips t under -short, and in CI unless
// INTEGRATION_TESTS is set.
func RequireIntegration(t *testing.T) {
	t.Helper()
	switch {
	case testing.Short():
		t.Skip("container test skipped in short mode")
	case os.Getenv(integrationEnv) == "" && os.Getenv("CI") != "":
		t.Skipf("container test skipped in CI (set %s=1 to run)", integrationEnv)
	}
}
