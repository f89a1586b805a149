package integration_test

import (
	"os"
	"testing"
)

// Integration tests require a real Redis instance and are skipped by
// default. To run them locally set RUN_FEEDPULL_INTEGRATION=1 and point
// REDIS_URL at a running Redis.
func TestIntegrationSkipByDefault(t *testing.T) {
	if os.Getenv("RUN_FEEDPULL_INTEGRATION") != "1" {
		t.Skip("integration tests skipped; set RUN_FEEDPULL_INTEGRATION=1 to run")
	}
	// placeholder: exercise events.RedisSink and the admin HTTP surface
	// end-to-end against a real Redis and a live PullingEngine.
}
