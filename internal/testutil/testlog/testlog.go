package testlog

import (
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/erldist/internal/logging"
)

// Start configures the test logging profile and emits one debug line
// naming the running test, mirroring the teacher's per-test log marker.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Debug().Str("test", t.Name()).Msg("test start")
}
