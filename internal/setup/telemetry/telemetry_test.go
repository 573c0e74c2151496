package telemetry_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/robalyx/warden/internal/setup/config"
	"github.com/robalyx/warden/internal/setup/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineCapperKeepsRecentLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "main.log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)

	capper := telemetry.NewLineCapper(file, 3, path)

	for i := range 7 {
		_, err := fmt.Fprintf(capper, "line %d\n", i)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"line 4", "line 5", "line 6"}, capper.Retained())

	// Six lines trigger a rewrite down to three, the seventh is appended.
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line 3\nline 4\nline 5\nline 6\n", string(content))
}

func TestLineCapperDisabled(t *testing.T) {
	t.Parallel()

	var b strings.Builder

	capper := telemetry.NewLineCapper(&b, 0, "")
	for range 10 {
		_, err := capper.Write([]byte("entry\n"))
		require.NoError(t, err)
	}

	assert.Equal(t, 10, strings.Count(b.String(), "entry"))
	assert.Empty(t, capper.Retained())
}

func TestManagerLoggers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manager := telemetry.NewManager(telemetry.ServiceBot, dir, &config.Debug{
		LogLevel:      "debug",
		MaxLogsToKeep: 5,
		MaxLogLines:   100,
	})

	logger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	logger.Info("hello")
	dbLogger.Info("query")
	manager.GetComponentLogger("scheduler").Info("armed")

	session := manager.GetCurrentSessionDir()
	for _, name := range []string{"main.log", "database.log", "scheduler.log"} {
		content, err := os.ReadFile(filepath.Join(session, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(content), manager.GetInstanceID(), name)
	}

	assert.Equal(t, "bot", manager.ComponentName())
}

func TestManagerRejectsBadLevel(t *testing.T) {
	t.Parallel()

	manager := telemetry.NewManager(telemetry.ServiceCLI, t.TempDir(), &config.Debug{LogLevel: "loud"})

	_, _, err := manager.GetLoggers()
	require.Error(t, err)
}
