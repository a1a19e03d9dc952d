// Package integrationtests runs whole graphs through the application: a
// document is written to disk, loaded, rendered against the simulated device
// clock and saved as the last graph.
package integrationtests

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/audiogrid/internal/app"
	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput    string
	Err          error
	App          *app.App
	SnapshotPath string
}

// Options tunes a harness run. Zero values pick small, fast defaults.
type Options struct {
	Device device.Config
	RunFor time.Duration
}

// RunIntegrationTest writes files into a temporary directory, points the
// application at it and runs it for a short while. Files ending in .hcl are
// graph documents; the directory must hold at most one.
func RunIntegrationTest(t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()
	return RunIntegrationTestWithContext(context.Background(), t, files, opts)
}

// RunIntegrationTestWithContext is RunIntegrationTest with a caller-supplied
// context.
func RunIntegrationTestWithContext(ctx context.Context, t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	graphDir := filepath.Join(tmpDir, "graph")
	require.NoError(t, os.Mkdir(graphDir, 0o755))
	for name, content := range files {
		filePath := filepath.Join(graphDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}

	cfg := app.DefaultConfig()
	cfg.DocumentPath = graphDir
	cfg.SnapshotPath = filepath.Join(tmpDir, "snapshots.db")
	cfg.LogLevel = "debug"
	cfg.PollInterval = 5 * time.Millisecond
	cfg.RunFor = opts.RunFor
	if cfg.RunFor == 0 {
		cfg.RunFor = 50 * time.Millisecond
	}
	cfg.Device = opts.Device
	if cfg.Device == (device.Config{}) {
		cfg.Device = device.Config{SampleRate: 8000, BufferSize: 64, InputChannels: 0, OutputChannels: 2}
	}
	appConfig, err := app.NewConfig(cfg)
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	result := &HarnessResult{SnapshotPath: cfg.SnapshotPath}

	var panicErr any
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicErr = r
			}
		}()
		result.App = app.NewApp(logBuffer, appConfig)
	}()

	if panicErr != nil {
		result.Err = fmt.Errorf("application startup panicked | %v", panicErr)
	} else {
		result.Err = result.App.Run(ctx)
	}
	result.LogOutput = logBuffer.String()

	if os.Getenv("AUDIOGRID_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), result.LogOutput)
	}
	return result
}

// AssertGraphLoaded checks the log output for a successful load of a graph
// with the given size.
func AssertGraphLoaded(t *testing.T, result *HarnessResult, nodes, arcs int) {
	t.Helper()

	expected := fmt.Sprintf("nodes=%d arcs=%d", nodes, arcs)
	require.True(t,
		strings.Contains(result.LogOutput, `msg="Graph loaded."`) && strings.Contains(result.LogOutput, expected),
		"expected a graph with %d nodes and %d arcs to be loaded", nodes, arcs,
	)
}
