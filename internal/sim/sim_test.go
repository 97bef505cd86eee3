package sim

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjiang15/262design2/internal/config"
	"github.com/rjiang15/262design2/internal/event"
	"github.com/rjiang15/262design2/internal/logfile"
)

// reserveBasePort picks an ephemeral port p and returns it as the base,
// so node ports land at p+1..p+n.
func reserveBasePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T) config.Run {
	cfg := config.Default()
	cfg.Nodes = 3
	cfg.BasePort = reserveBasePort(t)
	cfg.Duration = config.Duration(500 * time.Millisecond)
	cfg.TickRate = 20
	cfg.Seed = 1
	cfg.LogDir = t.TempDir()
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.SendThreshold = 0
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestSimulation_FullRun(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Run(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, cfg.Duration.Std(), "run must last the configured duration")
	assert.Less(t, elapsed, 5*time.Second, "shutdown must quiesce promptly")

	for _, n := range s.Nodes() {
		assert.Greater(t, n.Clock(), int64(0), "node %d made no progress", n.ID())
	}

	// Every node wrote a parseable log with a non-decreasing clock.
	for id := 1; id <= cfg.Nodes; id++ {
		data, err := os.ReadFile(logfile.Path(cfg.LogDir, id))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		require.NotEmpty(t, lines, "node %d log is empty", id)

		var prev int64
		for _, line := range lines {
			rec, err := event.Parse(line)
			require.NoError(t, err, "node %d wrote unparseable line %q", id, line)
			assert.GreaterOrEqual(t, rec.Clock, prev, "node %d clock went backwards", id)
			prev = rec.Clock
		}
	}

	assert.NoError(t, s.Close(), "close after run must be a no-op")
}

func TestSimulation_InterruptStopsEarly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = config.Duration(30 * time.Second)

	s, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	require.NoError(t, s.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second, "interrupt must end the run long before the configured duration")
}

func TestSimulation_SeededTickRatesReproducible(t *testing.T) {
	cfg := testConfig(t)
	cfg.TickRate = 0 // draw per node from [1,6]
	cfg.Seed = 7

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	cfg2 := cfg
	cfg2.BasePort = reserveBasePort(t)
	cfg2.LogDir = t.TempDir()
	b, err := New(cfg2, nil)
	require.NoError(t, err)
	defer b.Close()

	require.Len(t, b.Nodes(), len(a.Nodes()))
	for i := range a.Nodes() {
		na, nb := a.Nodes()[i], b.Nodes()[i]
		assert.Equal(t, na.TickRate(), nb.TickRate(), "node %d tick rate differs under the same seed", na.ID())
		assert.GreaterOrEqual(t, na.TickRate(), float64(cfg.TickRateMin))
		assert.LessOrEqual(t, na.TickRate(), float64(cfg.TickRateMax))
	}
}
