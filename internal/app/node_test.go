package app

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/nodestore"
	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/supervisor"
	"github.com/chrissnell/drynomore/pkg/config"
)

func startSupervisor(t *testing.T) (*supervisor.Store, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	store := supervisor.NewStore()
	l := supervisor.NewListener(supervisor.ListenerConfig{}, store, supervisor.NewQueue(8), nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return store, ln.Addr().String()
}

func testNodeConfig(t *testing.T, addr string) *config.NodeData {
	return &config.NodeData{
		SupervisorAddr: addr,
		SleepPeriod:    time.Hour,
		StateDB:        filepath.Join(t.TempDir(), "node.db"),
		IO:             config.IOData{Backend: config.BackendSim},
		Timing: config.TimingData{
			MeasureDelay:    time.Millisecond,
			PowerOnDelay:    time.Millisecond,
			ADCMeasurements: 3,
		},
		LinkTimeout: 2 * time.Second,
	}
}

func TestNodeBootstrapsSupervisorAndSavesState(t *testing.T) {
	store, addr := startSupervisor(t)
	c := testNodeConfig(t, addr)

	n, err := NewNode(context.Background(), c, clock.Real{}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if err := n.Run(context.Background(), NodeIrrigate, true); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if set, _, ok := store.Settings(); ok {
			if set != protocol.DefaultSettings() {
				t.Errorf("bootstrapped settings = %+v, want defaults", set)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("supervisor never received the node's settings")
		}
		time.Sleep(10 * time.Millisecond)
	}

	state, err := nodestore.Open(c.StateDB)
	if err != nil {
		t.Fatalf("reopening state: %v", err)
	}
	defer state.Close()
	set, ticks, err := state.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set != protocol.DefaultSettings() {
		t.Errorf("saved settings differ from defaults")
	}
	// skipped plants were never irrigated, their counters stay saturated
	for i, tk := range ticks {
		if tk != 255 {
			t.Errorf("ticks[%d] = %d, want 255", i, tk)
		}
	}
}

func TestNodeDumpModesLeaveOutputsOff(t *testing.T) {
	c := testNodeConfig(t, "127.0.0.1:1")

	n, err := NewNode(context.Background(), c, clock.Real{}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	defer n.Close()

	for _, mode := range []NodeMode{NodeDumpMoisture, NodeDumpWater} {
		if err := n.Run(context.Background(), mode, true); err != nil {
			t.Fatalf("mode %d: %v", mode, err)
		}
		if img := n.mux.Image(); img != 0 {
			t.Errorf("mode %d left power image %#x", mode, img)
		}
	}
}
