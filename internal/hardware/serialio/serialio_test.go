package serialio

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/hardware/sim"
	"github.com/chrissnell/drynomore/internal/power"
)

func pipe(t *testing.T, board Board) *Client {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		Serve(server, board)
		server.Close()
	}()
	c := NewClient(client, zap.NewNop().Sugar())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMultiplexerOverTheWire(t *testing.T) {
	board := sim.NewBoard(sim.DefaultConfig(), clock.NewFake(time.Unix(0, 0)))
	c := pipe(t, board)

	mux := power.NewMultiplexer(c)
	m := power.DefaultMap
	if err := mux.SetImage(m.Sensors(2, 1)); err != nil {
		t.Fatalf("SetImage: %v", err)
	}
	if got := board.Outputs(); got != m.Sensors(2, 1) {
		t.Fatalf("board outputs = %016b, want %016b", got, m.Sensors(2, 1))
	}

	v, err := c.ReadRaw(2)
	if err != nil || v != 400 {
		t.Errorf("ReadRaw(2) = %d, %v", v, err)
	}
	v, err = c.ReadRaw(7)
	if err != nil || v != 200 {
		t.Errorf("ReadRaw(7) = %d, %v", v, err)
	}
}

func TestRemoteErrors(t *testing.T) {
	board := sim.NewBoard(sim.DefaultConfig(), clock.NewFake(time.Unix(0, 0)))
	c := pipe(t, board)

	if _, err := c.ReadRaw(9); !errors.Is(err, ErrRemote) {
		t.Errorf("ReadRaw(9) err = %v, want ErrRemote", err)
	}
	if err := c.Write(power.Pin(7), true); !errors.Is(err, ErrRemote) {
		t.Errorf("Write(pin 7) err = %v, want ErrRemote", err)
	}
	// the stream stays usable after an error reply
	if _, err := c.ReadRaw(0); err != nil {
		t.Errorf("ReadRaw after error: %v", err)
	}
}

func TestHandle(t *testing.T) {
	board := sim.NewBoard(sim.DefaultConfig(), clock.NewFake(time.Unix(0, 0)))
	tests := []struct {
		line string
		want string
	}{
		{"P 0 1", "OK"},
		{"P 3 0", "OK"},
		{"A 0", "0"},
		{"", "E empty request"},
		{"A x", "E bad channel x"},
		{"P 1 2", "E bad level 2"},
		{"Z", `E unknown request "Z"`},
	}
	for _, tt := range tests {
		if got := handle(board, tt.line); got != tt.want {
			t.Errorf("handle(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestConnectRequiresTransport(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}, zap.NewNop().Sugar()); err == nil {
		t.Fatal("Connect without transport succeeded")
	}
}
