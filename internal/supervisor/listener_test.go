package supervisor

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/devicelink"
	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/types"
)

type testServer struct {
	store  *Store
	queue  *Queue
	events chan types.Event
	addr   string
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &testServer{
		store:  NewStore(),
		queue:  NewQueue(8),
		events: make(chan types.Event, 16),
		addr:   ln.Addr().String(),
	}
	l := NewListener(ListenerConfig{
		IdleTimeout:   200 * time.Millisecond,
		ReadTimeout:   2 * time.Second,
		UploadTimeout: 2 * time.Second,
	}, s.store, s.queue, s.events, zap.NewNop().Sugar())

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func (s *testServer) link() *devicelink.Link {
	return devicelink.New(devicelink.Config{
		Address:       s.addr,
		IOTimeout:     2 * time.Second,
		SettleTimeout: 200 * time.Millisecond,
	}, nil, zap.NewNop().Sugar())
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSettingsBootstrap(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()

	first := protocol.DefaultSettings()
	first.NumPlants = 2
	got, err := s.link().SyncSettings(ctx, first)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if got != first {
		t.Fatal("first node did not keep its own settings")
	}
	eventually(t, "bootstrap", func() bool {
		_, _, ok := s.store.Settings()
		return ok
	})
	stored, _, _ := s.store.Settings()
	if stored != first {
		t.Fatalf("store holds %+v, want uploaded defaults", stored)
	}

	second := protocol.DefaultSettings()
	second.TargetMoisture[0] = 90
	got, err = s.link().SyncSettings(ctx, second)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if got != first {
		t.Errorf("second node got %+v, want stored snapshot", got)
	}
	if stored, _, _ := s.store.Settings(); stored != first {
		t.Error("second request changed the stored settings")
	}
}

func wateredStatus() protocol.Status {
	st := protocol.NewStatus()
	st.NumPlants = 1
	st.NumWaterSensors = 1
	st.BeforeMoisture[0] = 30
	st.AfterMoisture[0] = 60
	return st
}

func TestStatusChangeSuppression(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()
	st := wateredStatus()

	if err := s.link().Report(ctx, nil, st); err != nil {
		t.Fatal(err)
	}
	eventually(t, "first report", s.store.Unpublished)
	got, _, ok := s.store.TakeUnpublished()
	if !ok || got != st {
		t.Fatalf("unpublished status = %+v ok=%v", got, ok)
	}

	if err := s.link().Report(ctx, nil, st); err != nil {
		t.Fatal(err)
	}
	// a third, different report proves the second one has been processed
	third := st
	third.AfterMoisture[0] = 70
	if err := s.link().Report(ctx, nil, third); err != nil {
		t.Fatal(err)
	}
	eventually(t, "third report", s.store.Unpublished)
	got, _, _ = s.store.TakeUnpublished()
	if got.AfterMoisture[0] != 70 {
		t.Errorf("stored after moisture = %d, want 70", got.AfterMoisture[0])
	}

	var statusEvents int
	for len(s.events) > 0 {
		if ev := <-s.events; ev.Kind == types.EventStatus {
			statusEvents++
		}
	}
	if statusEvents != 2 {
		t.Errorf("status events = %d, want 2", statusEvents)
	}
}

func TestStatusWithoutRiseIgnored(t *testing.T) {
	s := startServer(t)
	st := wateredStatus()
	st.AfterMoisture[0] = st.BeforeMoisture[0]
	if err := s.link().Report(context.Background(), nil, st); err != nil {
		t.Fatal(err)
	}
	if err := s.link().Alert(context.Background(), protocol.Message{Tag: protocol.TagInfo, Text: "sync"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "marker alert", func() bool { return s.queue.Len() == 1 })
	if s.store.Unpublished() {
		t.Error("report without moisture rise was stored")
	}
}

func TestDebugStoresEveryReport(t *testing.T) {
	s := startServer(t)
	set := protocol.DefaultSettings()
	set.Debug = true
	s.store.SetSettings(set)

	st := protocol.NewStatus()
	for i := 0; i < 2; i++ {
		if err := s.link().Report(context.Background(), nil, st); err != nil {
			t.Fatal(err)
		}
		eventually(t, "debug report", s.store.Unpublished)
		s.store.TakeUnpublished()
	}
}

func TestMessagesAndStatusInOneStream(t *testing.T) {
	s := startServer(t)
	msgs := []protocol.Message{protocol.WaterEmptyMessage(0), protocol.WaterLowMessage(1)}
	if err := s.link().Report(context.Background(), msgs, wateredStatus()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "status", s.store.Unpublished)

	for _, want := range msgs {
		a, ok := s.queue.PopTimeout(time.Second)
		if !ok {
			t.Fatalf("missing alert %q", want.Text)
		}
		if a.Tag != want.Tag || a.Text != want.Text {
			t.Errorf("alert = %v %q, want %v %q", a.Tag, a.Text, want.Tag, want.Text)
		}
		if a.Node != "127.0.0.1" {
			t.Errorf("node = %q", a.Node)
		}
	}
}

func TestFailureMessageSetsFlag(t *testing.T) {
	s := startServer(t)
	s.store.SetSettings(protocol.DefaultSettings())
	_, rev, _ := s.store.Settings()

	if err := s.link().Alert(context.Background(), protocol.HardwareFailureMessage(2)); err != nil {
		t.Fatal(err)
	}
	a, ok := s.queue.PopTimeout(3 * time.Second)
	if !ok || a.Tag != protocol.TagFailure {
		t.Fatalf("alert = %+v ok=%v", a, ok)
	}
	set, newRev, _ := s.store.Settings()
	if !set.HardwareFailure {
		t.Error("failure flag not set")
	}
	if newRev == rev {
		t.Error("revision not bumped by failure")
	}
}

func TestMalformedFramesLeaveStoreUntouched(t *testing.T) {
	s := startServer(t)

	send := func(b []byte) {
		conn, err := net.Dial("tcp", s.addr)
		if err != nil {
			t.Fatal(err)
		}
		conn.Write(b)
		conn.Close()
	}

	send(append([]byte{byte(protocol.TagReportStatus)}, make([]byte, protocol.StatusSize-1)...))
	send([]byte{0x40, 1, 2, 3})
	send([]byte{byte(protocol.TagInfo), 'o', 'k'})

	eventually(t, "marker alert", func() bool { return s.queue.Len() == 1 })
	if _, _, ok := s.store.LastStatus(); ok {
		t.Error("truncated status was stored")
	}
	if _, _, ok := s.store.Settings(); ok {
		t.Error("settings appeared from malformed frames")
	}
}

func TestShortSettingsUploadDiscarded(t *testing.T) {
	s := startServer(t)
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		t.Fatal(err)
	}
	conn.Write([]byte{byte(protocol.TagRequestSettings)})
	reply := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(reply); err != nil || reply[0] != protocol.BootstrapPlaceholder {
		t.Fatalf("reply = %v err = %v", reply, err)
	}
	conn.Write(make([]byte, protocol.SettingsSize-5))
	conn.Close()

	if err := s.link().Alert(context.Background(), protocol.Message{Tag: protocol.TagInfo, Text: "marker"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "marker alert", func() bool { return s.queue.Len() == 1 })
	if _, _, ok := s.store.Settings(); ok {
		t.Error("short upload was stored")
	}
}
