package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/types"
)

func TestStoreSettingsRevisions(t *testing.T) {
	s := NewStore()
	if _, _, ok := s.Settings(); ok {
		t.Fatal("new store claims settings")
	}
	if _, err := s.CompareAndSetSettings(protocol.DefaultSettings(), 0); !errors.Is(err, ErrRevisionMismatch) {
		t.Errorf("commit into empty store err = %v", err)
	}

	boot := protocol.DefaultSettings()
	if !s.Bootstrap(boot) {
		t.Fatal("bootstrap refused on empty store")
	}
	other := boot
	other.NumPlants = 1
	if s.Bootstrap(other) {
		t.Error("second bootstrap overwrote settings")
	}

	_, rev, _ := s.Settings()
	edited := boot
	edited.TargetMoisture[0] = 80
	newRev, err := s.CompareAndSetSettings(edited, rev)
	if err != nil {
		t.Fatalf("CompareAndSetSettings: %v", err)
	}
	if newRev != rev+1 {
		t.Errorf("revision = %d, want %d", newRev, rev+1)
	}
	if _, err := s.CompareAndSetSettings(boot, rev); !errors.Is(err, ErrRevisionMismatch) {
		t.Errorf("stale commit err = %v", err)
	}
	if got, _, _ := s.Settings(); got != edited {
		t.Error("stale commit changed settings")
	}
}

func TestMarkHardwareFailure(t *testing.T) {
	s := NewStore()
	s.MarkHardwareFailure()
	if _, _, ok := s.Settings(); ok {
		t.Fatal("failure flag created settings")
	}
	s.SetSettings(protocol.DefaultSettings())
	_, rev, _ := s.Settings()
	s.MarkHardwareFailure()
	s.MarkHardwareFailure()
	set, newRev, _ := s.Settings()
	if !set.HardwareFailure || newRev != rev+1 {
		t.Errorf("failure = %v revision %d -> %d", set.HardwareFailure, rev, newRev)
	}
}

func TestOfferStatusConcurrent(t *testing.T) {
	s := NewStore()
	s.SetSettings(protocol.DefaultSettings())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := protocol.NewStatus()
			st.NumPlants = 1
			st.BeforeMoisture[0] = 10
			st.AfterMoisture[0] = uint8(20 + i)
			s.OfferStatus(st, time.Now())
			s.TakeUnpublished()
			s.Settings()
		}(i)
	}
	wg.Wait()
	if _, _, ok := s.LastStatus(); !ok {
		t.Error("no status stored")
	}
}

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue(2)
	for i, text := range []string{"a", "b", "c"} {
		err := q.Push(types.Alert{Tag: protocol.TagInfo, Text: text})
		if i < 2 && err != nil {
			t.Fatalf("push %q: %v", text, err)
		}
		if i == 2 && !errors.Is(err, ErrQueueFull) {
			t.Fatalf("push into full queue err = %v", err)
		}
	}
	for _, want := range []string{"b", "c"} {
		a, ok := q.PopTimeout(10 * time.Millisecond)
		if !ok || a.Text != want {
			t.Errorf("pop = %q ok=%v, want %q", a.Text, ok, want)
		}
	}
}

func TestQueuePopTimeout(t *testing.T) {
	q := NewQueue(0)
	start := time.Now()
	if _, ok := q.PopTimeout(50 * time.Millisecond); ok {
		t.Fatal("pop from empty queue succeeded")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("PopTimeout returned early")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(types.Alert{Text: "late"})
	}()
	a, ok := q.PopTimeout(2 * time.Second)
	if !ok || a.Text != "late" {
		t.Errorf("pop = %+v ok=%v", a, ok)
	}
}

func TestSubscribers(t *testing.T) {
	s := NewSubscribers([]int64{10, 20}, []int64{30})

	if err := s.Add(99); !errors.Is(err, ErrNotWhitelisted) {
		t.Errorf("Add(99) err = %v", err)
	}
	if err := s.Add(20); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(20); err != nil {
		t.Errorf("second Add(20) err = %v", err)
	}
	if got := s.List(); len(got) != 2 || got[0] != 20 || got[1] != 30 {
		t.Errorf("List = %v, want [20 30]", got)
	}
	if !s.Allowed(10) || s.Allowed(30) {
		t.Error("whitelist lookups wrong")
	}
	if !s.Remove(30) || s.Remove(30) {
		t.Error("Remove should report membership once")
	}
}
