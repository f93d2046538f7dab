package managers

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/drynomore/pkg/config"
)

// waitDone reports whether wg.Wait returns within d.
func waitDone(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func TestStorageManagerWorkersRegisteredOnReturn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	sm, err := NewStorageManager(ctx, &wg, config.StorageData{
		SQLite: &config.SQLiteData{Path: filepath.Join(t.TempDir(), "history.db")},
	})
	if err != nil {
		t.Fatalf("NewStorageManager: %v", err)
	}
	if len(sm.Engines) != 1 || sm.History == nil {
		t.Fatalf("engines = %d, history = %v", len(sm.Engines), sm.History)
	}

	// distributor and engine loop must already count towards wg
	if waitDone(&wg, 50*time.Millisecond) {
		t.Fatal("wg.Wait returned while the workers were still running")
	}
	cancel()
	if !waitDone(&wg, 2*time.Second) {
		t.Fatal("workers did not stop after cancellation")
	}
}
