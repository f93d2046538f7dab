package session

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/supervisor"
)

func newManager(t *testing.T, withSettings bool) (*Manager, *supervisor.Store) {
	t.Helper()
	store := supervisor.NewStore()
	if withSettings {
		store.SetSettings(protocol.DefaultSettings())
	}
	return NewManager(store, zap.NewNop().Sugar()), store
}

func TestBeginWithoutSettings(t *testing.T) {
	m, _ := newManager(t, false)
	if _, err := m.Begin(); !errors.Is(err, ErrNoSettings) {
		t.Fatalf("Begin err = %v, want ErrNoSettings", err)
	}
}

func TestCommitReplacesSettings(t *testing.T) {
	m, store := newManager(t, true)
	s, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Apply(s.ID,
		Edit{Op: OpTargetMoisture, Plant: 2, Value: 70},
		Edit{Op: OpToggleSkip, Plant: 2},
		Edit{Op: OpWaterWarn, Channel: 2, Value: 40},
		Edit{Op: OpToggleDebug},
	)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// the store is untouched until commit
	if set, _, _ := store.Settings(); set.TargetMoisture[1] != 50 {
		t.Fatal("edit leaked into the store before commit")
	}
	if _, err := m.Commit(s.ID, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	set, _, _ := store.Settings()
	if set.TargetMoisture[1] != 70 || set.Skip.Has(1) || set.WaterThresholds[1].WarnPercent != 40 || !set.Debug {
		t.Errorf("committed settings = %+v", set)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrUnknownSession) {
		t.Error("session still open after commit")
	}
}

func TestStaleCommit(t *testing.T) {
	m, store := newManager(t, true)
	s, _ := m.Begin()
	m.Apply(s.ID, Edit{Op: OpMaxBursts, Plant: 1, Value: 9})

	// a node reports a hardware failure meanwhile
	store.MarkHardwareFailure()

	if _, err := m.Commit(s.ID, false); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("Commit err = %v, want ErrStaleSnapshot", err)
	}
	if set, _, _ := store.Settings(); set.MaxBursts[0] == 9 {
		t.Fatal("stale commit was applied")
	}

	if _, err := m.Commit(s.ID, true); err != nil {
		t.Fatalf("forced commit: %v", err)
	}
	if set, _, _ := store.Settings(); set.MaxBursts[0] != 9 {
		t.Error("forced commit not applied")
	}
}

func TestAbort(t *testing.T) {
	m, store := newManager(t, true)
	before, rev, _ := store.Settings()
	s, _ := m.Begin()
	m.Apply(s.ID, Edit{Op: OpRemovePlant})
	if err := m.Abort(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Abort(s.ID); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("second abort err = %v", err)
	}
	after, newRev, _ := store.Settings()
	if after != before || newRev != rev {
		t.Error("abort changed the store")
	}
}

func TestApplyIsAtomic(t *testing.T) {
	m, _ := newManager(t, true)
	s, _ := m.Begin()
	_, err := m.Apply(s.ID,
		Edit{Op: OpBurstDelay, Plant: 1, Value: 30},
		Edit{Op: OpTargetMoisture, Plant: 1, Value: 101},
	)
	if !errors.Is(err, ErrBadEdit) {
		t.Fatalf("Apply err = %v, want ErrBadEdit", err)
	}
	got, _ := m.Get(s.ID)
	if got.Settings.BurstDelay[0] != 5 || got.Edits != 0 {
		t.Errorf("partial edit kept: delay %d edits %d", got.Settings.BurstDelay[0], got.Edits)
	}
}

func TestCommitRejectsInvalidSettings(t *testing.T) {
	m, _ := newManager(t, true)
	s, _ := m.Begin()
	m.Apply(s.ID, Edit{Op: OpPlantMin, Plant: 1, Value: 600})
	if _, err := m.Commit(s.ID, false); !errors.Is(err, protocol.ErrInvalid) {
		t.Fatalf("Commit err = %v, want ErrInvalid", err)
	}
}

func TestEdits(t *testing.T) {
	tests := []struct {
		name    string
		start   func(*protocol.Settings)
		edit    Edit
		check   func(*protocol.Settings) bool
		wantErr bool
	}{
		{
			name:  "plant range",
			edit:  Edit{Op: OpPlantMax, Plant: 6, Value: 900},
			check: func(s *protocol.Settings) bool { return s.SensorRanges[5].MaxRaw == 900 },
		},
		{
			name:  "water range",
			edit:  Edit{Op: OpWaterMin, Channel: 1, Value: 100},
			check: func(s *protocol.Settings) bool { return s.SensorRanges[protocol.MaxPlants].MinRaw == 100 },
		},
		{
			name:  "toggle water sensor",
			edit:  Edit{Op: OpToggleWaterSensor, Plant: 3},
			check: func(s *protocol.Settings) bool { return s.WaterChannel(2) == 1 },
		},
		{
			name:  "ticks between",
			edit:  Edit{Op: OpTicksBetween, Plant: 4, Value: 3},
			check: func(s *protocol.Settings) bool { return s.TicksBetweenIrrigation[3] == 3 },
		},
		{
			name:  "burst duration",
			edit:  Edit{Op: OpBurstDuration, Plant: 1, Value: 12},
			check: func(s *protocol.Settings) bool { return s.BurstDuration[0] == 12 },
		},
		{
			name:  "clear failure",
			start: func(s *protocol.Settings) { s.HardwareFailure = true },
			edit:  Edit{Op: OpClearFailure},
			check: func(s *protocol.Settings) bool { return !s.HardwareFailure },
		},
		{
			name:  "add plant",
			start: func(s *protocol.Settings) { s.NumPlants = 2; s.Skip = 0; s.WaterChannelMap.Set(2, true) },
			edit:  Edit{Op: OpAddPlant},
			check: func(s *protocol.Settings) bool {
				return s.NumPlants == 3 && s.Skip.Has(2) && !s.WaterChannelMap.Has(2)
			},
		},
		{
			name:    "add beyond capacity",
			edit:    Edit{Op: OpAddPlant},
			wantErr: true,
		},
		{
			name:    "remove from empty",
			start:   func(s *protocol.Settings) { s.NumPlants = 0 },
			edit:    Edit{Op: OpRemovePlant},
			wantErr: true,
		},
		{
			name:    "plant beyond count",
			start:   func(s *protocol.Settings) { s.NumPlants = 2 },
			edit:    Edit{Op: OpToggleSkip, Plant: 3},
			wantErr: true,
		},
		{
			name:    "plant zero",
			edit:    Edit{Op: OpTargetMoisture, Plant: 0, Value: 10},
			wantErr: true,
		},
		{
			name:    "third water sensor",
			edit:    Edit{Op: OpWaterEmpty, Channel: 3, Value: 10},
			wantErr: true,
		},
		{
			name:    "threshold above 99",
			edit:    Edit{Op: OpWaterWarn, Channel: 1, Value: 100},
			wantErr: true,
		},
		{
			name:    "byte overflow",
			edit:    Edit{Op: OpMaxBursts, Plant: 1, Value: 256},
			wantErr: true,
		},
		{
			name:    "unknown op",
			edit:    Edit{Op: "water_plants_now"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := protocol.DefaultSettings()
			if tt.start != nil {
				tt.start(&set)
			}
			err := tt.edit.Apply(&set)
			if tt.wantErr {
				if !errors.Is(err, ErrBadEdit) {
					t.Fatalf("err = %v, want ErrBadEdit", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !tt.check(&set) {
				t.Errorf("settings after %s: %+v", tt.edit.Op, set)
			}
		})
	}
}
