// Package nodestore keeps a node's Settings and tick counters on disk so a
// restarted node resumes with the configuration and schedule it had.
package nodestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/chrissnell/drynomore/internal/protocol"
)

var (
	bucketState = []byte("state")

	keyVersion  = []byte("version")
	keySettings = []byte("settings")
	keyTicks    = []byte("ticks")
)

// Store is a bbolt-backed node state file.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the state file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening node state %v: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveState writes settings and tick counters in one transaction.
func (s *Store) SaveState(set protocol.Settings, ticks [protocol.MaxPlants]uint8) error {
	payload, err := set.MarshalBinary()
	if err != nil {
		return err
	}
	version := make([]byte, 2)
	binary.LittleEndian.PutUint16(version, protocol.SettingsVersion)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if err := b.Put(keyVersion, version); err != nil {
			return err
		}
		if err := b.Put(keySettings, payload); err != nil {
			return err
		}
		return b.Put(keyTicks, ticks[:])
	})
}

// ErrNoState is returned by Load when nothing usable was saved.
var ErrNoState = errors.New("no saved node state")

// Load returns the saved settings and tick counters. State written under a
// different settings version is ignored.
func (s *Store) Load() (protocol.Settings, [protocol.MaxPlants]uint8, error) {
	var set protocol.Settings
	var ticks [protocol.MaxPlants]uint8

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		v := b.Get(keyVersion)
		if len(v) != 2 || binary.LittleEndian.Uint16(v) != protocol.SettingsVersion {
			return ErrNoState
		}
		if err := set.UnmarshalBinary(b.Get(keySettings)); err != nil {
			return fmt.Errorf("%w: %v", ErrNoState, err)
		}
		t := b.Get(keyTicks)
		if len(t) != protocol.MaxPlants {
			return fmt.Errorf("%w: tick record is %d bytes", ErrNoState, len(t))
		}
		copy(ticks[:], t)
		return nil
	})
	return set, ticks, err
}
