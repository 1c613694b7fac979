// Package state persists the remote resource IDs created by setup calls so
// later runs can reuse them instead of provisioning duplicates.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// State is the single local record: cached Metronome IDs only. The IDs are
// hints, not a source of truth; reuse requires an existence check against
// the remote API.
type State struct {
	MetricID   string `json:"metric_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	RateCardID string `json:"rate_card_id,omitempty"`
}

type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore keeps State in a single JSON document on disk. The file is not
// created until the first Save; a missing file means nothing has been
// provisioned yet.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (State, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file %s: %w", s.path, err)
	}

	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	return st, nil
}

func (s *FileStore) Save(st State) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write state file %s: %w", s.path, err)
	}
	return nil
}
