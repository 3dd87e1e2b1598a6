package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"
)

// StateFile persists the follow-rate window as JSON so the daily count
// survives a restart. Writes go through a temp file and rename.
type StateFile struct {
	FilePath string
	mu       sync.Mutex
}

var _ ports.StateStore = (*StateFile)(nil)

func NewStateFile(filePath string) (*StateFile, error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &StateFile{FilePath: filePath}, nil
}

// LoadCycleState reports ok=false when no state has been saved yet.
func (s *StateFile) LoadCycleState() (domain.CycleState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st domain.CycleState
	data, err := os.ReadFile(s.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, false, err
	}
	return st, true, nil
}

func (s *StateFile) SaveCycleState(st domain.CycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.FilePath)
}
