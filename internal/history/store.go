package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// minFileSize is the smallest plausible history document.
const minFileSize = 32

// requiredKeys must be present at the top level of a history file.
var requiredKeys = []string{"historyData", "energyAccumulators"}

// State is the persisted document.
type State struct {
	HistoryData        map[string]Record      `json:"historyData"`
	EnergyAccumulators map[string]Accumulator `json:"energyAccumulators"`
	LastUpdateTime     map[string]int64       `json:"lastUpdateTime"` // epoch ms
	LastSaved          time.Time              `json:"lastSaved"`
}

// NewState returns an empty state.
func NewState() State {
	return State{
		HistoryData:        make(map[string]Record),
		EnergyAccumulators: make(map[string]Accumulator),
		LastUpdateTime:     make(map[string]int64),
	}
}

// Store reads and writes the history file.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore creates a store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the history file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes st atomically: the document is written to a temp file,
// re-read and verified, then renamed over the target.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: creating directory: %w", ErrPersistence, err)
	}

	st = clean(st)
	st.LastSaved = s.now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrPersistence, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing temp file: %w", ErrPersistence, err)
	}

	written, err := os.ReadFile(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: re-reading temp file: %w", ErrPersistence, err)
	}
	if !bytes.Equal(written, data) {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: temp file content mismatch", ErrPersistence)
	}
	if _, err := decode(written); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: verifying temp file: %w", ErrPersistence, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: renaming temp file: %w", ErrPersistence, err)
	}
	return nil
}

// Load reads the history file. A missing file yields an empty state. A file
// failing the structural checks is renamed to <path>.corrupt-<timestamp> and
// an empty state is returned together with an error wrapping ErrCorruptFile.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return NewState(), fmt.Errorf("%w: reading: %w", ErrPersistence, err)
	}

	st, err := decode(data)
	if err != nil {
		backup := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format("20060102T150405Z"))
		if rerr := os.Rename(s.path, backup); rerr != nil {
			return NewState(), fmt.Errorf("%w: %w (backup failed: %w)", ErrCorruptFile, err, rerr)
		}
		return NewState(), fmt.Errorf("%w: %w (moved to %s)", ErrCorruptFile, err, backup)
	}
	return clean(st), nil
}

// decode parses and structurally checks a history document.
func decode(data []byte) (State, error) {
	if len(data) < minFileSize {
		return State{}, fmt.Errorf("file too short (%d bytes)", len(data))
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return State{}, fmt.Errorf("parsing: %w", err)
	}
	for _, k := range requiredKeys {
		if _, ok := top[k]; !ok {
			return State{}, fmt.Errorf("missing key %q", k)
		}
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parsing: %w", err)
	}
	return st, nil
}

func validKey(k string) bool {
	return k != "" && k != "undefined" && k != "null"
}

// clean copies st, dropping invalid keys and sanitizing every number.
func clean(st State) State {
	out := NewState()
	out.LastSaved = st.LastSaved
	for k, r := range st.HistoryData {
		if !validKey(k) {
			continue
		}
		r.sanitize()
		out.HistoryData[k] = r
	}
	for k, a := range st.EnergyAccumulators {
		if !validKey(k) {
			continue
		}
		a.sanitize()
		out.EnergyAccumulators[k] = a
	}
	for k, ts := range st.LastUpdateTime {
		if !validKey(k) || ts < 0 {
			continue
		}
		out.LastUpdateTime[k] = ts
	}
	return out
}
