package jobstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultFileName is the state file name inside a batch work dir.
const DefaultFileName = ".presentjobs"

// SchemaVersion is the state file schema written by this package.
const SchemaVersion = 1

// Store holds the full set of JobRecords for one work dir.
//
// A Store is a plain value owned by a single invocation: it is loaded once,
// mutated through Replace, and saved once. It is not safe for concurrent use.
type Store struct {
	BatchID   string
	CreatedAt time.Time
	Batch     Batch

	nextIndex int
	records   map[int]JobRecord
}

// stateFile is the on-disk layout of .presentjobs.
type stateFile struct {
	SchemaVersion int         `json:"schema_version"`
	BatchID       string      `json:"batch_id"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Batch         Batch       `json:"batch"`
	NextIndex     int         `json:"next_index"`
	RecordCount   int         `json:"record_count"`
	Jobs          []JobRecord `json:"jobs"`
}

// New creates a store for a freshly split batch. One unset record is created
// per work spec, indexed from 0 in the given order.
func New(batch Batch, specs []WorkSpec) *Store {
	s := &Store{
		BatchID:   uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Batch:     batch,
		records:   make(map[int]JobRecord, len(specs)),
	}
	s.Add(specs...)
	return s
}

// Add appends new unset records and returns their indices. Indices continue
// from the highest ever assigned and are never reused.
func (s *Store) Add(specs ...WorkSpec) []int {
	if s.records == nil {
		s.records = make(map[int]JobRecord, len(specs))
	}
	now := time.Now().UTC()
	added := make([]int, 0, len(specs))
	for _, spec := range specs {
		idx := s.nextIndex
		s.nextIndex++
		s.records[idx] = JobRecord{
			Index:     idx,
			State:     StateUnset,
			WorkSpec:  spec,
			UpdatedAt: now,
		}
		added = append(added, idx)
	}
	return added
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Get returns the record with the given index.
func (s *Store) Get(index int) (JobRecord, bool) {
	r, ok := s.records[index]
	return r, ok
}

// Records returns every record in ascending index order.
func (s *Store) Records() []JobRecord {
	return s.Select(nil)
}

// Select returns the records matching pred in ascending index order. A nil
// predicate matches every record.
func (s *Store) Select(pred Predicate) []JobRecord {
	out := make([]JobRecord, 0, len(s.records))
	for _, idx := range s.sortedIndices() {
		r := s.records[idx]
		if pred == nil || pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// SelectIndices returns the records for an explicit index list, ascending and
// de-duplicated, regardless of their state. Indices the store does not hold
// are returned separately.
func (s *Store) SelectIndices(indices []int) ([]JobRecord, []int) {
	uniq := normalizeIndices(indices)
	found := make([]JobRecord, 0, len(uniq))
	var missing []int
	for _, idx := range uniq {
		r, ok := s.records[idx]
		if !ok {
			missing = append(missing, idx)
			continue
		}
		found = append(found, r)
	}
	return found, missing
}

// Replace merges updated records back into the store by index. Every record
// must already exist and satisfy the record invariants; on error nothing is
// merged.
func (s *Store) Replace(records ...JobRecord) error {
	for _, r := range records {
		if _, ok := s.records[r.Index]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownIndex, r.Index)
		}
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for _, r := range records {
		s.records[r.Index] = r
	}
	return nil
}

// Counts returns the number of records per state label (e.g.
// "finished/success").
func (s *Store) Counts() map[string]int {
	out := make(map[string]int)
	for _, r := range s.records {
		out[r.Label()]++
	}
	return out
}

func (s *Store) sortedIndices() []int {
	idx := make([]int, 0, len(s.records))
	for i := range s.records {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Path returns the default state file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, DefaultFileName)
}

// Load reads the state file from a work dir.
//
// Returns an error wrapping ErrNotFound when the work dir holds no state
// file, and ErrCorrupt when the file cannot be read back completely.
func Load(dir string) (*Store, error) {
	return LoadFile(Path(dir))
}

// Save writes the state file into a work dir.
func Save(s *Store, dir string) error {
	return SaveFile(s, Path(dir))
}

// LoadFile reads a state file from an explicit path.
func LoadFile(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &StoreError{Op: "load", Path: path, Err: ErrNotFound}
		}
		return nil, &StoreError{Op: "load", Path: path, Err: err}
	}

	s, err := decode(b)
	if err != nil {
		return nil, &StoreError{Op: "load", Path: path, Err: err}
	}
	return s, nil
}

// SaveFile writes a state file to an explicit path, replacing any previous
// file atomically.
func SaveFile(s *Store, path string) error {
	if s == nil {
		return fmt.Errorf("state store is nil")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("state file path is required")
	}

	b, err := s.encode()
	if err != nil {
		return &StoreError{Op: "save", Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &StoreError{Op: "save", Path: path, Err: fmt.Errorf("create state dir: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return &StoreError{Op: "save", Path: path, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return &StoreError{Op: "save", Path: path, Err: fmt.Errorf("write temp state file: %w", err)}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &StoreError{Op: "save", Path: path, Err: fmt.Errorf("sync temp state file: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &StoreError{Op: "save", Path: path, Err: fmt.Errorf("close temp state file: %w", err)}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &StoreError{Op: "save", Path: path, Err: fmt.Errorf("rename state file: %w", err)}
	}
	return nil
}

func (s *Store) encode() ([]byte, error) {
	jobs := s.Records()
	for _, r := range jobs {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	f := stateFile{
		SchemaVersion: SchemaVersion,
		BatchID:       s.BatchID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     time.Now().UTC(),
		Batch:         s.Batch,
		NextIndex:     s.nextIndex,
		RecordCount:   len(jobs),
		Jobs:          jobs,
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return append(b, '\n'), nil
}

func decode(b []byte) (*Store, error) {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, corrupt("state file is empty")
	}

	var f stateFile
	if err := json.Unmarshal([]byte(trimmed), &f); err != nil {
		return nil, corrupt("parse state file: %v", err)
	}
	if f.SchemaVersion < 1 || f.SchemaVersion > SchemaVersion {
		return nil, corrupt("unsupported schema_version %d", f.SchemaVersion)
	}
	if f.RecordCount != len(f.Jobs) {
		return nil, corrupt("record_count=%d but %d jobs present", f.RecordCount, len(f.Jobs))
	}

	s := &Store{
		BatchID:   f.BatchID,
		CreatedAt: f.CreatedAt,
		Batch:     f.Batch,
		nextIndex: f.NextIndex,
		records:   make(map[int]JobRecord, len(f.Jobs)),
	}
	for _, r := range f.Jobs {
		if _, dup := s.records[r.Index]; dup {
			return nil, corrupt("duplicate job index %d", r.Index)
		}
		if r.Index >= f.NextIndex {
			return nil, corrupt("job index %d not below next_index %d", r.Index, f.NextIndex)
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		s.records[r.Index] = r
	}
	return s, nil
}

func normalizeIndices(indices []int) []int {
	seen := make(map[int]struct{}, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
