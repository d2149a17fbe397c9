package taskqueue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	ledgerExt     = ".jsonl"
	lockExt       = ".lock"
	tmpExt        = ".tmp"
	formatVersion = 1
)

// ledgerHeader is the first line of a ledger file.
type ledgerHeader struct {
	Version int   `json:"version"`
	NextID  int64 `json:"next_id"`
}

// snapshot is the decoded content of a ledger file.
type snapshot struct {
	nextID  int64
	records []*TaskRecord
	corrupt []error
}

// Store reads and atomically replaces the ledger file of one named queue.
//
// The file is JSON Lines: a header line carrying the next id, then one
// record per line in submission order. A line that fails to decode is
// dropped on read without affecting its neighbours.
type Store struct {
	fs   afero.Fs
	dir  string
	name string
}

// NewStore creates a Store for queue name inside dir on the given filesystem.
// When fsys is nil the OS filesystem is used.
func NewStore(fsys afero.Fs, dir, name string) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, dir: dir, name: name}
}

// Path returns the ledger file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.name+ledgerExt)
}

// lock returns a cross-process lock for the ledger file. Only the OS
// filesystem can be flocked; other filesystems get a no-op.
func (s *Store) lock() (func(), error) {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return func() {}, nil
	}
	fl := NewFileLock(filepath.Join(s.dir, s.name+lockExt))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// read loads the ledger file. A missing file or directory yields an empty
// snapshot.
func (s *Store) read() (*snapshot, error) {
	if exists, err := afero.DirExists(s.fs, s.dir); err != nil {
		return nil, fmt.Errorf("stat ledger dir: %w", err)
	} else if !exists {
		return &snapshot{nextID: 1}, nil
	}

	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := afero.ReadFile(s.fs, s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return &snapshot{nextID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	return decodeLedger(data), nil
}

// write replaces the ledger file with the given records. Data goes to a
// temporary file first and is renamed into place, so a crash leaves either
// the old or the new file.
func (s *Store) write(nextID int64, records []*TaskRecord) error {
	data, err := encodeLedger(nextID, records)
	if err != nil {
		return fmt.Errorf("%w: encode ledger: %w", ErrPersistence, err)
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create ledger dir: %w", ErrPersistence, err)
	}

	unlock, err := s.lock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	defer unlock()

	target := s.Path()
	tmp := target + tmpExt

	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open temp file: %w", ErrPersistence, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: write temp file: %w", ErrPersistence, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: sync temp file: %w", ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: close temp file: %w", ErrPersistence, err)
	}

	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("%w: rename temp file: %w", ErrPersistence, err)
	}
	return nil
}

func encodeLedger(nextID int64, records []*TaskRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(ledgerHeader{Version: formatVersion, NextID: nextID}); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// decodeLedger parses a ledger file. Undecodable or inconsistent lines are
// reported in snapshot.corrupt and skipped. If the header is unusable the
// next id is derived from the highest surviving record id.
func decodeLedger(data []byte) *snapshot {
	snap := &snapshot{}
	seen := make(map[int64]bool)
	var lastID int64
	headerRead := false

	for i, line := range bytes.Split(data, []byte("\n")) {
		lineNo := i + 1
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if !headerRead {
			headerRead = true
			var h ledgerHeader
			if err := json.Unmarshal(line, &h); err != nil || h.Version != formatVersion || h.NextID < 1 {
				snap.corrupt = append(snap.corrupt, fmt.Errorf("%w: line %d: bad header", ErrCorruptRecord, lineNo))
				// A line that decodes as a record is not a header; keep it.
				if rec, recErr := decodeRecord(line); recErr == nil {
					snap.records = append(snap.records, rec)
					seen[rec.ID] = true
					lastID = rec.ID
				}
				continue
			}
			snap.nextID = h.NextID
			continue
		}

		rec, err := decodeRecord(line)
		if err != nil {
			snap.corrupt = append(snap.corrupt, fmt.Errorf("%w: line %d: %w", ErrCorruptRecord, lineNo, err))
			continue
		}
		if seen[rec.ID] || rec.ID <= lastID {
			snap.corrupt = append(snap.corrupt, fmt.Errorf("%w: line %d: id %d out of order", ErrCorruptRecord, lineNo, rec.ID))
			continue
		}
		seen[rec.ID] = true
		lastID = rec.ID
		snap.records = append(snap.records, rec)
	}

	if snap.nextID <= lastID {
		snap.nextID = lastID + 1
	}
	return snap
}

func decodeRecord(line []byte) (*TaskRecord, error) {
	var rec TaskRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	if rec.ID < 1 {
		return nil, fmt.Errorf("invalid id %d", rec.ID)
	}
	if !rec.State.valid() {
		return nil, fmt.Errorf("invalid state %q", rec.State)
	}
	if rec.Kind == "" {
		return nil, errors.New("missing kind")
	}
	return &rec, nil
}

// ReadSnapshot decodes the ledger of queue name in dir without modifying
// it. Records appear exactly as stored, so a task that a live worker is
// executing shows as running. Corrupt entries are skipped and reported.
func ReadSnapshot(fsys afero.Fs, dir, name string) ([]TaskRecord, LoadReport, error) {
	snap, err := NewStore(fsys, dir, name).read()
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("read ledger: %w", err)
	}
	out := make([]TaskRecord, 0, len(snap.records))
	for _, rec := range snap.records {
		out = append(out, rec.clone())
	}
	return out, LoadReport{Loaded: len(out), Corrupt: snap.corrupt}, nil
}
