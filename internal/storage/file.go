package storage

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pollwatch/internal/monitor"
	logx "pollwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.deliveries.jsonl      (append-only JSON Lines)
//   - <prefix>.state.snapshot.json   (periodic snapshot)
//   - <prefix>.state.journal.jsonl   (append-only journal)
//   - <prefix>.sessions/<key>.session (one file per session, replaced atomically)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveryFile *os.File

	snapshotPath string
	journalFile  *os.File
	states       map[string]monitor.StateEntry
	writes       int

	sessionDir string
}

const compactEvery = 1000

type stateRecord struct {
	Key   string             `json:"key"`
	Entry monitor.StateEntry `json:"entry"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	sessionDir := prefix + ".sessions"
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, err
	}

	df, err := os.OpenFile(prefix+".deliveries.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	snapPath := prefix + ".state.snapshot.json"
	journalPath := prefix + ".state.journal.jsonl"
	states := map[string]monitor.StateEntry{}
	if err := loadStateSnapshot(snapPath, states); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("state snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := replayStateJournal(journalPath, states); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("state journal replay failed", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		deliveryFile: df,
		snapshotPath: snapPath,
		journalFile:  jf,
		states:       states,
		sessionDir:   sessionDir,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil && s.writes > 0 {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.deliveryFile != nil {
		errs = append(errs, s.deliveryFile.Close())
		s.deliveryFile = nil
	}
	if s.journalFile != nil {
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendDelivery(_ context.Context, e DeliveryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return errors.New("delivery log closed")
	}
	return json.NewEncoder(s.deliveryFile).Encode(e)
}

func (s *fileStore) PutState(_ context.Context, sourceKey, recordKey string, e monitor.StateEntry) error {
	k := stateKey(sourceKey, recordKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("state journal closed")
	}
	s.states[k] = e
	if err := json.NewEncoder(s.journalFile).Encode(stateRecord{Key: k, Entry: e}); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadStates(_ context.Context, fn func(sourceKey, recordKey string, e monitor.StateEntry)) error {
	s.mu.Lock()
	snapshot := make(map[string]monitor.StateEntry, len(s.states))
	for k, v := range s.states {
		snapshot[k] = v
	}
	s.mu.Unlock()

	for k, e := range snapshot {
		src, rec, ok := splitStateKey(k)
		if !ok {
			continue
		}
		fn(src, rec, e)
	}
	return nil
}

func (s *fileStore) LoadSession(_ context.Context, sourceKey string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.sessionPath(sourceKey))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(b) == 0 {
		return nil, false, nil
	}
	return b, true, nil
}

// SaveSession writes to a temp file and renames it over the target, so a
// crash leaves either the previous token or the new one, never a partial file.
func (s *fileStore) SaveSession(_ context.Context, sourceKey string, token []byte) error {
	f, err := os.CreateTemp(s.sessionDir, ".session-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	discard := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(token); err != nil {
		return discard(err)
	}
	if err := f.Sync(); err != nil {
		return discard(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.sessionPath(sourceKey)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) DeleteSession(_ context.Context, sourceKey string) error {
	err := os.Remove(s.sessionPath(sourceKey))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *fileStore) sessionPath(sourceKey string) string {
	return filepath.Join(s.sessionDir, base64.RawURLEncoding.EncodeToString([]byte(sourceKey))+".session")
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.states); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadStateSnapshot(path string, out map[string]monitor.StateEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]monitor.StateEntry
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayStateJournal(path string, out map[string]monitor.StateEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r stateRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// torn tail write after a crash
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Entry
	}
	return sc.Err()
}
