package activity

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/taskfactory/daemon/internal/ferrors"
)

const activityFileRelPath = "factory/activity.jsonl"

// JSONLStore appends Entry values as one JSON object per line under
// <artifactRoot>/factory/activity.jsonl, per spec §6's on-disk layout.
// Writes for a given workspace are serialised by a per-workspace mutex.
type JSONLStore struct {
	artifactRoots func(workspaceID string) string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewJSONLStore takes a resolver from workspace id to its artifact root,
// so the store does not need to know about the workspace registry type.
func NewJSONLStore(artifactRoots func(workspaceID string) string) *JSONLStore {
	return &JSONLStore{artifactRoots: artifactRoots, locks: make(map[string]*sync.Mutex)}
}

func (s *JSONLStore) lockFor(workspaceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[workspaceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[workspaceID] = l
	}
	return l
}

func (s *JSONLStore) path(workspaceID string) string {
	return filepath.Join(s.artifactRoots(workspaceID), activityFileRelPath)
}

// Append writes entry as one JSON line, creating parent directories as
// needed.
func (s *JSONLStore) Append(entry Entry) error {
	lock := s.lockFor(entry.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(entry.WorkspaceID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.IO(err, "create activity log directory")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return ferrors.IO(err, "open activity log")
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return ferrors.IO(err, "marshal activity entry")
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return ferrors.IO(err, "append activity log")
	}
	return nil
}

// Replay reads the log tail (up to limit entries), optionally filtering to
// entries at or after since.
func (s *JSONLStore) Replay(workspaceID string, limit int, since *time.Time) ([]Entry, error) {
	lock := s.lockFor(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(workspaceID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ferrors.IO(err, "open activity log")
	}
	defer f.Close()

	var all []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // skip unparseable lines, best-effort replay
		}
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		all = append(all, e)
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// StallMessage formats a human-readable relative-duration message for
// stall/timeout telemetry entries, e.g. "no response, last activity 2 minutes ago".
func StallMessage(since time.Time) string {
	return "no response, last activity " + humanize.Time(since)
}
