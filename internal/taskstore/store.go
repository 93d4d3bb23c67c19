package taskstore

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskfactory/daemon/internal/ferrors"
)

const (
	taskDocName        = "task.yaml"
	counterFileName    = ".task-id-counter.json"
	archiveSnapshotName = "conversation-archive.jsonl"
	fastFilterBudget   = 4096
)

var idDirPattern = regexp.MustCompile(`^([A-Z]+)-([0-9]+)$`)

// Store reads and writes tasks under a single workspace's tasks directory.
// Writes for a given file path are serialised via a per-path logical mutex,
// matching spec §5's "shared resources" rule.
type Store struct {
	tasksDir string
	prefix   string

	mu        sync.Mutex // guards fileLocks map and the counter file
	fileLocks map[string]*sync.Mutex
}

// New creates a Store rooted at tasksDir (<artifactRoot>/tasks), deriving
// the id prefix from the first four alpha characters of the workspace
// folder name (uppercased; "TASK" if none found), per spec §4.1.
func New(tasksDir, workspaceFolderName string) *Store {
	return &Store{
		tasksDir:  tasksDir,
		prefix:    derivePrefix(workspaceFolderName),
		fileLocks: make(map[string]*sync.Mutex),
	}
}

func derivePrefix(folder string) string {
	var b strings.Builder
	for _, r := range folder {
		if b.Len() == 4 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "TASK"
	}
	return strings.ToUpper(b.String())
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.fileLocks[path]
	if !ok {
		l = &sync.Mutex{}
		s.fileLocks[path] = l
	}
	return l
}

// nextID implements the ID allocation algorithm: max(counterFile,
// maxOnDisk)+1, persisted back atomically. Allocation is serialised by s.mu
// within one Store; an id taken at the same moment by another process is
// not detected, and there is no retry on collision.
func (s *Store) nextID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counterPath := filepath.Join(filepath.Dir(s.tasksDir), counterFileName)
	counter := 0
	if data, err := os.ReadFile(counterPath); err == nil {
		var doc struct {
			Counters map[string]int `json:"counters"`
		}
		if err := yaml.Unmarshal(data, &doc); err == nil {
			counter = doc.Counters[s.prefix]
		}
	}

	maxOnDisk := 0
	entries, _ := os.ReadDir(s.tasksDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := idDirPattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != s.prefix {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > maxOnDisk {
			maxOnDisk = n
		}
	}

	next := counter
	if maxOnDisk > next {
		next = maxOnDisk
	}
	next++

	doc := struct {
		Counters map[string]int `json:"counters"`
	}{Counters: map[string]int{s.prefix: next}}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", ferrors.IO(err, "marshal task id counter")
	}
	tmp := counterPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", ferrors.IO(err, "write task id counter")
	}
	if err := os.Rename(tmp, counterPath); err != nil {
		return "", ferrors.IO(err, "rename task id counter")
	}

	return fmt.Sprintf("%s-%d", s.prefix, next), nil
}

// createTask persists a new task in backlog at the head of the phase,
// with defaults applied from the supplied fallbacks (workspace config,
// then global defaults) prior to calling this function.
func (s *Store) createTask(req CreateRequest) (*Task, error) {
	id, err := s.nextID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	existing, err := s.discoverPhase(PhaseBacklog)
	if err != nil {
		return nil, err
	}
	minOrder := 0
	for _, t := range existing {
		if t.Frontmatter.Order < minOrder {
			minOrder = t.Frontmatter.Order
		}
	}

	criteria := make([]AcceptanceCriterion, 0, len(req.AcceptanceCriteria))
	for _, c := range req.AcceptanceCriteria {
		criteria = append(criteria, AcceptanceCriterion{Text: c, State: CriterionPending})
	}

	t := &Task{
		Frontmatter: TaskFrontmatter{
			ID:                   id,
			Title:                req.Title,
			Phase:                PhaseBacklog,
			Order:                minOrder - 1,
			Created:              now,
			Updated:              now,
			AcceptanceCriteria:   criteria,
			PreExecutionSkills:   req.PreExecutionSkills,
			PostExecutionSkills:  req.PostExecutionSkills,
			PrePlanningSkills:    req.PrePlanningSkills,
			SkillConfigs:         req.SkillConfigs,
			ExecutionModelConfig: req.ExecutionModelConfig,
			PlanningModelConfig:  req.PlanningModelConfig,
			PlanningStatus:       PlanningNone,
			PlanningSkipped:      req.PlanningSkipped,
		},
		Description: req.Description,
		FilePath:    filepath.Join(s.tasksDir, id, taskDocName),
	}

	if err := os.MkdirAll(filepath.Join(s.tasksDir, id, "attachments"), 0o755); err != nil {
		return nil, ferrors.IO(err, "create task directory")
	}
	if err := s.write(t); err != nil {
		return nil, err
	}
	return t, nil
}

// updateTask applies a partial update and always bumps Updated.
func (s *Store) updateTask(t *Task, req UpdateRequest) (*Task, error) {
	if req.Title != nil {
		t.Frontmatter.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.AcceptanceCriteria != nil {
		t.Frontmatter.AcceptanceCriteria = *req.AcceptanceCriteria
	}
	if req.Plan != nil {
		t.Frontmatter.Plan = req.Plan
	}
	if req.PlanningStatus != nil {
		t.Frontmatter.PlanningStatus = *req.PlanningStatus
	}
	if req.PlanningSkipped != nil {
		t.Frontmatter.PlanningSkipped = *req.PlanningSkipped
	}
	if req.SessionFile != nil {
		t.Frontmatter.SessionFile = *req.SessionFile
	}
	if req.Blocked != nil {
		prevBlocked := t.Frontmatter.Blocked.IsBlocked
		newBlocked := req.Blocked.IsBlocked
		if newBlocked && !prevBlocked {
			t.Frontmatter.Blocked.BlockedCount++
			now := time.Now()
			t.Frontmatter.Blocked.Since = &now
		}
		if !newBlocked && prevBlocked && t.Frontmatter.Blocked.Since != nil {
			t.Frontmatter.Blocked.BlockedDuration += time.Since(*t.Frontmatter.Blocked.Since).Seconds()
			t.Frontmatter.Blocked.Since = nil
		}
		t.Frontmatter.Blocked.IsBlocked = newBlocked
		t.Frontmatter.Blocked.Reason = req.Blocked.Reason
	}
	if req.UsageSample != nil {
		t.Frontmatter.UsageMetrics.AddSample(*req.UsageSample)
	}

	t.Frontmatter.Updated = time.Now()
	if err := s.write(t); err != nil {
		return nil, err
	}
	return t, nil
}

// discoverTasks scans the tasks directory, skipping unparseable files.
// When scope is "all" or "active", a ~4KiB prefix scan for "^phase:" is
// used to avoid a full YAML parse on files outside scope.
func (s *Store) discoverTasks(scope DiscoverScope) ([]*Task, error) {
	entries, err := os.ReadDir(s.tasksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ferrors.IO(err, "read tasks directory")
	}

	var tasks []*Task
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.tasksDir, e.Name(), taskDocName)

		phase, ok := fastPeekPhase(path)
		if ok && !phaseInScope(phase, scope) {
			continue
		}

		t, err := s.read(path)
		if err != nil {
			log.Printf("[TASKSTORE] skipping unparseable task file %s: %v", path, err)
			continue
		}
		if !phaseInScope(t.Frontmatter.Phase, scope) {
			continue
		}
		tasks = append(tasks, t)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Frontmatter.Order != tasks[j].Frontmatter.Order {
			return tasks[i].Frontmatter.Order < tasks[j].Frontmatter.Order
		}
		return tasks[i].Frontmatter.Created.Before(tasks[j].Frontmatter.Created)
	})
	return tasks, nil
}

func (s *Store) discoverPhase(phase Phase) ([]*Task, error) {
	all, err := s.discoverTasks(ScopeAll)
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range all {
		if normalizePhase(t.Frontmatter.Phase) == phase {
			out = append(out, t)
		}
	}
	return out, nil
}

// snapshotPhase is a best-effort helper used by moveTaskToPhase to compute
// the insert-at-head order; errors are swallowed (order defaults to -1).
func (s *Store) snapshotPhase(excludeFilePath string, phase Phase) []*Task {
	tasks, err := s.discoverPhase(phase)
	if err != nil {
		return nil
	}
	out := tasks[:0]
	for _, t := range tasks {
		if t.FilePath != excludeFilePath {
			out = append(out, t)
		}
	}
	return out
}

func phaseInScope(p Phase, scope DiscoverScope) bool {
	p = normalizePhase(p)
	switch scope {
	case ScopeArchived:
		return p == PhaseArchived
	case ScopeActive:
		return p != PhaseArchived
	default:
		return true
	}
}

// fastPeekPhase scans a bounded prefix of the file for "^phase:" without a
// full YAML parse, per spec §4.1's "fast phase filtering".
func fastPeekPhase(path string) (Phase, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, fastFilterBudget)
	n, _ := f.Read(buf)
	scanner := bufio.NewScanner(strings.NewReader(string(buf[:n])))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "phase:") {
			val := strings.TrimSpace(strings.TrimPrefix(line, "phase:"))
			val = strings.Trim(val, `"'`)
			return Phase(val), true
		}
	}
	return "", false
}

// reorderTasks rewrites order = index for each id in orderedIDs, within
// the given phase, bumping Updated on each affected task.
func (s *Store) reorderTasks(phase Phase, orderedIDs []string) error {
	tasks, err := s.discoverPhase(phase)
	if err != nil {
		return err
	}
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.Frontmatter.ID] = t
	}
	for idx, id := range orderedIDs {
		t, ok := byID[id]
		if !ok {
			continue
		}
		t.Frontmatter.Order = idx
		t.Frontmatter.Updated = time.Now()
		if err := s.write(t); err != nil {
			return err
		}
	}
	return nil
}

// deleteTask removes the task directory recursively.
func (s *Store) deleteTask(t *Task) error {
	dir := filepath.Dir(t.FilePath)
	if err := os.RemoveAll(dir); err != nil {
		return ferrors.IO(err, "delete task directory %s", dir)
	}
	return nil
}

// snapshotConversation writes a best-effort copy of the referenced session
// file into <taskDir>/conversation-archive.jsonl on entering archived.
func (s *Store) snapshotConversation(t *Task) {
	if t.Frontmatter.SessionFile == "" {
		return
	}
	data, err := os.ReadFile(t.Frontmatter.SessionFile)
	if err != nil {
		log.Printf("[TASKSTORE] conversation archive snapshot skipped for %s: %v", t.Frontmatter.ID, err)
		return
	}
	dst := filepath.Join(filepath.Dir(t.FilePath), archiveSnapshotName)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		log.Printf("[TASKSTORE] conversation archive write failed for %s: %v", t.Frontmatter.ID, err)
	}
}

// write serialises t to its FilePath, locked per-path, via a durable rename.
func (s *Store) write(t *Task) error {
	lock := s.lockFor(t.FilePath)
	lock.Lock()
	defer lock.Unlock()

	doc := taskDocument{
		Frontmatter: t.Frontmatter,
		Description: t.Description,
		History:     t.History,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return ferrors.IO(err, "marshal task %s", t.Frontmatter.ID)
	}
	if err := os.MkdirAll(filepath.Dir(t.FilePath), 0o755); err != nil {
		return ferrors.IO(err, "create task directory for %s", t.Frontmatter.ID)
	}
	tmp := t.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferrors.IO(err, "write task %s", t.Frontmatter.ID)
	}
	if err := os.Rename(tmp, t.FilePath); err != nil {
		return ferrors.IO(err, "rename task %s into place", t.Frontmatter.ID)
	}
	return nil
}

// taskDocument is the on-disk shape: frontmatter, description and history
// embedded in the same YAML document, per spec §4.1.
type taskDocument struct {
	Frontmatter TaskFrontmatter   `yaml:"frontmatter"`
	Description string            `yaml:"description"`
	History     []PhaseTransition `yaml:"history"`
}

func (s *Store) read(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.IO(err, "read task file %s", path)
	}
	var doc taskDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ferrors.Validation("parse task file %s: %v", path, err)
	}
	return &Task{
		Frontmatter: doc.Frontmatter,
		Description: doc.Description,
		History:     doc.History,
		FilePath:    path,
	}, nil
}

// GetByID loads a single task by id, searching all phases.
func (s *Store) GetByID(id string) (*Task, error) {
	tasks, err := s.discoverTasks(ScopeAll)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Frontmatter.ID == id {
			return t, nil
		}
	}
	return nil, ferrors.NotFound("task %s not found", id)
}

// Public wrappers -----------------------------------------------------

func (s *Store) CreateTask(req CreateRequest) (*Task, error) { return s.createTask(req) }

func (s *Store) UpdateTask(t *Task, req UpdateRequest) (*Task, error) { return s.updateTask(t, req) }

func (s *Store) MoveTaskToPhase(t *Task, target Phase, actor Actor, reason string) error {
	return s.moveTaskToPhase(t, target, actor, reason)
}

func (s *Store) CanMoveToPhase(t *Task, target Phase) TransitionResult {
	return canMoveToPhase(t, target)
}

func (s *Store) DiscoverTasks(scope DiscoverScope) ([]*Task, error) { return s.discoverTasks(scope) }

func (s *Store) ReorderTasks(phase Phase, orderedIDs []string) error {
	return s.reorderTasks(phase, orderedIDs)
}

func (s *Store) DeleteTask(t *Task) error { return s.deleteTask(t) }
