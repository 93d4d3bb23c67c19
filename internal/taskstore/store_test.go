package taskstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taskfactory/daemon/internal/ferrors"
	"gopkg.in/yaml.v3"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "tasks")
	return New(tasksDir, "demo")
}

func TestCreateTaskAssignsIDAndDefaults(t *testing.T) {
	s := newTestStore(t)

	task, err := s.CreateTask(CreateRequest{Title: "ship X", Description: "ship X"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Frontmatter.ID != "DEMO-1" {
		t.Fatalf("ID = %q, want DEMO-1", task.Frontmatter.ID)
	}
	if task.Frontmatter.Phase != PhaseBacklog {
		t.Fatalf("Phase = %q, want backlog", task.Frontmatter.Phase)
	}

	second, err := s.CreateTask(CreateRequest{Title: "ship Y"})
	if err != nil {
		t.Fatalf("CreateTask second: %v", err)
	}
	if second.Frontmatter.ID != "DEMO-2" {
		t.Fatalf("second ID = %q, want DEMO-2", second.Frontmatter.ID)
	}
	if second.Frontmatter.Order >= task.Frontmatter.Order {
		t.Fatalf("new backlog task should be inserted at head: got order %d, existing %d",
			second.Frontmatter.Order, task.Frontmatter.Order)
	}
}

func TestRoundTripSerialisation(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(CreateRequest{Title: "round trip", AcceptanceCriteria: []string{"a"}})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	reloaded, err := s.GetByID(task.Frontmatter.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Frontmatter.Title != task.Frontmatter.Title {
		t.Fatalf("title mismatch after round-trip: %q vs %q", reloaded.Frontmatter.Title, task.Frontmatter.Title)
	}
	if len(reloaded.Frontmatter.AcceptanceCriteria) != 1 {
		t.Fatalf("expected 1 acceptance criterion, got %d", len(reloaded.Frontmatter.AcceptanceCriteria))
	}
}

func TestBacklogToExecutingRequiresCriteria(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(CreateRequest{Title: "no criteria"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	err = s.MoveTaskToPhase(task, PhaseExecuting, ActorUser, "")
	if !ferrors.Is(err, ferrors.KindInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
}

func TestPhaseCrossInvariant(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(CreateRequest{Title: "full cycle"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	crit := []AcceptanceCriterion{{Text: "a", State: CriterionPending}}
	if _, err := s.UpdateTask(task, UpdateRequest{AcceptanceCriteria: &crit}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	if err := s.MoveTaskToPhase(task, PhaseReady, ActorUser, ""); err != nil {
		t.Fatalf("move to ready: %v", err)
	}
	if err := s.MoveTaskToPhase(task, PhaseExecuting, ActorUser, ""); err != nil {
		t.Fatalf("move to executing: %v", err)
	}
	if err := s.MoveTaskToPhase(task, PhaseComplete, ActorUser, ""); err != nil {
		t.Fatalf("move to complete: %v", err)
	}

	if len(task.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(task.History))
	}
	if task.Frontmatter.CycleTime == nil || *task.Frontmatter.CycleTime < 0 {
		t.Fatalf("cycleTime should be set and non-negative, got %v", task.Frontmatter.CycleTime)
	}
	if task.Frontmatter.LeadTime == nil || *task.Frontmatter.LeadTime < *task.Frontmatter.CycleTime {
		t.Fatalf("leadTime should be >= cycleTime, got leadTime=%v cycleTime=%v",
			task.Frontmatter.LeadTime, task.Frontmatter.CycleTime)
	}
}

func TestUnknownFrontmatterKeysRoundTripThroughExtra(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(CreateRequest{Title: "future field"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	data, err := os.ReadFile(task.FilePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal raw doc: %v", err)
	}
	fm := doc["frontmatter"].(map[string]interface{})
	fm["futureField"] = "set by a newer daemon"
	out, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal raw doc: %v", err)
	}
	if err := os.WriteFile(task.FilePath, out, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reloaded, err := s.GetByID(task.Frontmatter.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Frontmatter.Extra["futureField"] != "set by a newer daemon" {
		t.Fatalf("unknown key not captured in Extra: %+v", reloaded.Frontmatter.Extra)
	}

	title := "future field renamed"
	if _, err := s.UpdateTask(reloaded, UpdateRequest{Title: &title}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	again, err := s.GetByID(task.Frontmatter.ID)
	if err != nil {
		t.Fatalf("GetByID after update: %v", err)
	}
	if again.Frontmatter.Extra["futureField"] != "set by a newer daemon" {
		t.Fatalf("unknown key dropped after a write by this daemon: %+v", again.Frontmatter.Extra)
	}
}

func TestArchiveThenRestoreToCompletePreservesCompletionMetadata(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(CreateRequest{Title: "archived restore"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	crit := []AcceptanceCriterion{{Text: "a", State: CriterionPending}}
	if _, err := s.UpdateTask(task, UpdateRequest{AcceptanceCriteria: &crit}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	if err := s.MoveTaskToPhase(task, PhaseReady, ActorUser, ""); err != nil {
		t.Fatalf("move to ready: %v", err)
	}
	if err := s.MoveTaskToPhase(task, PhaseExecuting, ActorUser, ""); err != nil {
		t.Fatalf("move to executing: %v", err)
	}
	if err := s.MoveTaskToPhase(task, PhaseComplete, ActorUser, ""); err != nil {
		t.Fatalf("move to complete: %v", err)
	}

	completed := task.Frontmatter.Completed
	leadTime := task.Frontmatter.LeadTime
	cycleTime := task.Frontmatter.CycleTime
	if completed == nil || leadTime == nil || cycleTime == nil {
		t.Fatalf("expected completion metadata to be set before archiving, got %+v", task.Frontmatter)
	}

	if err := s.MoveTaskToPhase(task, PhaseArchived, ActorUser, ""); err != nil {
		t.Fatalf("move to archived: %v", err)
	}
	if err := s.MoveTaskToPhase(task, PhaseComplete, ActorUser, "restore"); err != nil {
		t.Fatalf("restore archived to complete: %v", err)
	}

	if !task.Frontmatter.Completed.Equal(*completed) {
		t.Fatalf("Completed changed on restore: got %v, want %v", task.Frontmatter.Completed, completed)
	}
	if *task.Frontmatter.LeadTime != *leadTime {
		t.Fatalf("LeadTime changed on restore: got %v, want %v", *task.Frontmatter.LeadTime, *leadTime)
	}
	if *task.Frontmatter.CycleTime != *cycleTime {
		t.Fatalf("CycleTime changed on restore: got %v, want %v", *task.Frontmatter.CycleTime, *cycleTime)
	}
}

func TestReorderTasksIsNoOpModuloRenormalisation(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.CreateTask(CreateRequest{Title: "a"})
	b, _ := s.CreateTask(CreateRequest{Title: "b"})

	// b was inserted at the head of backlog, so the current order is b, a.
	ids := []string{b.Frontmatter.ID, a.Frontmatter.ID}
	if err := s.ReorderTasks(PhaseBacklog, ids); err != nil {
		t.Fatalf("ReorderTasks: %v", err)
	}

	tasks, err := s.DiscoverTasks(ScopeAll)
	if err != nil {
		t.Fatalf("DiscoverTasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Frontmatter.ID != b.Frontmatter.ID || tasks[1].Frontmatter.ID != a.Frontmatter.ID {
		t.Fatalf("unexpected order after reorder: %+v", tasks)
	}
}

func TestUsageMetricsAdditivity(t *testing.T) {
	var m UsageMetrics
	m.AddSample(UsageSample{Provider: "anthropic", ModelID: "claude", InputTokens: 10, OutputTokens: 5})
	m.AddSample(UsageSample{Provider: "anthropic", ModelID: "claude", InputTokens: 3, OutputTokens: 1})
	m.AddSample(UsageSample{Provider: "openai", ModelID: "gpt", InputTokens: 7})

	var sumIn int64
	for _, s := range m.ByModel {
		sumIn += s.InputTokens
	}
	if sumIn != m.Totals.InputTokens {
		t.Fatalf("totals.input = %d, sum(byModel) = %d", m.Totals.InputTokens, sumIn)
	}
}
