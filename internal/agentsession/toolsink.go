package agentsession

import (
	"fmt"
	"sync"
)

// ToolSink is the set of extension-tool callbacks the supervisor hands the
// adapter at session creation (spec §4.4, §9 "Extension-tool callbacks map
// to an interface set"). Each method corresponds to one tool the agent
// engine can invoke mid-turn.
type ToolSink interface {
	SavePlan(goal string, steps, validation, cleanup []string, visualPlan string) error
	CreateDraftTask(title, description string) (draftID string, err error)
	CreateArtifact(kind, title, content string) (artifactID string, err error)
	AskQuestions(questions []Question) (answers []Answer, err error)
	ManageShelf(action string, payload map[string]interface{}) error
	ManageNewTask(action string, payload map[string]interface{}) error
	FactoryControl(action string, payload map[string]interface{}) error
}

// Question is one item of an ask_questions call.
type Question struct {
	ID      string
	Text    string
	Options []string
}

// Answer resolves one Question.
type Answer struct {
	QuestionID     string
	SelectedOption string
	FreeText       string
}

// ToolDefinition mirrors the teacher's mcp.ToolDefinition shape: a callable
// registered under a stable name, looked up by the adapter when the engine
// invokes it.
type ToolDefinition struct {
	Name        string
	Description string
	Handler     func(args map[string]interface{}) (interface{}, error)
}

// ToolRegistry holds the set of extension tools exposed to one session,
// generalized from the teacher's internal/mcp.ToolRegistry (Register/Get/
// List/Execute).
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolDefinition)}
}

func (r *ToolRegistry) Register(def ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
}

func (r *ToolRegistry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

func (r *ToolRegistry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	return out
}

func (r *ToolRegistry) Execute(name string, args map[string]interface{}) (interface{}, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return def.Handler(args)
}

// NewRegistryFromSink builds a ToolRegistry exposing the core's extension
// tools (save_plan, create_draft_task, create_artifact, ask_questions,
// manage_shelf, manage_new_task, factory_control) backed by sink.
func NewRegistryFromSink(sink ToolSink) *ToolRegistry {
	r := NewToolRegistry()

	r.Register(ToolDefinition{Name: "save_plan", Description: "persist the task's plan", Handler: func(args map[string]interface{}) (interface{}, error) {
		goal, _ := args["goal"].(string)
		visualPlan, _ := args["visualPlan"].(string)
		return nil, sink.SavePlan(goal, toStringSlice(args["steps"]), toStringSlice(args["validation"]), toStringSlice(args["cleanup"]), visualPlan)
	}})

	r.Register(ToolDefinition{Name: "create_draft_task", Description: "propose a draft task", Handler: func(args map[string]interface{}) (interface{}, error) {
		title, _ := args["title"].(string)
		description, _ := args["description"].(string)
		id, err := sink.CreateDraftTask(title, description)
		return map[string]interface{}{"draftId": id}, err
	}})

	r.Register(ToolDefinition{Name: "create_artifact", Description: "create a planning artifact", Handler: func(args map[string]interface{}) (interface{}, error) {
		kind, _ := args["kind"].(string)
		title, _ := args["title"].(string)
		content, _ := args["content"].(string)
		id, err := sink.CreateArtifact(kind, title, content)
		return map[string]interface{}{"artifactId": id}, err
	}})

	r.Register(ToolDefinition{Name: "ask_questions", Description: "ask the user clarifying questions", Handler: func(args map[string]interface{}) (interface{}, error) {
		questions := toQuestions(args["questions"])
		answers, err := sink.AskQuestions(questions)
		return map[string]interface{}{"answers": answers}, err
	}})

	r.Register(ToolDefinition{Name: "manage_shelf", Description: "manage the planning shelf", Handler: func(args map[string]interface{}) (interface{}, error) {
		action, _ := args["action"].(string)
		return nil, sink.ManageShelf(action, args)
	}})

	r.Register(ToolDefinition{Name: "manage_new_task", Description: "modify the in-progress new task form", Handler: func(args map[string]interface{}) (interface{}, error) {
		action, _ := args["action"].(string)
		return nil, sink.ManageNewTask(action, args)
	}})

	r.Register(ToolDefinition{Name: "factory_control", Description: "control queue/workspace state", Handler: func(args map[string]interface{}) (interface{}, error) {
		action, _ := args["action"].(string)
		return nil, sink.FactoryControl(action, args)
	}})

	return r
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toQuestions(v interface{}) []Question {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Question, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		text, _ := m["text"].(string)
		out = append(out, Question{ID: id, Text: text, Options: toStringSlice(m["options"])})
	}
	return out
}
