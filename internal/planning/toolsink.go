package planning

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/agentsession"
	"github.com/taskfactory/daemon/internal/taskstore"
)

// SavePlan is not meaningful on the workspace planning session (it applies
// to a single task's plan run, see internal/supervisor.PlanTask); the
// planning session never registers the save_plan tool for its own use but
// must still satisfy agentsession.ToolSink as a single implementer type.
func (s *Session) SavePlan(goal string, steps, validation, cleanup []string, visualPlan string) error {
	return fmt.Errorf("save_plan is not available on the workspace planning session")
}

// CreateDraftTask records a draft proposal on the shelf.
func (s *Session) CreateDraftTask(title, description string) (string, error) {
	id := uuid.NewString()
	draft := &DraftTask{ID: id, Title: title, Description: description, Created: time.Now()}
	s.mu.Lock()
	s.shelf.Drafts[id] = draft
	s.mu.Unlock()
	s.save()
	if s.index != nil {
		if err := s.index.IndexDraft(s.workspaceID, draft); err != nil {
			log.Printf("[PLANNING] %s: shelf index draft failed: %v", s.workspaceID, err)
		}
	}
	s.bus.Append(s.workspaceID, activity.Entry{Type: activity.TypeChatMessage, Role: activity.RoleAgent, Content: "drafted task: " + title})
	return id, nil
}

// CreateArtifact records a planning artifact on the shelf.
func (s *Session) CreateArtifact(kind, title, content string) (string, error) {
	id := uuid.NewString()
	artifact := &Artifact{ID: id, Kind: kind, Title: title, Content: content, Created: time.Now()}
	s.mu.Lock()
	s.shelf.Artifacts[id] = artifact
	s.mu.Unlock()
	s.save()
	if s.index != nil {
		if err := s.index.IndexArtifact(s.workspaceID, artifact); err != nil {
			log.Printf("[PLANNING] %s: shelf index artifact failed: %v", s.workspaceID, err)
		}
	}
	return id, nil
}

// AskQuestions parks the calling tool goroutine until resolveQARequest or
// abortQARequest fires; no timeout is imposed (spec §4.7).
func (s *Session) AskQuestions(questions []agentsession.Question) ([]agentsession.Answer, error) {
	planningQuestions := make([]Question, len(questions))
	for i, q := range questions {
		planningQuestions[i] = Question{ID: q.ID, Text: q.Text, Options: q.Options}
	}

	req := newQARequest(uuid.NewString(), planningQuestions)
	s.mu.Lock()
	s.qaRequests[req.RequestID] = req
	s.messages = append(s.messages, Message{ID: uuid.NewString(), Role: "system", Timestamp: time.Now(), QARequest: req})
	s.mu.Unlock()
	s.save()

	s.bus.Append(s.workspaceID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindPhaseChange, Message: "qa:request", Metadata: map[string]interface{}{"requestId": req.RequestID}})

	select {
	case answers := <-req.resolve:
		out := make([]agentsession.Answer, len(answers))
		for i, a := range answers {
			out[i] = agentsession.Answer{QuestionID: a.QuestionID, SelectedOption: a.SelectedOption, FreeText: a.FreeText}
		}
		return out, nil
	case <-req.abort:
		return nil, fmt.Errorf("qa request %s aborted", req.RequestID)
	}
}

// ResolveQARequest answers a pending ask_questions call, unblocking the
// parked tool-call goroutine.
func (s *Session) ResolveQARequest(requestID string, answers []Answer) error {
	s.mu.Lock()
	req, ok := s.qaRequests[requestID]
	if ok {
		delete(s.qaRequests, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending qa request %s", requestID)
	}
	req.resolve <- answers
	return nil
}

// AbortQARequest cancels a pending ask_questions call without an answer.
func (s *Session) AbortQARequest(requestID string) error {
	s.mu.Lock()
	req, ok := s.qaRequests[requestID]
	if ok {
		delete(s.qaRequests, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending qa request %s", requestID)
	}
	close(req.abort)
	return nil
}

// ManageShelf handles promote/discard actions against drafts and
// artifacts. "promote" creates a real Task from a draft via the task
// store, matching the queue manager's normal creation path.
func (s *Session) ManageShelf(action string, payload map[string]interface{}) error {
	draftID, _ := payload["draftId"].(string)
	switch action {
	case "promote":
		s.mu.Lock()
		draft, ok := s.shelf.Drafts[draftID]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("unknown draft %s", draftID)
		}
		if _, err := s.store.CreateTask(taskstore.CreateRequest{Title: draft.Title, Description: draft.Description}); err != nil {
			return fmt.Errorf("promote draft %s: %w", draftID, err)
		}
		s.mu.Lock()
		delete(s.shelf.Drafts, draftID)
		s.mu.Unlock()
		s.save()
		if s.index != nil {
			if err := s.index.RemoveDraft(draftID); err != nil {
				log.Printf("[PLANNING] %s: shelf index remove draft failed: %v", s.workspaceID, err)
			}
		}
		return nil
	case "discard":
		s.mu.Lock()
		delete(s.shelf.Drafts, draftID)
		delete(s.shelf.Artifacts, draftID)
		s.mu.Unlock()
		s.save()
		if s.index != nil {
			if err := s.index.RemoveDraft(draftID); err != nil {
				log.Printf("[PLANNING] %s: shelf index remove draft failed: %v", s.workspaceID, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown manage_shelf action: %s", action)
	}
}

// ManageNewTask modifies the in-progress "new task" form the planning
// session maintains on behalf of the transport layer; the form itself is
// owned by the caller (cmd/taskfactoryd's server shim), this just records
// the mutation as a chat message for the transport to replay.
func (s *Session) ManageNewTask(action string, payload map[string]interface{}) error {
	s.bus.Append(s.workspaceID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindPhaseChange, Message: "new-task-form:" + action, Metadata: payload})
	return nil
}

// FactoryControl lets the agent request queue/workspace state changes
// (e.g. "kickQueue") through the same callback path as user commands.
func (s *Session) FactoryControl(action string, payload map[string]interface{}) error {
	s.bus.Append(s.workspaceID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindPhaseChange, Message: "factory-control:" + action, Metadata: payload})
	return nil
}
