package workspace

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/taskfactory/daemon/internal/ferrors"
)

const registryFileName = "workspaces.json"

// Registry is the flat JSON-array index of known workspaces, stored at
// <homeDir>/workspaces.json. Updates use read-modify-write with
// "latest write wins", durable via rename-into-place, per spec §5.
type Registry struct {
	homeDir string

	mu         sync.Mutex
	workspaces []Workspace
}

// NewRegistry loads (or lazily creates) the registry at homeDir.
func NewRegistry(homeDir string) (*Registry, error) {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return nil, ferrors.IO(err, "create task-factory home directory")
	}
	r := &Registry{homeDir: homeDir}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) path() string {
	return filepath.Join(r.homeDir, registryFileName)
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path())
	if err != nil {
		if os.IsNotExist(err) {
			r.workspaces = nil
			return nil
		}
		return ferrors.IO(err, "read workspace registry")
	}
	var entries []Workspace
	if err := json.Unmarshal(data, &entries); err != nil {
		return ferrors.IO(err, "parse workspace registry")
	}
	r.workspaces = entries
	return nil
}

// save persists the registry with a durable rename. Caller must hold mu.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.workspaces, "", "  ")
	if err != nil {
		return ferrors.IO(err, "marshal workspace registry")
	}
	tmp := r.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferrors.IO(err, "write workspace registry")
	}
	if err := os.Rename(tmp, r.path()); err != nil {
		return ferrors.IO(err, "rename workspace registry into place")
	}
	return nil
}

// CreateWorkspace registers a new workspace rooted at path, allocating a
// fresh artifact root and default config, persisted to factory.json.
func (r *Registry) CreateWorkspace(path, name, artifactRoot string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workspaces {
		if w.Path == path {
			return nil, ferrors.Validation("workspace already registered at %s", path)
		}
	}

	ws := Workspace{
		ID:           uuid.NewString(),
		Path:         path,
		Name:         name,
		ArtifactRoot: artifactRoot,
		Config:       DefaultConfig(),
	}

	if err := os.MkdirAll(artifactRoot, 0o755); err != nil {
		return nil, ferrors.IO(err, "create artifact root %s", artifactRoot)
	}
	if err := writeConfig(artifactRoot, ws.Config); err != nil {
		return nil, err
	}

	r.workspaces = append(r.workspaces, ws)
	if err := r.save(); err != nil {
		return nil, err
	}
	log.Printf("[WORKSPACE] registered %s at %s (artifactRoot=%s)", ws.ID, path, artifactRoot)
	return &ws, nil
}

// LoadWorkspace finds a workspace by project path and hydrates its config,
// migrating legacy config locations in place if found.
func (r *Registry) LoadWorkspace(path string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.workspaces {
		if r.workspaces[i].Path == path {
			ws := r.workspaces[i]
			cfg, err := loadConfig(ws.ArtifactRoot, ws.Path)
			if err != nil {
				return nil, err
			}
			ws.Config = cfg
			return &ws, nil
		}
	}
	return nil, ferrors.NotFound("no workspace registered at %s", path)
}

// GetWorkspaceByID looks up a workspace by id.
func (r *Registry) GetWorkspaceByID(id string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.workspaces {
		if r.workspaces[i].ID == id {
			ws := r.workspaces[i]
			cfg, err := loadConfig(ws.ArtifactRoot, ws.Path)
			if err != nil {
				return nil, err
			}
			ws.Config = cfg
			return &ws, nil
		}
	}
	return nil, ferrors.NotFound("no workspace with id %s", id)
}

// ListWorkspaces returns the registry's entries without config hydration
// (callers that need config call GetWorkspaceByID).
func (r *Registry) ListWorkspaces() []Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Workspace, len(r.workspaces))
	copy(out, r.workspaces)
	return out
}

// UpdateWorkspaceConfig persists cfg to the workspace's factory.json.
func (r *Registry) UpdateWorkspaceConfig(id string, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.workspaces {
		if r.workspaces[i].ID == id {
			return writeConfig(r.workspaces[i].ArtifactRoot, cfg)
		}
	}
	return ferrors.NotFound("no workspace with id %s", id)
}

// DeleteWorkspace removes the registry entry and the artifact root only;
// user project files at Path are never touched.
func (r *Registry) DeleteWorkspace(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := range r.workspaces {
		if r.workspaces[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ferrors.NotFound("no workspace with id %s", id)
	}

	root := r.workspaces[idx].ArtifactRoot
	r.workspaces = append(r.workspaces[:idx], r.workspaces[idx+1:]...)
	if err := r.save(); err != nil {
		return err
	}
	if err := os.RemoveAll(root); err != nil {
		return ferrors.IO(err, "remove artifact root %s", root)
	}
	return nil
}
