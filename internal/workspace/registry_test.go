package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndLoadWorkspace(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	r, err := NewRegistry(home)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	ws, err := r.CreateWorkspace(project, "demo", filepath.Join(project, ".taskfactory-root"))
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	reloaded, err := NewRegistry(home)
	if err != nil {
		t.Fatalf("reload NewRegistry: %v", err)
	}
	found, err := reloaded.LoadWorkspace(project)
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if found.ID != ws.ID {
		t.Fatalf("ID mismatch after reload: %q vs %q", found.ID, ws.ID)
	}
	if found.Config.WipLimits.Executing != 1 {
		t.Fatalf("expected default executing WIP limit 1, got %d", found.Config.WipLimits.Executing)
	}
}

func TestCreateWorkspaceDuplicatePath(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	r, err := NewRegistry(home)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.CreateWorkspace(project, "demo", filepath.Join(project, ".root")); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if _, err := r.CreateWorkspace(project, "demo again", filepath.Join(project, ".root2")); err == nil {
		t.Fatal("expected error registering duplicate path")
	}
}

func TestDeleteWorkspaceLeavesProjectFilesAlone(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	root := filepath.Join(project, ".taskfactory-root")

	r, err := NewRegistry(home)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ws, err := r.CreateWorkspace(project, "demo", root)
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if err := r.DeleteWorkspace(ws.ID); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}
	if _, err := r.GetWorkspaceByID(ws.ID); err == nil {
		t.Fatal("expected workspace to be gone from registry")
	}
	if _, statErr := os.Stat(project); statErr != nil {
		t.Fatalf("project path should still exist: %v", statErr)
	}
}
