package planning

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ShelfIndex is a queryable side-index over drafts and artifacts, derived
// from the JSON-backed shelf state (the durable source of truth). It
// exists so the transport layer can list/filter shelf items without
// scanning the in-memory map under the session's lock, grounded on the
// teacher's internal/tasks/store.go SQLite table pattern.
type ShelfIndex struct {
	db *sql.DB
}

func OpenShelfIndex(path string) (*ShelfIndex, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open shelf index: %w", err)
	}
	idx := &ShelfIndex{db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *ShelfIndex) init() error {
	_, err := i.db.Exec(`
		CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_drafts_workspace ON drafts(workspace_id);
		CREATE INDEX IF NOT EXISTS idx_artifacts_workspace_kind ON artifacts(workspace_id, kind);
	`)
	return err
}

func (i *ShelfIndex) Close() error { return i.db.Close() }

func (i *ShelfIndex) IndexDraft(workspaceID string, d *DraftTask) error {
	_, err := i.db.Exec(`
		INSERT INTO drafts (id, workspace_id, title, description, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description
	`, d.ID, workspaceID, d.Title, d.Description, d.Created)
	return err
}

func (i *ShelfIndex) RemoveDraft(id string) error {
	_, err := i.db.Exec(`DELETE FROM drafts WHERE id = ?`, id)
	return err
}

func (i *ShelfIndex) IndexArtifact(workspaceID string, a *Artifact) error {
	_, err := i.db.Exec(`
		INSERT INTO artifacts (id, workspace_id, kind, title, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, title=excluded.title
	`, a.ID, workspaceID, a.Kind, a.Title, a.Created)
	return err
}

// ListDraftsSince returns draft ids for workspaceID created at or after
// since, ordered newest first; used by the transport layer's shelf view.
func (i *ShelfIndex) ListDraftsSince(workspaceID string, since time.Time) ([]string, error) {
	rows, err := i.db.Query(`
		SELECT id FROM drafts WHERE workspace_id = ? AND created_at >= ? ORDER BY created_at DESC
	`, workspaceID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListArtifactsByKind returns artifact ids of the given kind for a workspace.
func (i *ShelfIndex) ListArtifactsByKind(workspaceID, kind string) ([]string, error) {
	rows, err := i.db.Query(`
		SELECT id FROM artifacts WHERE workspace_id = ? AND kind = ? ORDER BY created_at DESC
	`, workspaceID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
