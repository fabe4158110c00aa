package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/jackc/pgx/v5"

	"github.com/diagflow/diagflow/common/db"
	"github.com/diagflow/diagflow/sdk"
	"github.com/diagflow/diagflow/workflow"
)

// ErrNotFound is returned when a definition id is not in the store.
var ErrNotFound = errors.New("workflow definition not found")

// Store persists workflow definitions in Postgres so the registry
// survives restarts. Definitions are stored as JSONB; the registry
// remains the execution-time source of truth.
type Store struct {
	db     *db.DB
	logger sdk.Logger
}

// NewStore creates a definition store.
func NewStore(database *db.DB, logger sdk.Logger) *Store {
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	return &Store{db: database, logger: logger}
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
    id          TEXT PRIMARY KEY,
    definition  JSONB NOT NULL,
    status      TEXT NOT NULL DEFAULT 'draft',
    version     TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate creates the definitions table when absent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create workflow_definitions table: %w", err)
	}
	return nil
}

// Save upserts a workflow definition.
func (s *Store) Save(ctx context.Context, wf *workflow.Workflow, status Status, version, description string) error {
	encoded, err := json.Marshal(wf.Definition())
	if err != nil {
		return fmt.Errorf("encode definition %s: %w", wf.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_definitions (id, definition, status, version, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			definition = EXCLUDED.definition,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			description = EXCLUDED.description,
			updated_at = now()`,
		wf.ID, encoded, string(status), version, description)
	if err != nil {
		return fmt.Errorf("save definition %s: %w", wf.ID, err)
	}
	s.logger.Info("workflow definition saved", "workflow_id", wf.ID, "version", version)
	return nil
}

// Load fetches one definition by id.
func (s *Store) Load(ctx context.Context, id string) (*workflow.Workflow, Status, error) {
	var encoded []byte
	var status string
	err := s.db.QueryRow(ctx,
		`SELECT definition, status FROM workflow_definitions WHERE id = $1`, id).
		Scan(&encoded, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("load definition %s: %w", id, err)
	}

	var def workflow.Definition
	if err := json.Unmarshal(encoded, &def); err != nil {
		return nil, "", fmt.Errorf("decode definition %s: %w", id, err)
	}
	wf, err := workflow.FromDefinition(&def)
	if err != nil {
		return nil, "", fmt.Errorf("rebuild definition %s: %w", id, err)
	}
	return wf, Status(status), nil
}

// Delete removes a definition.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete definition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StoredDefinition is one row of the definitions listing.
type StoredDefinition struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// List returns all stored definitions, without their graph bodies.
func (s *Store) List(ctx context.Context) ([]StoredDefinition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, status, version, description FROM workflow_definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var out []StoredDefinition
	for rows.Next() {
		var d StoredDefinition
		if err := rows.Scan(&d.ID, &d.Status, &d.Version, &d.Description); err != nil {
			return nil, fmt.Errorf("scan definition row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Patch applies an RFC 6902 JSON patch to a stored definition, checks
// the result still forms a valid graph, and persists it. Returns the
// patched workflow.
func (s *Store) Patch(ctx context.Context, id string, patchDoc []byte) (*workflow.Workflow, error) {
	var encoded []byte
	err := s.db.QueryRow(ctx,
		`SELECT definition FROM workflow_definitions WHERE id = $1`, id).Scan(&encoded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", id, err)
	}

	patch, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	patched, err := patch.Apply(encoded)
	if err != nil {
		return nil, fmt.Errorf("apply patch to %s: %w", id, err)
	}

	var def workflow.Definition
	if err := json.Unmarshal(patched, &def); err != nil {
		return nil, fmt.Errorf("decode patched definition: %w", err)
	}
	wf, err := workflow.FromDefinition(&def)
	if err != nil {
		return nil, fmt.Errorf("patched definition invalid: %w", err)
	}
	if vr := wf.Validate(); !vr.Valid() {
		return nil, fmt.Errorf("patched definition invalid: %v", vr.Errors)
	}

	_, err = s.db.Exec(ctx, `
		UPDATE workflow_definitions
		SET definition = $2, updated_at = now()
		WHERE id = $1`, id, patched)
	if err != nil {
		return nil, fmt.Errorf("persist patched definition %s: %w", id, err)
	}
	s.logger.Info("workflow definition patched", "workflow_id", id)
	return wf, nil
}

// LoadAll replays every stored definition into the registry. Bad rows
// are logged and skipped so one corrupt definition does not block boot.
func (s *Store) LoadAll(ctx context.Context, reg *Registry) error {
	rows, err := s.db.Query(ctx,
		`SELECT definition, status, version, description FROM workflow_definitions`)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var encoded []byte
		var status, version, description string
		if err := rows.Scan(&encoded, &status, &version, &description); err != nil {
			return fmt.Errorf("scan definition row: %w", err)
		}
		var def workflow.Definition
		if err := json.Unmarshal(encoded, &def); err != nil {
			s.logger.Warn("skipping undecodable definition", "error", err)
			continue
		}
		wf, err := workflow.FromDefinition(&def)
		if err != nil {
			s.logger.Warn("skipping invalid definition", "workflow_id", def.ID, "error", err)
			continue
		}
		if err := reg.Register(wf, Status(status), description, version); err != nil {
			s.logger.Warn("skipping unregistrable definition", "workflow_id", def.ID, "error", err)
			continue
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.logger.Info("workflow definitions loaded", "count", loaded)
	return nil
}
