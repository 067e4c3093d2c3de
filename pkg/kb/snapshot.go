package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

// SnapshotVersion is the schema version written into exports. Imports
// accept any snapshot with the same major version.
const SnapshotVersion = "1.0.0"

// SnapshotFileName is the default snapshot file written next to the
// database at shutdown and loaded at startup.
const SnapshotFileName = "regulatory_knowledge_base.json"

// snapshot is the on-disk representation of a full knowledge-base export.
type snapshot struct {
	SchemaVersion string                    `json:"schema_version"`
	ExportedAt    time.Time                 `json:"exported_at"`
	Changes       []*model.RegulatoryChange `json:"changes"`
}

const snapshotSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["schema_version", "exported_at", "changes"],
	"properties": {
		"schema_version": {"type": "string"},
		"exported_at": {"type": "string"},
		"changes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["change_id", "source_id", "title", "status", "detected_at"],
				"properties": {
					"change_id": {"type": "string", "minLength": 1},
					"source_id": {"type": "string", "minLength": 1},
					"title": {"type": "string"},
					"status": {"enum": ["DETECTED", "ANALYZING", "ANALYZED", "DISTRIBUTED", "ARCHIVED"]},
					"detected_at": {"type": "string"}
				}
			}
		}
	}
}`

var compiledSnapshotSchema = jsonschema.MustCompileString("snapshot.json", snapshotSchema)

// ExportJSON serializes every in-memory change into a canonical (JCS) JSON
// snapshot and returns the bytes.
func (k *KnowledgeBase) ExportJSON() ([]byte, error) {
	k.storageMu.Lock()
	changes := make([]*model.RegulatoryChange, 0, len(k.changes))
	for _, c := range k.changes {
		changes = append(changes, c.Clone())
	}
	k.storageMu.Unlock()
	sortNewestFirst(changes)

	raw, err := json.Marshal(snapshot{
		SchemaVersion: SnapshotVersion,
		ExportedAt:    time.Now().UTC(),
		Changes:       changes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot: %w", err)
	}
	return canonical, nil
}

// ImportJSON validates a snapshot against the schema, checks version
// compatibility and stores every change it carries.
func (k *KnowledgeBase) ImportJSON(ctx context.Context, data []byte) (int, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse snapshot: %w", err)
	}
	if err := compiledSnapshotSchema.Validate(doc); err != nil {
		return 0, fmt.Errorf("invalid snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := checkSnapshotVersion(snap.SchemaVersion); err != nil {
		return 0, err
	}

	imported := 0
	for _, c := range snap.Changes {
		if err := k.Store(ctx, c); err != nil {
			return imported, fmt.Errorf("import change %s: %w", c.ChangeID, err)
		}
		imported++
	}
	return imported, nil
}

// checkSnapshotVersion enforces semver major compatibility between the
// snapshot and this build.
func checkSnapshotVersion(v string) error {
	got, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("snapshot version %q: %w", v, err)
	}
	want := semver.MustParse(SnapshotVersion)
	if got.Major() != want.Major() {
		return fmt.Errorf("snapshot version %s incompatible with %s", v, SnapshotVersion)
	}
	return nil
}

// SaveSnapshot writes the canonical export to path.
func (k *KnowledgeBase) SaveSnapshot(path string) error {
	data, err := k.ExportJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	k.logger.Info("knowledge base snapshot written", "path", path, "bytes", len(data))
	return nil
}

// LoadSnapshot imports a snapshot file if it exists; a missing file is not
// an error.
func (k *KnowledgeBase) LoadSnapshot(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}
	n, err := k.ImportJSON(ctx, data)
	if err != nil {
		return err
	}
	k.logger.Info("knowledge base snapshot loaded", "path", path, "changes", n)
	return nil
}
