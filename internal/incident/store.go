package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog/log"

	"github.com/fleetops-ai/incident-orchestrator/internal/circuit"
)

// Store is the durable key/value incident store (spec §4.2), keyed by
// correlation id with secondary indexes on resource_key and resource_type.
// It is backed by modernc.org/sqlite (pure Go, no cgo), with every call
// going through a mutex in front of the database (there is no in-memory
// cache) — the teacher's mutex-guarded store, adapted here onto a real
// database rather than a flat JSON file since the spec's wire format and
// secondary-index requirements are a natural SQL fit.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates or attaches to the sqlite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &circuit.PermanentError{Op: "incident.Open", Err: err}
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	correlation_id TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	resource_key TEXT NOT NULL,
	region TEXT NOT NULL,
	fingerprint TEXT,
	workflow_state TEXT NOT NULL,
	classification TEXT,
	incident_timestamp TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	duplicate_of TEXT,
	cooldown_reason TEXT,
	approval_status TEXT,
	document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_resource_key ON incidents(resource_key, incident_timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_resource_type ON incidents(resource_type, incident_timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_fingerprint ON incidents(fingerprint, incident_timestamp DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return &circuit.PermanentError{Op: "incident.migrate", Err: err}
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return err
	}
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return &circuit.TransientError{Op: "incident.store", Err: err}
	}
	return &circuit.TransientError{Op: "incident.store", Err: err}
}

// Put performs the initial write, at state DETECTING (idempotent on
// correlation_id: a second Put for the same id behaves like Update).
func (s *Store) Put(ctx context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := inc.UpdatedAt
	doc, err := json.Marshal(inc)
	if err != nil {
		return &circuit.PermanentError{Op: "incident.Put", Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO incidents (correlation_id, resource_type, resource_id, resource_key, region, fingerprint,
	workflow_state, classification, incident_timestamp, created_at, updated_at, duplicate_of,
	cooldown_reason, approval_status, document)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(correlation_id) DO UPDATE SET
	workflow_state=excluded.workflow_state, classification=excluded.classification,
	updated_at=excluded.updated_at, duplicate_of=excluded.duplicate_of,
	cooldown_reason=excluded.cooldown_reason, approval_status=excluded.approval_status,
	document=excluded.document`,
		inc.CorrelationID, inc.ResourceType, inc.ResourceID, inc.ResourceKey(), inc.Region, inc.Fingerprint,
		string(inc.WorkflowState), string(inc.Classification), inc.IncidentTimestamp.Format(time.RFC3339),
		inc.CreatedAt.Format(time.RFC3339), now.Format(time.RFC3339), inc.DuplicateOf, inc.CooldownReason,
		string(inc.ApprovalStatus), string(doc))
	if err != nil {
		return classify(err)
	}
	log.Debug().Str("correlation_id", inc.CorrelationID).Str("state", string(inc.WorkflowState)).Msg("incident persisted")
	return nil
}

// Get returns the incident by correlation id.
func (s *Store) Get(ctx context.Context, correlationID string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM incidents WHERE correlation_id = ?`, correlationID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, &circuit.PermanentError{Op: "incident.Get", Err: fmt.Errorf("incident %s not found", correlationID)}
	}
	if err != nil {
		return nil, classify(err)
	}
	var inc Incident
	if err := json.Unmarshal([]byte(doc), &inc); err != nil {
		return nil, &circuit.PermanentError{Op: "incident.Get", Err: err}
	}
	return &inc, nil
}

// UpdateState sets workflow_state and updated_at, applies mutate to the
// incident if it is non-nil, and writes the whole document back with
// last-write-wins semantics.
func (s *Store) UpdateState(ctx context.Context, correlationID string, state WorkflowState, mutate func(*Incident)) error {
	inc, err := s.Get(ctx, correlationID)
	if err != nil {
		return err
	}
	inc.WorkflowState = state
	inc.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(inc)
	}
	return s.Put(ctx, inc)
}

func (s *Store) queryIncidents(ctx context.Context, query string, args ...any) ([]*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, classify(err)
		}
		var inc Incident
		if err := json.Unmarshal([]byte(doc), &inc); err != nil {
			return nil, &circuit.PermanentError{Op: "incident.query", Err: err}
		}
		out = append(out, &inc)
	}
	return out, classify(rows.Err())
}

// QueryRecentByResource returns up to limit incidents for resourceKey at or
// after since, most recent first. Used by the cooldown gate.
func (s *Store) QueryRecentByResource(ctx context.Context, resourceKey string, since time.Time, limit int) ([]*Incident, error) {
	return s.queryIncidents(ctx, `
SELECT document FROM incidents WHERE resource_key = ? AND incident_timestamp >= ?
ORDER BY incident_timestamp DESC LIMIT ?`, resourceKey, since.Format(time.RFC3339), limit)
}

// QueryByResourceType returns up to limit incidents of the given
// resourceType, classification and workflow state, most recent first —
// used for historical context (§4.3.2).
func (s *Store) QueryByResourceType(ctx context.Context, resourceType string, classification Classification, state WorkflowState, limit int) ([]*Incident, error) {
	return s.queryIncidents(ctx, `
SELECT document FROM incidents WHERE resource_type = ? AND classification = ? AND workflow_state = ?
ORDER BY incident_timestamp DESC LIMIT ?`, resourceType, string(classification), string(state), limit)
}

// ScanByFingerprint returns incidents sharing fingerprint since the given
// time, most recent first — used by Triage dedup.
func (s *Store) ScanByFingerprint(ctx context.Context, fingerprint string, since time.Time) ([]*Incident, error) {
	return s.queryIncidents(ctx, `
SELECT document FROM incidents WHERE fingerprint = ? AND incident_timestamp >= ?
ORDER BY incident_timestamp DESC`, fingerprint, since.Format(time.RFC3339))
}
