package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drhvac/voicedesk/internal/agent"
	"github.com/drhvac/voicedesk/internal/persona"
)

// PostgresStore persists leads in PostgreSQL. The transcript and display
// state are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hvac_leads (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			personas TEXT[] NOT NULL,
			priority TEXT NOT NULL,
			transcript JSONB NOT NULL,
			rebate JSONB,
			emergency JSONB,
			handoffs INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_hvac_leads_ended ON hvac_leads (ended_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, lead Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.EndedAt.IsZero() {
		lead.EndedAt = time.Now().UTC()
	}
	transcript, err := json.Marshal(lead.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	rebate, err := nullableJSON(lead.Rebate)
	if err != nil {
		return fmt.Errorf("encode rebate: %w", err)
	}
	emergency, err := nullableJSON(lead.Emergency)
	if err != nil {
		return fmt.Errorf("encode emergency: %w", err)
	}
	personas := make([]string, 0, len(lead.Personas))
	for _, p := range lead.Personas {
		personas = append(personas, string(p))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO hvac_leads (id, session_id, personas, priority, transcript, rebate, emergency, handoffs, end_reason, pii_redacted, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		lead.ID,
		lead.SessionID,
		personas,
		lead.Priority(),
		transcript,
		rebate,
		emergency,
		lead.Handoffs,
		lead.EndReason,
		lead.PIIRedacted,
		lead.StartedAt,
		lead.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, personas, transcript, rebate, emergency, handoffs, end_reason, pii_redacted, started_at, ended_at
		 FROM hvac_leads ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	items := make([]Lead, 0, limit)
	for rows.Next() {
		var (
			l                             Lead
			personas                      []string
			transcript, rebate, emergency []byte
		)
		if err := rows.Scan(&l.ID, &l.SessionID, &personas, &transcript, &rebate, &emergency, &l.Handoffs, &l.EndReason, &l.PIIRedacted, &l.StartedAt, &l.EndedAt); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		for _, p := range personas {
			l.Personas = append(l.Personas, persona.ID(p))
		}
		if err := json.Unmarshal(transcript, &l.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript for %s: %w", l.ID, err)
		}
		if len(rebate) > 0 {
			l.Rebate = &agent.Rebate{}
			if err := json.Unmarshal(rebate, l.Rebate); err != nil {
				return nil, fmt.Errorf("decode rebate for %s: %w", l.ID, err)
			}
		}
		if len(emergency) > 0 {
			l.Emergency = &agent.EmergencyBooking{}
			if err := json.Unmarshal(emergency, l.Emergency); err != nil {
				return nil, fmt.Errorf("decode emergency for %s: %w", l.ID, err)
			}
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullableJSON(v any) ([]byte, error) {
	switch x := v.(type) {
	case *agent.Rebate:
		if x == nil {
			return nil, nil
		}
	case *agent.EmergencyBooking:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
