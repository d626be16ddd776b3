package attacker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// recentAttemptsLimit bounds the attempt bodies loaded into a Profile read.
// The full history stays in the database; the score recompute uses SQL
// aggregates over all of it.
const recentAttemptsLimit = 100

// PostgresStore persists attacker profiles in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	scorer *Scorer
}

// NewPostgresStore creates a PostgreSQL-backed attacker profile store.
// Schema is managed by goose migrations (see migrations/).
func NewPostgresStore(db *sql.DB, scorer *Scorer) *PostgresStore {
	return &PostgresStore{db: db, scorer: scorer}
}

func (s *PostgresStore) RecordAccess(ctx context.Context, sourceID string, attempt AccessAttempt) (*Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record access: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Upsert the profile row and take the row lock: concurrent appends for
	// the same source serialize here, independent sources do not contend.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO attacker_profiles (source_id, first_seen, detected_toolkits, risk_score, blacklisted)
		VALUES ($1, $2, '[]', 0, FALSE)
		ON CONFLICT (source_id) DO NOTHING
	`, sourceID, attempt.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("upsert attacker profile: %w", err)
	}

	var (
		toolkitsJSON []byte
		blacklisted  bool
		archived     int
		archivedCrit int
		firstSeen    time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT first_seen, detected_toolkits, blacklisted, archived_attempts, archived_critical
		FROM attacker_profiles WHERE source_id = $1 FOR UPDATE
	`, sourceID).Scan(&firstSeen, &toolkitsJSON, &blacklisted, &archived, &archivedCrit)
	if err != nil {
		return nil, fmt.Errorf("lock attacker profile: %w", err)
	}

	var toolkits []string
	_ = json.Unmarshal(toolkitsJSON, &toolkits)

	matchedJSON, err := json.Marshal(attempt.MatchedToolkits)
	if err != nil {
		return nil, fmt.Errorf("marshal matched toolkits: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_attempts (id, source_id, ts, path, declared_client, matched_toolkits, trap_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attempt.ID, sourceID, attempt.Timestamp, attempt.Path, attempt.DeclaredClient, matchedJSON, string(attempt.Trap))
	if err != nil {
		return nil, fmt.Errorf("insert access attempt: %w", err)
	}

	// Recompute from the entire stored history.
	var total, critical int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE trap_type IN ('admin', 'credentials', 'database'))
		FROM access_attempts WHERE source_id = $1
	`, sourceID).Scan(&total, &critical)
	if err != nil {
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}

	toolkits = mergeToolkits(toolkits, attempt.MatchedToolkits)

	// Feed the whole history through the archived counters so
	// TotalAttempts/CriticalAttempts are exact without loading attempt bodies.
	skeleton := &Profile{
		SourceID:         sourceID,
		FirstSeen:        firstSeen,
		DetectedToolkits: toolkits,
		ArchivedAttempts: archived + total,
		ArchivedCritical: archivedCrit + critical,
	}
	score := s.scorer.Score(skeleton)

	if score > BlacklistThreshold {
		blacklisted = true
	}

	updatedToolkits, err := json.Marshal(toolkits)
	if err != nil {
		return nil, fmt.Errorf("marshal toolkits: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE attacker_profiles
		SET detected_toolkits = $2, risk_score = $3, blacklisted = $4, last_seen = $5
		WHERE source_id = $1
	`, sourceID, updatedToolkits, score, blacklisted, attempt.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("update attacker profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record access: %w", err)
	}

	return s.Get(ctx, sourceID)
}

func (s *PostgresStore) Get(ctx context.Context, sourceID string) (*Profile, error) {
	var (
		p            Profile
		toolkitsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT source_id, first_seen, detected_toolkits, risk_score, blacklisted,
		       archived_attempts, archived_critical
		FROM attacker_profiles WHERE source_id = $1
	`, sourceID).Scan(&p.SourceID, &p.FirstSeen, &toolkitsJSON, &p.RiskScore,
		&p.Blacklisted, &p.ArchivedAttempts, &p.ArchivedCritical)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attacker profile: %w", err)
	}
	_ = json.Unmarshal(toolkitsJSON, &p.DetectedToolkits)

	attempts, err := s.ListAttempts(ctx, sourceID, recentAttemptsLimit, time.Time{})
	if err != nil {
		return nil, err
	}
	// ListAttempts returns newest first; profiles carry attempts oldest first.
	for i, j := 0, len(attempts)-1; i < j; i, j = i+1, j-1 {
		attempts[i], attempts[j] = attempts[j], attempts[i]
	}
	p.Attempts = attempts
	return &p, nil
}

func (s *PostgresStore) IsBlacklisted(ctx context.Context, sourceID string) (bool, error) {
	var blacklisted bool
	err := s.db.QueryRowContext(ctx,
		`SELECT blacklisted FROM attacker_profiles WHERE source_id = $1`,
		sourceID).Scan(&blacklisted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return blacklisted, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.source_id, p.first_seen, COALESCE(p.last_seen, p.first_seen),
		       p.archived_attempts + (SELECT COUNT(*) FROM access_attempts a WHERE a.source_id = p.source_id),
		       p.risk_score, p.blacklisted
		FROM attacker_profiles p
		ORDER BY p.risk_score DESC, COALESCE(p.last_seen, p.first_seen) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list attacker profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.SourceID, &sum.FirstSeen, &sum.LastSeen,
			&sum.Attempts, &sum.RiskScore, &sum.Blacklisted); err != nil {
			continue
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAttempts(ctx context.Context, sourceID string, limit int, before time.Time) ([]AccessAttempt, error) {
	if limit <= 0 {
		limit = recentAttemptsLimit
	}

	// An unknown source is a miss, not an empty history. The memory store
	// reports ErrNotFound here and handlers rely on that to answer 404.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM attacker_profiles WHERE source_id = $1)`,
		sourceID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check attacker profile: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	query := `
		SELECT id, ts, path, declared_client, matched_toolkits, trap_type
		FROM access_attempts
		WHERE source_id = $1`
	args := []any{sourceID}
	if !before.IsZero() {
		query += ` AND ts < $2`
		args = append(args, before)
	}
	query += fmt.Sprintf(` ORDER BY ts DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list access attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AccessAttempt
	for rows.Next() {
		var (
			a           AccessAttempt
			matchedJSON []byte
			trap        string
		)
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Path, &a.DeclaredClient, &matchedJSON, &trap); err != nil {
			continue
		}
		_ = json.Unmarshal(matchedJSON, &a.MatchedToolkits)
		a.Trap = TrapType(trap)
		out = append(out, a)
	}
	return out, rows.Err()
}
