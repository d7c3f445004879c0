// Package store persists forwarded bins and token awards to SQLite for
// post-hoc inspection. The pipeline itself is in-memory; the archive is an
// optional sink wired through the tunnel's forward callbacks and the
// ledger's award sinks.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"critgate/internal/ledger"
	"critgate/internal/triage"
)

const schema = `
CREATE TABLE IF NOT EXISTS bins (
	id          TEXT PRIMARY KEY,
	channel_id  TEXT NOT NULL,
	name        TEXT,
	priority    TEXT NOT NULL,
	suggestions INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	archived_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS suggestions (
	bin_id      TEXT NOT NULL REFERENCES bins(id),
	position    INTEGER NOT NULL,
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	file_path   TEXT,
	line_start  INTEGER,
	payload     TEXT NOT NULL,
	PRIMARY KEY (bin_id, position)
);

CREATE TABLE IF NOT EXISTS awards (
	id               TEXT PRIMARY KEY,
	agent_id         TEXT NOT NULL,
	amount           INTEGER NOT NULL,
	reason           TEXT,
	multiplier       REAL NOT NULL,
	evaluation_score REAL,
	awarded_at       TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bins_channel ON bins(channel_id);
CREATE INDEX IF NOT EXISTS idx_awards_agent ON awards(agent_id);
`

// Archive is a SQLite-backed sink for forwarded bins and token awards.
type Archive struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (or creates) the archive database at path.
func Open(path string, log *zap.Logger) (*Archive, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	// modernc sqlite handles one writer; serialize at the pool level.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return &Archive{db: db, log: log}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error { return a.db.Close() }

// ArchiveBin persists a forwarded bin with its suggestions. It satisfies
// the tunnel.ForwardFunc signature.
func (a *Archive) ArchiveBin(bin triage.Bin) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR IGNORE INTO bins (id, channel_id, name, priority, suggestions, created_at, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bin.ID, bin.ChannelID, bin.Name, string(bin.Priority()),
		len(bin.Suggestions), bin.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive bin %s: %w", bin.ID, err)
	}

	for i, s := range bin.Suggestions {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode suggestion: %w", err)
		}
		_, err = tx.Exec(
			`INSERT OR IGNORE INTO suggestions (bin_id, position, type, severity, file_path, line_start, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			bin.ID, i, string(s.Type), string(s.Severity), s.FilePath, s.LineStart, string(payload),
		)
		if err != nil {
			return fmt.Errorf("failed to archive suggestion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive tx: %w", err)
	}
	a.log.Debug("bin archived", zap.String("bin", bin.ID), zap.Int("suggestions", len(bin.Suggestions)))
	return nil
}

// RecordAward persists one token award. It matches the ledger's award sink
// signature; write failures are logged, never propagated into the ledger.
func (a *Archive) RecordAward(aw ledger.TokenAward) {
	_, err := a.db.Exec(
		`INSERT OR IGNORE INTO awards (id, agent_id, amount, reason, multiplier, evaluation_score, awarded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		aw.ID, aw.AgentID, aw.Amount, aw.Reason, aw.Multiplier, aw.EvaluationScore, aw.AwardedAt,
	)
	if err != nil {
		a.log.Error("failed to archive award", zap.String("award", aw.ID), zap.Error(err))
	}
}

// BinRecord is an archived bin summary.
type BinRecord struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	Name        string    `json:"name,omitempty"`
	Priority    string    `json:"priority"`
	Suggestions int       `json:"suggestions"`
	CreatedAt   time.Time `json:"created_at"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// RecentBins returns the most recently archived bins.
func (a *Archive) RecentBins(limit int) ([]BinRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		`SELECT id, channel_id, name, priority, suggestions, created_at, archived_at
		 FROM bins ORDER BY archived_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived bins: %w", err)
	}
	defer rows.Close()

	var out []BinRecord
	for rows.Next() {
		var r BinRecord
		if err := rows.Scan(&r.ID, &r.ChannelID, &r.Name, &r.Priority, &r.Suggestions, &r.CreatedAt, &r.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bin row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AwardsForAgent returns the archived award history of one agent.
func (a *Archive) AwardsForAgent(agentID string) ([]ledger.TokenAward, error) {
	rows, err := a.db.Query(
		`SELECT id, agent_id, amount, reason, multiplier, evaluation_score, awarded_at
		 FROM awards WHERE agent_id = ? ORDER BY awarded_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query awards: %w", err)
	}
	defer rows.Close()

	var out []ledger.TokenAward
	for rows.Next() {
		var aw ledger.TokenAward
		if err := rows.Scan(&aw.ID, &aw.AgentID, &aw.Amount, &aw.Reason, &aw.Multiplier, &aw.EvaluationScore, &aw.AwardedAt); err != nil {
			return nil, fmt.Errorf("failed to scan award row: %w", err)
		}
		out = append(out, aw)
	}
	return out, rows.Err()
}
