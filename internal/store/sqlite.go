package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"surge-scanner/internal/errors"
	"surge-scanner/internal/models"
)

// SQLiteStore implements Recorder using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based recorder.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Pattern instances: one full detection chain
	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		seq INTEGER NOT NULL,
		level INTEGER NOT NULL,
		complete INTEGER DEFAULT 0,
		anchor_instance_id TEXT,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Stage instances: one detected occurrence of a stage
	CREATE TABLE IF NOT EXISTS stage_instances (
		id TEXT PRIMARY KEY,
		pattern_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		stage_index INTEGER NOT NULL,
		ticker TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		status TEXT NOT NULL,
		exit_reason TEXT,
		entry_close REAL NOT NULL,
		exit_close REAL,
		peak_price REAL NOT NULL,
		peak_volume INTEGER NOT NULL,
		peak_date DATETIME,
		parent_ids TEXT,
		meta TEXT,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Spots: echo days attached to an instance
	CREATE TABLE IF NOT EXISTS spots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		UNIQUE(instance_id, date),
		FOREIGN KEY (instance_id) REFERENCES stage_instances(id)
	);

	-- Redetection events: post-closure re-entries
	CREATE TABLE IF NOT EXISTS redetections (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		ticker TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		peak_price REAL NOT NULL,
		peak_volume INTEGER NOT NULL,
		status TEXT NOT NULL,
		UNIQUE(parent_id, seq)
	);

	-- Highlights: anchor classification of finished patterns
	CREATE TABLE IF NOT EXISTS highlights (
		instance_id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		pattern_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		rank INTEGER NOT NULL,
		rule_type TEXT NOT NULL,
		spot_count INTEGER NOT NULL,
		started_at DATETIME NOT NULL
	);

	-- Support/resistance classifications of later instances
	CREATE TABLE IF NOT EXISTS level_classifications (
		instance_id TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		class TEXT NOT NULL,
		peak_price REAL NOT NULL,
		reference_high REAL NOT NULL,
		reference_low REAL NOT NULL,
		PRIMARY KEY (instance_id, reference_id)
	);

	-- Retest events within an instance's active span
	CREATE TABLE IF NOT EXISTS retests (
		instance_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		ticker TEXT NOT NULL,
		price REAL NOT NULL,
		level REAL NOT NULL,
		PRIMARY KEY (instance_id, date)
	);

	-- Resistance-to-support flip events
	CREATE TABLE IF NOT EXISTS flips (
		breakout_id TEXT NOT NULL,
		confirm_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		level REAL NOT NULL,
		date DATETIME NOT NULL,
		PRIMARY KEY (breakout_id, confirm_id)
	);

	CREATE INDEX IF NOT EXISTS idx_instances_ticker_date ON stage_instances(ticker, started_at);
	CREATE INDEX IF NOT EXISTS idx_instances_pattern ON stage_instances(pattern_id);
	CREATE INDEX IF NOT EXISTS idx_patterns_ticker ON patterns(ticker, created_at);
	CREATE INDEX IF NOT EXISTS idx_redetections_parent ON redetections(parent_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SavePattern upserts a pattern instance by id.
func (s *SQLiteStore) SavePattern(ctx context.Context, pattern *models.PatternInstance) error {
	var anchor sql.NullString
	if pattern.Highlight != nil {
		anchor = sql.NullString{String: pattern.Highlight.InstanceID, Valid: true}
	}
	complete := 0
	if pattern.Complete() {
		complete = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, ticker, created_at, seq, level, complete, anchor_instance_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			level = excluded.level,
			complete = excluded.complete,
			anchor_instance_id = excluded.anchor_instance_id`,
		pattern.ID, pattern.Ticker, pattern.CreatedAt, pattern.Seq, pattern.Level, complete, anchor)
	if err != nil {
		return errors.NewPersistenceError("save_pattern", pattern.ID, err)
	}
	return nil
}

// SaveInstance upserts a stage instance by id, along with its spots.
func (s *SQLiteStore) SaveInstance(ctx context.Context, instance *models.StageInstance) error {
	parentIDs, err := json.Marshal(instance.ParentIDs)
	if err != nil {
		return errors.NewPersistenceError("save_instance", instance.ID, err)
	}
	meta, err := json.Marshal(instance.Meta)
	if err != nil {
		return errors.NewPersistenceError("save_instance", instance.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stage_instances (
			id, pattern_id, node_id, stage_index, ticker, started_at, ended_at,
			status, exit_reason, entry_close, exit_close, peak_price, peak_volume,
			peak_date, parent_ids, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			status = excluded.status,
			exit_reason = excluded.exit_reason,
			exit_close = excluded.exit_close,
			peak_price = excluded.peak_price,
			peak_volume = excluded.peak_volume,
			peak_date = excluded.peak_date,
			parent_ids = excluded.parent_ids,
			meta = excluded.meta`,
		instance.ID, instance.PatternID, instance.NodeID, instance.StageIndex,
		instance.Ticker, instance.StartedAt, nullTime(instance.EndedAt),
		string(instance.Status), instance.ExitReason, instance.EntryClose,
		instance.ExitClose, instance.PeakPrice, instance.PeakVolume,
		nullTime(instance.PeakDate), string(parentIDs), string(meta))
	if err != nil {
		return errors.NewPersistenceError("save_instance", instance.ID, err)
	}

	for _, spot := range instance.Spots {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO spots (instance_id, date, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			instance.ID, spot.Date, spot.Open, spot.High, spot.Low, spot.Close, spot.Volume)
		if err != nil {
			return errors.NewPersistenceError("save_spot", instance.ID, err)
		}
	}
	return nil
}

// SaveRedetection upserts a redetection event by id.
func (s *SQLiteStore) SaveRedetection(ctx context.Context, event *models.RedetectionEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO redetections (id, parent_id, seq, ticker, started_at, ended_at, peak_price, peak_volume, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			peak_price = excluded.peak_price,
			peak_volume = excluded.peak_volume,
			status = excluded.status`,
		event.ID, event.ParentID, event.Seq, event.Ticker, event.StartedAt,
		nullTime(event.EndedAt), event.PeakPrice, event.PeakVolume, string(event.Status))
	if err != nil {
		return errors.NewPersistenceError("save_redetection", event.ID, err)
	}
	return nil
}

// SaveHighlight upserts a highlight record keyed by instance id.
func (s *SQLiteStore) SaveHighlight(ctx context.Context, h models.Highlight) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO highlights (instance_id, node_id, pattern_id, ticker, rank, rule_type, spot_count, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.InstanceID, h.NodeID, h.PatternID, h.Ticker, int(h.Rank), h.RuleType, h.SpotCount, h.StartedAt)
	if err != nil {
		return errors.NewPersistenceError("save_highlight", h.InstanceID, err)
	}
	return nil
}

// SaveClassification upserts a support/resistance classification.
func (s *SQLiteStore) SaveClassification(ctx context.Context, c models.LevelClassification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO level_classifications (instance_id, reference_id, ticker, class, peak_price, reference_high, reference_low)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.InstanceID, c.ReferenceID, c.Ticker, string(c.Class), c.PeakPrice, c.ReferenceHigh, c.ReferenceLow)
	if err != nil {
		return errors.NewPersistenceError("save_classification", c.InstanceID, err)
	}
	return nil
}

// SaveRetest upserts a retest event.
func (s *SQLiteStore) SaveRetest(ctx context.Context, e models.RetestEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO retests (instance_id, date, ticker, price, level)
		VALUES (?, ?, ?, ?, ?)`,
		e.InstanceID, e.Date, e.Ticker, e.Price, e.Level)
	if err != nil {
		return errors.NewPersistenceError("save_retest", e.InstanceID, err)
	}
	return nil
}

// SaveFlip upserts a resistance-to-support flip event.
func (s *SQLiteStore) SaveFlip(ctx context.Context, e models.FlipEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO flips (breakout_id, confirm_id, ticker, level, date)
		VALUES (?, ?, ?, ?, ?)`,
		e.BreakoutID, e.ConfirmID, e.Ticker, e.Level, e.Date)
	if err != nil {
		return errors.NewPersistenceError("save_flip", e.BreakoutID, err)
	}
	return nil
}

// GetInstances returns stage instances matching the filter, ordered by start
// date.
func (s *SQLiteStore) GetInstances(ctx context.Context, filter InstanceFilter) ([]models.StageInstance, error) {
	query := `
		SELECT id, pattern_id, node_id, stage_index, ticker, started_at, ended_at,
		       status, exit_reason, entry_close, exit_close, peak_price, peak_volume,
		       peak_date, parent_ids, meta
		FROM stage_instances WHERE 1=1`
	var args []interface{}

	if filter.Ticker != "" {
		query += " AND ticker = ?"
		args = append(args, filter.Ticker)
	}
	if filter.NodeID != "" {
		query += " AND node_id = ?"
		args = append(args, filter.NodeID)
	}
	if filter.PatternID != "" {
		query += " AND pattern_id = ?"
		args = append(args, filter.PatternID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.StartDate.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND started_at <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY started_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistenceError("get_instances", filter.Ticker, err)
	}
	defer rows.Close()

	var out []models.StageInstance
	for rows.Next() {
		var inst models.StageInstance
		var endedAt, peakDate sql.NullTime
		var exitReason, parentIDs, meta sql.NullString
		var status string
		if err := rows.Scan(&inst.ID, &inst.PatternID, &inst.NodeID, &inst.StageIndex,
			&inst.Ticker, &inst.StartedAt, &endedAt, &status, &exitReason,
			&inst.EntryClose, &inst.ExitClose, &inst.PeakPrice, &inst.PeakVolume,
			&peakDate, &parentIDs, &meta); err != nil {
			return nil, errors.NewPersistenceError("get_instances", filter.Ticker, err)
		}
		inst.Status = models.InstanceStatus(status)
		inst.ExitReason = exitReason.String
		if endedAt.Valid {
			t := endedAt.Time
			inst.EndedAt = &t
		}
		if peakDate.Valid {
			t := peakDate.Time
			inst.PeakDate = &t
		}
		if parentIDs.Valid && parentIDs.String != "" {
			if err := json.Unmarshal([]byte(parentIDs.String), &inst.ParentIDs); err != nil {
				return nil, errors.NewPersistenceError("get_instances", inst.ID, err)
			}
		}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &inst.Meta); err != nil {
				return nil, errors.NewPersistenceError("get_instances", inst.ID, err)
			}
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// GetPatterns returns the patterns recorded for a ticker, ordered by creation.
func (s *SQLiteStore) GetPatterns(ctx context.Context, ticker string) ([]models.PatternInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, created_at, seq, level
		FROM patterns WHERE ticker = ? ORDER BY created_at ASC`, ticker)
	if err != nil {
		return nil, errors.NewPersistenceError("get_patterns", ticker, err)
	}
	defer rows.Close()

	var out []models.PatternInstance
	for rows.Next() {
		var p models.PatternInstance
		if err := rows.Scan(&p.ID, &p.Ticker, &p.CreatedAt, &p.Seq, &p.Level); err != nil {
			return nil, errors.NewPersistenceError("get_patterns", ticker, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetRedetections returns the redetection events of a parent instance in
// sequence order.
func (s *SQLiteStore) GetRedetections(ctx context.Context, parentID string) ([]models.RedetectionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, seq, ticker, started_at, ended_at, peak_price, peak_volume, status
		FROM redetections WHERE parent_id = ? ORDER BY seq ASC`, parentID)
	if err != nil {
		return nil, errors.NewPersistenceError("get_redetections", parentID, err)
	}
	defer rows.Close()

	var out []models.RedetectionEvent
	for rows.Next() {
		var e models.RedetectionEvent
		var endedAt sql.NullTime
		var status string
		if err := rows.Scan(&e.ID, &e.ParentID, &e.Seq, &e.Ticker, &e.StartedAt,
			&endedAt, &e.PeakPrice, &e.PeakVolume, &status); err != nil {
			return nil, errors.NewPersistenceError("get_redetections", parentID, err)
		}
		e.Status = models.RedetectionStatus(status)
		if endedAt.Valid {
			t := endedAt.Time
			e.EndedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetHighlights returns the highlight records for a ticker.
func (s *SQLiteStore) GetHighlights(ctx context.Context, ticker string) ([]models.Highlight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, node_id, pattern_id, ticker, rank, rule_type, spot_count, started_at
		FROM highlights WHERE ticker = ? ORDER BY started_at ASC`, ticker)
	if err != nil {
		return nil, errors.NewPersistenceError("get_highlights", ticker, err)
	}
	defer rows.Close()

	var out []models.Highlight
	for rows.Next() {
		var h models.Highlight
		var rank int
		if err := rows.Scan(&h.InstanceID, &h.NodeID, &h.PatternID, &h.Ticker,
			&rank, &h.RuleType, &h.SpotCount, &h.StartedAt); err != nil {
			return nil, errors.NewPersistenceError("get_highlights", ticker, err)
		}
		h.Rank = models.HighlightRank(rank)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
