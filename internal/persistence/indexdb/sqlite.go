// Package indexdb keeps a SQLite read model of finished and in-flight
// matches. Frames are indexed asynchronously; the journal remains the
// source of truth and a lagging indexer drops rows rather than stalling
// the race loop.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"looneyrace.ai/internal/protocol"
)

type MatchIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqStart
	reqFinish
	reqFlush
)

type req struct {
	kind   reqKind
	frame  protocol.Snapshot
	start  MatchRow
	finish FinishRow
	flush  chan struct{}
}

type MatchRow struct {
	MatchID         string
	StartedAt       time.Time
	GridSize        int
	CarrotsRequired int
	MaxSteps        int
	Seed            int64
}

type FinishRow struct {
	MatchID          string
	Winner           string
	Reason           string
	Steps            uint64
	CarrotsDelivered int
	FinishedAt       time.Time
}

func Open(path string) (*MatchIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &MatchIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			carrots_required INTEGER NOT NULL,
			max_steps INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			winner TEXT,
			reason TEXT,
			steps INTEGER,
			carrots_delivered INTEGER,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS moves (
			match_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			runner TEXT NOT NULL,
			victim TEXT,
			row INTEGER NOT NULL,
			col INTEGER NOT NULL,
			delivered INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (match_id, step, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_moves_runner ON moves(match_id, runner, step);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *MatchIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *MatchIndex) StartMatch(row MatchRow) {
	s.send(req{kind: reqStart, start: row})
}

func (s *MatchIndex) WriteFrame(snap protocol.Snapshot) {
	if len(snap.Events) == 0 {
		return
	}
	s.send(req{kind: reqFrame, frame: snap})
}

func (s *MatchIndex) FinishMatch(row FinishRow) {
	s.send(req{kind: reqFinish, finish: row})
}

func (s *MatchIndex) send(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop when the indexer falls behind; the journal has everything.
	}
}

// Flush waits for previously queued rows to land, for tests and shutdown.
func (s *MatchIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flush: done}:
		<-done
	default:
	}
}

func (s *MatchIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqStart:
			s.insertMatch(r.start)
		case reqFrame:
			s.insertFrame(r.frame)
		case reqFinish:
			s.finishMatch(r.finish)
		case reqFlush:
			close(r.flush)
		}
	}
}

func (s *MatchIndex) insertMatch(row MatchRow) {
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO matches (match_id, started_at, grid_size, carrots_required, max_steps, seed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.MatchID, row.StartedAt.UTC().Format(time.RFC3339Nano),
		row.GridSize, row.CarrotsRequired, row.MaxSteps, row.Seed,
	)
}

func (s *MatchIndex) insertFrame(snap protocol.Snapshot) {
	tx, err := s.db.Begin()
	if err != nil {
		return
	}
	for seq, e := range snap.Events {
		raw, err := json.Marshal(e)
		if err != nil {
			continue
		}
		_, _ = tx.Exec(
			`INSERT OR IGNORE INTO moves (match_id, step, seq, kind, runner, victim, row, col, delivered, raw_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.MatchID, snap.Step, seq, e.Kind, e.Runner, e.Victim, e.Row, e.Col, e.Delivered, string(raw),
		)
	}
	_ = tx.Commit()
}

func (s *MatchIndex) finishMatch(row FinishRow) {
	_, _ = s.db.Exec(
		`UPDATE matches SET winner = ?, reason = ?, steps = ?, carrots_delivered = ?, finished_at = ?
		 WHERE match_id = ?`,
		row.Winner, row.Reason, row.Steps, row.CarrotsDelivered,
		row.FinishedAt.UTC().Format(time.RFC3339Nano), row.MatchID,
	)
}

// Summary is the read side used by tooling.
type Summary struct {
	MatchID string
	Winner  string
	Reason  string
	Steps   uint64
	Moves   int
}

func (s *MatchIndex) Summarize(matchID string) (Summary, error) {
	out := Summary{MatchID: matchID}
	var winner, reason sql.NullString
	var steps sql.NullInt64
	err := s.db.QueryRow(
		`SELECT winner, reason, steps FROM matches WHERE match_id = ?`, matchID,
	).Scan(&winner, &reason, &steps)
	if err != nil {
		return out, err
	}
	out.Winner = winner.String
	out.Reason = reason.String
	out.Steps = uint64(steps.Int64)
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM moves WHERE match_id = ?`, matchID,
	).Scan(&out.Moves); err != nil {
		return out, err
	}
	return out, nil
}
