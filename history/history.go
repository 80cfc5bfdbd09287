/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package history keeps a ledger of finished games.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Seednode/happyangrysurprised/session"
	_ "github.com/mattn/go-sqlite3"
)

var ErrIncomplete = errors.New("only completed games can be recorded")

type Entry struct {
	UID         string          `json:"uid" yaml:"uid"`
	DisplayName string          `json:"displayName" yaml:"name"`
	Emotion     session.Emotion `json:"emotion" yaml:"emotion"`
	Wins        bool            `json:"wins" yaml:"wins"`
}

type Result struct {
	GameID      string    `json:"gameId" yaml:"game"`
	CompletedAt time.Time `json:"completedAt" yaml:"completed"`
	Creator     Entry     `json:"creator" yaml:"creator"`
	Joiner      Entry     `json:"joiner" yaml:"joiner"`
}

type Standing struct {
	UID         string `json:"uid" yaml:"uid"`
	DisplayName string `json:"displayName" yaml:"name"`
	Played      int    `json:"played" yaml:"played"`
	Wins        int    `json:"wins" yaml:"wins"`
	Losses      int    `json:"losses" yaml:"losses"`
	Draws       int    `json:"draws" yaml:"draws"`
}

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("while opening history database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("while enabling WAL mode: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		game_id TEXT PRIMARY KEY,
		completed_at DATETIME NOT NULL,
		creator_uid TEXT NOT NULL,
		creator_name TEXT NOT NULL,
		creator_emotion TEXT NOT NULL,
		creator_wins BOOLEAN NOT NULL,
		joiner_uid TEXT NOT NULL,
		joiner_name TEXT NOT NULL,
		joiner_emotion TEXT NOT NULL,
		joiner_wins BOOLEAN NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_completed ON results(completed_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("while creating history tables: %w", err)
	}

	return nil
}

// Record stores the result of a completed game. Recording the same game
// twice is a no-op and reports false.
func (db *DB) Record(ctx context.Context, s *session.Session) (bool, error) {
	if s == nil || s.State != session.Complete || s.Joiner == nil {
		return false, ErrIncomplete
	}

	completed := s.UpdatedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	query := `INSERT OR IGNORE INTO results (
		game_id, completed_at,
		creator_uid, creator_name, creator_emotion, creator_wins,
		joiner_uid, joiner_name, joiner_emotion, joiner_wins
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := db.ExecContext(ctx, query,
		s.ID, completed.UTC(),
		s.Creator.UID, s.Creator.DisplayName, string(s.Creator.Emotion), won(s.Creator),
		s.Joiner.UID, s.Joiner.DisplayName, string(s.Joiner.Emotion), won(*s.Joiner))
	if err != nil {
		return false, fmt.Errorf("while recording game %s: %w", s.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("while recording game %s: %w", s.ID, err)
	}

	return n > 0, nil
}

func won(p session.Player) bool {
	return p.Wins != nil && *p.Wins
}

// Recent returns up to limit results, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Result, error) {
	query := `SELECT game_id, completed_at,
		creator_uid, creator_name, creator_emotion, creator_wins,
		joiner_uid, joiner_name, joiner_emotion, joiner_wins
	FROM results ORDER BY completed_at DESC, game_id ASC LIMIT ?`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("while listing results: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var (
			r                     Result
			creatorMood, joinMood string
		)

		if err := rows.Scan(&r.GameID, &r.CompletedAt,
			&r.Creator.UID, &r.Creator.DisplayName, &creatorMood, &r.Creator.Wins,
			&r.Joiner.UID, &r.Joiner.DisplayName, &joinMood, &r.Joiner.Wins); err != nil {
			return nil, fmt.Errorf("while reading result: %w", err)
		}
		r.Creator.Emotion = session.Emotion(creatorMood)
		r.Joiner.Emotion = session.Emotion(joinMood)

		results = append(results, r)
	}

	return results, rows.Err()
}

// Standings ranks players by wins, then by fewest games played.
func (db *DB) Standings(ctx context.Context, limit int) ([]Standing, error) {
	query := `WITH plays AS (
		SELECT creator_uid AS uid, creator_name AS name, creator_wins AS won, joiner_wins AS lost FROM results
		UNION ALL
		SELECT joiner_uid, joiner_name, joiner_wins, creator_wins FROM results
	)
	SELECT uid, MAX(name), COUNT(*), SUM(won), SUM(lost)
	FROM plays
	GROUP BY uid
	ORDER BY SUM(won) DESC, COUNT(*) ASC, uid ASC
	LIMIT ?`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("while computing standings: %w", err)
	}
	defer rows.Close()

	standings := []Standing{}
	for rows.Next() {
		var s Standing
		if err := rows.Scan(&s.UID, &s.DisplayName, &s.Played, &s.Wins, &s.Losses); err != nil {
			return nil, fmt.Errorf("while reading standing: %w", err)
		}
		s.Draws = s.Played - s.Wins - s.Losses

		standings = append(standings, s)
	}

	return standings, rows.Err()
}
