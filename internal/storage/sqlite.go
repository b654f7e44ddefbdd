package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/pipeline"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS deals (
		key TEXT PRIMARY KEY,
		venue TEXT NOT NULL,
		deal_score REAL,
		data TEXT NOT NULL,
		found_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_deals_found_at ON deals(found_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveDeals(deals []pipeline.Deal) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	newCount := 0
	for _, deal := range deals {
		data, err := json.Marshal(deal)
		if err != nil {
			return 0, fmt.Errorf("marshal deal: %w", err)
		}

		key := deal.Listing.Key()
		var score interface{}
		if deal.Score.DealScore != nil {
			score = *deal.Score.DealScore
		}

		res, err := tx.Exec(
			"INSERT OR IGNORE INTO deals (key, venue, deal_score, data, found_at) VALUES (?, ?, ?, ?, ?)",
			key, deal.Listing.Venue, score, string(data), deal.Listing.FoundAt)
		if err != nil {
			return 0, fmt.Errorf("insert deal: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		if inserted > 0 {
			newCount++
			continue
		}

		// Re-observed deal: refresh the record, don't count it as new.
		if _, err := tx.Exec(
			"UPDATE deals SET deal_score = ?, data = ?, updated_at = ? WHERE key = ?",
			score, string(data), time.Now(), key); err != nil {
			return 0, fmt.Errorf("update deal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return newCount, nil
}

func (s *SQLiteStore) RecentDeals(limit int) ([]pipeline.Deal, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query("SELECT data FROM deals ORDER BY found_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var deals []pipeline.Deal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		var deal pipeline.Deal
		if err := json.Unmarshal([]byte(data), &deal); err != nil {
			return nil, fmt.Errorf("unmarshal deal: %w", err)
		}
		deals = append(deals, deal)
	}

	return deals, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
