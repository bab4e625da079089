// ABOUTME: SQLite-backed card store with optimistic versioning on every commit.
// ABOUTME: Cards serialize phrases and the open gate as JSON columns; WAL mode for concurrent readers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
)

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// SqliteStore is the durable CardStore. It is safe for concurrent use; SQLite
// serializes writers and the version guard in Commit serializes transitions
// per card.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates the card database at the given path and
// ensures the schema exists.
func OpenSqlite(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS cards (
			card_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			theme_name TEXT NOT NULL,
			plan_date TEXT NOT NULL DEFAULT '',
			phrases TEXT NOT NULL DEFAULT '[]',
			selected_phrase_index INTEGER,
			image_ref TEXT NOT NULL DEFAULT '',
			preview_ref TEXT NOT NULL DEFAULT '',
			final_ref TEXT NOT NULL DEFAULT '',
			open_gate TEXT,
			last_event_id TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cards_state ON cards(state);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new card row. The card's version must already be set (1).
func (s *SqliteStore) Create(ctx context.Context, card gate.Card) error {
	phrases, gateJSON, err := encodeCard(&card)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cards (card_id, state, theme_name, plan_date, phrases, selected_phrase_index,
			image_ref, preview_ref, final_ref, open_gate, last_event_id, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.CardID.String(),
		string(card.State),
		card.ThemeName,
		card.PlanDate,
		phrases,
		card.SelectedPhraseIndex,
		card.ImageRef,
		card.PreviewRef,
		card.FinalRef,
		gateJSON,
		card.LastEventID,
		card.Version,
		card.CreatedAt.Format(timeLayout),
		card.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// Get reads a single card by id. Returns ErrNotFound for unknown ids.
func (s *SqliteStore) Get(ctx context.Context, id ulid.ULID) (gate.Card, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT card_id, state, theme_name, plan_date, phrases, selected_phrase_index,
			image_ref, preview_ref, final_ref, open_gate, last_event_id, version, created_at, updated_at
		 FROM cards WHERE card_id = ?`,
		id.String())
	return scanCard(row)
}

// Commit atomically replaces the card row if and only if the stored version
// still equals expectedVersion. The committed card carries
// version = expectedVersion + 1. Returns *VersionConflictError when another
// transition won the race, ErrNotFound when the card vanished.
func (s *SqliteStore) Commit(ctx context.Context, expectedVersion uint64, card gate.Card) (gate.Card, error) {
	phrases, gateJSON, err := encodeCard(&card)
	if err != nil {
		return gate.Card{}, err
	}

	card.Version = expectedVersion + 1
	res, err := s.db.ExecContext(ctx,
		`UPDATE cards SET state = ?, theme_name = ?, plan_date = ?, phrases = ?,
			selected_phrase_index = ?, image_ref = ?, preview_ref = ?, final_ref = ?,
			open_gate = ?, last_event_id = ?, version = ?, updated_at = ?
		 WHERE card_id = ? AND version = ?`,
		string(card.State),
		card.ThemeName,
		card.PlanDate,
		phrases,
		card.SelectedPhraseIndex,
		card.ImageRef,
		card.PreviewRef,
		card.FinalRef,
		gateJSON,
		card.LastEventID,
		card.Version,
		card.UpdatedAt.Format(timeLayout),
		card.CardID.String(),
		expectedVersion,
	)
	if err != nil {
		return gate.Card{}, fmt.Errorf("commit card: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return gate.Card{}, fmt.Errorf("commit rows affected: %w", err)
	}
	if affected == 0 {
		// Either the version is stale or the card does not exist.
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM cards WHERE card_id = ?", card.CardID.String()).Scan(&exists)
		if err == sql.ErrNoRows {
			return gate.Card{}, ErrNotFound
		}
		if err != nil {
			return gate.Card{}, fmt.Errorf("commit conflict check: %w", err)
		}
		return gate.Card{}, &VersionConflictError{CardID: card.CardID, Expected: expectedVersion}
	}

	return card, nil
}

// ListPending returns every card still waiting on some stage or approval,
// newest first. Terminal published cards and dead ends are excluded.
func (s *SqliteStore) ListPending(ctx context.Context) ([]gate.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT card_id, state, theme_name, plan_date, phrases, selected_phrase_index,
			image_ref, preview_ref, final_ref, open_gate, last_event_id, version, created_at, updated_at
		 FROM cards
		 WHERE state NOT IN (?, ?, ?)
		 ORDER BY created_at DESC, card_id DESC`,
		string(gate.StatePublished), string(gate.StateExpired), string(gate.StateRejected))
	if err != nil {
		return nil, fmt.Errorf("query pending cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cards []gate.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// OpenDeadlines returns the gate deadline for every card with an open gate.
// Used to rehydrate the scheduler after a restart.
func (s *SqliteStore) OpenDeadlines(ctx context.Context) ([]OpenDeadline, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT card_id, open_gate FROM cards WHERE open_gate IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("query open gates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deadlines []OpenDeadline
	for rows.Next() {
		var idStr, gateJSON string
		if err := rows.Scan(&idStr, &gateJSON); err != nil {
			return nil, fmt.Errorf("scan open gate row: %w", err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse card id %q: %w", idStr, err)
		}
		var g gate.OpenGate
		if err := json.Unmarshal([]byte(gateJSON), &g); err != nil {
			return nil, fmt.Errorf("unmarshal open gate for card %s: %w", idStr, err)
		}
		deadlines = append(deadlines, OpenDeadline{CardID: id, Gate: g})
	}
	return deadlines, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (gate.Card, error) {
	var (
		card     gate.Card
		idStr    string
		state    string
		phrases  string
		selected sql.NullInt64
		gateJSON sql.NullString
		created  string
		updated  string
	)
	err := row.Scan(&idStr, &state, &card.ThemeName, &card.PlanDate, &phrases, &selected,
		&card.ImageRef, &card.PreviewRef, &card.FinalRef, &gateJSON, &card.LastEventID,
		&card.Version, &created, &updated)
	if err == sql.ErrNoRows {
		return gate.Card{}, ErrNotFound
	}
	if err != nil {
		return gate.Card{}, fmt.Errorf("scan card row: %w", err)
	}

	card.CardID, err = ulid.Parse(idStr)
	if err != nil {
		return gate.Card{}, fmt.Errorf("parse card id %q: %w", idStr, err)
	}
	card.State = gate.State(state)

	if err := json.Unmarshal([]byte(phrases), &card.Phrases); err != nil {
		return gate.Card{}, fmt.Errorf("unmarshal phrases for card %s: %w", idStr, err)
	}
	if selected.Valid {
		idx := int(selected.Int64)
		card.SelectedPhraseIndex = &idx
	}
	if gateJSON.Valid && gateJSON.String != "" {
		var g gate.OpenGate
		if err := json.Unmarshal([]byte(gateJSON.String), &g); err != nil {
			return gate.Card{}, fmt.Errorf("unmarshal open gate for card %s: %w", idStr, err)
		}
		card.OpenGate = &g
	}

	card.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return gate.Card{}, fmt.Errorf("parse created_at for card %s: %w", idStr, err)
	}
	card.UpdatedAt, err = time.Parse(timeLayout, updated)
	if err != nil {
		return gate.Card{}, fmt.Errorf("parse updated_at for card %s: %w", idStr, err)
	}

	return card, nil
}

// encodeCard serializes the JSON columns. The gate column is NULL when no
// gate is open so OpenDeadlines can filter in SQL.
func encodeCard(card *gate.Card) (string, *string, error) {
	phrases, err := json.Marshal(card.Phrases)
	if err != nil {
		return "", nil, fmt.Errorf("marshal phrases: %w", err)
	}
	if card.Phrases == nil {
		phrases = []byte("[]")
	}

	var gateJSON *string
	if card.OpenGate != nil {
		b, err := json.Marshal(card.OpenGate)
		if err != nil {
			return "", nil, fmt.Errorf("marshal open gate: %w", err)
		}
		s := string(b)
		gateJSON = &s
	}
	return string(phrases), gateJSON, nil
}
