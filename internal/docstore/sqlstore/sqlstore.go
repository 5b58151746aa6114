// Package sqlstore is a sqlite-backed document store. Documents are stored
// as JSON rows with a revision counter; subscriptions poll the revision and
// are kicked immediately after in-process writes.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/sealroom/sealroom/internal/docstore"
)

type Store struct {
	db *sql.DB

	// serializes read-modify-write updates
	mu sync.Mutex

	kmu   sync.Mutex
	kicks map[int]chan struct{}
	next  int

	pollInterval time.Duration
}

func New(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent and lets
	// sqlite serialize writers itself.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &Store{db: db, kicks: make(map[int]chan struct{}), pollInterval: 250 * time.Millisecond}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	// Simplified for brevity, ideally use migrations
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		rev INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (collection, id)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Set(ctx context.Context, collection, id string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, rev) VALUES (?, ?, ?, 1)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, rev = documents.rev + 1`,
		collection, id, string(body))
	if err != nil {
		return err
	}
	s.kickAll()
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?", collection, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?", collection, id).Scan(&body)
	if err == sql.ErrNoRows {
		return docstore.ErrNotFound
	}
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return err
	}
	updated, err := json.Marshal(docstore.Apply(doc, fields))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET body = ?, rev = rev + 1 WHERE collection = ? AND id = ?",
		string(updated), collection, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.kickAll()
	return nil
}

func (s *Store) Subscribe(collection, id string, onChange func(map[string]any), onError func(error)) (func(), error) {
	kick := make(chan struct{}, 1)
	stop := make(chan struct{})

	s.kmu.Lock()
	n := s.next
	s.next++
	s.kicks[n] = kick
	s.kmu.Unlock()

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		var lastRev int64 = -1
		check := func() {
			var body string
			var rev int64
			err := s.db.QueryRow(
				"SELECT body, rev FROM documents WHERE collection = ? AND id = ?", collection, id).Scan(&body, &rev)
			if err == sql.ErrNoRows {
				return
			}
			if err != nil {
				onError(err)
				return
			}
			if rev == lastRev {
				return
			}
			var doc map[string]any
			if err := json.Unmarshal([]byte(body), &doc); err != nil {
				onError(err)
				return
			}
			lastRev = rev
			onChange(doc)
		}

		check()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				check()
			case <-kick:
				check()
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.kmu.Lock()
			delete(s.kicks, n)
			s.kmu.Unlock()
			close(stop)
		})
	}
	return cancel, nil
}

// kickAll wakes every poller so in-process subscribers see writes without
// waiting out the poll interval.
func (s *Store) kickAll() {
	s.kmu.Lock()
	defer s.kmu.Unlock()
	for _, kick := range s.kicks {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}
