// Package archive keeps a sqlite history of every article the pipeline
// resolved, one row per fingerprint. It is best-effort bookkeeping behind the
// prune and stats commands; a failure here never fails a run.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Archive struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

// Item is one resolved article as recorded in the history.
type Item struct {
	Fingerprint string
	Source      string
	Category    string
	Title       string
	Link        string
	Published   time.Time
	HasDate     bool
	Summary     string
	FromCache   bool
}

func Open(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	a := &Archive{readDB: readDB, writeDB: writeDB}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) init() error {
	_, err := a.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS articles (
			fingerprint TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			category    TEXT NOT NULL,
			title       TEXT NOT NULL,
			link        TEXT NOT NULL DEFAULT '',
			published   DATETIME,
			summary     TEXT NOT NULL DEFAULT '',
			from_cache  INTEGER NOT NULL DEFAULT 0,
			run_at      DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_articles_run_at ON articles(run_at DESC);
		CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (a *Archive) Close() error {
	var errs []error
	if a.readDB != nil {
		errs = append(errs, a.readDB.Close())
	}
	if a.writeDB != nil {
		errs = append(errs, a.writeDB.Close())
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Record upserts the run's resolved articles. Re-running with the same
// fingerprints refreshes summary and run_at.
func (a *Archive) Record(runAt time.Time, items []Item) error {
	tx, err := a.writeDB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO articles (fingerprint, source, category, title, link, published, summary, from_cache, run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			from_cache = excluded.from_cache,
			run_at = excluded.run_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		var pub any
		if it.HasDate {
			pub = it.Published
		}
		_, err := stmt.Exec(it.Fingerprint, it.Source, it.Category, it.Title, it.Link, pub, it.Summary, it.FromCache, runAt)
		if err != nil {
			return fmt.Errorf("recording article %s: %w", it.Fingerprint, err)
		}
	}

	return tx.Commit()
}

// Prune deletes history rows whose last run is older than the retention
// window, returning how many were removed.
func (a *Archive) Prune(olderThan time.Duration) (int64, error) {
	res, err := a.writeDB.Exec("DELETE FROM articles WHERE run_at < ?", time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("pruning archive: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns the row count and on-disk size of the archive.
func (a *Archive) Stats(dbPath string) (count int64, size int64, err error) {
	if err := a.readDB.QueryRow("SELECT COUNT(*) FROM articles").Scan(&count); err != nil {
		return 0, 0, fmt.Errorf("counting articles: %w", err)
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		return count, 0, fmt.Errorf("reading db size: %w", err)
	}
	return count, info.Size(), nil
}
