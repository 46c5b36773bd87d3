package aces

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"partsfeed/internal/logger"
	"partsfeed/internal/parser/flatfile"
)

// scratchColumns is the fitment feed layout. exppartno is listed last so the
// insert statement and the row scan share one ordering.
var scratchColumns = []string{
	"catcode", "year", "make", "model", "submodel",
	"engtype", "liter", "fuel", "fueldel", "asp",
	"engvin", "engdesg", "dciptdescr", "expldescr", "vqdescr", "fndescr",
	"exppartno",
}

// scratchStore is a throwaway on-disk sqlite database used to sort the
// fitment feed by part number. The feed arrives unsorted and the chunked
// consumer needs all rows for one part to be adjacent; an embedded sqlite
// sort is portable where an OS-level sort is not.
type scratchStore struct {
	db   *sql.DB
	path string
	log  *logger.Logger
}

func newScratchStore(log *logger.Logger) (*scratchStore, error) {
	f, err := os.CreateTemp("", "fitment-scratch-*.db")
	if err != nil {
		return nil, fmt.Errorf("aces: create scratch file: %w", err)
	}
	path := f.Name()
	f.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("aces: open scratch db: %w", err)
	}
	return &scratchStore{db: db, path: path, log: log}, nil
}

// load streams the feed into the scratch table in batched transactions and
// indexes it by part number.
func (s *scratchStore) load(r *flatfile.Reader, insertChunk int) error {
	cols := make([]string, len(scratchColumns))
	for i, col := range scratchColumns {
		cols[i] = col + " TEXT"
	}
	ddl := fmt.Sprintf("CREATE TABLE fitment_scratch (%s)", strings.Join(cols, ", "))
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("aces: create scratch table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(scratchColumns)), ",")
	insertSQL := fmt.Sprintf("INSERT INTO fitment_scratch (%s) VALUES (%s)",
		strings.Join(scratchColumns, ","), placeholders)

	s.log.Info("sorting fitment feed through scratch store")
	var (
		tx      *sql.Tx
		stmt    *sql.Stmt
		pending int
		total   int
		err     error
	)
	begin := func() error {
		tx, err = s.db.Begin()
		if err != nil {
			return fmt.Errorf("aces: begin scratch tx: %w", err)
		}
		stmt, err = tx.Prepare(insertSQL)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("aces: prepare scratch insert: %w", err)
		}
		return nil
	}
	commit := func() error {
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("aces: commit scratch tx: %w", err)
		}
		s.log.Debug("scratch rows stored", "rows", total)
		return nil
	}

	if err := begin(); err != nil {
		return err
	}
	values := make([]any, len(scratchColumns))
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("aces: line %d: %w", r.Line(), err)
		}
		for i, col := range scratchColumns {
			values[i] = rec.Get(col)
		}
		if _, err := stmt.Exec(values...); err != nil {
			tx.Rollback()
			return fmt.Errorf("aces: insert scratch row: %w", err)
		}
		pending++
		total++
		if pending == insertChunk {
			if err := commit(); err != nil {
				return err
			}
			if err := begin(); err != nil {
				return err
			}
			pending = 0
		}
	}
	if err := commit(); err != nil {
		return err
	}

	if _, err := s.db.Exec("CREATE INDEX idx_scratch_part ON fitment_scratch (exppartno)"); err != nil {
		return fmt.Errorf("aces: index scratch table: %w", err)
	}
	s.log.Info("fitment feed staged", "rows", total)
	return nil
}

// sorted returns all rows ordered by part number. The caller owns the rows.
func (s *scratchStore) sorted() (*sql.Rows, error) {
	query := fmt.Sprintf("SELECT %s FROM fitment_scratch ORDER BY exppartno",
		strings.Join(scratchColumns, ","))
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("aces: read scratch table: %w", err)
	}
	return rows, nil
}

func (s *scratchStore) Close() error {
	err := s.db.Close()
	if rmErr := os.Remove(s.path); err == nil {
		err = rmErr
	}
	return err
}
