package devserver

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// DBParams tune the sqlite connection string.
type DBParams struct {
	// Mode can be ro | rw | rwc | memory.
	Mode string
	// Cache can be shared | private.
	Cache string
	// JournalMode can be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF.
	JournalMode string
}

func (p *DBParams) encode() string {
	if p == nil {
		return ""
	}
	var params []string
	if p.Mode != "" {
		params = append(params, "mode="+p.Mode)
	}
	if p.Cache != "" {
		params = append(params, "cache="+p.Cache)
	}
	if p.JournalMode != "" {
		params = append(params, "journal_mode="+p.JournalMode)
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + strings.Join(params, "&")
}

// DB is the devserver's sqlite handle. It owns schema migration; the
// chat store works on the embedded *sql.DB.
type DB struct {
	*sql.DB
	migrationDir string
}

func OpenDB(file, migrationDir string, params *DBParams) (*DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s%s", file, params.encode()))
	if err != nil {
		return nil, err
	}
	return &DB{DB: db, migrationDir: migrationDir}, nil
}

// Migrate applies all pending goose migrations from the migration dir.
func (db *DB) Migrate() error {
	goose.SetBaseFS(os.DirFS(db.migrationDir))
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db.DB, ".")
}
