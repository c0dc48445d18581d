package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

const journalDBName = "journal.db"

// EncryptedJournal implements domain.ReportJournal using a SQLCipher
// encrypted SQLite database. It is a history of report attempts only;
// deduplication never reads from it.
type EncryptedJournal struct {
	db       *sql.DB
	dbPath   string
	setAside string
}

// NewEncryptedJournal opens (or creates) the journal database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedJournal(dataDir string, key []byte) (*EncryptedJournal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, journalDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted journal: %w", err)
	}

	// A wrong key only surfaces on first query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted journal: %w", err)
	}

	j := &EncryptedJournal{db: db, dbPath: dbPath}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

// OpenJournal opens the journal in dataDir, generating its key on first
// use. A database the current key cannot decrypt is moved aside and a new
// key and database are created; SetAside reports where it went.
func OpenJournal(dataDir string) (*EncryptedJournal, error) {
	keys := NewJournalKey(dataDir)
	key, setAside, err := keys.Ensure()
	if err != nil {
		return nil, err
	}

	j, err := NewEncryptedJournal(dataDir, key)
	if err != nil {
		if !isUnreadableDB(err) {
			return nil, err
		}
		key, setAside, err = keys.Rotate()
		if err != nil {
			return nil, err
		}
		if j, err = NewEncryptedJournal(dataDir, key); err != nil {
			return nil, err
		}
	}
	j.setAside = setAside
	return j, nil
}

// isUnreadableDB reports whether err means the file is not a database
// under the supplied key.
func isUnreadableDB(err error) bool {
	var sqlErr sqlcipher.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlcipher.ErrNotADB
	}
	return strings.Contains(err.Error(), "file is not a database")
}

func (j *EncryptedJournal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		app_detected TEXT NOT NULL,
		severity TEXT NOT NULL,
		process_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		attempted_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_attempted_at ON reports (attempted_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends one report attempt.
func (j *EncryptedJournal) Record(rec domain.ReportRecord) error {
	at := rec.AttemptedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.Exec(`
		INSERT INTO reports (device_id, app_detected, severity, process_id, status, error, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Violation.DeviceID, rec.Violation.AppDetected, rec.Violation.Severity,
		rec.Violation.ProcessID, string(rec.Status), rec.Error, at.UnixNano(),
	)
	return err
}

// Recent returns up to limit records, newest first.
func (j *EncryptedJournal) Recent(limit int) ([]domain.ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT id, device_id, app_detected, severity, process_id, status, error, attempted_at
		FROM reports ORDER BY attempted_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ReportRecord
	for rows.Next() {
		var (
			rec    domain.ReportRecord
			status string
			at     int64
		)
		if err := rows.Scan(&rec.ID, &rec.Violation.DeviceID, &rec.Violation.AppDetected,
			&rec.Violation.Severity, &rec.Violation.ProcessID, &status, &rec.Error, &at); err != nil {
			return nil, err
		}
		rec.Status = domain.ReportStatus(status)
		rec.AttemptedAt = time.Unix(0, at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Counts returns the number of records per status.
func (j *EncryptedJournal) Counts() (map[domain.ReportStatus]int, error) {
	rows, err := j.db.Query(`SELECT status, COUNT(*) FROM reports GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ReportStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.ReportStatus(status)] = n
	}
	return counts, rows.Err()
}

// SetAside returns where an unreadable database was moved when the
// journal was opened, or "" if none was.
func (j *EncryptedJournal) SetAside() string {
	return j.setAside
}

// Path returns the database file path.
func (j *EncryptedJournal) Path() string {
	return j.dbPath
}

// Close releases the database connection.
func (j *EncryptedJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Ensure EncryptedJournal implements domain.ReportJournal.
var _ domain.ReportJournal = (*EncryptedJournal)(nil)
