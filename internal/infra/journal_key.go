package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	journalKeyFile = ".journal.key"
	journalKeySize = 32 // 256-bit SQLCipher key
)

// JournalKey manages the passphrase of the report journal. The key is
// kept hex-encoded, owner-only, next to journal.db. Losing it makes the
// database unreadable, so any operation that has to mint a new key first
// moves the old database aside.
type JournalKey struct {
	dataDir string
	now     func() time.Time
}

// NewJournalKey creates a JournalKey for the journal in dataDir.
func NewJournalKey(dataDir string) *JournalKey {
	return &JournalKey{dataDir: dataDir, now: time.Now}
}

// Path returns the key file path.
func (k *JournalKey) Path() string {
	return filepath.Join(k.dataDir, journalKeyFile)
}

func (k *JournalKey) dbPath() string {
	return filepath.Join(k.dataDir, journalDBName)
}

// Load reads the stored key.
func (k *JournalKey) Load() ([]byte, error) {
	data, err := os.ReadFile(k.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to read journal key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode journal key: %w", err)
	}
	if len(key) != journalKeySize {
		return nil, fmt.Errorf("invalid journal key size: got %d, want %d", len(key), journalKeySize)
	}
	return key, nil
}

// Ensure returns the stored key. A missing or unreadable key file is
// replaced by a fresh key; any existing database is set aside first and
// its new path returned.
func (k *JournalKey) Ensure() (key []byte, setAside string, err error) {
	if stored, loadErr := k.Load(); loadErr == nil {
		return stored, "", nil
	}
	return k.Rotate()
}

// Rotate moves the current database aside, if there is one, then
// generates and stores a new key.
func (k *JournalKey) Rotate() (key []byte, setAside string, err error) {
	setAside, err = k.setAsideDB()
	if err != nil {
		return nil, "", err
	}

	key = make([]byte, journalKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, setAside, fmt.Errorf("failed to generate journal key: %w", err)
	}
	if err := k.store(key); err != nil {
		return nil, setAside, err
	}
	return key, setAside, nil
}

func (k *JournalKey) store(key []byte) error {
	if err := os.MkdirAll(k.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp := k.Path() + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("failed to write journal key: %w", err)
	}
	if err := os.Rename(tmp, k.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to store journal key: %w", err)
	}
	return nil
}

// setAsideDB renames journal.db to journal.db.unreadable-<unix>. The
// rollback journal is moved with it.
func (k *JournalKey) setAsideDB() (string, error) {
	db := k.dbPath()
	if _, err := os.Stat(db); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	dest := fmt.Sprintf("%s.unreadable-%d", db, k.now().Unix())
	if err := os.Rename(db, dest); err != nil {
		return "", fmt.Errorf("failed to set aside unreadable journal: %w", err)
	}
	if _, err := os.Stat(db + "-journal"); err == nil {
		_ = os.Rename(db+"-journal", dest+"-journal")
	}
	return dest, nil
}
