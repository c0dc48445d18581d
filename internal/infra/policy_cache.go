package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

const cacheFileName = "forbidden_cache.json"

// cacheFile is the on-disk cache format.
type cacheFile struct {
	Apps        []domain.PolicyEntry `json:"apps"`
	LastUpdated int64                `json:"lastUpdated"`
}

// FilePolicyCache implements domain.PolicyCache using a JSON file
// in the user's configuration directory.
type FilePolicyCache struct {
	path string
}

// NewFilePolicyCache creates a cache in the default per-user location.
func NewFilePolicyCache() *FilePolicyCache {
	return NewFilePolicyCacheWithPath(filepath.Join(DetectPaths().ConfigDir, cacheFileName))
}

// NewFilePolicyCacheWithPath creates a cache at a specific path (for testing).
func NewFilePolicyCacheWithPath(path string) *FilePolicyCache {
	return &FilePolicyCache{path: path}
}

// Path returns the cache file location.
func (c *FilePolicyCache) Path() string {
	return c.path
}

// Save overwrites the cache file with policy (write + rename).
func (c *FilePolicyCache) Save(policy domain.Policy) error {
	apps := policy.Entries
	if apps == nil {
		apps = []domain.PolicyEntry{}
	}
	data, err := json.MarshalIndent(cacheFile{
		Apps:        apps,
		LastUpdated: policy.LastUpdated.Unix(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode cache: %v", domain.ErrStorage, err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: create cache directory: %v", domain.ErrStorage, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".forbidden_cache-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", domain.ErrStorage, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: write cache: %v", domain.ErrStorage, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: sync cache: %v", domain.ErrStorage, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: close cache: %v", domain.ErrStorage, err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("%w: chmod cache: %v", domain.ErrStorage, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("%w: rename cache: %v", domain.ErrStorage, err)
	}

	success = true
	return nil
}

// Load reads the cached policy. A missing file is an empty policy, not an error.
func (c *FilePolicyCache) Load() (domain.Policy, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Policy{}, nil
		}
		return domain.Policy{}, fmt.Errorf("%w: read cache: %v", domain.ErrStorage, err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Policy{}, fmt.Errorf("%w: %w: %s: %v", domain.ErrStorage, domain.ErrParse, c.path, err)
	}

	p := domain.Policy{Entries: f.Apps}
	if f.LastUpdated > 0 {
		p.LastUpdated = time.Unix(f.LastUpdated, 0)
	}
	return p, nil
}

// Ensure FilePolicyCache implements domain.PolicyCache.
var _ domain.PolicyCache = (*FilePolicyCache)(nil)
