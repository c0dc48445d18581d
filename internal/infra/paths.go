package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as a regular user (per-user config and data)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root (system-wide config and data)
	ExecModeSystem ExecMode = "system"
)

const appName = "appguard"

// PathsConfig holds file locations based on execution mode.
type PathsConfig struct {
	Mode       ExecMode
	ConfigDir  string // Where config.yaml and the policy cache live
	ConfigPath string // Full path to config.yaml
	CachePath  string // Full path to the policy cache
	DataDir    string // Where the encrypted journal, its key and logs live
	LogPath    string // Daemon log file
	IsRoot     bool   // Whether running as root
}

// DetectPaths determines file locations based on effective UID.
func DetectPaths() *PathsConfig {
	if os.Geteuid() == 0 {
		return newPathsConfig(ExecModeSystem, filepath.Join("/etc", appName), filepath.Join("/var/lib", appName), true)
	}
	return GetUserPaths()
}

// GetUserPaths returns user mode paths regardless of current euid.
// When running under sudo, SUDO_USER's home directory is used.
func GetUserPaths() *PathsConfig {
	home := GetRealUserHome()

	configRoot, err := os.UserConfigDir()
	if err != nil || os.Getenv("SUDO_USER") != "" {
		configRoot = filepath.Join(home, ".config")
	}

	return newPathsConfig(ExecModeUser,
		filepath.Join(configRoot, appName),
		filepath.Join(home, "."+appName),
		os.Geteuid() == 0)
}

// NewPathsConfigWithRoot places every file under root (for testing).
func NewPathsConfigWithRoot(root string) *PathsConfig {
	return newPathsConfig(ExecModeUser, filepath.Join(root, "config"), filepath.Join(root, "data"), false)
}

func newPathsConfig(mode ExecMode, configDir, dataDir string, isRoot bool) *PathsConfig {
	return &PathsConfig{
		Mode:       mode,
		ConfigDir:  configDir,
		ConfigPath: filepath.Join(configDir, "config.yaml"),
		CachePath:  filepath.Join(configDir, cacheFileName),
		DataDir:    dataDir,
		LogPath:    filepath.Join(dataDir, appName+".log"),
		IsRoot:     isRoot,
	}
}

// WithOverrides returns a copy with the configured cache path and data
// directory applied. Empty values keep the defaults. The log follows the
// data directory.
func (p *PathsConfig) WithOverrides(cachePath, dataDir string) *PathsConfig {
	out := *p
	if cachePath != "" {
		out.CachePath = cachePath
	}
	if dataDir != "" {
		out.DataDir = dataDir
		out.LogPath = filepath.Join(dataDir, appName+".log")
	}
	return &out
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
