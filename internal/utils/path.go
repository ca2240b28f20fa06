package utils

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
)

const appName = "titleserve"

// PathResolver resolves the per-user config and data locations of titleserve
type PathResolver struct {
	homeDir   string
	configDir string
	dataDir   string
}

// NewPathResolver creates a resolver for the current user
func NewPathResolver() *PathResolver {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("Could not determine home directory: %v", err)
		homeDir = os.TempDir()
	}
	pr := &PathResolver{
		homeDir:   homeDir,
		configDir: getConfigDir(homeDir),
		dataDir:   getDataDir(homeDir),
	}
	log.Debugf("PathResolver initialized: configDir=%s, dataDir=%s", pr.configDir, pr.dataDir)
	return pr
}

// getConfigDir returns the appropriate config directory for the platform
func getConfigDir(homeDir string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, ".config", appName)
	case "linux":
		if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		return filepath.Join(homeDir, ".config", appName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		return filepath.Join(homeDir, "."+appName)
	}
}

// getDataDir returns the directory holding the title database
func getDataDir(homeDir string) string {
	switch runtime.GOOS {
	case "linux":
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return filepath.Join(dataHome, appName)
		}
		return filepath.Join(homeDir, ".local", "share", appName)
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		return getConfigDir(homeDir)
	}
}

// ConfigDir returns the config directory
func (pr *PathResolver) ConfigDir() string {
	return pr.configDir
}

// DataDir returns the data directory
func (pr *PathResolver) DataDir() string {
	return pr.dataDir
}

// ResolveDataPath resolves a relative path against the data directory and
// makes sure its parent exists. Absolute paths are returned as they are.
func (pr *PathResolver) ResolveDataPath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(pr.dataDir, path)
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}
	return path, nil
}

// GetConfigPath returns the full path for a config file, falling back to
// other writable locations when the config directory is not writable.
func (pr *PathResolver) GetConfigPath(filename string) string {
	if CheckDirStatus(pr.configDir).Writable {
		return filepath.Join(pr.configDir, filename)
	}

	fallbackDirs := []string{
		filepath.Join(pr.homeDir, "."+appName),
		filepath.Join(os.TempDir(), appName),
	}
	if execDir, err := GetExecutableDir(); err == nil {
		fallbackDirs = append(fallbackDirs, execDir)
	}
	for _, dir := range fallbackDirs {
		if CheckDirStatus(dir).Writable {
			path := filepath.Join(dir, filename)
			log.Warnf("Using fallback config location: %s", path)
			return path
		}
	}

	tempPath := filepath.Join(os.TempDir(), filename)
	log.Warnf("Using temporary config file: %s", tempPath)
	return tempPath
}
