// Package paths resolves the configuration and data directories.
//
// Each directory follows the same precedence: an explicit flag, then the
// config file (data directory only), then the environment, then a
// project-local directory in the working directory if one exists, then the
// platform default.
package paths

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "coco"

// Project-local directory names, looked up in the working directory.
const (
	LocalConfigDirName = ".coco"
	LocalDataDirName   = ".coco-db"
)

// ConfigFileName is the configuration file inside the config directory.
const ConfigFileName = "config.yaml"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "COCO_CONFIG_DIR"
	EnvDataDir   = "COCO_DATA_DIR"
)

// platformDir holds platform lookups that tests override.
var platformDir = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// DefaultConfigDir returns the platform configuration directory.
//
//	Linux:   $XDG_CONFIG_HOME/coco (fallback ~/.config/coco)
//	macOS:   ~/Library/Application Support/coco
//	Windows: %APPDATA%/coco
func DefaultConfigDir() (string, error) {
	return platformPath("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform data directory.
//
//	Linux:   $XDG_DATA_HOME/coco (fallback ~/.local/share/coco)
//	macOS:   ~/Library/Application Support/coco
//	Windows: %APPDATA%/coco
func DefaultDataDir() (string, error) {
	return platformPath("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func platformPath(xdgVar, homeRel string) (string, error) {
	if platformDir.goos == "linux" {
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, homeRel, appName), nil
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ResolveConfigDir returns the configuration directory:
// flag > COCO_CONFIG_DIR > ./.coco (if present) > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	if local, ok, err := localDir(LocalConfigDirName); err != nil || ok {
		return local, err
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory:
// flag > configValue > COCO_DATA_DIR > ./.coco-db (if present) >
// DefaultDataDir(). A relative configValue is taken relative to configDir.
func ResolveDataDir(flag, configValue, configDir string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configValue != "" {
		if !filepath.IsAbs(configValue) && configDir != "" {
			return filepath.Join(configDir, configValue), nil
		}
		return filepath.Abs(configValue)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	if local, ok, err := localDir(LocalDataDirName); err != nil || ok {
		return local, err
	}
	return DefaultDataDir()
}

// ConfigFile returns the configuration file path inside configDir.
func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigFileName)
}

// localDir reports whether name exists as a directory in the working
// directory.
func localDir(name string) (string, bool, error) {
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", false, err
	}
	path := filepath.Join(cwd, name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return path, info.IsDir(), nil
}
