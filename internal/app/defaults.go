package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override where niko keeps its files.
const (
	EnvConfigPath = "NIKO_CONFIG_PATH"
	EnvHome       = "NIKO_HOME"
)

// Paths locates the config file and the directory holding the index
// database, logs and snapshot keys.
type Paths struct {
	ConfigPath string
	BaseDir    string
}

// DefaultPaths resolves Paths from NIKO_CONFIG_PATH and NIKO_HOME, then from
// the XDG base directories, then from the home directory
// (~/.config/niko.toml, ~/.local/share/niko).
func DefaultPaths() (Paths, error) {
	p := Paths{
		ConfigPath: os.Getenv(EnvConfigPath),
		BaseDir:    os.Getenv(EnvHome),
	}
	if p.ConfigPath != "" && p.BaseDir != "" {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("locating niko files: %w", err)
	}
	if p.ConfigPath == "" {
		p.ConfigPath = filepath.Join(xdgDir("XDG_CONFIG_HOME", home, ".config"), "niko.toml")
	}
	if p.BaseDir == "" {
		p.BaseDir = filepath.Join(xdgDir("XDG_DATA_HOME", home, ".local", "share"), "niko")
	}
	return p, nil
}

// xdgDir returns $env when it holds an absolute path, and home/fallback otherwise.
func xdgDir(env, home string, fallback ...string) string {
	if dir := os.Getenv(env); filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}
