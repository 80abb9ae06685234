package config

import (
	"os"
	"path/filepath"

	"github.com/parley-org/parley/internal/build"
	"github.com/parley-org/parley/internal/fileutil"
)

// Paths holds the filesystem locations resolved before the config file
// is read.
type Paths struct {
	ConfigDir string
	DataDir   string
	LogDir    string
}

// XDGConfig contains the standard XDG directories used as the default
// location scheme.
type XDGConfig struct {
	DataHome   string
	ConfigHome string
}

// ResolvePaths determines application paths. When the application home
// environment variable is set, every directory is placed under that
// single root; otherwise XDG-compliant defaults apply.
func ResolvePaths(appHomeEnv string, xdg XDGConfig) Paths {
	if dir := os.Getenv(appHomeEnv); dir != "" {
		return setUnifiedPaths(fileutil.ResolvePathOrBlank(dir))
	}
	return Paths{
		ConfigDir: filepath.Join(xdg.ConfigHome, build.Slug),
		DataDir:   filepath.Join(xdg.DataHome, build.Slug, "data"),
		LogDir:    filepath.Join(xdg.DataHome, build.Slug, "logs"),
	}
}

func setUnifiedPaths(root string) Paths {
	return Paths{
		ConfigDir: root,
		DataDir:   filepath.Join(root, "data"),
		LogDir:    filepath.Join(root, "logs"),
	}
}
