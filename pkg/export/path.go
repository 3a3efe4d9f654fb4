package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultFileName is used when the output path names an existing directory.
const DefaultFileName = "alm_export.xlsx"

var (
	// ErrOutputExists is returned when the output file exists and overwriting was not allowed.
	ErrOutputExists = errors.New("output file already exists")

	// ErrInvalidOutputPath is returned when the output cannot be created at the given path.
	ErrInvalidOutputPath = errors.New("invalid output path")
)

// TimestampedName returns export_YYYY_MM_DD_HH_MM.xlsx for now.
func TimestampedName(now time.Time) string {
	return "export_" + now.Format("2006_01_02_15_04") + ".xlsx"
}

// ResolveOutputPath turns the user supplied output path into an absolute file
// path. An empty path yields a timestamped file in the working directory and
// an existing directory yields DefaultFileName inside it. An existing file is
// only accepted with force.
func ResolveOutputPath(path string, force bool, now time.Time) (string, error) {
	if path == "" {
		path = TimestampedName(now)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidOutputPath, err)
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil && info.IsDir():
		abs = filepath.Join(abs, DefaultFileName)
		info, err = os.Stat(abs)
		if err == nil {
			return checkExisting(abs, info, force)
		}
	case err == nil:
		return checkExisting(abs, info, force)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %w", ErrInvalidOutputPath, err)
	}

	parent, err := os.Stat(filepath.Dir(abs))
	if err != nil || !parent.IsDir() {
		return "", fmt.Errorf("%w: directory %s does not exist", ErrInvalidOutputPath, filepath.Dir(abs))
	}
	return abs, nil
}

func checkExisting(path string, info os.FileInfo, force bool) (string, error) {
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidOutputPath, path)
	}
	if !force {
		return path, fmt.Errorf("%w: %s", ErrOutputExists, path)
	}
	return path, nil
}
