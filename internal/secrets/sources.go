package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Source kinds.
const (
	KindKeyVault = "keyvault"
	KindEnv      = "env"
	KindFile     = "file"
)

// EnvSource reads secrets from environment variables named by EnvName.
type EnvSource struct{}

// Fetch implements Source.
func (EnvSource) Fetch(_ context.Context, name string) (string, error) {
	if v, ok := lookupEnv(name); ok {
		return v, nil
	}
	return "", notFound(name)
}

// Ping implements Source. The environment is always readable.
func (EnvSource) Ping(context.Context) error { return nil }

// Kind implements Source.
func (EnvSource) Kind() string { return KindEnv }

// FileSource reads one secret per file from a directory, the layout used by
// the Secrets Store CSI driver.
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Fetch implements Source. Trailing newlines are stripped.
func (s *FileSource) Fetch(_ context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", notFound(name)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", notFound(name)
		}
		return "", unavailable(name, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Ping implements Source by checking the directory is readable.
func (s *FileSource) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecretStoreUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSecretStoreUnavailable, s.dir)
	}
	return nil
}

// Kind implements Source.
func (s *FileSource) Kind() string { return KindFile }
