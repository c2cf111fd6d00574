// Package artifact writes generated files under a project root and
// bundles the result into a ZIP archive. Every path is policed against
// traversal before anything touches the filesystem.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/artifact-agent/internal/errors"
	"github.com/p-blackswan/artifact-agent/internal/project"
)

// textExtensions is the whitelist of file extensions allowed in
// generated output. Binary artifacts are forbidden.
var textExtensions = map[string]bool{
	".py": true, ".txt": true, ".md": true, ".rst": true,
	".html": true, ".htm": true, ".css": true, ".js": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".cfg": true, ".ini": true, ".csv": true, ".env": true,
	".sh": true, ".sql": true, ".svg": true, ".xml": true,
	"": true, // extensionless files like Makefile, Procfile
}

// Materializer writes file sets for one pipeline instance.
type Materializer struct {
	logger zerolog.Logger
}

// NewMaterializer creates a materializer.
func NewMaterializer(logger zerolog.Logger) *Materializer {
	return &Materializer{
		logger: logger.With().Str("component", "artifact").Logger(),
	}
}

// Materialize writes the declared file set under root, atomically per
// file. On repair re-materialization, files already on disk whose paths
// are absent from the new set are retained. Returns digests of the
// written files.
func (m *Materializer) Materialize(root string, files []project.GeneratedFile) ([]project.FileDigest, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create project root: %w", err)
	}

	digests := make([]project.FileDigest, 0, len(files))
	for _, f := range files {
		target, err := securePath(absRoot, f.Path)
		if err != nil {
			return nil, err
		}
		if err := checkContent(f); err != nil {
			return nil, err
		}
		if err := m.writeAtomic(target, f.Content); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.Path, err)
		}
		sum := sha256.Sum256(f.Content)
		digests = append(digests, project.FileDigest{
			Path:   f.Path,
			SHA256: hex.EncodeToString(sum[:]),
		})
	}

	m.logger.Debug().Str("root", absRoot).Int("files", len(files)).Msg("file set materialized")
	return digests, nil
}

// securePath resolves rel under absRoot and rejects anything that
// escapes the root, including symlinked intermediate directories.
func securePath(absRoot, rel string) (string, error) {
	normalized := project.NormalizePath(rel)
	if normalized == "" {
		return "", perrors.NewPipelineError(perrors.KindPathTraversal, "materializing",
			fmt.Sprintf("invalid path %q", rel), perrors.ErrPathTraversal)
	}

	target := filepath.Join(absRoot, filepath.FromSlash(normalized))
	if !strings.HasPrefix(target, absRoot+string(filepath.Separator)) {
		return "", perrors.NewPipelineError(perrors.KindPathTraversal, "materializing",
			fmt.Sprintf("path %q escapes project root", rel), perrors.ErrPathTraversal)
	}

	// Walk existing ancestors for symlink escapes.
	dir := filepath.Dir(target)
	for probe := dir; strings.HasPrefix(probe, absRoot); probe = filepath.Dir(probe) {
		info, err := os.Lstat(probe)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", probe, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(probe)
			if err != nil {
				return "", fmt.Errorf("resolve symlink %s: %w", probe, err)
			}
			if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
				return "", perrors.NewPipelineError(perrors.KindPathTraversal, "materializing",
					fmt.Sprintf("path %q resolves outside project root via symlink", rel), perrors.ErrPathTraversal)
			}
		}
	}
	return target, nil
}

func checkContent(f project.GeneratedFile) error {
	ext := strings.ToLower(filepath.Ext(f.Path))
	if !textExtensions[ext] {
		return fmt.Errorf("file %s: extension %q is not an allowed text type", f.Path, ext)
	}
	if !utf8.Valid(f.Content) {
		return fmt.Errorf("file %s: content is not valid UTF-8", f.Path)
	}
	return nil
}

// writeAtomic writes to a temporary name in the target directory,
// fsyncs, then renames into place.
func (m *Materializer) writeAtomic(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}
