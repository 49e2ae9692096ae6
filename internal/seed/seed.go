// Package seed loads an on-disk project tree into the virtual filesystem,
// so real projects can run inside the emulated runtime.
package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/vfs"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// Options configures a seeding pass.
type Options struct {
	FS     *vfs.FS
	Logger *logging.Logger

	// Source is the on-disk directory to load.
	Source string

	// Target is the virtual directory receiving the tree; defaults to /.
	Target string

	// Ignore lists glob patterns (relative to Source) to skip. Defaults
	// cover dependency and VCS directories.
	Ignore []string

	// MaxFileSize skips files larger than this many bytes; zero means the
	// 8 MiB default.
	MaxFileSize int64
}

var defaultIgnore = []string{"node_modules/**", ".git/**", "dist/**", "build/**"}

const defaultMaxFileSize = 8 << 20

// Result summarizes a seeding pass.
type Result struct {
	Files   int
	Skipped int
	Bytes   int64
}

// Load copies the source tree into the virtual filesystem. Individual file
// failures are skipped and counted; only a broken walk aborts the pass.
func Load(ctx context.Context, opts Options) (*Result, error) {
	if opts.FS == nil {
		return nil, fmt.Errorf("seed: filesystem is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log = log.Named("seed")

	source, err := filepath.Abs(opts.Source)
	if err != nil {
		return nil, fmt.Errorf("seed: resolve source: %w", err)
	}
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("seed: source %s is not a directory", opts.Source)
	}
	target := opts.Target
	if target == "" {
		target = "/"
	}
	ignore := opts.Ignore
	if ignore == nil {
		ignore = defaultIgnore
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	var mu sync.Mutex
	res := &Result{}

	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, source, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}

		rel, relErr := filepath.Rel(source, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		for _, pattern := range ignore {
			if ok, merr := doublestar.Match(pattern, rel); merr == nil && ok {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if info.Size() > maxSize {
			mu.Lock()
			res.Skipped++
			mu.Unlock()
			log.Debug("skipping oversized file", zap.String("path", rel), zap.Int64("size", info.Size()))
			return nil
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			mu.Lock()
			res.Skipped++
			mu.Unlock()
			log.Warn("skipping unreadable file", zap.String("path", rel), zap.Error(rerr))
			return nil
		}

		dest := vpath.Join(target, rel)
		executable := info.Mode()&0o111 != 0
		werr := opts.FS.Write(dest, data, vfs.WriteOptions{Recursive: true, Executable: executable})

		mu.Lock()
		defer mu.Unlock()
		if werr != nil {
			res.Skipped++
			log.Warn("skipping unwritable file", zap.String("path", dest), zap.Error(werr))
			return nil
		}
		res.Files++
		res.Bytes += int64(len(data))
		return nil
	})
	if walkErr != nil {
		return res, fmt.Errorf("seed: walk %s: %w", opts.Source, walkErr)
	}

	log.Info("seeded project",
		zap.String("source", source),
		zap.String("target", target),
		zap.Int("files", res.Files),
		zap.Int("skipped", res.Skipped),
		zap.Int64("bytes", res.Bytes))
	return res, nil
}

// ProjectName guesses a project name from the source directory.
func ProjectName(source string) string {
	base := filepath.Base(strings.TrimRight(source, string(filepath.Separator)))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "project"
	}
	return base
}
