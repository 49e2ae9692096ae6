package sandbox

import (
	"strings"

	"github.com/glassboxhq/glassbox/internal/manifest"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// extensionGuesses is the resolver's extension search order.
var extensionGuesses = []string{".js", ".ts", ".jsx", ".tsx", ".json"}

// indexGuesses is the directory-entry search order.
var indexGuesses = []string{"index.js", "index.ts", "index.jsx", "index.tsx", "index.json"}

// Resolve maps a specifier to a normalized absolute path: exact path, then
// extension guesses, then directory index/manifest entry, then node_modules
// walk-up for bare specifiers.
func (l *Loader) Resolve(fromDir, specifier string) (string, error) {
	if specifier == "" {
		return "", &ResolveError{Specifier: specifier, From: fromDir}
	}

	if strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") {
		abs := vpath.Resolve("/", fromDir, specifier)
		if resolved, ok := l.resolveFile(abs); ok {
			return resolved, nil
		}
		return "", &ResolveError{Specifier: specifier, From: fromDir}
	}

	if resolved, ok := l.resolvePackage(fromDir, specifier); ok {
		return resolved, nil
	}
	return "", &ResolveError{Specifier: specifier, From: fromDir}
}

// resolveFile tries abs as a file, with extension guesses, then as a
// directory (manifest entry point, then index files).
func (l *Loader) resolveFile(abs string) (string, bool) {
	if info, err := l.rt.fs.Stat(abs); err == nil && !info.IsDir {
		return abs, true
	}
	for _, ext := range extensionGuesses {
		guess := abs + ext
		if info, err := l.rt.fs.Stat(guess); err == nil && !info.IsDir {
			return guess, true
		}
	}
	if info, err := l.rt.fs.Stat(abs); err == nil && info.IsDir {
		return l.resolveDirectory(abs)
	}
	return "", false
}

// resolveDirectory resolves a directory to its entry file: the manifest's
// declared entry (with browser override honored) ahead of index guesses.
func (l *Loader) resolveDirectory(dir string) (string, bool) {
	if pkg, ok := l.readManifest(dir); ok {
		entry := pkg.EntryPoint()
		if entry != "" {
			target := vpath.Join(dir, entry)
			if resolved, ok := l.resolveEntryTarget(target); ok {
				return resolved, true
			}
		}
	}
	for _, name := range indexGuesses {
		guess := vpath.Join(dir, name)
		if info, err := l.rt.fs.Stat(guess); err == nil && !info.IsDir {
			return guess, true
		}
	}
	return "", false
}

// resolveEntryTarget resolves a manifest-declared entry, which may itself
// omit an extension or name a directory.
func (l *Loader) resolveEntryTarget(target string) (string, bool) {
	if info, err := l.rt.fs.Stat(target); err == nil && !info.IsDir {
		return target, true
	}
	for _, ext := range extensionGuesses {
		guess := target + ext
		if info, err := l.rt.fs.Stat(guess); err == nil && !info.IsDir {
			return guess, true
		}
	}
	if info, err := l.rt.fs.Stat(target); err == nil && info.IsDir {
		for _, name := range indexGuesses {
			guess := vpath.Join(target, name)
			if inner, err := l.rt.fs.Stat(guess); err == nil && !inner.IsDir {
				return guess, true
			}
		}
	}
	return "", false
}

// resolvePackage walks node_modules directories from fromDir to the root
// looking for a bare specifier's package, resolving subpaths through the
// export map and the browser field.
func (l *Loader) resolvePackage(fromDir, specifier string) (string, bool) {
	name, subpath := splitSpecifier(specifier)

	dir := vpath.Resolve("/", fromDir)
	for {
		pkgRoot := vpath.Join(dir, "node_modules", name)
		if info, err := l.rt.fs.Stat(pkgRoot); err == nil && info.IsDir {
			if resolved, ok := l.resolveInPackage(pkgRoot, subpath); ok {
				return resolved, true
			}
		}
		if dir == "/" {
			return "", false
		}
		dir = vpath.Dirname(dir)
	}
}

// splitSpecifier separates a bare specifier into package name and subpath,
// keeping scoped names ("@scope/pkg/sub") intact.
func splitSpecifier(specifier string) (name, subpath string) {
	parts := strings.Split(specifier, "/")
	nameLen := 1
	if strings.HasPrefix(specifier, "@") && len(parts) > 1 {
		nameLen = 2
	}
	name = strings.Join(parts[:nameLen], "/")
	if len(parts) > nameLen {
		subpath = "./" + strings.Join(parts[nameLen:], "/")
	} else {
		subpath = "."
	}
	return name, subpath
}

// resolveInPackage resolves a subpath inside a package root. Precedence for
// the root entry: export map, then browser override, then module/main. For
// subpaths: export map, then browser object mapping, then the raw path.
func (l *Loader) resolveInPackage(pkgRoot, subpath string) (string, bool) {
	pkg, hasManifest := l.readManifest(pkgRoot)

	if hasManifest {
		if target, ok := pkg.ResolveExport(subpath, nil); ok {
			return l.resolveEntryTarget(vpath.Join(pkgRoot, target))
		}
		if target, ignored, ok := pkg.BrowserOverride(subpath); ok {
			if ignored {
				return "", false
			}
			return l.resolveEntryTarget(vpath.Join(pkgRoot, target))
		}
		if subpath == "." {
			return l.resolveEntryTarget(vpath.Join(pkgRoot, pkg.EntryPoint()))
		}
	}

	if subpath == "." {
		return l.resolveDirectory(pkgRoot)
	}
	return l.resolveFile(vpath.Join(pkgRoot, subpath))
}

// readManifest parses dir/package.json when present.
func (l *Loader) readManifest(dir string) (*manifest.PackageJSON, bool) {
	data, err := l.rt.fs.Read(vpath.Join(dir, "package.json"))
	if err != nil {
		return nil, false
	}
	pkg, err := manifest.Parse(data)
	if err != nil {
		return nil, false
	}
	return pkg, true
}
