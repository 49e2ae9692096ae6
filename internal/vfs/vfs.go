package vfs

import (
	"sync"
	"time"

	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// EventOp classifies a tree mutation for subscribers.
type EventOp int

const (
	OpWrite EventOp = iota
	OpRemove
	OpRename
	OpMkdir
)

// Event is delivered synchronously to subscribers after a mutation commits.
type Event struct {
	Op      EventOp
	Path    string
	OldPath string // set for renames
}

// WriteOptions controls Write behavior.
type WriteOptions struct {
	// Recursive creates missing parent directories; without it a write under
	// a missing parent fails with ENOENT.
	Recursive  bool
	Executable bool
}

// RemoveOptions controls Rm behavior.
type RemoveOptions struct {
	Recursive bool
	// Force suppresses ENOENT for missing targets.
	Force bool
}

// FS is the in-memory tree. All methods normalize their path arguments and
// take effect immediately; a coarse mutex keeps individual operations atomic.
type FS struct {
	mu          sync.Mutex
	root        *node
	now         func() time.Time
	subscribers map[int]func(Event)
	nextSub     int
}

// New returns an empty filesystem containing only the root directory.
func New() *FS {
	fs := &FS{now: time.Now, subscribers: make(map[int]func(Event))}
	fs.root = newDir(fs.now())
	return fs
}

// Subscribe registers a mutation listener and returns a cancel function
// that removes it. Listeners run synchronously on the mutating goroutine
// after the tree change commits and must not call back into mutating
// operations.
func (fs *FS) Subscribe(fn func(Event)) func() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := fs.nextSub
	fs.nextSub++
	fs.subscribers[id] = fn
	return func() {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		delete(fs.subscribers, id)
	}
}

func (fs *FS) emit(ev Event) {
	fs.mu.Lock()
	fns := make([]func(Event), 0, len(fs.subscribers))
	for _, fn := range fs.subscribers {
		fns = append(fns, fn)
	}
	fs.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Resolve joins base and relative into a normalized absolute path.
func (fs *FS) Resolve(base, relative string) string {
	return vpath.Resolve("/", base, relative)
}

// lookup walks to the node at path, following aliases along the way when
// follow is set. The final segment's alias is followed only when follow is
// set (stat vs lstat).
func (fs *FS) lookup(path string, follow bool) (*node, error) {
	return fs.lookupDepth(path, follow, 0)
}

func (fs *FS) lookupDepth(path string, follow bool, depth int) (*node, error) {
	if depth > 16 {
		return nil, newError(CodeInvalid, "lookup", path)
	}
	segments := vpath.Split(path)
	cur := fs.root
	for i, seg := range segments {
		if cur.kind != KindDir {
			return nil, newError(CodeNotDir, "lookup", path)
		}
		next, ok := cur.child(seg)
		if !ok {
			return nil, newError(CodeNotFound, "lookup", path)
		}
		last := i == len(segments)-1
		if next.kind == KindAlias && (follow || !last) {
			resolved, err := fs.lookupDepth(next.target, true, depth+1)
			if err != nil {
				return nil, err
			}
			next = resolved
		}
		cur = next
	}
	return cur, nil
}

// parentOf returns the directory containing path plus the final segment
// name. The root itself has no parent.
func (fs *FS) parentOf(path, op string) (*node, string, error) {
	norm := vpath.Resolve("/", path)
	if norm == "/" {
		return nil, "", newError(CodeInvalid, op, path)
	}
	dir, err := fs.lookup(vpath.Dirname(norm), true)
	if err != nil {
		return nil, "", err
	}
	if dir.kind != KindDir {
		return nil, "", newError(CodeNotDir, op, path)
	}
	return dir, vpath.Basename(norm), nil
}

// Read returns a copy of the file content at path.
func (fs *FS) Read(path string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(path, true)
	if err != nil {
		return nil, err
	}
	if n.kind == KindDir {
		return nil, newError(CodeIsDir, "read", path)
	}
	out := make([]byte, len(n.content))
	copy(out, n.content)
	return out, nil
}

// Write stores data at path, replacing any existing file. Missing parents
// fail with ENOENT unless opts.Recursive is set.
func (fs *FS) Write(path string, data []byte, opts WriteOptions) error {
	fs.mu.Lock()
	norm := vpath.Resolve("/", path)
	if norm == "/" {
		fs.mu.Unlock()
		return newError(CodeIsDir, "write", path)
	}

	if opts.Recursive {
		if err := fs.mkdirLocked(vpath.Dirname(norm), true); err != nil && CodeOf(err) != CodeExists {
			fs.mu.Unlock()
			return err
		}
	}

	dir, name, err := fs.parentOf(norm, "write")
	if err != nil {
		fs.mu.Unlock()
		return err
	}
	if existing, ok := dir.child(name); ok && existing.kind == KindDir {
		fs.mu.Unlock()
		return newError(CodeIsDir, "write", path)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	dir.attach(name, newFile(stored, opts.Executable, fs.now()))
	dir.mtime = fs.now()
	fs.mu.Unlock()

	fs.emit(Event{Op: OpWrite, Path: norm})
	return nil
}

// Mkdir creates a directory. With recursive set, missing ancestors are
// created and an existing directory is not an error.
func (fs *FS) Mkdir(path string, recursive bool) error {
	fs.mu.Lock()
	err := fs.mkdirLocked(path, recursive)
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	fs.emit(Event{Op: OpMkdir, Path: vpath.Resolve("/", path)})
	return nil
}

func (fs *FS) mkdirLocked(path string, recursive bool) error {
	norm := vpath.Resolve("/", path)
	if norm == "/" {
		if recursive {
			return nil
		}
		return newError(CodeExists, "mkdir", path)
	}

	segments := vpath.Split(norm)
	cur := fs.root
	for i, seg := range segments {
		last := i == len(segments)-1
		next, ok := cur.child(seg)
		switch {
		case ok && next.kind == KindDir:
			if last && !recursive {
				return newError(CodeExists, "mkdir", path)
			}
		case ok:
			return newError(CodeNotDir, "mkdir", path)
		case last || recursive:
			next = newDir(fs.now())
			cur.attach(seg, next)
		default:
			return newError(CodeNotFound, "mkdir", path)
		}
		cur = next
	}
	return nil
}

// Readdir lists the entries of a directory in insertion order.
func (fs *FS) Readdir(path string) ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(path, true)
	if err != nil {
		return nil, err
	}
	if n.kind != KindDir {
		return nil, newError(CodeNotDir, "readdir", path)
	}
	entries := make([]DirEntry, 0, len(n.order))
	for _, name := range n.order {
		c := n.children[name]
		entries = append(entries, DirEntry{Name: name, IsDir: c.kind == KindDir, Kind: c.kind})
	}
	return entries, nil
}

// Stat describes the node at path, following aliases.
func (fs *FS) Stat(path string) (Info, error) {
	return fs.stat(path, true)
}

// Lstat describes the node at path without following a final alias.
func (fs *FS) Lstat(path string) (Info, error) {
	return fs.stat(path, false)
}

func (fs *FS) stat(path string, follow bool) (Info, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	norm := vpath.Resolve("/", path)
	n, err := fs.lookup(norm, follow)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Name:       vpath.Basename(norm),
		Path:       norm,
		Kind:       n.kind,
		Size:       len(n.content),
		IsDir:      n.kind == KindDir,
		Executable: n.executable,
		ModTime:    n.mtime,
		Target:     n.target,
	}, nil
}

// Rm removes the node at path. Directories require opts.Recursive unless
// empty; a missing target fails with ENOENT unless opts.Force is set.
func (fs *FS) Rm(path string, opts RemoveOptions) error {
	fs.mu.Lock()
	norm := vpath.Resolve("/", path)

	dir, name, err := fs.parentOf(norm, "rm")
	if err != nil {
		fs.mu.Unlock()
		if opts.Force && IsNotFound(err) {
			return nil
		}
		return err
	}
	target, ok := dir.child(name)
	if !ok {
		fs.mu.Unlock()
		if opts.Force {
			return nil
		}
		return newError(CodeNotFound, "rm", path)
	}
	if target.kind == KindDir && len(target.children) > 0 && !opts.Recursive {
		fs.mu.Unlock()
		return newError(CodeNotEmpty, "rm", path)
	}

	dir.detach(name)
	dir.mtime = fs.now()
	fs.mu.Unlock()

	fs.emit(Event{Op: OpRemove, Path: norm})
	return nil
}

// Rename moves a node, replacing any existing file at the destination.
func (fs *FS) Rename(oldPath, newPath string) error {
	fs.mu.Lock()
	oldNorm := vpath.Resolve("/", oldPath)
	newNorm := vpath.Resolve("/", newPath)

	srcDir, srcName, err := fs.parentOf(oldNorm, "rename")
	if err != nil {
		fs.mu.Unlock()
		return err
	}
	moving, ok := srcDir.child(srcName)
	if !ok {
		fs.mu.Unlock()
		return newError(CodeNotFound, "rename", oldPath)
	}
	dstDir, dstName, err := fs.parentOf(newNorm, "rename")
	if err != nil {
		fs.mu.Unlock()
		return err
	}
	if existing, ok := dstDir.child(dstName); ok && existing.kind == KindDir {
		fs.mu.Unlock()
		return newError(CodeIsDir, "rename", newPath)
	}

	srcDir.detach(srcName)
	dstDir.attach(dstName, moving)
	moving.mtime = fs.now()
	fs.mu.Unlock()

	fs.emit(Event{Op: OpRename, Path: newNorm, OldPath: oldNorm})
	return nil
}

// Alias creates a symlink-like node at path pointing at target.
func (fs *FS) Alias(path, target string) error {
	fs.mu.Lock()
	norm := vpath.Resolve("/", path)
	dir, name, err := fs.parentOf(norm, "alias")
	if err != nil {
		fs.mu.Unlock()
		return err
	}
	n := &node{kind: KindAlias, target: vpath.Resolve("/", target), mtime: fs.now()}
	dir.attach(name, n)
	fs.mu.Unlock()

	fs.emit(Event{Op: OpWrite, Path: norm})
	return nil
}

// Exists reports whether a node is present at path.
func (fs *FS) Exists(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.lookup(path, true)
	return err == nil
}
