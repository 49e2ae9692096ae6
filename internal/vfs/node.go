package vfs

import "time"

// Kind discriminates node types in the tree.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindAlias
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	case KindAlias:
		return "alias"
	default:
		return "unknown"
	}
}

// node is a single entry in the tree. A directory keeps its children in a
// map plus an insertion-order slice so readdir output is stable.
type node struct {
	kind       Kind
	content    []byte
	target     string // alias destination, absolute
	executable bool
	mtime      time.Time

	children map[string]*node
	order    []string
}

func newDir(now time.Time) *node {
	return &node{kind: KindDir, children: make(map[string]*node), mtime: now}
}

func newFile(data []byte, executable bool, now time.Time) *node {
	return &node{kind: KindFile, content: data, executable: executable, mtime: now}
}

func (n *node) child(name string) (*node, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *node) attach(name string, child *node) {
	if _, exists := n.children[name]; !exists {
		n.order = append(n.order, name)
	}
	n.children[name] = child
}

func (n *node) detach(name string) {
	if _, exists := n.children[name]; !exists {
		return
	}
	delete(n.children, name)
	for i, existing := range n.order {
		if existing == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Info describes a node, the stat/lstat result shape.
type Info struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Kind       Kind      `json:"-"`
	Size       int       `json:"size"`
	IsDir      bool      `json:"is_dir"`
	Executable bool      `json:"executable"`
	ModTime    time.Time `json:"mtime"`
	Target     string    `json:"target,omitempty"`
}

// DirEntry is one readdir result.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Kind  Kind   `json:"-"`
}
