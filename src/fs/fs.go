// Package fs is the out-of-scope filesystem contract (spec §6): a
// path is a byte string split on '/', root is "/", and opening a path
// yields a file exposing sequential byte reads. This is a minimal
// in-memory tree populated once at boot from an initrd-style blob,
// not a block-backed filesystem — ufs/mkfs/fs-super and friends from
// the teacher are not ported (see the grounding ledger). Grounded on
// ustr.Components for path splitting and the teacher's fs package's
// path-walk structure; directory entries are stored in a
// hashtable.Hashtable_t (kept from the teacher's lock-free-read table,
// already supporting string keys) rather than a builtin map.
package fs

import (
	"sync"

	"defs"
	"fdops"
	"hashtable"
	"ustr"
)

// dirBuckets is the bucket count for every directory's child table.
// Directories in this stub hold a handful of entries at most (initrd
// contents), so a small fixed size is plenty.
const dirBuckets = 8

type node struct {
	data     []byte
	children *hashtable.Hashtable_t
}

func newDir() *node { return &node{children: hashtable.MkHash(dirBuckets)} }

func (n *node) isDir() bool { return n.children != nil }

func (n *node) lookup(name string) (*node, bool) {
	v, ok := n.children.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*node), true
}

// Tree is an in-memory filesystem tree.
type Tree struct {
	mu   sync.Mutex
	root *node
}

// New returns an empty Tree containing only the root directory.
func New() *Tree {
	return &Tree{root: newDir()}
}

// Install places data at path, creating any missing parent
// directories. Used at boot to populate the tree from an initrd
// image; not exposed to user code. Installing the same path twice
// keeps the first value, matching the underlying hashtable's
// insert-if-absent Set semantics.
func (t *Tree) Install(path ustr.Ustr, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	comps := path.Components()
	if len(comps) == 0 {
		panic("fs: cannot install at root")
	}
	cur := t.root
	for _, c := range comps[:len(comps)-1] {
		name := c.String()
		next, ok := cur.lookup(name)
		if !ok {
			next = newDir()
			cur.children.Set(name, next)
		}
		cur = next
	}
	leaf := comps[len(comps)-1].String()
	if _, exists := cur.lookup(leaf); !exists {
		cur.children.Set(leaf, &node{data: data})
	}
}

// Open resolves path to a file (spec §6 OpenFile), returning NoFile if
// any component is missing or if path names a directory.
func (t *Tree) Open(path ustr.Ustr) (fdops.File_i, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.root
	for _, c := range path.Components() {
		if !cur.isDir() {
			return nil, defs.NoFile
		}
		next, ok := cur.lookup(c.String())
		if !ok {
			return nil, defs.NoFile
		}
		cur = next
	}
	if cur.isDir() {
		return nil, defs.NoFile
	}
	return &File{data: cur.data}, defs.OK
}

// File is a sequential, read-only view of one tree node's bytes.
type File struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

// Read implements fdops.File_i: sequential reads advance an internal
// cursor, returning 0 bytes (no error) at end of file.
func (f *File) Read(dst []uint8) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.data) {
		return 0, defs.OK
	}
	n := copy(dst, f.data[f.pos:])
	f.pos += n
	return n, defs.OK
}

// Write always fails: this tree is populated only at boot.
func (f *File) Write(src []uint8) (int, defs.Err_t) {
	return 0, defs.IoError
}

func (f *File) Close() {}
