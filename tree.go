package bar

import (
	"iter"
)

// Kind discriminates files from directories. The values match the FILE and
// DIR header keys.
type Kind uint8

const (
	KindFile Kind = Kind(keyFile)
	KindDir  Kind = Kind(keyDir)
)

// String returns "file" or "dir".
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}

// Entry is a node of the archive tree: a *File or a *Directory.
type Entry interface {
	// Kind reports whether the entry is a file or a directory.
	Kind() Kind
	// Metadata returns the entry's descriptive fields.
	Metadata() Meta

	isEntry()
}

// File is a leaf of the archive tree.
//
// Offset, Size and Method describe the stored blob and are filled in by
// Build; values set by the caller are ignored when writing.
type File struct {
	Meta   Meta
	Offset uint64 // start of the blob within the data section
	Size   uint32 // stored (compressed and encrypted) length
	Method Method // compression applied to the blob

	content  Content
	override *Method
}

// FileOption configures a File created by NewFile.
type FileOption func(*File)

// FileWithMethod compresses the file with m regardless of the archive
// default and any skip predicates.
func FileWithMethod(m Method) FileOption {
	return func(f *File) {
		f.override = &m
	}
}

// NewFile returns a file whose bytes are read from content at build time.
// A nil content stores an empty file.
func NewFile(meta Meta, content Content, opts ...FileOption) *File {
	if content == nil {
		content = emptyContent
	}
	f := &File{Meta: meta, content: content}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns KindFile.
func (f *File) Kind() Kind { return KindFile }

// Metadata returns the file's descriptive fields.
func (f *File) Metadata() Meta { return f.Meta }

func (f *File) isEntry() {}

func (f *File) clone() *File {
	cp := *f
	cp.Meta = f.Meta.clone()
	if f.override != nil {
		m := *f.override
		cp.override = &m
	}
	return &cp
}

// Directory is an interior node of the archive tree. Children keep their
// insertion order and sibling names are unique.
type Directory struct {
	Meta Meta

	children []Entry
	index    map[string]int
}

// NewDirectory returns an empty directory.
func NewDirectory(meta Meta) *Directory {
	return &Directory{Meta: meta, index: make(map[string]int)}
}

// Kind returns KindDir.
func (d *Directory) Kind() Kind { return KindDir }

// Metadata returns the directory's descriptive fields.
func (d *Directory) Metadata() Meta { return d.Meta }

func (d *Directory) isEntry() {}

// Len returns the number of children.
func (d *Directory) Len() int { return len(d.children) }

// Entries returns the children in insertion order.
func (d *Directory) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range d.children {
			if !yield(e) {
				return
			}
		}
	}
}

// Child returns the child with the given name.
func (d *Directory) Child(name string) (Entry, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.children[i], true
}

// Add appends e to the directory. A sibling of either kind with the same
// name fails with ErrNameCollision, as does a directory that contains d.
//
// An entry belongs to one directory; adding it to a second one aliases it.
func (d *Directory) Add(e Entry) error {
	if e == nil {
		return formatErr("insert", "", "", ErrInvalidName, "nil entry")
	}
	name := e.Metadata().Name
	if err := validateName(name); err != nil {
		return formatErr("insert", name, "name", err, "%q", name)
	}
	if sub, ok := e.(*Directory); ok && sub.reaches(d) {
		return formatErr("insert", name, "", ErrNameCollision, "directory would contain itself")
	}
	if existing, ok := d.Child(name); ok {
		return formatErr("insert", name, "name", ErrNameCollision,
			"%s collides with existing %s", e.Kind(), existing.Kind())
	}
	if d.index == nil {
		d.index = make(map[string]int)
	}
	d.index[name] = len(d.children)
	d.children = append(d.children, e)
	return nil
}

// reaches reports whether target is d or lies below it.
func (d *Directory) reaches(target *Directory) bool {
	stack := []*Directory{d}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		for _, e := range cur.children {
			if sub, ok := e.(*Directory); ok {
				stack = append(stack, sub)
			}
		}
	}
	return false
}

func (d *Directory) clone() *Directory {
	cp := NewDirectory(d.Meta.clone())
	cp.children = make([]Entry, len(d.children))
	for i, e := range d.children {
		switch e := e.(type) {
		case *File:
			cp.children[i] = e.clone()
		case *Directory:
			cp.children[i] = e.clone()
		}
		cp.index[e.Metadata().Name] = i
	}
	return cp
}

// Tree is an in-memory archive hierarchy rooted at a directory named "/".
//
// Besides path-addressed insertion, a Tree keeps a construction stack:
// Enter descends into a directory, Add inserts into the current directory
// and Leave returns to the parent.
//
// A Tree is not safe for concurrent mutation.
type Tree struct {
	root  *Directory
	stack []*Directory // directories entered below root
}

// NewTree returns a tree holding only the root directory.
func NewTree() *Tree {
	return &Tree{root: NewDirectory(Meta{Name: rootName})}
}

// newTreeFromRoot wraps an existing root directory.
func newTreeFromRoot(root *Directory) *Tree {
	return &Tree{root: root}
}

// Root returns the root directory.
func (t *Tree) Root() *Directory { return t.root }

// Insert adds e to the directory at path dir.
func (t *Tree) Insert(dir string, e Entry) error {
	d, err := t.directory(dir, "insert")
	if err != nil {
		return err
	}
	if err := d.Add(e); err != nil {
		return withPath(err, joinPath(NormalizePath(dir), e.Metadata().Name))
	}
	return nil
}

// Resolve returns the entry at path. "" and "/" resolve to the root.
func (t *Tree) Resolve(path string) (Entry, bool) {
	var cur Entry = t.root
	for _, seg := range splitPath(path) {
		d, ok := cur.(*Directory)
		if !ok {
			return nil, false
		}
		cur, ok = d.Child(seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// directory resolves path to a directory or fails with ErrNotFound.
func (t *Tree) directory(path, op string) (*Directory, error) {
	e, ok := t.Resolve(path)
	if !ok {
		return nil, formatErr(op, NormalizePath(path), "", ErrNotFound, "no such directory")
	}
	d, ok := e.(*Directory)
	if !ok {
		return nil, formatErr(op, NormalizePath(path), "", ErrNotFound, "not a directory")
	}
	return d, nil
}

// file resolves path to a file or fails with ErrNotFound.
func (t *Tree) file(path, op string) (*File, error) {
	e, ok := t.Resolve(path)
	if !ok {
		return nil, formatErr(op, NormalizePath(path), "", ErrNotFound, "no such file")
	}
	f, ok := e.(*File)
	if !ok {
		return nil, formatErr(op, NormalizePath(path), "", ErrNotFound, "not a file")
	}
	return f, nil
}

// MkdirAll returns the directory at path, creating missing directories.
// A file in the way fails with ErrNameCollision.
func (t *Tree) MkdirAll(path string) (*Directory, error) {
	d := t.root
	cur := ""
	for _, seg := range splitPath(path) {
		cur = joinPath(cur, seg)
		next, err := childDir(d, seg, cur)
		if err != nil {
			return nil, err
		}
		d = next
	}
	return d, nil
}

// childDir returns d's subdirectory name, creating it if absent.
func childDir(d *Directory, name, path string) (*Directory, error) {
	if e, ok := d.Child(name); ok {
		sub, ok := e.(*Directory)
		if !ok {
			return nil, formatErr("mkdir", path, "name", ErrNameCollision, "dir collides with existing file")
		}
		return sub, nil
	}
	sub := NewDirectory(Meta{Name: name})
	if err := d.Add(sub); err != nil {
		return nil, withPath(err, path)
	}
	return sub, nil
}

// current returns the directory at the top of the construction stack.
func (t *Tree) current() *Directory {
	if len(t.stack) == 0 {
		return t.root
	}
	return t.stack[len(t.stack)-1]
}

// Cwd returns the path of the current construction directory.
func (t *Tree) Cwd() string {
	p := ""
	for _, d := range t.stack {
		p = joinPath(p, d.Meta.Name)
	}
	return p
}

// Enter makes the child directory name current, creating it if absent.
func (t *Tree) Enter(name string) error {
	d, err := childDir(t.current(), name, joinPath(t.Cwd(), name))
	if err != nil {
		return err
	}
	t.stack = append(t.stack, d)
	return nil
}

// EnterDir adds d to the current directory and makes it current.
func (t *Tree) EnterDir(d *Directory) error {
	if err := t.Add(d); err != nil {
		return err
	}
	t.stack = append(t.stack, d)
	return nil
}

// Add inserts e into the current construction directory.
func (t *Tree) Add(e Entry) error {
	if err := t.current().Add(e); err != nil {
		if e == nil {
			return err
		}
		return withPath(err, joinPath(t.Cwd(), e.Metadata().Name))
	}
	return nil
}

// Leave returns to the parent of the current directory. Leaving the root
// fails with ErrUnbalancedDirectory.
func (t *Tree) Leave() error {
	if len(t.stack) == 0 {
		return formatErr("leave", "", "", ErrUnbalancedDirectory, "already at root")
	}
	t.stack = t.stack[:len(t.stack)-1]
	return nil
}

// Walk yields every entry below the root with its path, depth first in
// insertion order. Each call starts a new traversal.
func (t *Tree) Walk() iter.Seq2[string, Entry] {
	return walkDir(t.root)
}

// FilePaths yields the path of every file in Walk order.
func (t *Tree) FilePaths() iter.Seq[string] {
	return func(yield func(string) bool) {
		for p, e := range t.Walk() {
			if e.Kind() != KindFile {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Clone returns a deep copy of the tree. File contents are shared; the
// construction stack is reset to the root.
func (t *Tree) Clone() *Tree {
	return newTreeFromRoot(t.root.clone())
}

// walkFrame is one level of the explicit traversal stack.
type walkFrame struct {
	dir  *Directory
	path string
	next int
}

// walkDir traverses below root with an explicit stack.
func walkDir(root *Directory) iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		stack := []walkFrame{{dir: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(top.dir.children) {
				stack = stack[:len(stack)-1]
				continue
			}
			e := top.dir.children[top.next]
			top.next++
			p := joinPath(top.path, e.Metadata().Name)
			if !yield(p, e) {
				return
			}
			if d, ok := e.(*Directory); ok {
				stack = append(stack, walkFrame{dir: d, path: p})
			}
		}
	}
}

// withPath sets the path of a *FormatError produced below the tree API.
func withPath(err error, path string) error {
	if fe, ok := err.(*FormatError); ok {
		cp := *fe
		cp.Path = path
		return &cp
	}
	return err
}
