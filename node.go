package blobtree

import "time"

// NodeKind tags the variant held by a [Node].
type NodeKind int

const (
	FileKind NodeKind = iota + 1
	FolderKind
)

func (k NodeKind) String() string {
	switch k {
	case FileKind:
		return "file"
	case FolderKind:
		return "folder"
	}
	return "node"
}

// FileNode is a stored blob seen as a file.
type FileNode struct {
	ID          string
	Name        string
	Path        Path
	Size        int64
	ModifiedAt  time.Time
	ContentType string
	URL         string
	// MetaUnknown marks entries the classifier could not decide on with
	// confidence. They are treated as files until proven otherwise.
	MetaUnknown bool
}

// FolderNode is derived from the keys under its path and is never stored.
type FolderNode struct {
	Name string
	Path Path
}

// Node holds exactly one of File or Folder, selected by Kind.
type Node struct {
	Kind   NodeKind
	File   *FileNode
	Folder *FolderNode
}

// NewFileNode wraps f as a Node.
func NewFileNode(f FileNode) Node {
	return Node{Kind: FileKind, File: &f}
}

// NewFolderNode returns the folder node for p.
func NewFolderNode(p Path) Node {
	return Node{Kind: FolderKind, Folder: &FolderNode{Name: p.Name(), Path: p}}
}

func (n Node) IsFile() bool   { return n.Kind == FileKind }
func (n Node) IsFolder() bool { return n.Kind == FolderKind }

// Name returns the node's last path segment.
func (n Node) Name() string {
	switch n.Kind {
	case FileKind:
		return n.File.Name
	case FolderKind:
		return n.Folder.Name
	}
	return ""
}

// Path returns the node's full path.
func (n Node) Path() Path {
	switch n.Kind {
	case FileKind:
		return n.File.Path
	case FolderKind:
		return n.Folder.Path
	}
	return Root
}
