package filesystem

import (
	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/util"
)

// Classifier turns a listing entry found at path p into a file or folder
// node. Implementations must be pure: no store calls, no shared state.
type Classifier interface {
	Classify(p blobtree.Path, e blobtree.Entry) blobtree.Node
}

// ClassifierFunc adapts a function to [Classifier].
type ClassifierFunc func(p blobtree.Path, e blobtree.Entry) blobtree.Node

func (f ClassifierFunc) Classify(p blobtree.Path, e blobtree.Entry) blobtree.Node {
	return f(p, e)
}

// DefaultClassifier treats an entry as a folder only when it carries neither
// an ID nor a content type, the shape stores use for common prefixes. An
// entry missing just one of the two is kept as a file flagged MetaUnknown,
// so a zero byte object without a content type is never mistaken for a
// folder.
var DefaultClassifier Classifier = ClassifierFunc(classifyEntry)

func classifyEntry(p blobtree.Path, e blobtree.Entry) blobtree.Node {
	if e.IsVirtualPrefix() {
		return blobtree.NewFolderNode(p)
	}
	return blobtree.NewFileNode(blobtree.FileNode{
		ID:          util.Deref(e.ID, ""),
		Name:        p.Name(),
		Path:        p,
		Size:        util.Deref(e.Size, 0),
		ModifiedAt:  e.ModifiedAt,
		ContentType: util.Deref(e.ContentType, ""),
		MetaUnknown: e.ID == nil || e.ContentType == nil,
	})
}
