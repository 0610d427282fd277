package filesystem

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brettbedarf/blobtree"
)

// list returns every direct child of folder, the placeholder included,
// classified and sorted by name. Entries whose name is not a valid segment
// are skipped.
func (fs *FileSystem) list(ctx context.Context, folder blobtree.Path) ([]blobtree.Node, error) {
	var entries []blobtree.Entry
	err := fs.retry.read(ctx, storeOpList, folder.Key(), func(ctx context.Context) error {
		var err error
		entries, err = fs.store.List(ctx, folder.Key())
		return err
	})
	if err != nil {
		return nil, err
	}

	nodes := make([]blobtree.Node, 0, len(entries))
	for _, e := range entries {
		p, err := folder.Child(e.Name)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", e.Key).Msg("Skipping entry with unusable name")
			continue
		}
		n := fs.classifier.Classify(p, e)
		if n.IsFile() {
			n.File.URL = fs.store.PublicURL(p.Key())
		}
		nodes = append(nodes, n)
	}
	slices.SortStableFunc(nodes, func(a, b blobtree.Node) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return nodes, nil
}

// isPlaceholder reports whether n is the placeholder blob of its folder.
func isPlaceholder(n blobtree.Node) bool {
	return n.IsFile() && n.Name() == blobtree.PlaceholderName
}

// ListChildren returns the files and folders directly below path. A folder
// that does not exist has no children; use [FileSystem.Exists] to tell the
// two apart.
func (fs *FileSystem) ListChildren(ctx context.Context, path blobtree.Path) ([]blobtree.Node, error) {
	ctx, op := fs.begin(ctx, opListChildren, path)
	nodes, err := fs.listChildren(ctx, path)
	op.end(nil, err)
	return nodes, err
}

func (fs *FileSystem) listChildren(ctx context.Context, path blobtree.Path) ([]blobtree.Node, error) {
	nodes, err := fs.list(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	return slices.DeleteFunc(nodes, isPlaceholder), nil
}

// descendants walks the tree below root breadth first and returns every
// file under it, nested placeholders included. The placeholder of root
// itself is reported separately. Any listing error aborts the walk; a
// partial set is never returned.
func (fs *FileSystem) descendants(ctx context.Context, root blobtree.Path) (files []blobtree.FileNode, rootPlaceholder bool, err error) {
	queue := []blobtree.Path{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		folder := queue[0]
		queue = queue[1:]

		nodes, err := fs.list(ctx, folder)
		if err != nil {
			return nil, false, fmt.Errorf("resolve %s: %w", folder, err)
		}
		for _, n := range nodes {
			switch {
			case n.IsFolder():
				queue = append(queue, n.Path())
			case folder.Equal(root) && isPlaceholder(n):
				rootPlaceholder = true
			default:
				files = append(files, *n.File)
			}
		}
	}
	return files, rootPlaceholder, nil
}

// ResolveDescendantKeys returns the key of every blob below path, nested
// folder placeholders included but not the placeholder of path itself. An
// empty or missing folder yields an empty slice.
func (fs *FileSystem) ResolveDescendantKeys(ctx context.Context, path blobtree.Path) ([]blobtree.BlobKey, error) {
	ctx, op := fs.begin(ctx, opResolve, path)
	files, _, err := fs.descendants(ctx, path)
	op.end(nil, err)
	if err != nil {
		return nil, err
	}
	return fileKeys(files), nil
}

func fileKeys(files []blobtree.FileNode) []blobtree.BlobKey {
	keys := make([]blobtree.BlobKey, len(files))
	for i, f := range files {
		keys[i] = f.Path.Key()
	}
	return keys
}

// Exists reports whether path is an existing folder: it has at least one
// child or its own placeholder. The root always exists.
func (fs *FileSystem) Exists(ctx context.Context, path blobtree.Path) (bool, error) {
	ctx, op := fs.begin(ctx, opExists, path)
	ok, err := fs.exists(ctx, path)
	op.end(nil, err)
	return ok, err
}

func (fs *FileSystem) exists(ctx context.Context, path blobtree.Path) (bool, error) {
	if path.IsRoot() {
		return true, nil
	}
	nodes, err := fs.list(ctx, path)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", path, err)
	}
	// the placeholder is one of the listed children
	return len(nodes) > 0, nil
}

// lookup finds what occupies path in its parent's listing. A file and a
// folder may share a name in a flat store; both are returned.
func (fs *FileSystem) lookup(ctx context.Context, path blobtree.Path) (file, folder *blobtree.Node, err error) {
	nodes, err := fs.list(ctx, path.Parent())
	if err != nil {
		return nil, nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	name := path.Name()
	i, _ := slices.BinarySearchFunc(nodes, name, func(n blobtree.Node, name string) int {
		return strings.Compare(n.Name(), name)
	})
	for ; i < len(nodes) && nodes[i].Name() == name; i++ {
		n := nodes[i]
		if n.IsFolder() {
			folder = &n
		} else {
			file = &n
		}
	}
	return file, folder, nil
}
