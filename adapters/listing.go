package adapters

import (
	"slices"
	"strings"

	"github.com/brettbedarf/blobtree"
)

// listPrefix turns a folder key into the prefix its children's keys share.
func listPrefix(folder string) string {
	if folder == "" {
		return ""
	}
	return strings.TrimSuffix(folder, blobtree.Separator) + blobtree.Separator
}

// splitChild reports the direct child name of key below prefix and whether
// the child is a folder (key continues past it).
func splitChild(prefix, key string) (name string, isFolder bool) {
	rest := key[len(prefix):]
	if i := strings.Index(rest, blobtree.Separator); i >= 0 {
		return rest[:i], true
	}
	return rest, false
}

// folderEntry is the virtual prefix entry for a folder child.
func folderEntry(prefix, name string) blobtree.Entry {
	return blobtree.Entry{Key: prefix + name, Name: name}
}

// sortEntries orders entries by name, folders before files on equal names.
func sortEntries(entries []blobtree.Entry) {
	slices.SortFunc(entries, func(a, b blobtree.Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		switch {
		case a.IsVirtualPrefix() && !b.IsVirtualPrefix():
			return -1
		case !a.IsVirtualPrefix() && b.IsVirtualPrefix():
			return 1
		}
		return 0
	})
}
