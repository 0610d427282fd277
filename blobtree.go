// Package blobtree contains the core domain types and interfaces for
// presenting a folder/file tree over a flat blob store.
//
// # Persisted key convention
//
// A file at path a/b/c.pdf is stored under the key "a/b/c.pdf": segments
// joined with "/", no leading or trailing separator. Folders are never stored;
// a folder exists when any key lies below it. An otherwise empty folder is
// kept observable by a placeholder blob whose leaf name is ".folder", e.g.
// "a/b/.folder". Any store shared with other implementations must follow this
// layout to stay compatible.
//
// The engine itself lives in the filesystem package and store backends in the
// adapters package.
package blobtree
