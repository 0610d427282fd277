package server

import (
	"context"
	"errors"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/blobtree"
)

// renameExchange is RENAME_EXCHANGE from linux/fs.h.
const renameExchange = 0x2

const defaultContentType = "application/octet-stream"

var (
	_ fs.InodeEmbedder = (*treeNode)(nil)
	_ fs.NodeGetattrer = (*treeNode)(nil)
	_ fs.NodeLookuper  = (*treeNode)(nil)
	_ fs.NodeReaddirer = (*treeNode)(nil)
	_ fs.NodeMkdirer   = (*treeNode)(nil)
	_ fs.NodeRmdirer   = (*treeNode)(nil)
	_ fs.NodeUnlinker  = (*treeNode)(nil)
	_ fs.NodeRenamer   = (*treeNode)(nil)
	_ fs.NodeOpener    = (*treeNode)(nil)
	_ fs.NodeCreater   = (*treeNode)(nil)
)

// treeNode is a file or folder of the tree. Its path is taken from the
// inode tree on every call so renames never leave it stale.
type treeNode struct {
	fs.Inode

	srv *Server
}

func (n *treeNode) treePath() (blobtree.Path, syscall.Errno) {
	p, err := blobtree.ParsePath(n.Path(nil))
	if err != nil {
		return blobtree.Path{}, syscall.EINVAL
	}
	return p, 0
}

func (n *treeNode) childPath(name string) (blobtree.Path, syscall.Errno) {
	parent, errno := n.treePath()
	if errno != 0 {
		return blobtree.Path{}, errno
	}
	if name == blobtree.PlaceholderName {
		return blobtree.Path{}, syscall.EINVAL
	}
	p, err := parent.Child(name)
	if err != nil {
		return blobtree.Path{}, syscall.EINVAL
	}
	return p, 0
}

// errno logs err and converts it. Expected outcomes of a lookup are not
// worth more than a trace line.
func (n *treeNode) errno(op string, p blobtree.Path, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	errno := toErrno(err)
	ev := n.srv.logger.Error()
	switch errno {
	case syscall.ENOENT, syscall.EEXIST, syscall.EINVAL:
		ev = n.srv.logger.Trace()
	}
	ev.Err(err).Str("op", op).Str("path", p.String()).Str("errno", errno.Error()).Msg("Request failed")
	return errno
}

// fillAttr follows the defaults of a local disk: owned by the mounting
// user, 4KiB blocks.
func fillAttr(node blobtree.Node, out *fuse.Attr) {
	mtime := time.Now()
	if node.IsFile() {
		out.Mode = syscall.S_IFREG | 0o644
		out.Nlink = 1
		out.Size = uint64(node.File.Size)
		if !node.File.ModifiedAt.IsZero() {
			mtime = node.File.ModifiedAt
		}
	} else {
		out.Mode = syscall.S_IFDIR | 0o755
		out.Nlink = 2
	}
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 4096
	out.Owner = fuse.Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
	out.SetTimes(&mtime, &mtime, &mtime)
}

func stableMode(node blobtree.Node) uint32 {
	if node.IsFile() {
		return syscall.S_IFREG
	}
	return syscall.S_IFDIR
}

func (n *treeNode) newChild(ctx context.Context, node blobtree.Node, out *fuse.EntryOut) *fs.Inode {
	fillAttr(node, &out.Attr)
	return n.NewInode(ctx, &treeNode{srv: n.srv}, fs.StableAttr{Mode: stableMode(node)})
}

func (n *treeNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if wh, ok := fh.(*writeHandle); ok {
		fillAttr(blobtree.NewFileNode(blobtree.FileNode{Size: wh.size()}), &out.Attr)
		return 0
	}
	p, errno := n.treePath()
	if errno != 0 {
		return errno
	}
	node, err := n.srv.ops.Stat(ctx, p)
	if err != nil {
		return n.errno("getattr", p, err)
	}
	fillAttr(node, &out.Attr)
	return 0
}

func (n *treeNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p, errno := n.childPath(name)
	if errno != 0 {
		return nil, syscall.ENOENT
	}
	node, err := n.srv.ops.Stat(ctx, p)
	if err != nil {
		return nil, n.errno("lookup", p, err)
	}
	return n.newChild(ctx, node, out), 0
}

// Readdir lists the folder. A file and a folder sharing a name show up
// once, as the file, matching Lookup.
func (n *treeNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	p, errno := n.treePath()
	if errno != 0 {
		return nil, errno
	}
	nodes, err := n.srv.ops.ListChildren(ctx, p)
	if err != nil {
		return nil, n.errno("readdir", p, err)
	}

	entries := make([]fuse.DirEntry, 0, len(nodes))
	index := make(map[string]int, len(nodes))
	for _, node := range nodes {
		entry := fuse.DirEntry{Name: node.Name(), Mode: stableMode(node)}
		if i, ok := index[entry.Name]; ok {
			if node.IsFile() {
				entries[i] = entry
			}
			continue
		}
		index[entry.Name] = len(entries)
		entries = append(entries, entry)
	}
	return fs.NewListDirStream(entries), 0
}

func (n *treeNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p, errno := n.childPath(name)
	if errno != 0 {
		return nil, errno
	}
	if err := n.srv.ops.CreateFolder(ctx, p); err != nil {
		return nil, n.errno("mkdir", p, err)
	}
	return n.newChild(ctx, blobtree.NewFolderNode(p), out), 0
}

// Rmdir only removes empty folders; use the engine directly to delete a
// whole subtree.
func (n *treeNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	p, errno := n.childPath(name)
	if errno != 0 {
		return errno
	}
	exists, err := n.srv.ops.Exists(ctx, p)
	if err != nil {
		return n.errno("rmdir", p, err)
	}
	if !exists {
		return syscall.ENOENT
	}
	children, err := n.srv.ops.ListChildren(ctx, p)
	if err != nil {
		return n.errno("rmdir", p, err)
	}
	if len(children) > 0 {
		return syscall.ENOTEMPTY
	}
	res, err := n.srv.ops.DeleteFolder(ctx, p)
	if err == nil {
		err = res.Err("rmdir")
	}
	return n.errno("rmdir", p, err)
}

func (n *treeNode) Unlink(ctx context.Context, name string) syscall.Errno {
	p, errno := n.childPath(name)
	if errno != 0 {
		return errno
	}
	res, err := n.srv.ops.DeleteFile(ctx, p)
	if err == nil {
		err = res.Err("unlink")
	}
	return n.errno("unlink", p, err)
}

// Rename never replaces an existing target: the engine does not
// overwrite, so an occupied newName fails with EEXIST.
func (n *treeNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags&renameExchange != 0 {
		return syscall.ENOTSUP
	}
	src, errno := n.childPath(name)
	if errno != 0 {
		return errno
	}
	parent, ok := newParent.(*treeNode)
	if !ok {
		return syscall.EXDEV
	}
	dest, errno := parent.childPath(newName)
	if errno != 0 {
		return errno
	}

	var res *blobtree.OperationResult
	var err error
	if src.Parent().Equal(dest.Parent()) {
		res, err = n.srv.ops.RenameItem(ctx, src, newName)
	} else {
		var node blobtree.Node
		node, err = n.srv.ops.Stat(ctx, src)
		switch {
		case err != nil:
		case node.IsFile():
			res, err = n.srv.ops.MoveFile(ctx, src, dest)
		default:
			res, err = n.srv.ops.MoveFolder(ctx, src, dest)
		}
	}
	if err == nil {
		err = res.Err("rename")
	}
	return n.errno("rename", src, err)
}

// Open loads the whole blob; files are read from memory afterwards.
// Existing files are immutable through the mount.
func (n *treeNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EPERM
	}
	p, errno := n.treePath()
	if errno != 0 {
		return nil, 0, errno
	}
	data, err := n.srv.ops.ReadFile(ctx, p)
	if err != nil {
		return nil, 0, n.errno("open", p, err)
	}
	return &readHandle{data: data}, fuse.FOPEN_DIRECT_IO, 0
}

// Create starts a new file. Its content is uploaded when the handle is
// flushed; until then the file exists only in the kernel.
func (n *treeNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p, errno := n.childPath(name)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	if _, err := n.srv.ops.Stat(ctx, p); err == nil {
		return nil, nil, 0, syscall.EEXIST
	} else if !blobtree.IsNotFound(err) {
		return nil, nil, 0, n.errno("create", p, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = defaultContentType
	}
	wh := &writeHandle{srv: n.srv, path: p, contentType: contentType}
	node := n.newChild(ctx, blobtree.NewFileNode(blobtree.FileNode{Name: name, Path: p}), out)
	return node, wh, fuse.FOPEN_DIRECT_IO, 0
}

var (
	_ fs.FileReader = (*readHandle)(nil)

	_ fs.FileWriter  = (*writeHandle)(nil)
	_ fs.FileFlusher = (*writeHandle)(nil)
	_ fs.FileReader  = (*writeHandle)(nil)
)

type readHandle struct {
	data []byte
}

func (h *readHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(off+int64(len(dest)), int64(len(h.data)))
	return fuse.ReadResultData(h.data[off:end]), 0
}

// writeHandle buffers a new file until its first flush.
type writeHandle struct {
	srv         *Server
	path        blobtree.Path
	contentType string

	mu       sync.Mutex
	buf      []byte
	uploaded bool
}

func (h *writeHandle) size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.buf))
}

func (h *writeHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.uploaded {
		return 0, syscall.EPERM
	}
	if end := off + int64(len(data)); end > int64(len(h.buf)) {
		h.buf = append(h.buf, make([]byte, end-int64(len(h.buf)))...)
	}
	copy(h.buf[off:], data)
	return uint32(len(data)), 0
}

func (h *writeHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.buf)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(off+int64(len(dest)), int64(len(h.buf)))
	return fuse.ReadResultData(append([]byte(nil), h.buf[off:end]...)), 0
}

func (h *writeHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.uploaded {
		return 0
	}
	err := h.srv.ops.UploadFile(ctx, h.path, h.buf, h.contentType)
	if errors.Is(err, blobtree.ErrConflict) {
		return syscall.EEXIST
	}
	if err != nil {
		h.srv.logger.Error().Err(err).Str("path", h.path.String()).Msg("Upload failed")
		return toErrno(err)
	}
	h.uploaded = true
	return 0
}
