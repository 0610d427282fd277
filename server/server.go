package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/config"
	"github.com/brettbedarf/blobtree/internal/util"
)

// Server exposes a blob tree as a FUSE mount. Every kernel request is
// answered from fresh engine calls; the only state kept is the kernel's
// own inode cache, bounded by the attr and entry timeouts.
type Server struct {
	ops    blobtree.FileSystemOperator
	cfg    *config.Config
	server *fuse.Server
	logger util.Logger
}

// New creates a Server for ops. A nil cfg uses the defaults.
func New(ops blobtree.FileSystemOperator, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	return &Server{
		ops:    ops,
		cfg:    cfg,
		logger: util.GetLogger("FuseServer"),
	}
}

// Root returns the inode for the tree's root folder.
func (s *Server) Root() fs.InodeEmbedder {
	return &treeNode{srv: s}
}

func (s *Server) options() *fs.Options {
	opts := s.cfg.MountOptions
	attrTimeout := seconds(s.cfg.AttrTimeout)
	entryTimeout := seconds(s.cfg.EntryTimeout)
	return &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:   opts.Name,
			FsName: opts.FsName,
			Debug:  opts.Debug || s.cfg.LogLvl == util.TraceLevel,
			Logger: util.NewLogLogger("FuseServer", util.TraceLevel),
		},
		AttrTimeout:     &attrTimeout,
		EntryTimeout:    &entryTimeout,
		NegativeTimeout: &entryTimeout,
		UID:             uint32(os.Getuid()),
		GID:             uint32(os.Getgid()),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Serve mounts the tree at mountPoint and returns once the mount is ready.
// Requests are served in the background until [Server.Unmount].
func (s *Server) Serve(mountPoint string) error {
	if s.server != nil {
		return errors.New("already mounted")
	}
	srv, err := fs.Mount(mountPoint, s.Root(), s.options())
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountPoint, err)
	}
	s.server = srv
	s.logger.Info().Str("mountpoint", mountPoint).Msg("Mounted")
	return nil
}

// ServeAsync runs [Server.Serve] in the background.
func (s *Server) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Wait blocks until the filesystem is unmounted.
func (s *Server) Wait() {
	if s.server != nil {
		s.server.Wait()
	}
}

// Unmount cleanly unmounts the filesystem.
func (s *Server) Unmount() error {
	if s.server == nil {
		return nil
	}
	err := s.server.Unmount()
	if err == nil {
		s.server = nil
	}
	return err
}

// toErrno maps engine errors onto the errno the kernel passes to callers.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, blobtree.ErrPartialFailure):
		return syscall.EIO
	case errors.Is(err, blobtree.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, blobtree.ErrConflict):
		return syscall.EEXIST
	case errors.Is(err, blobtree.ErrSelfMove), errors.Is(err, blobtree.ErrInvalidPath):
		return syscall.EINVAL
	case errors.Is(err, blobtree.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, blobtree.ErrTransient):
		return syscall.EAGAIN
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	}
	return syscall.EIO
}
