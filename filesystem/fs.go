package filesystem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/config"
	"github.com/brettbedarf/blobtree/internal/metrics"
	"github.com/brettbedarf/blobtree/internal/telemetry"
	"github.com/brettbedarf/blobtree/internal/util"
)

// Tree operation names used in logs, spans and metrics.
const (
	opListChildren = "list_children"
	opResolve      = "resolve"
	opExists       = "exists"
	opCheckFree    = "check_free"
	opStat         = "stat"
	opWalk         = "walk"
	opCreateFolder = "create_folder"
	opUploadFile   = "upload_file"
	opReadFile     = "read_file"
	opDeleteFile   = "delete_file"
	opDeleteFolder = "delete_folder"
	opMoveFile     = "move_file"
	opMoveFolder   = "move_folder"
	opResumeMove   = "resume_folder_move"
	opRename       = "rename"
)

var mutatingOps = map[string]bool{
	opCreateFolder: true,
	opUploadFile:   true,
	opDeleteFile:   true,
	opDeleteFolder: true,
	opMoveFile:     true,
	opMoveFolder:   true,
	opResumeMove:   true,
	opRename:       true,
}

// placeholderContentType marks folder placeholder blobs.
const placeholderContentType = "application/x-directory"

// FileSystem presents a folder tree over a flat [blobtree.BlobStore]. It
// keeps no tree state of its own: every call re-derives folders from store
// listings, so any number of instances may share a store.
type FileSystem struct {
	cfg        *config.Config
	store      blobtree.BlobStore
	classifier Classifier
	metrics    *metrics.Metrics
	retry      *retrier
	logger     zerolog.Logger
}

// Option configures a FileSystem.
type Option func(*FileSystem)

// WithClassifier replaces [DefaultClassifier].
func WithClassifier(c Classifier) Option {
	return func(fs *FileSystem) { fs.classifier = c }
}

// WithMetrics records store calls and tree operations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(fs *FileSystem) { fs.metrics = m }
}

// NewFS returns an engine over store. A nil cfg uses the defaults.
func NewFS(store blobtree.BlobStore, cfg *config.Config, opts ...Option) *FileSystem {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	fs := &FileSystem{
		cfg:        cfg,
		store:      store,
		classifier: DefaultClassifier,
		logger:     util.GetLogger("FileSystem"),
	}
	for _, opt := range opts {
		opt(fs)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = config.DefaultCallTimeout
	}
	fs.retry = &retrier{
		attempts: max(cfg.MaxAttempts, 1),
		base:     cfg.RetryBaseDelay,
		max:      max(cfg.RetryMaxDelay, cfg.RetryBaseDelay),
		timeout:  timeout,
		metrics:  fs.metrics,
	}
	return fs
}

// Store returns the underlying blob store.
func (fs *FileSystem) Store() blobtree.BlobStore { return fs.store }

func (fs *FileSystem) workers() int {
	return max(fs.cfg.Workers, 1)
}

// batchSize is the configured delete batch size lowered to the store's
// own limit, if it has one.
func (fs *FileSystem) batchSize() int {
	n := fs.cfg.DeleteBatchSize
	if n <= 0 {
		n = config.DefaultDeleteBatchSize
	}
	if bl, ok := fs.store.(blobtree.BatchLimiter); ok && bl.MaxBatchRemove() > 0 {
		n = min(n, bl.MaxBatchRemove())
	}
	return n
}

// opScope tracks one public call: its logger, span and metrics.
type opScope struct {
	fs     *FileSystem
	name   string
	ctx    context.Context
	span   trace.Span
	start  time.Time
	logger zerolog.Logger
}

// begin starts tracking a public call. The returned context carries the
// span and a logger tagged with the operation id.
func (fs *FileSystem) begin(ctx context.Context, name string, path blobtree.Path, dest ...blobtree.Path) (context.Context, *opScope) {
	id := uuid.NewString()
	lc := fs.logger.With().Str("op", name).Str("opID", id).Str("path", path.String())
	var spanCtx context.Context
	var span trace.Span
	if len(dest) > 0 {
		lc = lc.Str("dest", dest[0].String())
		spanCtx, span = telemetry.StartTreeSpan(ctx, name, id, path.String(), telemetry.Dest(dest[0].String()))
	} else {
		spanCtx, span = telemetry.StartTreeSpan(ctx, name, id, path.String())
	}
	logger := lc.Logger()
	if traceID := telemetry.TraceID(spanCtx); traceID != "" {
		logger = logger.With().Str("traceID", traceID).Logger()
	}
	logger.Trace().Msg("Tree operation started")

	op := &opScope{
		fs:     fs,
		name:   name,
		ctx:    logger.WithContext(spanCtx),
		span:   span,
		start:  time.Now(),
		logger: logger,
	}
	return op.ctx, op
}

// state records a state machine transition.
func (o *opScope) state(s string) {
	telemetry.State(o.ctx, s)
	o.logger.Debug().Str("state", s).Msg("Tree operation state")
}

// end finishes tracking. res may be nil for calls without per-key results.
func (o *opScope) end(res *blobtree.OperationResult, err error) {
	defer o.span.End()

	outcome := outcomeOf(res, err)
	o.fs.metrics.ObserveTreeOp(o.name, outcome, time.Since(o.start))

	if res != nil {
		o.fs.metrics.AddKeys(o.name, len(res.Succeeded), len(res.Failed))
		telemetry.SetAttributes(o.ctx, telemetry.Outcome(len(res.Succeeded), len(res.Failed))...)
	}

	level := zerolog.DebugLevel
	logErr := err
	switch outcome {
	case metrics.OutcomeError:
		telemetry.RecordError(o.ctx, err)
		level = zerolog.ErrorLevel
	case metrics.OutcomePartial:
		logErr = res.Err(o.name)
		telemetry.RecordError(o.ctx, logErr)
		level = zerolog.WarnLevel
	case metrics.OutcomeSuccess:
		if mutatingOps[o.name] {
			level = zerolog.InfoLevel
		}
	}

	ev := o.logger.WithLevel(level).Err(logErr)
	if res != nil {
		ev = ev.Int("succeeded", len(res.Succeeded)).Int("failed", len(res.Failed))
		if res.Warning != "" {
			ev = ev.Str("warning", res.Warning)
		}
	}
	ev.Dur("duration", time.Since(o.start)).Str("outcome", outcome).Msg("Tree operation finished")
}

func outcomeOf(res *blobtree.OperationResult, err error) string {
	switch {
	case err != nil && isPrecondition(err):
		return metrics.OutcomeRejected
	case err != nil:
		return metrics.OutcomeError
	case res != nil && res.Partial():
		return metrics.OutcomePartial
	}
	return metrics.OutcomeSuccess
}

// isPrecondition reports errors returned before any store write.
func isPrecondition(err error) bool {
	return errors.Is(err, blobtree.ErrInvalidPath) ||
		errors.Is(err, blobtree.ErrConflict) ||
		errors.Is(err, blobtree.ErrSelfMove) ||
		errors.Is(err, blobtree.ErrNotFound)
}

// requireFilePath rejects paths that cannot name a user file.
func requireFilePath(op string, p blobtree.Path) error {
	switch {
	case p.IsRoot():
		return &blobtree.PathError{Op: op, Path: p.String(), Reason: "file path required"}
	case p.IsPlaceholder():
		return &blobtree.PathError{Op: op, Path: p.String(), Reason: "reserved name " + blobtree.PlaceholderName}
	}
	return nil
}

// putNew writes key only if it is absent when the store can enforce that,
// and unconditionally otherwise.
func (fs *FileSystem) putNew(ctx context.Context, key blobtree.BlobKey, data []byte, contentType string) error {
	return fs.retry.write(ctx, storeOpPut, key, func(ctx context.Context) error {
		return fs.putOnce(ctx, key, data, contentType)
	})
}

// putOnce is a single conditional write where the store supports one.
func (fs *FileSystem) putOnce(ctx context.Context, key blobtree.BlobKey, data []byte, contentType string) error {
	if cp, ok := fs.store.(blobtree.ConditionalPutter); ok {
		return cp.PutIfAbsent(ctx, key, data, contentType)
	}
	return fs.store.Put(ctx, key, data, contentType)
}

// CreateFolder makes an empty folder observable by writing its placeholder.
// It fails with [blobtree.ErrConflict] when anything occupies path.
func (fs *FileSystem) CreateFolder(ctx context.Context, path blobtree.Path) error {
	ctx, op := fs.begin(ctx, opCreateFolder, path)
	err := fs.createFolder(ctx, path)
	op.end(nil, err)
	return err
}

func (fs *FileSystem) createFolder(ctx context.Context, path blobtree.Path) error {
	if path.IsPlaceholder() {
		return &blobtree.PathError{Op: "mkdir", Path: path.String(), Reason: "reserved name " + blobtree.PlaceholderName}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fs.checkFree(ctx, path); err != nil {
		return err
	}
	err := fs.putNew(ctx, path.PlaceholderKey(), nil, placeholderContentType)
	if errors.Is(err, blobtree.ErrConflict) {
		return &blobtree.ConflictError{Path: path, Kind: blobtree.FolderKind}
	}
	if err != nil {
		return fmt.Errorf("create folder %s: %w", path, err)
	}
	return nil
}

// UploadFile stores data as a new file at path. Existing files are never
// overwritten: an occupied path fails with [blobtree.ErrConflict]. Missing
// parent folders are implied by the key.
func (fs *FileSystem) UploadFile(ctx context.Context, path blobtree.Path, data []byte, contentType string) error {
	ctx, op := fs.begin(ctx, opUploadFile, path)
	err := fs.uploadFile(ctx, path, data, contentType)
	op.end(nil, err)
	return err
}

func (fs *FileSystem) uploadFile(ctx context.Context, path blobtree.Path, data []byte, contentType string) error {
	if err := requireFilePath("upload", path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fs.checkFree(ctx, path); err != nil {
		return err
	}
	err := fs.putNew(ctx, path.Key(), data, contentType)
	if errors.Is(err, blobtree.ErrConflict) {
		return &blobtree.ConflictError{Path: path, Kind: blobtree.FileKind}
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// ReadFile returns the content of the file at path.
func (fs *FileSystem) ReadFile(ctx context.Context, path blobtree.Path) ([]byte, error) {
	ctx, op := fs.begin(ctx, opReadFile, path)
	data, err := fs.readFile(ctx, path)
	op.end(nil, err)
	return data, err
}

func (fs *FileSystem) readFile(ctx context.Context, path blobtree.Path) ([]byte, error) {
	if err := requireFilePath("read", path); err != nil {
		return nil, err
	}
	var data []byte
	err := fs.retry.read(ctx, storeOpGet, path.Key(), func(ctx context.Context) error {
		var err error
		data, err = fs.store.Get(ctx, path.Key())
		return err
	})
	if blobtree.IsNotFound(err) {
		return nil, &blobtree.NotFoundError{Path: path, Kind: blobtree.FileKind}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Stat returns the node at path. When a file and a folder share the path,
// the file is returned.
func (fs *FileSystem) Stat(ctx context.Context, path blobtree.Path) (blobtree.Node, error) {
	ctx, op := fs.begin(ctx, opStat, path)
	n, err := fs.stat(ctx, path)
	op.end(nil, err)
	return n, err
}

func (fs *FileSystem) stat(ctx context.Context, path blobtree.Path) (blobtree.Node, error) {
	if path.IsRoot() {
		return blobtree.NewFolderNode(blobtree.Root), nil
	}
	file, folder, err := fs.lookup(ctx, path)
	switch {
	case err != nil:
		return blobtree.Node{}, err
	case file != nil && !isPlaceholder(*file):
		return *file, nil
	case folder != nil:
		return *folder, nil
	}
	return blobtree.Node{}, &blobtree.NotFoundError{Path: path}
}

// Walk calls fn for every node below root, breadth first, folders before
// their contents. Returning [blobtree.SkipFolder] for a folder skips its
// contents; for a file it skips the rest of that folder. Any other error
// stops the walk and is returned.
func (fs *FileSystem) Walk(ctx context.Context, root blobtree.Path, fn blobtree.WalkFunc) error {
	ctx, op := fs.begin(ctx, opWalk, root)
	err := fs.walk(ctx, root, fn)
	op.end(nil, err)
	return err
}

func (fs *FileSystem) walk(ctx context.Context, root blobtree.Path, fn blobtree.WalkFunc) error {
	queue := []blobtree.Path{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		folder := queue[0]
		queue = queue[1:]

		nodes, err := fs.list(ctx, folder)
		if err != nil {
			return fmt.Errorf("walk %s: %w", folder, err)
		}
		if folder.Equal(root) && !root.IsRoot() && len(nodes) == 0 {
			return &blobtree.NotFoundError{Path: root, Kind: blobtree.FolderKind}
		}

	children:
		for _, n := range nodes {
			if isPlaceholder(n) {
				continue
			}
			err := fn(n)
			switch {
			case errors.Is(err, blobtree.SkipFolder) && n.IsFolder():
				continue
			case errors.Is(err, blobtree.SkipFolder):
				break children
			case err != nil:
				return err
			}
			if n.IsFolder() {
				queue = append(queue, n.Path())
			}
		}
	}
	return nil
}

var _ blobtree.FileSystemOperator = (*FileSystem)(nil)
