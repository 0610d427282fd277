package requests

import (
	"context"
	"fmt"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/util"
)

// Op is a validated manifest operation. Path is the source for mv.
type Op struct {
	Type        OpType
	Path        blobtree.Path
	Dest        blobtree.Path
	Name        string
	Data        []byte
	ContentType string
	Recursive   bool
	Resume      bool
}

func (o Op) String() string {
	switch o.Type {
	case MoveOpType:
		return fmt.Sprintf("%s %s %s", o.Type, o.Path, o.Dest)
	case RenameOpType:
		return fmt.Sprintf("%s %s %s", o.Type, o.Path, o.Name)
	}
	return fmt.Sprintf("%s %s", o.Type, o.Path)
}

// Outcome is the result of one applied operation. Result is nil for
// operations without per-key results (mkdir, put).
type Outcome struct {
	Op     Op
	Result *blobtree.OperationResult
	Err    error
}

// ApplyOptions controls [Apply].
type ApplyOptions struct {
	// ContinueOnError applies the remaining operations after a failure.
	ContinueOnError bool
}

// Apply runs ops in order against fs. A partially failed delete or move
// counts as a failure. Unless opts.ContinueOnError is set, Apply stops at
// the first failure and returns its error along with the outcomes so far.
func Apply(ctx context.Context, fs blobtree.FileSystemOperator, ops []Op, opts ApplyOptions) ([]Outcome, error) {
	logger := util.GetLogger("Apply")
	outcomes := make([]Outcome, 0, len(ops))

	var firstErr error
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		res, err := applyOne(ctx, fs, op)
		if err == nil && res != nil {
			err = res.Err(string(op.Type))
		}
		outcomes = append(outcomes, Outcome{Op: op, Result: res, Err: err})
		if err == nil {
			logger.Debug().Int("index", i).Str("op", op.String()).Msg("Applied operation")
			continue
		}

		logger.Error().Err(err).Int("index", i).Str("op", op.String()).Msg("Operation failed")
		if firstErr == nil {
			firstErr = fmt.Errorf("op %d (%s): %w", i, op, err)
		}
		if !opts.ContinueOnError {
			break
		}
	}
	return outcomes, firstErr
}

func applyOne(ctx context.Context, fs blobtree.FileSystemOperator, op Op) (*blobtree.OperationResult, error) {
	switch op.Type {
	case MkdirOpType:
		return nil, fs.CreateFolder(ctx, op.Path)
	case PutOpType:
		return nil, fs.UploadFile(ctx, op.Path, op.Data, op.ContentType)
	case RenameOpType:
		return fs.RenameItem(ctx, op.Path, op.Name)
	case RemoveOpType:
		node, err := fs.Stat(ctx, op.Path)
		if err != nil {
			return nil, err
		}
		if node.IsFile() {
			return fs.DeleteFile(ctx, op.Path)
		}
		if !op.Recursive {
			return nil, fmt.Errorf("%s is a folder; set recursive to remove it", op.Path)
		}
		return fs.DeleteFolder(ctx, op.Path)
	case MoveOpType:
		if op.Resume {
			return fs.ResumeFolderMove(ctx, op.Path, op.Dest)
		}
		node, err := fs.Stat(ctx, op.Path)
		if err != nil {
			return nil, err
		}
		if node.IsFile() {
			return fs.MoveFile(ctx, op.Path, op.Dest)
		}
		return fs.MoveFolder(ctx, op.Path, op.Dest)
	}
	return nil, fmt.Errorf("unknown op: %s", op.Type)
}
