package blobtree

// Warnings carried by [OperationResult].
const (
	// WarningPartial marks a tree operation in which some keys failed. The
	// folder may be split between source and destination; re-list to confirm.
	WarningPartial = "partial"

	// WarningNonAtomicMove marks a move done as copy followed by remove on a
	// store without native rename. A crash between the steps can leave both
	// keys present, and a crash after the remove of a failed copy can lose the
	// source before the destination exists.
	WarningNonAtomicMove = "non-atomic move: copy and remove are separate store calls; " +
		"an interruption can leave a duplicate key or lose the source"
)

// KeyFailure records the final error for a single key.
type KeyFailure struct {
	Key BlobKey
	Err error
}

// OperationResult is the outcome of a delete or move. It is fully populated
// before it is returned and never modified afterwards.
type OperationResult struct {
	Succeeded []BlobKey
	Failed    []KeyFailure
	Warning   string
	// NonAtomic is set when any key was moved without a native store rename,
	// even if Warning reports a partial failure instead.
	NonAtomic bool
}

// OK reports whether no key failed.
func (r *OperationResult) OK() bool { return len(r.Failed) == 0 }

// Partial reports whether at least one key failed.
func (r *OperationResult) Partial() bool { return len(r.Failed) > 0 }

// FailedKeys lists the keys in Failed.
func (r *OperationResult) FailedKeys() []BlobKey {
	keys := make([]BlobKey, len(r.Failed))
	for i, f := range r.Failed {
		keys[i] = f.Key
	}
	return keys
}

// Err returns a [*PartialFailureError] when any key failed and nil otherwise.
func (r *OperationResult) Err(op string) error {
	if r.OK() {
		return nil
	}
	return &PartialFailureError{
		Op:        op,
		Succeeded: len(r.Succeeded),
		Failed:    len(r.Failed),
		First:     r.Failed[0],
	}
}
