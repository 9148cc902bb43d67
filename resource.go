package txprop

import "context"

// Resource opens physical transactions. Implementations live in the adapter packages
// (sqlxtx, pgxtx, gormtx, redistx).
type Resource interface {
	// Begin starts one physical transaction honouring opts.IsolationLevel, opts.ReadOnly
	// and opts.Timeout where the underlying store supports them.
	Begin(ctx context.Context, opts *Options) (Handle, error)
}

// Handle is one physical begin/commit/rollback cycle. The manager calls exactly one of
// Commit or Rollback per handle.
type Handle interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SavepointHandle is implemented by handles able to serve PropagationNested.
type SavepointHandle interface {
	Handle

	CreateSavepoint(ctx context.Context) (string, error)
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}

// ResourceFunc adapts a function to the Resource interface.
type ResourceFunc func(ctx context.Context, opts *Options) (Handle, error)

func (f ResourceFunc) Begin(ctx context.Context, opts *Options) (Handle, error) {
	return f(ctx, opts)
}
