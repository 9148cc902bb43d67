package txprop

import (
	"context"
	"fmt"
)

// fakeHandle records the physical calls made on it.
type fakeHandle struct {
	id          int
	opts        *Options
	commits     int
	rollbacks   int
	commitErr   error
	rollbackErr error

	created      []string
	released     []string
	rolledBackTo []string
}

func (h *fakeHandle) Commit(context.Context) error {
	h.commits++
	return h.commitErr
}

func (h *fakeHandle) Rollback(context.Context) error {
	h.rollbacks++
	return h.rollbackErr
}

func (h *fakeHandle) finalized() bool {
	return h.commits+h.rollbacks > 0
}

type fakeSavepointHandle struct {
	*fakeHandle
}

func (h fakeSavepointHandle) CreateSavepoint(context.Context) (string, error) {
	name := fmt.Sprintf("sp_%d_%d", h.id, len(h.created)+1)
	h.created = append(h.created, name)
	return name, nil
}

func (h fakeSavepointHandle) RollbackToSavepoint(_ context.Context, name string) error {
	h.rolledBackTo = append(h.rolledBackTo, name)
	return nil
}

func (h fakeSavepointHandle) ReleaseSavepoint(_ context.Context, name string) error {
	h.released = append(h.released, name)
	return nil
}

// fakeResource hands out fakeHandles and keeps all of them for inspection.
type fakeResource struct {
	handles     []*fakeHandle
	beginErr    error
	commitErr   error
	rollbackErr error
	savepoints  bool
}

func (r *fakeResource) Begin(_ context.Context, opts *Options) (Handle, error) {
	if r.beginErr != nil {
		return nil, r.beginErr
	}

	h := &fakeHandle{
		id:          len(r.handles) + 1,
		opts:        opts,
		commitErr:   r.commitErr,
		rollbackErr: r.rollbackErr,
	}
	r.handles = append(r.handles, h)

	if r.savepoints {
		return fakeSavepointHandle{h}, nil
	}
	return h, nil
}

func (r *fakeResource) totals() (commits, rollbacks int) {
	for _, h := range r.handles {
		commits += h.commits
		rollbacks += h.rollbacks
	}
	return commits, rollbacks
}
