package txprop

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PropagationType is an alias of uint8
type PropagationType uint8

// constants that defines transaction propagation patterns
const (
	// PropagationRequired runs in the existing transaction. If there's no existing one,
	// the manager creates a new physical transaction for it.
	PropagationRequired PropagationType = iota

	// PropagationRequiresNew always runs in a separated new physical transaction,
	// suspending the existing one until it finishes.
	PropagationRequiresNew

	// PropagationNested runs inside a savepoint of the existing transaction,
	// or behaves like PropagationRequired when there is none.
	PropagationNested

	// PropagationSupports joins the existing transaction, or runs non-transactionally.
	PropagationSupports

	// PropagationNotSupported suspends the existing transaction and runs non-transactionally.
	PropagationNotSupported

	// PropagationNever runs non-transactionally and fails if a transaction exists.
	PropagationNever

	// PropagationMandatory joins the existing transaction and fails if there is none.
	PropagationMandatory
)

func (p PropagationType) String() string {
	switch p {
	case PropagationRequired:
		return "REQUIRED"
	case PropagationRequiresNew:
		return "REQUIRES_NEW"
	case PropagationNested:
		return "NESTED"
	case PropagationSupports:
		return "SUPPORTS"
	case PropagationNotSupported:
		return "NOT_SUPPORTED"
	case PropagationNever:
		return "NEVER"
	case PropagationMandatory:
		return "MANDATORY"
	default:
		return fmt.Sprintf("PropagationType(%d)", uint8(p))
	}
}

// ParsePropagation accepts the names printed by PropagationType.String, case-insensitively.
func ParsePropagation(s string) (PropagationType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for p := PropagationRequired; p <= PropagationMandatory; p++ {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown propagation %q", s)
}

// Options declares some configurable options when starts a transaction
type Options struct {
	// Propagation specifies how the tx manager manages transaction propagation
	Propagation PropagationType

	// IsolationLevel is handed to the resource when a physical transaction is created.
	// sql.LevelDefault leaves the choice to the resource.
	IsolationLevel sql.IsolationLevel

	ReadOnly bool

	// Timeout is passed through to the resource at creation time. Zero means no timeout.
	Timeout time.Duration

	// Name shows up in logs and trace spans.
	Name string
}

// DefaultOptions returns Required propagation with the resource's default isolation.
func DefaultOptions() *Options {
	return &Options{
		Propagation:    PropagationRequired,
		IsolationLevel: sql.LevelDefault,
	}
}

// WithPropagation returns a copy of o using the given propagation.
func (o Options) WithPropagation(p PropagationType) *Options {
	o.Propagation = p
	return &o
}

func (o *Options) label() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Propagation.String()
}
