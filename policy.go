package txprop

// Action is what the manager does for a begin request.
type Action uint8

const (
	// ActionStartNew creates a new physical transaction.
	ActionStartNew Action = iota
	// ActionJoin participates in the active transaction.
	ActionJoin
	// ActionSuspendAndStartNew parks the active transaction and creates a new one.
	ActionSuspendAndStartNew
	// ActionSavepoint runs inside a savepoint of the active transaction.
	ActionSavepoint
	// ActionNonTransactional runs without a physical transaction.
	ActionNonTransactional
	// ActionSuspendNonTransactional parks the active transaction and runs without one.
	ActionSuspendNonTransactional
	// ActionFail rejects the request with ErrIllegalTransactionState.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionStartNew:
		return "start-new"
	case ActionJoin:
		return "join"
	case ActionSuspendAndStartNew:
		return "suspend-start-new"
	case ActionSavepoint:
		return "savepoint"
	case ActionNonTransactional:
		return "non-transactional"
	case ActionSuspendNonTransactional:
		return "suspend-non-transactional"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Policy holds the action for both states of the current scope.
type Policy struct {
	WithoutTransaction Action
	WithTransaction    Action
}

var policies = map[PropagationType]Policy{
	PropagationRequired:     {WithoutTransaction: ActionStartNew, WithTransaction: ActionJoin},
	PropagationRequiresNew:  {WithoutTransaction: ActionStartNew, WithTransaction: ActionSuspendAndStartNew},
	PropagationNested:       {WithoutTransaction: ActionStartNew, WithTransaction: ActionSavepoint},
	PropagationSupports:     {WithoutTransaction: ActionNonTransactional, WithTransaction: ActionJoin},
	PropagationNotSupported: {WithoutTransaction: ActionNonTransactional, WithTransaction: ActionSuspendNonTransactional},
	PropagationNever:        {WithoutTransaction: ActionNonTransactional, WithTransaction: ActionFail},
	PropagationMandatory:    {WithoutTransaction: ActionFail, WithTransaction: ActionJoin},
}

// PolicyFor returns the policy table entry of p.
func PolicyFor(p PropagationType) (Policy, bool) {
	policy, ok := policies[p]
	return policy, ok
}

func (p Policy) action(active bool) Action {
	if active {
		return p.WithTransaction
	}
	return p.WithoutTransaction
}
