package domain

// Actors recorded on status transitions. Provider-driven transitions use the
// provider name as the actor instead of one of these.
const (
	ActorSystem   = "system"
	ActorOperator = "operator"
)

var nonTerminalStatuses = []DocumentStatus{
	StatusDiscovered,
	StatusImporting,
	StatusParsed,
	StatusProofreading,
	StatusReview,
	StatusReadyToPublish,
	StatusPublishing,
	StatusFailed,
}

// allowedTransitions is the fixed adjacency table of the document lifecycle.
// failed is reachable from every non-terminal state; a failed document may
// return to any non-terminal state so an operator retry can restore the state
// it failed from. retired excludes a document from automation permanently.
var allowedTransitions = map[DocumentStatus]map[DocumentStatus]struct{}{
	StatusDiscovered: {
		StatusImporting: {},
		StatusFailed:    {},
		StatusRetired:   {},
	},
	StatusImporting: {
		StatusParsed:  {},
		StatusFailed:  {},
		StatusRetired: {},
	},
	StatusParsed: {
		StatusProofreading: {},
		StatusFailed:       {},
		StatusRetired:      {},
	},
	StatusProofreading: {
		StatusReview:  {},
		StatusFailed:  {},
		StatusRetired: {},
	},
	StatusReview: {
		StatusReadyToPublish: {},
		StatusFailed:         {},
		StatusRetired:        {},
	},
	StatusReadyToPublish: {
		StatusPublishing: {},
		StatusFailed:     {},
		StatusRetired:    {},
	},
	StatusPublishing: {
		StatusPublished: {},
		StatusFailed:    {},
	},
	StatusFailed: {
		StatusDiscovered:     {},
		StatusImporting:      {},
		StatusParsed:         {},
		StatusProofreading:   {},
		StatusReview:         {},
		StatusReadyToPublish: {},
		StatusRetired:        {},
	},
	StatusPublished: {},
	StatusRetired:   {},
}

func IsValidStatus(s DocumentStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}

func IsTerminal(s DocumentStatus) bool {
	return s == StatusPublished || s == StatusRetired
}

// CanTransition reports whether the edge from -> to is in the adjacency table.
func CanTransition(from, to DocumentStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

func NonTerminalStatuses() []DocumentStatus {
	out := make([]DocumentStatus, len(nonTerminalStatuses))
	copy(out, nonTerminalStatuses)
	return out
}
