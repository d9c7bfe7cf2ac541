package domain

// ItemState is the lifecycle stage of a BatchItem.
type ItemState string

const (
	ItemStatePending     ItemState = "pending"
	ItemStateResolving   ItemState = "resolving"
	ItemStateDownloading ItemState = "downloading"
	ItemStateMuxing      ItemState = "muxing"
	ItemStateDone        ItemState = "done"
	ItemStateFailed      ItemState = "failed"
)

func (s ItemState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible in this run.
func (s ItemState) IsTerminal() bool {
	return s == ItemStateDone || s == ItemStateFailed
}

// IsActive reports whether the item is being worked on.
func (s ItemState) IsActive() bool {
	return s == ItemStateResolving || s == ItemStateDownloading || s == ItemStateMuxing
}

// CanTransition enforces the per-item state machine edges.
func (s ItemState) CanTransition(to ItemState) bool {
	if to == ItemStateFailed {
		return !s.IsTerminal()
	}
	switch s {
	case ItemStatePending:
		return to == ItemStateResolving
	case ItemStateResolving:
		return to == ItemStateDownloading
	case ItemStateDownloading:
		return to == ItemStateMuxing
	case ItemStateMuxing:
		return to == ItemStateDone
	default:
		return false
	}
}
