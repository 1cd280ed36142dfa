package proxy

// EventKind tells what the remote peer reported about a mirrored object.
type EventKind int

const (
	// EventBound carries the global id assigned by the peer.
	EventBound EventKind = iota
	// EventInfo carries the object's initial properties.
	EventInfo
	// EventProperties carries a property update; it adds no feature.
	EventProperties
	// EventFeatures adds specialized feature bits.
	EventFeatures
	// EventDone acknowledges every round trip up to Seq.
	EventDone
	// EventError reports that the round trip Seq was rejected.
	EventError
	// EventDestroyed reports that the remote object is gone.
	EventDestroyed
)

func (k EventKind) String() string {
	switch k {
	case EventBound:
		return "bound"
	case EventInfo:
		return "info"
	case EventProperties:
		return "properties"
	case EventFeatures:
		return "features"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	case EventDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Event is one notification delivered by the transport.
type Event struct {
	Kind       EventKind
	GlobalID   uint32
	Properties map[string]string
	Features   Features
	Seq        uint32
	Err        error
}
