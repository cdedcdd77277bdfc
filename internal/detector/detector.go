package detector

// Outcome classifies the result of checking a single watched item.
type Outcome int

const (
	// FetchFailed means the page could not be fetched or did not return a
	// success status. No state is written and nothing is notified.
	FetchFailed Outcome = iota
	// Unchanged means the fetch succeeded and availability did not move.
	Unchanged
	// Transitioned means availability flipped in either direction. Exactly
	// one notification and one state commit follow.
	Transitioned
)

func (o Outcome) String() string {
	switch o {
	case FetchFailed:
		return "fetch_failed"
	case Unchanged:
		return "unchanged"
	case Transitioned:
		return "transitioned"
	default:
		return "unknown"
	}
}

// Classify compares the last persisted availability against the freshly
// fetched one. A failed fetch always wins: it must never look like a
// transition regardless of what the booleans say.
func Classify(lastKnownAvailable, snapshotAvailable, fetchSucceeded bool) Outcome {
	if !fetchSucceeded {
		return FetchFailed
	}
	if snapshotAvailable == lastKnownAvailable {
		return Unchanged
	}
	return Transitioned
}
