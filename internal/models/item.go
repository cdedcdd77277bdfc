package models

import "time"

// WatchedItem is one monitored product page owned by a user. Availability
// fields reflect the last successfully parsed fetch only; they are mutated
// exclusively by the store's commit methods.
type WatchedItem struct {
	OwnerID               string
	ItemID                string
	TargetURL             string
	DisplayTitle          string
	LastKnownAvailable    bool
	LastKnownStatusText   string
	LastCheckedAt         time.Time
	LastNotifiedAvailable bool
	CreatedAt             time.Time
}

// ProductSnapshot is the result of one fetch+parse of a product page. It is
// never persisted as a whole; selected fields are folded into the owning
// WatchedItem when a transition is committed.
type ProductSnapshot struct {
	Title        string
	PriceDisplay string
	Available    bool
	StatusText   string
	ImageURL     string
	MaxQuantity  int
	SourceURL    string
}
