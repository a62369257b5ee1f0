package model

import (
	"encoding/json"
	"time"
)

// FeedListener associates a listener with a feed. Automatic listeners are
// triggered for every newly ingested file the feed matches.
type FeedListener struct {
	ListenerID string `json:"listenerId"`
	Automatic  bool   `json:"automatic"`
}

// Feed is a saved search. Search holds an Elasticsearch query clause.
type Feed struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Creator   string          `json:"creator"`
	Search    json.RawMessage `json:"search"`
	Listeners []FeedListener  `json:"listeners"`
	Created   time.Time       `json:"created"`
}

// AutomaticListeners returns the ids of listeners flagged automatic, in
// association order.
func (f *Feed) AutomaticListeners() []string {
	var ids []string
	for _, l := range f.Listeners {
		if l.Automatic {
			ids = append(ids, l.ListenerID)
		}
	}
	return ids
}

// AccessPolicy restricts which users, datasets and groups may trigger a
// listener. Empty sets are allowed; a nil policy means unrestricted.
type AccessPolicy struct {
	Owner    string   `json:"owner"`
	Users    []string `json:"users,omitempty"`
	Datasets []string `json:"datasets,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// EventListener is a registered processing agent. Name doubles as the
// routing key suffix.
type EventListener struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Access      *AccessPolicy `json:"access,omitempty"`
	Created     time.Time     `json:"created"`
}
