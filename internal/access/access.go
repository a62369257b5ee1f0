// Package access decides whether an actor may trigger a listener on a file.
package access

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
)

// ErrUnauthorized is the class of rejected listener requests.
var ErrUnauthorized = errs.Class("unauthorized")

// Authorize reports whether actor may use a listener guarded by policy on a
// file of datasetID. groups are the ids of the actor's groups. A nil policy
// is unrestricted and privileged actors bypass every policy.
func Authorize(policy *model.AccessPolicy, actor model.Actor, datasetID string, groups []string) bool {
	if policy == nil || actor.Privileged() {
		return true
	}
	if policy.Owner == actor.Email {
		return true
	}
	for _, u := range policy.Users {
		if u == actor.Email {
			return true
		}
	}
	if datasetID != "" {
		for _, d := range policy.Datasets {
			if d == datasetID {
				return true
			}
		}
	}
	return intersects(policy.Groups, groups)
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// GroupStore resolves the groups an actor created or belongs to.
type GroupStore interface {
	GroupIDsForUser(ctx context.Context, email string) ([]string, error)
}

// Filter applies Authorize, loading groups only when the decision needs them.
type Filter struct {
	log    *zap.Logger
	groups GroupStore
}

// NewFilter constructs a Filter.
func NewFilter(log *zap.Logger, groups GroupStore) *Filter {
	return &Filter{log: log, groups: groups}
}

// Allow reports whether actor may trigger listener on a file of datasetID.
// An empty datasetID checks the listener outside of any dataset.
func (f *Filter) Allow(ctx context.Context, listener *model.EventListener, actor model.Actor, datasetID string) (bool, error) {
	if Authorize(listener.Access, actor, datasetID, nil) {
		return true, nil
	}
	if len(listener.Access.Groups) == 0 {
		return false, nil
	}
	groups, err := f.groups.GroupIDsForUser(ctx, actor.Email)
	if err != nil {
		return false, errs.New("resolve groups of %s: %v", actor.Email, err)
	}
	allowed := Authorize(listener.Access, actor, datasetID, groups)
	if !allowed {
		f.log.Debug("listener denied",
			zap.String("listener", listener.Name),
			zap.String("user", actor.Email),
			zap.String("dataset", datasetID))
	}
	return allowed, nil
}

// Check is Allow returning ErrUnauthorized on denial.
func (f *Filter) Check(ctx context.Context, listener *model.EventListener, actor model.Actor, datasetID string) error {
	ok, err := f.Allow(ctx, listener, actor, datasetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized.New("%s may not use listener %s", actor.Email, listener.Name)
	}
	return nil
}
