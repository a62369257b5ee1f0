package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/access"
	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
)

// Service manages feeds and their listener associations.
type Service struct {
	log    *zap.Logger
	store  Store
	filter *access.Filter
}

// NewService constructs a Service.
func NewService(log *zap.Logger, store Store, filter *access.Filter) *Service {
	return &Service{log: log, store: store, filter: filter}
}

// Create stores a feed. Every listener it references must exist.
func (s *Service) Create(ctx context.Context, feed *model.Feed) error {
	feed.Name = strings.TrimSpace(feed.Name)
	if feed.Name == "" {
		return Error.New("feed name is required")
	}
	if !json.Valid(feed.Search) {
		return Error.New("feed %s: search predicate is not valid JSON", feed.Name)
	}
	for _, l := range feed.Listeners {
		if _, err := s.store.GetListener(ctx, l.ListenerID); err != nil {
			return Error.Wrap(err)
		}
	}
	if err := s.store.CreateFeed(ctx, feed); err != nil {
		return Error.Wrap(err)
	}
	s.log.Info("feed created", zap.String("feed", feed.ID), zap.String("name", feed.Name))
	return nil
}

// Get returns a feed.
func (s *Service) Get(ctx context.Context, id string) (*model.Feed, error) {
	feed, err := s.store.GetFeed(ctx, id)
	return feed, Error.Wrap(err)
}

// List returns a page of feeds, optionally filtered by name.
func (s *Service) List(ctx context.Context, name string, offset, limit int) ([]model.Feed, error) {
	feeds, err := s.store.ListFeeds(ctx, name, offset, limit)
	return feeds, Error.Wrap(err)
}

// Delete removes a feed.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteFeed(ctx, id); err != nil {
		return Error.Wrap(err)
	}
	s.log.Info("feed deleted", zap.String("feed", id))
	return nil
}

// AssociateListener subscribes a listener to a feed. The listener must exist
// and actor must be allowed to use it.
func (s *Service) AssociateListener(ctx context.Context, feedID, listenerID string, automatic bool, actor model.Actor) error {
	if _, err := s.store.GetFeed(ctx, feedID); err != nil {
		return Error.Wrap(err)
	}
	listener, err := s.store.GetListener(ctx, listenerID)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := s.filter.Check(ctx, listener, actor, ""); err != nil {
		return err
	}
	if err := s.store.AddFeedListener(ctx, feedID, model.FeedListener{ListenerID: listenerID, Automatic: automatic}); err != nil {
		return Error.Wrap(err)
	}
	s.log.Info("listener attached",
		zap.String("feed", feedID),
		zap.String("listener", listener.Name),
		zap.Bool("automatic", automatic))
	return nil
}

// DisassociateListener removes a subscription. actor must be allowed to use
// the listener; a reference to a deleted listener can be removed by anyone.
// Removing one that does not exist is a no-op.
func (s *Service) DisassociateListener(ctx context.Context, feedID, listenerID string, actor model.Actor) error {
	if _, err := s.store.GetFeed(ctx, feedID); err != nil {
		return Error.Wrap(err)
	}
	listener, err := s.store.GetListener(ctx, listenerID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return Error.Wrap(err)
	default:
		if err := s.filter.Check(ctx, listener, actor, ""); err != nil {
			return err
		}
	}
	if err := s.store.RemoveFeedListener(ctx, feedID, listenerID); err != nil {
		return Error.Wrap(err)
	}
	s.log.Info("listener detached", zap.String("feed", feedID), zap.String("listener", listenerID))
	return nil
}
