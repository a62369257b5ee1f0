package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
)

// Report is the routing outcome of a Create. Listener names appear at most
// once across Dispatched, Unauthorized and Failed.
type Report struct {
	Matched      []string
	Dispatched   []string
	Unauthorized []string
	Failed       map[string]error
	// MatchErr is set when feeds could not be evaluated at all.
	MatchErr error
}

// route sends file to every matched listener actor may use.
func (c *Coordinator) route(ctx context.Context, file *model.File, actor model.Actor) *Report {
	report := &Report{Failed: make(map[string]error)}
	log := c.log.With(zap.String("file", file.ID))

	listeners, err := c.deps.Matcher.MatchFeeds(ctx, file)
	if err != nil {
		report.MatchErr = err
		log.Error("match feeds", zap.Error(err))
		return report
	}
	for _, l := range listeners {
		report.Matched = append(report.Matched, l.Name)

		ok, err := c.deps.Access.Allow(ctx, l, actor, file.DatasetID)
		if err != nil {
			report.Failed[l.Name] = err
			log.Warn("authorize listener", zap.String("listener", l.Name), zap.Error(err))
			continue
		}
		if !ok {
			report.Unauthorized = append(report.Unauthorized, l.Name)
			continue
		}
		if err := c.deps.Dispatcher.Dispatch(ctx, file, l.Name, nil, actor.Email); err != nil {
			report.Failed[l.Name] = err
			continue
		}
		report.Dispatched = append(report.Dispatched, l.Name)
	}
	if len(report.Matched) > 0 {
		log.Info("file routed",
			zap.Strings("dispatched", report.Dispatched),
			zap.Strings("unauthorized", report.Unauthorized),
			zap.Int("failed", len(report.Failed)))
	}
	return report
}
