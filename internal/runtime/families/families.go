// Package families wires the built-in topic families: an event router per
// family with default handlers, and the consumer runtimes that feed them.
package families

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/moviebus/internal/runtime"
	configpkg "github.com/drblury/moviebus/internal/runtime/config"
	"github.com/drblury/moviebus/internal/runtime/events"
	idspkg "github.com/drblury/moviebus/internal/runtime/ids"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
)

type (
	MovieRouter     = runtime.EventRouter[events.MovieEvent, *events.MovieEvent]
	AnalyticsRouter = runtime.EventRouter[events.AnalyticsEvent, *events.AnalyticsEvent]

	MovieHandler     = runtime.EventHandler[*events.MovieEvent]
	AnalyticsHandler = runtime.EventHandler[*events.AnalyticsEvent]
)

// MovieHandlers overrides the default movie handlers. Nil fields keep the
// default, which logs the event and updates the domain counters.
type MovieHandlers struct {
	View    MovieHandler
	Like    MovieHandler
	Comment MovieHandler
	Share   MovieHandler
}

// AnalyticsHandlers overrides the default analytics handlers.
type AnalyticsHandlers struct {
	PageView   AnalyticsHandler
	UserAction AnalyticsHandler
	MovieView  AnalyticsHandler
	Search     AnalyticsHandler
}

// NewMovieRouter builds the movie family router with a handler for every
// movie event type.
func NewMovieRouter(logger loggingpkg.ServiceLogger, metrics *runtime.Metrics, overrides MovieHandlers) (*MovieRouter, error) {
	r := runtime.NewEventRouter[events.MovieEvent](configpkg.FamilyMovie, events.MovieEventTypes(), logger, metrics)
	log := loggingpkg.ForComponent(logger, "movie_events", nil)

	var def MovieHandler = func(ctx context.Context, ev *events.MovieEvent) error {
		metrics.DomainEvent(configpkg.FamilyMovie, ev.EventType)
		if ev.EventType == events.MovieView {
			metrics.MovieViewed(ev.MovieID)
		}
		log.Info("Processing movie event", loggingpkg.LogFields{
			"event_type": ev.EventType,
			"user_id":    ev.UserID,
			"movie_id":   ev.MovieID,
			"timestamp":  ev.Timestamp,
		})
		return nil
	}

	err := errors.Join(
		r.Handle(events.MovieView, orDefault(overrides.View, def)),
		r.Handle(events.MovieLike, orDefault(overrides.Like, def)),
		r.Handle(events.MovieComment, orDefault(overrides.Comment, def)),
		r.Handle(events.MovieShare, orDefault(overrides.Share, def)),
		r.Validate(),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewAnalyticsRouter builds the analytics family router with a handler for
// every analytics event type.
func NewAnalyticsRouter(logger loggingpkg.ServiceLogger, metrics *runtime.Metrics, overrides AnalyticsHandlers) (*AnalyticsRouter, error) {
	r := runtime.NewEventRouter[events.AnalyticsEvent](configpkg.FamilyAnalytics, events.AnalyticsEventTypes(), logger, metrics)
	log := loggingpkg.ForComponent(logger, "analytics_events", nil)

	track := func(msg string) AnalyticsHandler {
		return func(ctx context.Context, ev *events.AnalyticsEvent) error {
			metrics.DomainEvent(configpkg.FamilyAnalytics, ev.EventType)
			if ev.EventType == events.AnalyticsMovieView {
				if movieID, ok := ev.Data["movieId"].(string); ok && movieID != "" {
					metrics.MovieViewed(movieID)
				}
			}
			log.Info(msg, loggingpkg.LogFields{
				"session_id":        ev.SessionID,
				"generated_session": idspkg.IsGeneratedSession(ev.SessionID),
				"user_id":           ev.UserID,
				"data":              ev.Data,
			})
			return nil
		}
	}

	err := errors.Join(
		r.Handle(events.AnalyticsPageView, orDefault(overrides.PageView, track("Tracking page view"))),
		r.Handle(events.AnalyticsUserAction, orDefault(overrides.UserAction, track("Tracking user action"))),
		r.Handle(events.AnalyticsMovieView, orDefault(overrides.MovieView, track("Tracking movie view"))),
		r.Handle(events.AnalyticsSearch, orDefault(overrides.Search, track("Tracking search"))),
		r.Validate(),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func orDefault[PT any](override, def runtime.EventHandler[PT]) runtime.EventHandler[PT] {
	if override != nil {
		return override
	}
	return def
}

// Handlers groups the overrides for every built-in family.
type Handlers struct {
	Movie     MovieHandlers
	Analytics AnalyticsHandlers
}

// RegisterDefaults builds the movie and analytics routers and registers
// one consumer runtime per family on bus, using the families from
// Config.DefaultConsumers.
func RegisterDefaults(bus *runtime.Bus, handlers Handlers) ([]*runtime.ConsumerRuntime, error) {
	movieRouter, err := NewMovieRouter(bus.Logger, bus.Metrics(), handlers.Movie)
	if err != nil {
		return nil, err
	}
	analyticsRouter, err := NewAnalyticsRouter(bus.Logger, bus.Metrics(), handlers.Analytics)
	if err != nil {
		return nil, err
	}

	byFamily := map[string]runtime.MessageHandler{
		configpkg.FamilyMovie:     movieRouter.HandleRecord,
		configpkg.FamilyAnalytics: analyticsRouter.HandleRecord,
	}

	var runtimes []*runtime.ConsumerRuntime
	for _, cc := range bus.Conf.DefaultConsumers() {
		handler, ok := byFamily[cc.Name]
		if !ok {
			return nil, fmt.Errorf("no router for consumer family %q", cc.Name)
		}
		rt, err := bus.NewConsumer(cc, handler)
		if err != nil {
			return nil, fmt.Errorf("consumer %s: %w", cc.Name, err)
		}
		runtimes = append(runtimes, rt)
	}
	return runtimes, nil
}
