// Package events holds the JSON event envelopes exchanged over the movie
// and analytics topics.
package events

import (
	"slices"
	"time"
)

// Event is implemented by every envelope the router can dispatch.
type Event interface {
	Type() string
}

// Keyed is implemented by payloads that choose their own partition key.
type Keyed interface {
	PartitionKey() string
}

// Movie event types.
const (
	MovieView    = "VIEW"
	MovieLike    = "LIKE"
	MovieComment = "COMMENT"
	MovieShare   = "SHARE"
)

// Analytics event types.
const (
	AnalyticsPageView   = "PAGE_VIEW"
	AnalyticsUserAction = "USER_ACTION"
	AnalyticsMovieView  = "MOVIE_VIEW"
	AnalyticsSearch     = "SEARCH"
)

var (
	movieTypes     = []string{MovieView, MovieLike, MovieComment, MovieShare}
	analyticsTypes = []string{AnalyticsPageView, AnalyticsUserAction, AnalyticsMovieView, AnalyticsSearch}
)

// MovieEventTypes returns the closed set of movie event types.
func MovieEventTypes() []string { return slices.Clone(movieTypes) }

// AnalyticsEventTypes returns the closed set of analytics event types.
func AnalyticsEventTypes() []string { return slices.Clone(analyticsTypes) }

// IsMovieEventType reports whether t is a declared movie event type.
func IsMovieEventType(t string) bool { return slices.Contains(movieTypes, t) }

// IsAnalyticsEventType reports whether t is a declared analytics event type.
func IsAnalyticsEventType(t string) bool { return slices.Contains(analyticsTypes, t) }

// MovieEvent is a user interaction with a movie.
type MovieEvent struct {
	EventType string         `json:"eventType"`
	UserID    string         `json:"userId"`
	MovieID   string         `json:"movieId"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (e *MovieEvent) Type() string { return e.EventType }

// Time converts the epoch-millisecond timestamp.
func (e *MovieEvent) Time() time.Time { return time.UnixMilli(e.Timestamp) }

// PartitionKey keeps all events of one movie on one partition.
func (e *MovieEvent) PartitionKey() string { return e.MovieID }

// AnalyticsEvent is a tracking event tied to a browsing session.
type AnalyticsEvent struct {
	EventType string         `json:"eventType"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func (e *AnalyticsEvent) Type() string { return e.EventType }

// Time converts the epoch-millisecond timestamp.
func (e *AnalyticsEvent) Time() time.Time { return time.UnixMilli(e.Timestamp) }

// PartitionKey keeps a session's events in order.
func (e *AnalyticsEvent) PartitionKey() string { return e.SessionID }

// NewMovieEvent stamps a movie event with the current time.
func NewMovieEvent(eventType, userID, movieID string, metadata map[string]any) *MovieEvent {
	return &MovieEvent{
		EventType: eventType,
		UserID:    userID,
		MovieID:   movieID,
		Timestamp: time.Now().UnixMilli(),
		Metadata:  metadata,
	}
}

// NewAnalyticsEvent stamps an analytics event with the current time. A nil
// data map is replaced by an empty one so the field is always an object.
func NewAnalyticsEvent(eventType, sessionID string, data map[string]any, userID string) *AnalyticsEvent {
	if data == nil {
		data = map[string]any{}
	}
	return &AnalyticsEvent{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}
