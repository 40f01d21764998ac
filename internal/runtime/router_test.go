package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/moviebus/internal/runtime/errors"
	"github.com/drblury/moviebus/internal/runtime/events"
)

type movieRouter = EventRouter[events.MovieEvent, *events.MovieEvent]

func newMovieTestRouter(logger *recordingLogger, metrics *Metrics) *movieRouter {
	return NewEventRouter[events.MovieEvent]("movie", events.MovieEventTypes(), logger, metrics)
}

func TestEventRouterDecode(t *testing.T) {
	r := newMovieTestRouter(newRecordingLogger(), nil)

	ev, err := r.Decode([]byte(`{"eventType":"VIEW","userId":"u1","movieId":"m1","timestamp":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, &events.MovieEvent{EventType: "VIEW", UserID: "u1", MovieID: "m1", Timestamp: 1700000000000}, ev)

	garbage := map[string][]byte{
		"nil":             nil,
		"empty":           {},
		"truncated":       []byte(`{"eventType":"VIEW"`),
		"array":           []byte(`[1,2,3]`),
		"string":          []byte(`"VIEW"`),
		"null":            []byte(`null`),
		"number":          []byte(`42`),
		"wrong type":      []byte(`{"eventType":7}`),
		"missing type":    []byte(`{"userId":"u1","movieId":"m1"}`),
		"binary":          {0xff, 0xfe, 0x00, 0x7b},
		"bad timestamp":   []byte(`{"eventType":"VIEW","timestamp":"yesterday"}`),
		"deeply unclosed": []byte(`{"a":{"b":{"c":[{"d":`),
	}
	for name, raw := range garbage {
		t.Run(name, func(t *testing.T) {
			var (
				ev  *events.MovieEvent
				err error
			)
			require.NotPanics(t, func() { ev, err = r.Decode(raw) })
			assert.Nil(t, ev)
			var decodeErr *errspkg.DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestEventRouterDispatchesEveryDeclaredType(t *testing.T) {
	r := newMovieTestRouter(newRecordingLogger(), nil)

	got := map[string]int{}
	for _, eventType := range events.MovieEventTypes() {
		require.NoError(t, r.Handle(eventType, func(_ context.Context, ev *events.MovieEvent) error {
			got[ev.EventType]++
			return nil
		}))
	}
	require.NoError(t, r.Validate())

	for _, eventType := range events.MovieEventTypes() {
		require.NoError(t, r.Dispatch(context.Background(), &events.MovieEvent{EventType: eventType}))
	}
	for _, eventType := range events.MovieEventTypes() {
		assert.Equal(t, 1, got[eventType], eventType)
	}
}

func TestEventRouterDropsUnknownTypes(t *testing.T) {
	logger := newRecordingLogger()
	metrics, _ := newTestMetrics(t)
	r := newMovieTestRouter(logger, metrics)

	called := false
	require.NoError(t, r.Handle(events.MovieView, func(context.Context, *events.MovieEvent) error {
		called = true
		return nil
	}))

	err := r.HandleRecord(context.Background(), Record{Topic: "movie-events", Value: []byte(`{"eventType":"RATE","movieId":"m1"}`)})
	assert.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 1, logger.count("Unknown event type, dropping"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.unknownEvents.WithLabelValues("movie", "RATE")))

	// a declared type without a handler is dropped the same way
	assert.NoError(t, r.Dispatch(context.Background(), &events.MovieEvent{EventType: events.MovieShare}))
	assert.Equal(t, 2, logger.count("Unknown event type, dropping"))
	assert.NoError(t, r.Dispatch(context.Background(), nil))
}

func TestEventRouterHandleRecordDropsMalformedPayloads(t *testing.T) {
	logger := newRecordingLogger()
	metrics, _ := newTestMetrics(t)
	r := newMovieTestRouter(logger, metrics)

	err := r.HandleRecord(context.Background(), Record{Topic: "movie-events", Partition: 3, Value: []byte(`{"eventType":`)})
	assert.NoError(t, err, "malformed records are not handler failures")

	dropped := logger.find("Dropping malformed message")
	require.Len(t, dropped, 1)
	assert.Equal(t, int32(3), dropped[0].fields["partition"])
	var decodeErr *errspkg.DecodeError
	assert.ErrorAs(t, dropped[0].err, &decodeErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decodeErrors.WithLabelValues("movie", "movie-events")))
}

func TestEventRouterPropagatesHandlerErrors(t *testing.T) {
	r := newMovieTestRouter(newRecordingLogger(), nil)
	boom := errors.New("boom")
	require.NoError(t, r.Handle(events.MovieLike, func(context.Context, *events.MovieEvent) error { return boom }))

	err := r.HandleRecord(context.Background(), Record{Value: []byte(`{"eventType":"LIKE"}`)})
	assert.ErrorIs(t, err, boom)
}

func TestEventRouterHandle(t *testing.T) {
	r := newMovieTestRouter(newRecordingLogger(), nil)

	assert.ErrorIs(t, r.Handle("RATE", func(context.Context, *events.MovieEvent) error { return nil }), errspkg.ErrUnknownEventType)
	assert.ErrorIs(t, r.Handle(events.MovieView, nil), errspkg.ErrHandlerRequired)

	var which string
	require.NoError(t, r.Handle(events.MovieView, func(context.Context, *events.MovieEvent) error { which = "first"; return nil }))
	require.NoError(t, r.Handle(events.MovieView, func(context.Context, *events.MovieEvent) error { which = "second"; return nil }))
	require.NoError(t, r.Dispatch(context.Background(), &events.MovieEvent{EventType: events.MovieView}))
	assert.Equal(t, "second", which, "Handle replaces the previous handler")

	err := r.Validate()
	require.Error(t, err)
	for _, missing := range []string{events.MovieLike, events.MovieComment, events.MovieShare} {
		assert.ErrorContains(t, err, missing)
	}
	assert.NotContains(t, err.Error(), `"VIEW"`)

	assert.Equal(t, "movie", r.Name())
	declared := r.Declared()
	declared[0] = "MUTATED"
	assert.Equal(t, events.MovieEventTypes(), r.Declared())
}

func TestEventRouterAnalyticsFamily(t *testing.T) {
	r := NewEventRouter[events.AnalyticsEvent]("analytics", events.AnalyticsEventTypes(), newRecordingLogger(), nil)
	var got *events.AnalyticsEvent
	require.NoError(t, r.Handle(events.AnalyticsSearch, func(_ context.Context, ev *events.AnalyticsEvent) error {
		got = ev
		return nil
	}))

	raw := []byte(`{"eventType":"SEARCH","sessionId":"s1","timestamp":1,"data":{"query":"heat"}}`)
	require.NoError(t, r.HandleRecord(context.Background(), Record{Value: raw}))
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "heat", got.Data["query"])
}
