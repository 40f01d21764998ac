package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/moviebus/internal/runtime/ids"
	metadatapkg "github.com/drblury/moviebus/internal/runtime/metadata"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	mw := correlationIDMiddleware()

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.New(), nil)
		msg.Metadata = message.Metadata{}
		called := false
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			called = true
			if m.Metadata[metadataKeyCorrelationID] == "" {
				t.Fatal("expected correlation id to be populated")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Fatal("handler not invoked")
		}
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.New(), nil)
		msg.Metadata = message.Metadata{metadataKeyCorrelationID: "fixed"}
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			if m.Metadata[metadataKeyCorrelationID] != "fixed" {
				t.Fatal("expected correlation id to be preserved")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestLogMessagesMiddleware(t *testing.T) {
	t.Parallel()

	logger := newRecordingLogger()
	msg := message.NewMessage("uuid-1", []byte(`{"eventType":"VIEW"}`))
	_, err := logMessagesMiddleware(logger)(func(*message.Message) ([]*message.Message, error) {
		return nil, errors.New("boom")
	})(msg)
	if err == nil {
		t.Fatal("expected handler error to pass through")
	}

	entries := logger.find("Processing message")
	if len(entries) != 1 || entries[0].level != "debug" {
		t.Fatalf("expected one debug entry, got %+v", entries)
	}
	if entries[0].fields["message_uuid"] != "uuid-1" {
		t.Fatalf("unexpected fields %+v", entries[0].fields)
	}
}

func TestTracerMiddleware(t *testing.T) {
	t.Parallel()

	mw := tracerMiddleware("movie")
	msg := message.NewMessage(idspkg.New(), nil)
	msg.Metadata = message.Metadata{}
	msg.SetContext(context.Background())
	var observed trace.Span
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		observed = trace.SpanFromContext(m.Context())
		return nil, nil
	})(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed == nil {
		t.Fatal("expected span to be attached to context")
	}
}

func TestTracerMiddlewareRecordsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	msg := message.NewMessage(idspkg.New(), nil)
	msg.Metadata = message.Metadata{metadatapkg.KeyTopic: "movie-events"}
	msg.SetContext(context.Background())
	_, err := tracerMiddleware("movie")(func(*message.Message) ([]*message.Message, error) {
		return nil, boom
	})(msg)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	mw := metricsMiddleware("movie", metrics)

	msg := message.NewMessage(idspkg.New(), nil)
	msg.Metadata.Set(metadatapkg.KeyTopic, "movie-views")

	if _, err := mw(func(*message.Message) ([]*message.Message, error) { return nil, nil })(msg); err != nil {
		t.Fatal(err)
	}
	if _, err := mw(func(*message.Message) ([]*message.Message, error) { return nil, errors.New("x") })(msg); err == nil {
		t.Fatal("expected error")
	}

	if got := testutil.ToFloat64(metrics.consumed.WithLabelValues("movie", "movie-views")); got != 2 {
		t.Fatalf("consumed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.handlerErrors.WithLabelValues("movie", "movie-views")); got != 1 {
		t.Fatalf("handler_errors_total = %v, want 1", got)
	}

	// a nil *Metrics records nothing
	if _, err := metricsMiddleware("movie", nil)(func(*message.Message) ([]*message.Message, error) { return nil, nil })(msg); err != nil {
		t.Fatal(err)
	}
}

func TestBuildChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	named := func(name string) message.HandlerMiddleware {
		return func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				order = append(order, name)
				return h(msg)
			}
		}
	}

	h := buildChain(func(*message.Message) ([]*message.Message, error) {
		order = append(order, "handler")
		return nil, nil
	}, named("outer"), nil, named("inner"))

	if _, err := h(message.NewMessage("1", nil)); err != nil {
		t.Fatal(err)
	}
	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDefaultChainRecoversPanicsAsErrors(t *testing.T) {
	rt, err := NewConsumerRuntime(testConsumerConfig("movie", "movie-events"), func(context.Context, Record) error {
		panic("kaboom")
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := message.NewMessage(idspkg.New(), []byte(`{}`))
	msg.SetContext(context.Background())
	_, err = rt.process(msg)

	var recovered middleware.RecoveredPanicError
	if !errors.As(err, &recovered) {
		t.Fatalf("expected RecoveredPanicError, got %v", err)
	}
	if recovered.V != "kaboom" {
		t.Fatalf("unexpected panic value %v", recovered.V)
	}
}

func TestUserMiddlewaresRunInsideDefaultChain(t *testing.T) {
	var sawCorrelation bool
	spy := func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			sawCorrelation = msg.Metadata.Get(metadataKeyCorrelationID) != ""
			return h(msg)
		}
	}
	rt, err := NewConsumerRuntime(testConsumerConfig("movie", "movie-events"), nopHandler, WithMiddlewares(spy))
	if err != nil {
		t.Fatal(err)
	}

	msg := message.NewMessage(idspkg.New(), nil)
	msg.SetContext(context.Background())
	if _, err := rt.process(msg); err != nil {
		t.Fatal(err)
	}
	if !sawCorrelation {
		t.Fatal("user middleware ran before the correlation id was set")
	}
}
