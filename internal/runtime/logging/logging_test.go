package logging

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsoncodec "github.com/drblury/moviebus/internal/runtime/jsoncodec"
)

type stubState string

func (s stubState) String() string { return string(s) }

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, jsoncodec.Unmarshal(sc.Bytes(), &line), sc.Text())
		lines = append(lines, line)
	}
	return lines
}

func TestSlogBackendWritesScopedFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	log := ForClient(base, "consumer", "movie-consumer", "movie-group", LogFields{FieldConsumer: "movie"})
	log.Info("Reconnect scheduled", Retry(2, 5*time.Second))
	log.Debug("Consumer state changed", Transition(stubState("polling"), stubState("reconnecting")))
	log.Error("Subscription failed", errors.New("topic authorization failed"), LogFields{FieldTopic: "movie-events"})

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Equal(t, "consumer", line[FieldComponent])
		assert.Equal(t, "movie-consumer", line[FieldClientID])
		assert.Equal(t, "movie-group", line[FieldGroupID])
		assert.Equal(t, "movie", line[FieldConsumer])
	}

	assert.Equal(t, "Reconnect scheduled", lines[0]["msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, 2.0, lines[0][FieldAttempt])
	assert.Equal(t, "5s", lines[0][FieldDelay])

	assert.Equal(t, "polling", lines[1]["from"])
	assert.Equal(t, "reconnecting", lines[1][FieldState])

	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.Equal(t, "movie-events", lines[2][FieldTopic])
	assert.Contains(t, fmt.Sprint(lines[2]), "topic authorization failed")
}

func TestSlogBackendRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	log.Debug("hidden", nil)
	log.Trace("hidden", nil)
	log.Info("shown", nil)

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestMerge(t *testing.T) {
	assert.Nil(t, Merge())
	assert.Nil(t, Merge(nil, LogFields{}))

	a := LogFields{"a": 1, "shared": "a"}
	b := LogFields{"b": 2, "shared": "b"}
	merged := Merge(a, nil, b)
	assert.Equal(t, LogFields{"a": 1, "b": 2, "shared": "b"}, merged)

	merged["a"] = 42
	assert.Equal(t, 1, a["a"], "inputs are not aliased")
}

func TestForClientOmitsEmptyIDs(t *testing.T) {
	rec := &recordingLogger{}
	ForClient(rec, "publisher", "movie-stream-producer", "", nil).Info("Publisher connected", nil)
	ForClient(rec, "consumer", "", "", LogFields{FieldClientID: "override"}).Info("x", nil)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, LogFields{FieldComponent: "publisher", FieldClientID: "movie-stream-producer"}, rec.entries[0].scope)
	assert.Equal(t, LogFields{FieldComponent: "consumer", FieldClientID: "override"}, rec.entries[1].scope)
}

func TestForComponentNilLoggerIsNop(t *testing.T) {
	log := ForComponent(nil, "consumer", nil)
	assert.NotPanics(t, func() {
		log.Info("dropped", LogFields{"k": "v"})
		log.Error("dropped", errors.New("boom"), nil)
		log.With(LogFields{"k": "v"}).Trace("dropped", nil)
	})
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewEntryServiceLogger[EntryLogger](nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestEntryServiceLoggerDelegates(t *testing.T) {
	entry := newFakeEntry()
	log := NewEntryServiceLogger(entry).With(LogFields{FieldClientID: "c1"})

	boom := errors.New("boom")
	log.Info("connected", LogFields{FieldBroker: "kafka-1:9092"})
	log.Error("lost", boom, nil)
	log.Debug("debug", nil)
	log.Trace("trace", nil)

	logs := entry.recorder.logs
	require.Len(t, logs, 4)
	assert.Equal(t, "info", logs[0].level)
	assert.Equal(t, "connected", logs[0].msg)
	assert.Equal(t, LogFields{FieldClientID: "c1", FieldBroker: "kafka-1:9092"}, logs[0].fields)
	assert.Equal(t, "error", logs[1].level)
	assert.Same(t, boom, logs[1].err)
	assert.Equal(t, "debug", logs[2].level)
	assert.Equal(t, "trace", logs[3].level)
}

func TestWatermillAdapterSharesSink(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	scoped := ForComponent(base, "publisher", nil)

	adapter := NewWatermillAdapter(scoped)
	adapter.With(watermill.LogFields{"driver": "kafka"}).Info("Producer ready", watermill.LogFields{"topic": "movie-views"})

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "publisher", lines[0][FieldComponent])
	assert.Equal(t, "kafka", lines[0]["driver"])
	assert.Equal(t, "movie-views", lines[0]["topic"])
}

func TestWatermillAdapterBridgesForeignLoggers(t *testing.T) {
	rec := &recordingLogger{}
	adapter := NewWatermillAdapter(rec)

	boom := errors.New("boom")
	child := adapter.With(watermill.LogFields{"driver": "franz"})
	child.Error("fetch failed", boom, watermill.LogFields{FieldPartition: int32(2)})
	child.Debug("debug", nil)
	adapter.Trace("trace", nil)
	adapter.Info("info", watermill.LogFields{"k": "v"})

	require.Len(t, rec.entries, 4)
	assert.Equal(t, LogFields{"driver": "franz"}, rec.entries[0].scope)
	assert.Equal(t, "error", rec.entries[0].level)
	assert.Same(t, boom, rec.entries[0].err)
	assert.Equal(t, int32(2), rec.entries[0].fields[FieldPartition])
	assert.Equal(t, "debug", rec.entries[1].level)
	assert.Equal(t, "trace", rec.entries[2].level)
	assert.Equal(t, LogFields{"k": "v"}, rec.entries[3].fields)
}

// recordingLogger shares one entry slice between parent and children.
type recordingLogger struct {
	scope   LogFields
	entries []recorded
	root    *recordingLogger
}

type recorded struct {
	level  string
	msg    string
	scope  LogFields
	fields LogFields
	err    error
}

func (r *recordingLogger) sink() *recordingLogger {
	if r.root != nil {
		return r.root
	}
	return r
}

func (r *recordingLogger) add(level, msg string, err error, fields LogFields) {
	s := r.sink()
	s.entries = append(s.entries, recorded{level: level, msg: msg, scope: r.scope, fields: fields, err: err})
}

func (r *recordingLogger) With(fields LogFields) ServiceLogger {
	return &recordingLogger{scope: Merge(r.scope, fields), root: r.sink()}
}

func (r *recordingLogger) Debug(msg string, fields LogFields) { r.add("debug", msg, nil, fields) }
func (r *recordingLogger) Info(msg string, fields LogFields)  { r.add("info", msg, nil, fields) }
func (r *recordingLogger) Trace(msg string, fields LogFields) { r.add("trace", msg, nil, fields) }

func (r *recordingLogger) Error(msg string, err error, fields LogFields) {
	r.add("error", msg, err, fields)
}

type fakeEntry struct {
	recorder *entryRecorder
	fields   LogFields
	err      error
}

type entryRecorder struct {
	logs []recorded
}

func newFakeEntry() *fakeEntry {
	return &fakeEntry{recorder: &entryRecorder{}}
}

func (f *fakeEntry) Error(args ...any) { f.append("error", args...) }
func (f *fakeEntry) Info(args ...any)  { f.append("info", args...) }
func (f *fakeEntry) Debug(args ...any) { f.append("debug", args...) }
func (f *fakeEntry) Trace(args ...any) { f.append("trace", args...) }

func (f *fakeEntry) WithError(err error) *fakeEntry {
	return &fakeEntry{recorder: f.recorder, fields: f.fields, err: err}
}

func (f *fakeEntry) WithField(key string, value any) *fakeEntry {
	return &fakeEntry{recorder: f.recorder, fields: Merge(f.fields, LogFields{key: value}), err: f.err}
}

func (f *fakeEntry) append(level string, args ...any) {
	f.recorder.logs = append(f.recorder.logs, recorded{level: level, msg: fmt.Sprint(args...), fields: f.fields, err: f.err})
}
