package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/sockathon/internal/events"
)

func framed(schemaID int, payload string) []byte {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], uint32(schemaID))
	copy(value[5:], payload)
	return value
}

func summaryMessage(offset int64, payload string) kafka.Message {
	return kafka.Message{
		Topic:   events.DefaultSummaryTopic,
		Offset:  offset,
		Key:     []byte("U0000000001"),
		Time:    time.Now().UTC(),
		Value:   framed(42, payload),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(events.TypeSummarySynced)}},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	payload := `{"participant_id":"U0000000001","date":"2025-02-12","coded_seconds":960,"synced_at":"2025-02-12T10:00:00Z"}`
	reader := &stubReader{messages: []kafka.Message{summaryMessage(10, payload)}}
	handler := &stubHandler{}

	before := testutil.ToFloat64(processedCounter.WithLabelValues(events.DefaultSummaryTopic, events.TypeSummarySynced))

	err := NewProcessor(reader, handler, WithLogger(quietLogger())).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, events.TypeSummarySynced, handler.last.EventType)
	require.Equal(t, "U0000000001", handler.last.Key)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, payload, string(handler.last.Payload))
	require.InDelta(t, before+1, testutil.ToFloat64(processedCounter.WithLabelValues(events.DefaultSummaryTopic, events.TypeSummarySynced)), 0.0001)
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{summaryMessage(20, `{}`)}}
	handler := &stubHandler{err: errors.New("projection unavailable")}

	err := NewProcessor(reader, handler, WithLogger(quietLogger())).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Zero(t, reader.commitCalls)
}

func TestProcessorCommitsUndecodableMessages(t *testing.T) {
	missingHeader := summaryMessage(30, `{}`)
	missingHeader.Headers = nil
	short := summaryMessage(31, `{}`)
	short.Value = []byte{0, 1}
	badMagic := summaryMessage(32, `{}`)
	badMagic.Value[0] = 9

	reader := &stubReader{messages: []kafka.Message{missingHeader, short, badMagic}}
	handler := &stubHandler{}

	before := testutil.ToFloat64(decodeErrorCounter.WithLabelValues(events.DefaultSummaryTopic))

	err := NewProcessor(reader, handler, WithLogger(quietLogger())).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, 3, reader.commitCalls)
	require.InDelta(t, before+3, testutil.ToFloat64(decodeErrorCounter.WithLabelValues(events.DefaultSummaryTopic)), 0.0001)
}

func TestProcessorRetriesFetchErrors(t *testing.T) {
	reader := &stubReader{
		fetchErrs: []error{errors.New("leader not available")},
		messages:  []kafka.Message{summaryMessage(40, `{}`)},
	}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(quietLogger()), WithFetchBackoff(time.Millisecond)).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, handler.calls)
}

type stubReader struct {
	fetchErrs   []error
	messages    []kafka.Message
	index       int
	commitCalls int
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if r.index >= len(r.messages) {
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.commitCalls += len(msgs)
	return nil
}

func (r *stubReader) Close() error { return nil }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}
