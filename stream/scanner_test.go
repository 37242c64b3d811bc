package stream

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/threadstream/core"
	"github.com/hupe1980/threadstream/internal/testutil"
)

func collect(t *testing.T, sc *Scanner) []core.StreamEvent {
	t.Helper()
	var events []core.StreamEvent
	for sc.Next() {
		events = append(events, sc.Event())
	}
	require.NoError(t, sc.Err())
	return events
}

func samplePayload() string {
	return testutil.AnswerFrames("t1", "i1", "Hello", " world") +
		testutil.NewFrameBuilder("sources").
			Thread("t1", "i1").
			Field("sources", []map[string]any{{"title": "BNF", "link": "https://example.com"}}).
			Build() +
		testutil.DoneFrame("t1", "i1", "complete")
}

func TestScanner_ParsesCompletePayload(t *testing.T) {
	sc := NewScanner(strings.NewReader(samplePayload()))
	events := collect(t, sc)

	require.Len(t, events, 4)
	assert.Equal(t, core.EventAnswer, events[0].Name)
	assert.Equal(t, "t1", events[0].ThreadID)
	assert.Equal(t, "i1", events[0].ThreadItemID)
	assert.Equal(t, core.AnswerPayload{Answer: core.Answer{Text: "Hello"}}, events[0].Payload)
	assert.Equal(t, core.AnswerPayload{Answer: core.Answer{Text: " world"}}, events[1].Payload)
	assert.Equal(t, core.EventSources, events[2].Name)
	assert.Equal(t, core.EventDone, events[3].Name)
}

// Feeding the scanner a complete payload split at every possible byte offset
// into two chunks must, for every split point, yield the same event sequence
// as feeding it unsplit.
func TestScanner_FrameBoundaryRobustness(t *testing.T) {
	payload := samplePayload()
	want := collect(t, NewScanner(strings.NewReader(payload)))

	for offset := 0; offset <= len(payload); offset++ {
		r := testutil.NewStringChunkReader(payload[:offset], payload[offset:])
		got := collect(t, NewScanner(r))
		require.Equalf(t, want, got, "split at byte offset %d diverged", offset)
	}
}

func TestScanner_FieldOrderIndependent(t *testing.T) {
	payload := testutil.NewFrameBuilder("answer").Thread("t1", "i1").AnswerText("x").BuildDataFirst()
	events := collect(t, NewScanner(strings.NewReader(payload)))
	require.Len(t, events, 1)
	assert.Equal(t, core.AnswerPayload{Answer: core.Answer{Text: "x"}}, events[0].Payload)
}

// One well-formed frame, one frame missing its data line, one frame with
// invalid JSON, then another well-formed frame: exactly the two well-formed
// events come out, and nothing panics or errors.
func TestScanner_MalformedFrameTolerance(t *testing.T) {
	payload := testutil.NewFrameBuilder("answer").Thread("t1", "i1").AnswerText("a").Build() +
		"event: answer\n\n" +
		"event: answer\ndata: {not-json\n\n" +
		testutil.NewFrameBuilder("answer").Thread("t1", "i1").AnswerText("b").Build()

	events := collect(t, NewScanner(strings.NewReader(payload)))

	require.Len(t, events, 2)
	assert.Equal(t, core.AnswerPayload{Answer: core.Answer{Text: "a"}}, events[0].Payload)
	assert.Equal(t, core.AnswerPayload{Answer: core.Answer{Text: "b"}}, events[1].Payload)
}

func TestScanner_UnknownEventNameDropped(t *testing.T) {
	payload := "event: heartbeat\ndata: {}\n\n" +
		testutil.DoneFrame("t1", "i1", "complete")
	events := collect(t, NewScanner(strings.NewReader(payload)))
	require.Len(t, events, 1)
	assert.Equal(t, core.EventDone, events[0].Name)
}

func TestScanner_TrailingFragmentWithoutTerminatorIgnored(t *testing.T) {
	payload := testutil.AnswerFrames("t1", "i1", "full") +
		"event: answer\ndata: {\"answer\":{\"text\":\"cut off\"}"
	events := collect(t, NewScanner(strings.NewReader(payload)))
	require.Len(t, events, 1)
}

func TestScanner_TransientReadRetried(t *testing.T) {
	payload := testutil.DoneFrame("t1", "i1", "complete")
	flaky := &testutil.FlakyReader{R: strings.NewReader(payload), Fail: 1}

	sc := NewScanner(flaky, func(o *Options) { o.RetryInitialInterval = time.Millisecond })
	events := collect(t, sc)

	require.Len(t, events, 1)
	assert.GreaterOrEqual(t, flaky.Calls, 2)
}

func TestScanner_ReadRetriesExhausted(t *testing.T) {
	flaky := &testutil.FlakyReader{R: strings.NewReader(""), Fail: 5}

	sc := NewScanner(flaky, func(o *Options) {
		o.ReadRetries = 1
		o.RetryInitialInterval = time.Millisecond
	})
	for sc.Next() {
		t.Fatal("no events expected")
	}
	assert.ErrorIs(t, sc.Err(), testutil.ErrTransient)
	assert.Equal(t, 2, flaky.Calls, "one initial read plus one retry")
}

// Order sensitivity of the answer fragments is by design: applying the same
// fragments in a different order yields a different reconstructed text.
func TestScanner_PreservesArrivalOrder(t *testing.T) {
	fragments := []string{"one ", "two ", "three"}
	payload := testutil.AnswerFrames("t1", "i1", fragments...)

	events := collect(t, NewScanner(strings.NewReader(payload)))
	require.Len(t, events, len(fragments))
	for i, ev := range events {
		p := ev.Payload.(core.AnswerPayload)
		assert.Equal(t, fragments[i], p.Answer.Text, fmt.Sprintf("event %d out of order", i))
	}
}
