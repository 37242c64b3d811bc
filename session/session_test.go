package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/threadstream/core"
	"github.com/hupe1980/threadstream/internal/testutil"
	"github.com/hupe1980/threadstream/store"
)

func sseHandler(t *testing.T, write func(w http.ResponseWriter, req generationRequest)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req generationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "text/event-stream")
		write(w, req)
	}
}

func waitForStatus(t *testing.T, s *store.InMemoryStore, threadID, id string, status core.Status) *core.ThreadItem {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := s.Get(context.Background(), threadID, id)
		if err == nil && item.Status == status {
			return item
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("item %s never reached status %s", id, status)
	return nil
}

func TestManager_CompletedSession(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, func(w http.ResponseWriter, req generationRequest) {
		_, _ = w.Write([]byte(testutil.AnswerFrames(req.ThreadID, req.ThreadItemID, "Lithium", " is", " a metal.")))
		_, _ = w.Write([]byte(testutil.DoneFrame(req.ThreadID, req.ThreadItemID, "complete")))
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	m := NewManager(srv.URL, s)

	item, err := m.Submit(context.Background(), Request{
		ThreadID: "t1",
		Query:    "what is lithium?",
		Prompt:   "augmented prompt",
		Mode:     core.ModeChat,
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, item.Status)

	m.Wait()

	final := waitForStatus(t, s, item.ThreadID, item.ID, core.StatusCompleted)
	assert.Equal(t, "Lithium is a metal.", final.Answer.Text)
	assert.Empty(t, final.Error)
}

func TestManager_QuotaMessages(t *testing.T) {
	tests := []struct {
		name          string
		authenticated bool
		want          string
	}{
		{"anonymous", false, ErrMsgQuotaAnonymous},
		{"authenticated", true, ErrMsgQuotaAuthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer srv.Close()

			s := store.NewInMemoryStore()
			m := NewManager(srv.URL, s)

			item, err := m.Submit(context.Background(), Request{
				ThreadID:      "t1",
				Query:         "q",
				Authenticated: tt.authenticated,
			})
			require.NoError(t, err)

			m.Wait()

			final := waitForStatus(t, s, item.ThreadID, item.ID, core.StatusError)
			assert.Equal(t, tt.want, final.Error)
		})
	}
}

func TestManager_GenericErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	m := NewManager(srv.URL, s)

	item, err := m.Submit(context.Background(), Request{ThreadID: "t1", Query: "q"})
	require.NoError(t, err)

	m.Wait()

	final := waitForStatus(t, s, item.ThreadID, item.ID, core.StatusError)
	assert.Equal(t, ErrMsgGeneric, final.Error)
}

func TestManager_CancelAborts(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(sseHandler(t, func(w http.ResponseWriter, req generationRequest) {
		_, _ = w.Write([]byte(testutil.AnswerFrames(req.ThreadID, req.ThreadItemID, "partial")))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := store.NewInMemoryStore()
	m := NewManager(srv.URL, s)

	item, err := m.Submit(context.Background(), Request{ThreadID: "t1", Query: "q"})
	require.NoError(t, err)

	waitForStatus(t, s, item.ThreadID, item.ID, core.StatusGenerating)
	require.NoError(t, m.Cancel(item.ID))

	m.Wait()

	final := waitForStatus(t, s, item.ThreadID, item.ID, core.StatusAborted)
	assert.Equal(t, ErrMsgAborted, final.Error)

	// A second cancel finds no active session.
	assert.Error(t, m.Cancel(item.ID))
}

func TestManager_ResubmitReplacesActiveSession(t *testing.T) {
	firstStarted := make(chan struct{})
	secondStarted := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "text/event-stream")
		switch calls.Add(1) {
		case 1:
			_, _ = w.Write([]byte(testutil.AnswerFrames(req.ThreadID, req.ThreadItemID, "first")))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			close(firstStarted)
		default:
			_, _ = w.Write([]byte(testutil.AnswerFrames(req.ThreadID, req.ThreadItemID, "second")))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			close(secondStarted)
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	m := NewManager(srv.URL, s)

	item, err := m.Submit(context.Background(), Request{ThreadID: "t1", ThreadItemID: "item-1", Query: "q"})
	require.NoError(t, err)
	<-firstStarted

	// Resubmitting for the same item cancels the first run and replaces it.
	_, err = m.Submit(context.Background(), Request{ThreadID: "t1", ThreadItemID: "item-1", Query: "q again"})
	require.NoError(t, err)
	<-secondStarted

	// Let the replaced run finish its cleanup, then make sure the
	// replacement is still registered and cancellable.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Cancel(item.ID))

	m.Wait()

	// The store holds the replacement run's state, not the replaced run's.
	final := waitForStatus(t, s, "t1", "item-1", core.StatusAborted)
	assert.Equal(t, "second", final.Answer.Text)
	assert.Equal(t, ErrMsgAborted, final.Error)
}

func TestManager_StreamEndsWithoutDone(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, func(w http.ResponseWriter, req generationRequest) {
		_, _ = w.Write([]byte(testutil.AnswerFrames(req.ThreadID, req.ThreadItemID, "truncated")))
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	m := NewManager(srv.URL, s)

	item, err := m.Submit(context.Background(), Request{ThreadID: "t1", Query: "q"})
	require.NoError(t, err)

	m.Wait()

	final := waitForStatus(t, s, item.ThreadID, item.ID, core.StatusError)
	assert.Equal(t, ErrMsgGeneric, final.Error)
	assert.Equal(t, "truncated", final.Answer.Text)
}

func TestManager_ErrorTypedDoneEvent(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, func(w http.ResponseWriter, req generationRequest) {
		frame := testutil.NewFrameBuilder("done").
			Thread(req.ThreadID, req.ThreadItemID).
			Field("type", "done").
			Field("status", "error").
			Field("error", "workflow failed").
			Build()
		_, _ = w.Write([]byte(frame))
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	m := NewManager(srv.URL, s)

	item, err := m.Submit(context.Background(), Request{ThreadID: "t1", Query: "q"})
	require.NoError(t, err)

	m.Wait()

	final := waitForStatus(t, s, item.ThreadID, item.ID, core.StatusError)
	assert.Equal(t, "workflow failed", final.Error)
}

type countingCredits struct {
	refreshes int32
}

func (c *countingCredits) Remaining(context.Context) (int, error) {
	return 0, nil
}

func (c *countingCredits) Refresh(context.Context) error {
	atomic.AddInt32(&c.refreshes, 1)
	return nil
}

func TestManager_SchedulesCreditRefresh(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, func(w http.ResponseWriter, req generationRequest) {
		_, _ = w.Write([]byte(testutil.DoneFrame(req.ThreadID, req.ThreadItemID, "complete")))
	}))
	defer srv.Close()

	credits := &countingCredits{}
	s := store.NewInMemoryStore()
	m := NewManager(srv.URL, s, func(o *Options) {
		o.Credits = credits
		o.CreditRefreshDelay = 10 * time.Millisecond
	})

	_, err := m.Submit(context.Background(), Request{ThreadID: "t1", Query: "q"})
	require.NoError(t, err)

	m.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&credits.refreshes) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("credit refresh never ran")
}

func TestManager_RequestPayload(t *testing.T) {
	var got generationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(testutil.DoneFrame(got.ThreadID, got.ThreadItemID, "complete")))
	}))
	defer srv.Close()

	s := store.NewInMemoryStore()
	m := NewManager(srv.URL, s)

	item, err := m.Submit(context.Background(), Request{
		ThreadID:           "t1",
		ParentThreadItemID: "p1",
		Query:              "raw query",
		Prompt:             "augmented",
		Mode:               core.ModePro,
		CustomInstructions: "be brief",
		APIKey:             "sk-test",
	})
	require.NoError(t, err)

	m.Wait()

	assert.Equal(t, core.ModePro, got.Mode)
	assert.Equal(t, "augmented", got.Prompt)
	assert.Equal(t, "t1", got.ThreadID)
	assert.Equal(t, item.ID, got.ThreadItemID)
	assert.Equal(t, "p1", got.ParentThreadItemID)
	assert.Equal(t, "be brief", got.CustomInstructions)
	assert.Equal(t, "sk-test", got.APIKey)
}
