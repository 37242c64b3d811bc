package threadstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/threadstream/core"
	"github.com/hupe1980/threadstream/embedding"
	"github.com/hupe1980/threadstream/internal/testutil"
	"github.com/hupe1980/threadstream/prompt"
	"github.com/hupe1980/threadstream/store"
)

// keywordEmbedder produces deterministic one-hot style vectors so that texts
// sharing a keyword score highest against each other.
func keywordEmbedder(keywords ...string) embedding.Client {
	return embedding.ClientFunc(func(_ context.Context, texts []string, _ embedding.Task) ([]embedding.Record, error) {
		records := make([]embedding.Record, len(texts))
		for i, text := range texts {
			vec := make([]float64, len(keywords)+1)
			vec[len(keywords)] = 0.1
			for j, kw := range keywords {
				if strings.Contains(strings.ToLower(text), kw) {
					vec[j] = 1
				}
			}
			records[i] = embedding.Record{Text: text, Vector: vec}
		}
		return records, nil
	})
}

type capturedRequest struct {
	Prompt       string    `json:"prompt"`
	Mode         core.Mode `json:"mode"`
	ThreadID     string    `json:"threadId"`
	ThreadItemID string    `json:"threadItemId"`
}

func generationServer(t *testing.T, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(testutil.AnswerFrames(captured.ThreadID, captured.ThreadItemID, "Lithium is a metal.")))
		_, _ = w.Write([]byte(testutil.DoneFrame(captured.ThreadID, captured.ThreadItemID, "complete")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitForTerminal(t *testing.T, s core.ItemStore, threadID, id string) *core.ThreadItem {
	t.Helper()
	ims, ok := s.(*store.InMemoryStore)
	require.True(t, ok)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := ims.Get(context.Background(), threadID, id)
		if err == nil && item.Status.Terminal() {
			return item
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("item %s never reached a terminal status", id)
	return nil
}

const corpusTSV = "id1\ttitle1\tLithium is the lightest metal.\tchem.txt\n" +
	"id2\ttitle2\tGold is a dense metal.\tchem.txt\n" +
	"id3\ttitle3\tHelium is a noble gas.\tchem.txt\n"

func TestThreadStream_SubmitWithRetrieval(t *testing.T) {
	var captured capturedRequest
	srv := generationServer(t, &captured)

	ts := New(srv.URL, func(o *Options) {
		o.Embedder = keywordEmbedder("lithium", "gold", "helium")
		o.TopK = 1
	})

	ctx := context.Background()
	require.NoError(t, ts.LoadCorpus(ctx, "chem", strings.NewReader(corpusTSV)))

	item, err := ts.Submit(ctx, SubmitRequest{
		ThreadID: "t1",
		Query:    "tell me about lithium",
		Mode:     core.ModeChat,
	})
	require.NoError(t, err)

	require.Len(t, item.RetrievedDocuments, 1)
	assert.Contains(t, item.RetrievedDocuments[0].Text, "Lithium is the lightest metal.")

	ts.Wait()

	final := waitForTerminal(t, ts.Store(), item.ThreadID, item.ID)
	assert.Equal(t, core.StatusCompleted, final.Status)
	assert.Equal(t, "Lithium is a metal.", final.Answer.Text)

	// The backend received the augmented prompt, not the raw query.
	assert.Contains(t, captured.Prompt, "tell me about lithium")
	assert.Contains(t, captured.Prompt, "Lithium is the lightest metal.")
}

func TestThreadStream_SubmitWithoutCorpus(t *testing.T) {
	var captured capturedRequest
	srv := generationServer(t, &captured)

	embedCalls := 0
	ts := New(srv.URL, func(o *Options) {
		o.Embedder = embedding.ClientFunc(func(context.Context, []string, embedding.Task) ([]embedding.Record, error) {
			embedCalls++
			return nil, nil
		})
	})

	item, err := ts.Submit(context.Background(), SubmitRequest{ThreadID: "t1", Query: "plain question"})
	require.NoError(t, err)
	assert.Empty(t, item.RetrievedDocuments)

	ts.Wait()
	waitForTerminal(t, ts.Store(), item.ThreadID, item.ID)

	// The composer runs even without a corpus, so the prompt carries the same
	// instruction shape as the retrieval path, just without passages.
	assert.Contains(t, captured.Prompt, "plain question")
	assert.Contains(t, captured.Prompt, prompt.DefaultInstruction)
	assert.Zero(t, embedCalls)
}

func TestThreadStream_EmbeddingFailureFailsSynchronously(t *testing.T) {
	var captured capturedRequest
	srv := generationServer(t, &captured)

	ts := New(srv.URL, func(o *Options) {
		o.Embedder = embedding.ClientFunc(func(_ context.Context, texts []string, task embedding.Task) ([]embedding.Record, error) {
			if task == embedding.TaskPassage {
				return keywordEmbedder("lithium").Embed(context.Background(), texts, task)
			}
			return nil, errors.New("embedding service down")
		})
	})

	ctx := context.Background()
	require.NoError(t, ts.LoadCorpus(ctx, "chem", strings.NewReader(corpusTSV)))

	_, err := ts.Submit(ctx, SubmitRequest{ThreadID: "t1", Query: "lithium"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed query")
}

func TestThreadStream_CancelAborts(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(testutil.AnswerFrames(req.ThreadID, req.ThreadItemID, "partial")))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ts := New(srv.URL)

	item, err := ts.Submit(context.Background(), SubmitRequest{ThreadID: "t1", Query: "q"})
	require.NoError(t, err)

	// Wait until the run is in flight before cancelling.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := ts.Cancel(item.ID); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ts.Wait()

	final := waitForTerminal(t, ts.Store(), item.ThreadID, item.ID)
	assert.Equal(t, core.StatusAborted, final.Status)
}
