// Package corpus loads tab-separated passage files, embeds them in batches
// through an embedding client and caches the resulting vectors per corpus
// identity so repeat loads cost nothing.
package corpus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/threadstream/embedding"
	"github.com/hupe1980/threadstream/logging"
)

// Options configure a Loader.
type Options struct {
	// BatchSize is the number of passages embedded per request.
	BatchSize int
	// MinFields is the minimum number of tab-separated fields a record needs
	// to be considered valid. The passage text lives in TextColumn, so the
	// default of 3 is the weakest layout that still contains it.
	MinFields int
	// TextColumn is the zero-based index of the passage text field.
	TextColumn int
	// SourceColumn is the zero-based index of the optional citation/source
	// identifier field. Set to -1 to disable citation tagging.
	SourceColumn int
	// CitationTag is the fmt template wrapping the source identifier; the
	// rendered tag is prepended to the passage text so it round-trips into
	// the final prompt. Ignored when empty or when SourceColumn is disabled.
	CitationTag string
	// Cache holds computed corpora keyed by corpus identity.
	Cache Cache
	// Logger receives skipped-record and dropped-batch diagnostics.
	Logger logging.Logger
}

// Loader parses newline-delimited TSV corpora into embedded passage records.
// Loads of the same key are idempotent within the cache lifetime and
// duplicate in-flight loads are coalesced so only one caller computes.
type Loader struct {
	embedder embedding.Client
	opts     Options
	group    singleflight.Group
}

// NewLoader creates a Loader with optional overrides.
func NewLoader(embedder embedding.Client, optFns ...func(o *Options)) *Loader {
	opts := Options{
		BatchSize:    10,
		MinFields:    3,
		TextColumn:   2,
		SourceColumn: 3,
		CitationTag:  "[source: %s] ",
		Cache:        NewMemoryCache(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Loader{embedder: embedder, opts: opts}
}

// Load parses r into passage texts and embeds them with the passage task,
// returning the corpus records. A cached non-empty corpus under key is
// returned without touching the embedding service. Invalid records are
// skipped and logged; a failed embedding batch drops that batch's passages
// but never fails the whole load.
func (l *Loader) Load(ctx context.Context, key string, r io.Reader) ([]embedding.Record, error) {
	if cached, ok := l.opts.Cache.Get(key); ok && len(cached) > 0 {
		return cached, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		// Re-check under the flight: a previous caller may have populated
		// the cache while this one waited.
		if cached, ok := l.opts.Cache.Get(key); ok && len(cached) > 0 {
			return cached, nil
		}

		defer logging.StartTimer(l.opts.Logger, "corpus_load")()

		texts, err := l.parse(r)
		if err != nil {
			return nil, err
		}

		records := l.embedBatches(ctx, key, texts)
		l.opts.Cache.Set(key, records)
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]embedding.Record), nil
}

// parse reads newline-delimited tab-separated records from r, skipping
// records with too few fields or empty text.
func (l *Loader) parse(r io.Reader) ([]string, error) {
	var texts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < l.opts.MinFields {
			l.opts.Logger.Warn("skipping invalid corpus record", "line", lineNo, "fields", len(cols))
			continue
		}
		text := strings.TrimSpace(cols[l.opts.TextColumn])
		if text == "" {
			l.opts.Logger.Warn("skipping corpus record with empty text", "line", lineNo)
			continue
		}
		if tag := l.citationTag(cols); tag != "" {
			text = tag + text
		}
		texts = append(texts, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus source: %w", err)
	}
	return texts, nil
}

// citationTag renders the inline citation prefix from the source identifier
// column, when configured and present.
func (l *Loader) citationTag(cols []string) string {
	if l.opts.CitationTag == "" || l.opts.SourceColumn < 0 || l.opts.SourceColumn >= len(cols) {
		return ""
	}
	source := strings.TrimSpace(cols[l.opts.SourceColumn])
	if source == "" {
		return ""
	}
	return fmt.Sprintf(l.opts.CitationTag, source)
}

// embedBatches sends texts to the embedding client in fixed-size batches with
// the passage task. A failed batch is logged and dropped from the corpus.
func (l *Loader) embedBatches(ctx context.Context, key string, texts []string) []embedding.Record {
	records := make([]embedding.Record, 0, len(texts))
	for start := 0; start < len(texts); start += l.opts.BatchSize {
		end := start + l.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := l.embedder.Embed(ctx, texts[start:end], embedding.TaskPassage)
		if err != nil {
			l.opts.Logger.Error("embedding batch failed, dropping passages",
				"corpus", key, "batch_start", start, "batch_size", end-start, "error", err)
			continue
		}
		records = append(records, batch...)
	}
	l.opts.Logger.Info("corpus loaded", "corpus", key, "passages", len(records), "dropped", len(texts)-len(records))
	return records
}
