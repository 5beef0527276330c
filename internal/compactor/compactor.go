// Package compactor replaces large tool results in model context with a
// short head/tail envelope plus a content-addressed copy on disk. Recovery by
// ref id returns the exact original payload.
package compactor

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/pkg/models"
)

// Defaults for the compaction contract. Thresholds are characters of
// serialized result text.
const (
	DefaultThreshold      = 1500
	DefaultForceThreshold = 500
	DefaultHeadLines      = 10
	DefaultTailLines      = 5

	// searchMaxItems caps the items extracted on the search path.
	searchMaxItems = 5

	// searchSnippetMax truncates extracted snippets.
	searchSnippetMax = 200
)

// Config tunes the compactor. Zero values take the defaults above.
type Config struct {
	// Dir is the tool-result spill directory
	// (data/instances/<I>/storage/tool_results).
	Dir string

	Threshold      int
	ForceThreshold int
	HeadLines      int
	TailLines      int
}

// Compactor writes compaction envelopes and recovers originals.
type Compactor struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a compactor rooted at cfg.Dir, creating the directory.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) (*Compactor, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("compactor: dir is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ForceThreshold <= 0 {
		cfg.ForceThreshold = DefaultForceThreshold
	}
	if cfg.HeadLines <= 0 {
		cfg.HeadLines = DefaultHeadLines
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = DefaultTailLines
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("compactor: create dir: %w", err)
	}
	return &Compactor{cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Threshold returns the default compaction threshold in characters.
func (c *Compactor) Threshold() int { return c.cfg.Threshold }

// ForceThreshold returns the lowered threshold used for force-hinted results.
func (c *Compactor) ForceThreshold() int { return c.cfg.ForceThreshold }

// envelope is the on-disk record holding the full original payload.
type envelope struct {
	RefID          string    `json:"ref_id"`
	ToolName       string    `json:"tool_name"`
	ToolID         string    `json:"tool_id"`
	Content        string    `json:"content"`
	OriginalLength int       `json:"original_length"`
	CompressedAt   time.Time `json:"compressed_at"`
}

func (c *Compactor) refID(toolName, toolID string, length int, now time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d|%d", toolName, toolID, length, now.UnixNano())))
	return hex.EncodeToString(sum[:])[:12]
}

func (c *Compactor) spill(toolName, toolID, content string) (*models.CompressionMetadata, error) {
	now := time.Now()
	ref := c.refID(toolName, toolID, len(content), now)
	path := filepath.Join(c.cfg.Dir, ref+".json")

	data, err := json.Marshal(envelope{
		RefID:          ref,
		ToolName:       toolName,
		ToolID:         toolID,
		Content:        content,
		OriginalLength: len(content),
		CompressedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("compactor: encode envelope: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("compactor: write envelope: %w", err)
	}

	if c.metrics != nil {
		c.metrics.CompactionBytes.Add(float64(len(content)))
	}

	return &models.CompressionMetadata{
		RefID:          ref,
		FilePath:       path,
		OriginalLength: len(content),
		ToolName:       toolName,
		ToolID:         toolID,
		CompressedAt:   now,
	}, nil
}

// Compact writes the full payload to disk and returns the head/tail envelope
// text plus its metadata.
func (c *Compactor) Compact(toolName, toolID, content string) (string, *models.CompressionMetadata, error) {
	meta, err := c.spill(toolName, toolID, content)
	if err != nil {
		return "", nil, err
	}
	if c.metrics != nil {
		c.metrics.Compactions.WithLabelValues("default").Inc()
	}

	lines := strings.Split(content, "\n")
	head := c.cfg.HeadLines
	tail := c.cfg.TailLines

	var sb strings.Builder
	fmt.Fprintf(&sb, "[COMPRESSED:%s] Tool result (%d chars, %d lines) truncated. Full output saved.\n",
		meta.RefID, len(content), len(lines))

	if len(lines) <= head+tail {
		sb.WriteString(strings.Join(lines, "\n"))
	} else {
		sb.WriteString(strings.Join(lines[:head], "\n"))
		fmt.Fprintf(&sb, "\n... [%d lines omitted, full result at %s] ...\n",
			len(lines)-head-tail, meta.FilePath)
		sb.WriteString(strings.Join(lines[len(lines)-tail:], "\n"))
	}

	return sb.String(), meta, nil
}

// searchItem is the projection extracted on the search path.
type searchItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// CompactSearch summarizes a search-shaped result: the top items' title, URL
// and snippet plus the file reference. Results that do not parse as a list
// fall back to the default path.
func (c *Compactor) CompactSearch(toolName, toolID, content string) (string, *models.CompressionMetadata, error) {
	items := extractSearchItems(content)
	if len(items) == 0 {
		return c.Compact(toolName, toolID, content)
	}

	meta, err := c.spill(toolName, toolID, content)
	if err != nil {
		return "", nil, err
	}
	if c.metrics != nil {
		c.metrics.Compactions.WithLabelValues("search").Inc()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[COMPRESSED:%s] Search result summary (top %d of source, full result at %s):\n",
		meta.RefID, len(items), meta.FilePath)
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s", i+1, item.Title)
		if item.URL != "" {
			fmt.Fprintf(&sb, " (%s)", item.URL)
		}
		sb.WriteString("\n")
		if item.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", item.Snippet)
		}
	}

	return sb.String(), meta, nil
}

// extractSearchItems parses content as JSON and pulls title/url/snippet
// fields from a top-level array or a "results" array. Nothing inferential:
// unparseable content yields nil.
func extractSearchItems(content string) []searchItem {
	var raw any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		if results, ok := v["results"].([]any); ok {
			list = results
		}
	}
	if len(list) == 0 {
		return nil
	}

	var items []searchItem
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := searchItem{
			Title:   stringField(m, "title"),
			URL:     stringField(m, "url", "link"),
			Snippet: stringField(m, "snippet", "description", "summary"),
		}
		if len(item.Snippet) > searchSnippetMax {
			item.Snippet = item.Snippet[:searchSnippetMax]
		}
		if item.Title == "" && item.URL == "" && item.Snippet == "" {
			continue
		}
		items = append(items, item)
		if len(items) == searchMaxItems {
			break
		}
	}
	return items
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Recover reads back the original content for a ref id. A missing or
// unreadable file returns ok=false; callers treat that as "not recoverable",
// not as an error.
func (c *Compactor) Recover(refID string) (string, bool) {
	if refID == "" || strings.ContainsAny(refID, "/\\.") {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(c.cfg.Dir, refID+".json"))
	if err != nil {
		return "", false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("corrupt compaction envelope", "ref_id", refID, "error", err)
		return "", false
	}
	return env.Content, true
}
