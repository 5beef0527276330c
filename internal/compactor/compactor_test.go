package compactor

import (
	"fmt"
	"strings"
	"testing"
)

func newTestCompactor(t *testing.T) *Compactor {
	t.Helper()
	c, err := New(Config{Dir: t.TempDir()}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func bigPayload(lines int) string {
	var sb strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&sb, "line %03d of the tool output\n", i)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func TestCompact_RoundTrip(t *testing.T) {
	c := newTestCompactor(t)
	original := bigPayload(100)

	summary, meta, err := c.Compact("shell", "toolu_01", original)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if meta == nil || meta.RefID == "" {
		t.Fatal("missing compression metadata")
	}
	if len(meta.RefID) != 12 {
		t.Errorf("ref id length = %d, want 12", len(meta.RefID))
	}
	if meta.OriginalLength != len(original) {
		t.Errorf("original length = %d, want %d", meta.OriginalLength, len(original))
	}

	recovered, ok := c.Recover(meta.RefID)
	if !ok {
		t.Fatal("Recover returned not found")
	}
	if recovered != original {
		t.Error("recovered content differs from original")
	}

	if !strings.HasPrefix(summary, "[COMPRESSED:"+meta.RefID+"]") {
		t.Errorf("summary header = %q", strings.SplitN(summary, "\n", 2)[0])
	}
	if len(summary) >= len(original) {
		t.Errorf("summary (%d chars) not smaller than original (%d chars)", len(summary), len(original))
	}
}

func TestCompact_HeadAndTailPreserved(t *testing.T) {
	c := newTestCompactor(t)
	original := bigPayload(100)

	summary, _, err := c.Compact("shell", "toolu_02", original)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}

	for _, want := range []string{"line 000", "line 009", "line 095", "line 099"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q", want)
		}
	}
	for _, omitted := range []string{"line 010", "line 050", "line 094"} {
		if strings.Contains(summary, omitted) {
			t.Errorf("summary unexpectedly contains %q", omitted)
		}
	}
	if !strings.Contains(summary, "85 lines omitted") {
		t.Error("summary missing omitted-line count")
	}
}

func TestCompact_ShortBodyKeptWhole(t *testing.T) {
	c := newTestCompactor(t)
	original := bigPayload(12)

	summary, _, err := c.Compact("shell", "toolu_03", original)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !strings.Contains(summary, original) {
		t.Error("short body should be kept in full under the header")
	}
}

func TestCompactSearch_TopItems(t *testing.T) {
	c := newTestCompactor(t)

	var items []string
	for i := 0; i < 8; i++ {
		items = append(items, fmt.Sprintf(
			`{"title":"Result %d","url":"https://example.com/%d","snippet":"%s"}`,
			i, i, strings.Repeat("x", 300)))
	}
	content := fmt.Sprintf(`{"results":[%s]}`, strings.Join(items, ","))

	summary, meta, err := c.CompactSearch("web-search", "toolu_04", content)
	if err != nil {
		t.Fatalf("CompactSearch: %v", err)
	}

	if !strings.Contains(summary, "Result 0") || !strings.Contains(summary, "Result 4") {
		t.Error("top 5 results missing from summary")
	}
	if strings.Contains(summary, "Result 5") {
		t.Error("summary contains more than 5 results")
	}
	if strings.Contains(summary, strings.Repeat("x", 201)) {
		t.Error("snippet not truncated to 200 chars")
	}

	recovered, ok := c.Recover(meta.RefID)
	if !ok || recovered != content {
		t.Error("search compaction did not round-trip the original")
	}
}

func TestCompactSearch_NonListFallsBack(t *testing.T) {
	c := newTestCompactor(t)
	content := bigPayload(50)

	summary, meta, err := c.CompactSearch("web-search", "toolu_05", content)
	if err != nil {
		t.Fatalf("CompactSearch: %v", err)
	}
	if !strings.Contains(summary, "lines omitted") {
		t.Error("non-JSON content should use the head/tail path")
	}
	if recovered, ok := c.Recover(meta.RefID); !ok || recovered != content {
		t.Error("fallback compaction did not round-trip")
	}
}

func TestRecover_MissingRef(t *testing.T) {
	c := newTestCompactor(t)

	if _, ok := c.Recover("deadbeef0000"); ok {
		t.Error("unknown ref recovered")
	}
	if _, ok := c.Recover("../escape"); ok {
		t.Error("path traversal ref recovered")
	}
	if _, ok := c.Recover(""); ok {
		t.Error("empty ref recovered")
	}
}

func TestRefIDs_DistinctAcrossCalls(t *testing.T) {
	c := newTestCompactor(t)
	content := bigPayload(40)

	_, m1, err := c.Compact("shell", "toolu_06", content)
	if err != nil {
		t.Fatal(err)
	}
	_, m2, err := c.Compact("shell", "toolu_06", content)
	if err != nil {
		t.Fatal(err)
	}
	if m1.RefID == m2.RefID {
		t.Error("ref ids collided for repeated compactions")
	}
}
