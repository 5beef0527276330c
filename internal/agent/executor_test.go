package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriolane/oriole/internal/capability"
	"github.com/oriolane/oriole/internal/compactor"
	"github.com/oriolane/oriole/internal/events"
	"github.com/oriolane/oriole/pkg/models"
)

// mockTool is a configurable tool for executor tests.
type mockTool struct {
	name    string
	execute func(ctx context.Context, inv *Invocation, input json.RawMessage) (*ToolOutput, error)
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return "mock " + m.name }
func (m *mockTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (m *mockTool) Execute(ctx context.Context, inv *Invocation, input json.RawMessage) (*ToolOutput, error) {
	return m.execute(ctx, inv, input)
}

func testExecutor(t *testing.T, caps []capability.Capability, tools ...*mockTool) (*Executor, *ToolRegistry) {
	t.Helper()
	var capReg *capability.Registry
	if caps != nil {
		var err error
		capReg, err = capability.NewRegistry(caps, nil)
		if err != nil {
			t.Fatalf("NewRegistry: %v", err)
		}
	}
	reg := NewToolRegistry(capReg)
	for _, tool := range tools {
		if err := reg.RegisterTool(tool); err != nil {
			t.Fatalf("RegisterTool: %v", err)
		}
	}
	comp, err := compactor.New(compactor.Config{Dir: t.TempDir()}, nil, nil)
	if err != nil {
		t.Fatalf("compactor.New: %v", err)
	}
	return NewExecutor(reg, comp, nil, nil, nil, ExecutorConfig{}), reg
}

func call(name, id, input string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestExecute_Success(t *testing.T) {
	exec, _ := testExecutor(t, nil, &mockTool{
		name: "echo",
		execute: func(_ context.Context, _ *Invocation, input json.RawMessage) (*ToolOutput, error) {
			return &ToolOutput{Text: string(input)}, nil
		},
	})

	res := exec.Execute(context.Background(), &Invocation{}, call("echo", "t1", `{"x":1}`), false)
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if res.Content != `{"x":1}` {
		t.Errorf("content = %q", res.Content)
	}
	if res.ToolCallID != "t1" {
		t.Errorf("tool call id = %q", res.ToolCallID)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	exec, _ := testExecutor(t, nil)

	res := exec.Execute(context.Background(), &Invocation{}, call("nope", "t1", `{}`), false)
	if !res.IsError || res.ErrorType != models.ToolErrDependencyMissing {
		t.Errorf("result = %+v, want dependency_missing", res)
	}
}

func TestExecute_TimeoutBound(t *testing.T) {
	caps := []capability.Capability{
		{Name: "slow", Kind: capability.KindTool, ExecutionTimeout: time.Second},
	}
	exec, _ := testExecutor(t, caps, &mockTool{
		name: "slow",
		execute: func(ctx context.Context, _ *Invocation, _ json.RawMessage) (*ToolOutput, error) {
			select {
			case <-time.After(5 * time.Second):
				return &ToolOutput{Text: "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	start := time.Now()
	res := exec.Execute(context.Background(), &Invocation{}, call("slow", "t1", `{}`), false)
	elapsed := time.Since(start)

	if !res.IsError || res.ErrorType != models.ToolErrTimeout {
		t.Fatalf("result = %+v, want timeout", res)
	}
	if elapsed > 1500*time.Millisecond {
		t.Errorf("timeout took %v, want under 1.5s", elapsed)
	}
}

func TestExecute_TimeoutClosesHITLPrompt(t *testing.T) {
	caps := []capability.Capability{
		{Name: "confirm", Kind: capability.KindTool,
			ExecutionTimeout: 50 * time.Millisecond, HITLConfirm: true},
	}
	exec, _ := testExecutor(t, caps, &mockTool{
		name: "confirm",
		execute: func(ctx context.Context, _ *Invocation, _ json.RawMessage) (*ToolOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	store := events.NewStore(0, nil, nil)
	bc := events.NewBroadcaster(store, nil, nil)
	inv := &Invocation{SessionID: "s1", MessageID: "m1", Broadcaster: bc}

	res := exec.Execute(context.Background(), inv, call("confirm", "t1", `{}`), false)
	if res.ErrorType != models.ToolErrTimeout {
		t.Fatalf("error type = %s", res.ErrorType)
	}

	evs := store.EventsSince("s1", 0)
	found := false
	for _, ev := range evs {
		if ev.Type == models.EventMessageDelta && ev.Data["type"] == string(models.DeltaHITL) {
			found = true
		}
	}
	if !found {
		t.Error("no hitl close-prompt delta emitted on timeout")
	}
}

func TestExecute_PanicRecovered(t *testing.T) {
	exec, _ := testExecutor(t, nil, &mockTool{
		name: "boom",
		execute: func(_ context.Context, _ *Invocation, _ json.RawMessage) (*ToolOutput, error) {
			panic("tool exploded")
		},
	})

	res := exec.Execute(context.Background(), &Invocation{}, call("boom", "t1", `{}`), false)
	if !res.IsError || res.ErrorType != models.ToolErrPermanent {
		t.Errorf("result = %+v, want permanent error", res)
	}
	if !strings.Contains(res.Content, "panicked") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestExecute_SchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`)
	caps := []capability.Capability{
		{Name: "search", Kind: capability.KindTool, InputSchema: schema},
	}
	exec, _ := testExecutor(t, caps, &mockTool{
		name: "search",
		execute: func(_ context.Context, _ *Invocation, _ json.RawMessage) (*ToolOutput, error) {
			return &ToolOutput{Text: "ok"}, nil
		},
	})

	res := exec.Execute(context.Background(), &Invocation{}, call("search", "t1", `{"wrong":true}`), false)
	if !res.IsError || res.ErrorType != models.ToolErrInputInvalid {
		t.Errorf("result = %+v, want input_invalid", res)
	}

	res = exec.Execute(context.Background(), &Invocation{}, call("search", "t2", `{"query":"go"}`), false)
	if res.IsError {
		t.Errorf("valid input rejected: %s", res.Content)
	}
}

func TestExecute_ToolErrorPassthrough(t *testing.T) {
	exec, _ := testExecutor(t, nil, &mockTool{
		name: "limited",
		execute: func(_ context.Context, _ *Invocation, _ json.RawMessage) (*ToolOutput, error) {
			return nil, NewToolError(models.ToolErrRateLimited, "limited", "throttled").WithRetryAfter(2)
		},
	})

	res := exec.Execute(context.Background(), &Invocation{}, call("limited", "t1", `{}`), false)
	if res.ErrorType != models.ToolErrRateLimited {
		t.Fatalf("error type = %s", res.ErrorType)
	}
	if res.RetryAfterSeconds != 2 || res.RecoveryHint != "retry_after:2" {
		t.Errorf("retry hints = %d %q", res.RetryAfterSeconds, res.RecoveryHint)
	}
}

func bigText(n int) string {
	var sb strings.Builder
	for i := 0; sb.Len() < n; i++ {
		fmt.Fprintf(&sb, "line %d with some padding text\n", i)
	}
	return sb.String()
}

func TestExecute_CompactionHints(t *testing.T) {
	outputs := map[string]*ToolOutput{
		"normal_large": {Text: bigText(3000)},
		"normal_small": {Text: "short"},
		"skip_large":   {Text: bigText(3000), Hint: HintSkip},
		"force_medium": {Text: bigText(800), Hint: HintForce},
		"search_large": {Hint: HintSearch, Text: func() string {
			var items []string
			for i := 0; i < 6; i++ {
				items = append(items, fmt.Sprintf(
					`{"title":"Item %d","url":"https://e.com/%d","snippet":"%s"}`,
					i, i, strings.Repeat("s", 250)))
			}
			return fmt.Sprintf(`{"results":[%s]}`, strings.Join(items, ","))
		}()},
	}
	tool := &mockTool{
		name: "multi",
		execute: func(_ context.Context, _ *Invocation, input json.RawMessage) (*ToolOutput, error) {
			var req struct {
				Mode string `json:"mode"`
			}
			_ = json.Unmarshal(input, &req)
			return outputs[req.Mode], nil
		},
	}
	exec, _ := testExecutor(t, nil, tool)
	run := func(mode string) models.ToolResult {
		return exec.Execute(context.Background(), &Invocation{},
			call("multi", "t_"+mode, `{"mode":"`+mode+`"}`), false)
	}

	if res := run("normal_large"); !res.Compressed || !strings.HasPrefix(res.Content, "[COMPRESSED:") {
		t.Errorf("normal_large not compacted: compressed=%v", res.Compressed)
	}
	if res := run("normal_small"); res.Compressed {
		t.Error("small result compacted")
	}
	if res := run("skip_large"); res.Compressed || !res.CompactionExempt {
		t.Errorf("skip hint ignored: compressed=%v exempt=%v", res.Compressed, res.CompactionExempt)
	}
	if res := run("force_medium"); !res.Compressed {
		t.Error("force hint did not lower the threshold")
	}
	if res := run("search_large"); !res.Compressed || !strings.Contains(res.Content, "Item 0") {
		t.Errorf("search hint did not take the search path: %q", res.Content[:60])
	}
}

func TestExecute_SkipCompactionFlag(t *testing.T) {
	exec, _ := testExecutor(t, nil, &mockTool{
		name: "big",
		execute: func(_ context.Context, _ *Invocation, _ json.RawMessage) (*ToolOutput, error) {
			return &ToolOutput{Text: bigText(5000)}, nil
		},
	})

	res := exec.Execute(context.Background(), &Invocation{}, call("big", "t1", `{}`), true)
	if res.Compressed {
		t.Error("skipCompaction did not bypass compaction")
	}
}

func TestExecute_BlockResultsVerbatim(t *testing.T) {
	exec, _ := testExecutor(t, nil, &mockTool{
		name: "vision",
		execute: func(_ context.Context, _ *Invocation, _ json.RawMessage) (*ToolOutput, error) {
			return &ToolOutput{Blocks: []models.ContentBlock{{Type: models.ContentBlockText}}}, nil
		},
	})

	res := exec.Execute(context.Background(), &Invocation{}, call("vision", "t1", `{}`), false)
	if len(res.Blocks) != 1 || res.Compressed {
		t.Errorf("block result altered: %+v", res)
	}
}

func TestExecute_SystemProviderEcho(t *testing.T) {
	caps := []capability.Capability{
		{Name: "passthrough", Kind: capability.KindTool, Provider: "system"},
	}
	exec, _ := testExecutor(t, caps)

	res := exec.Execute(context.Background(), &Invocation{}, call("passthrough", "t1", `{"v":42}`), false)
	if res.IsError || res.Content != `{"v":42}` {
		t.Errorf("system provider echo = %+v", res)
	}
}

func TestExecute_UsageRecorded(t *testing.T) {
	exec, _ := testExecutor(t, nil, &mockTool{
		name: "flaky",
		execute: func(_ context.Context, _ *Invocation, input json.RawMessage) (*ToolOutput, error) {
			if strings.Contains(string(input), "fail") {
				return nil, fmt.Errorf("nope")
			}
			return &ToolOutput{Text: "ok"}, nil
		},
	})

	exec.Execute(context.Background(), &Invocation{}, call("flaky", "t1", `{}`), false)
	exec.Execute(context.Background(), &Invocation{}, call("flaky", "t2", `{"fail":true}`), false)

	// Recording is async.
	deadline := time.Now().Add(time.Second)
	for {
		u := exec.Usage().Usage("flaky")
		if u.Calls == 2 && u.Successes == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage = %+v, want 2 calls 1 success", u)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExecuteBatch_ParallelAndSerial(t *testing.T) {
	var concurrent, peak int32
	track := func(ctx context.Context, _ *Invocation, _ json.RawMessage) (*ToolOutput, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return &ToolOutput{Text: "ok"}, nil
	}

	caps := []capability.Capability{
		{Name: "a", Kind: capability.KindTool},
		{Name: "b", Kind: capability.KindTool},
		{Name: "solo", Kind: capability.KindTool, SerialOnly: true},
	}
	exec, _ := testExecutor(t, caps,
		&mockTool{name: "a", execute: track},
		&mockTool{name: "b", execute: track},
		&mockTool{name: "solo", execute: track})

	// Parallel-safe batch overlaps.
	atomic.StoreInt32(&peak, 0)
	results := exec.ExecuteBatch(context.Background(), &Invocation{},
		[]models.ToolCall{call("a", "t1", `{}`), call("b", "t2", `{}`)}, false)
	if results[0].ToolCallID != "t1" || results[1].ToolCallID != "t2" {
		t.Error("batch results out of call order")
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Error("parallel-safe batch did not overlap")
	}

	// A serial-only member forces the whole batch sequential.
	atomic.StoreInt32(&peak, 0)
	exec.ExecuteBatch(context.Background(), &Invocation{},
		[]models.ToolCall{call("a", "t3", `{}`), call("solo", "t4", `{}`)}, false)
	if atomic.LoadInt32(&peak) != 1 {
		t.Errorf("serial batch overlapped, peak = %d", atomic.LoadInt32(&peak))
	}
}
