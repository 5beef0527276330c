package prompt

import (
	"context"
	"fmt"
	"strings"
)

// userMemoryLimit caps injected profile text.
const userMemoryLimit = 1500

// ProfileFetcher loads a user profile for memory injection.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (string, error)
}

// UserMemoryInjector adds what the instance knows about the user. A profile
// attached to the turn wins over a fetch.
type UserMemoryInjector struct {
	fetcher ProfileFetcher
}

// NewUserMemoryInjector builds the injector. fetcher may be nil, in which case
// only pre-attached profiles inject.
func NewUserMemoryInjector(fetcher ProfileFetcher) *UserMemoryInjector {
	return &UserMemoryInjector{fetcher: fetcher}
}

func (u *UserMemoryInjector) Name() string                 { return "user_memory" }
func (u *UserMemoryInjector) Phase() Phase                 { return PhaseUserContext }
func (u *UserMemoryInjector) CacheStrategy() CacheStrategy { return CacheSession }
func (u *UserMemoryInjector) Priority() int                { return 90 }

func (u *UserMemoryInjector) ShouldInject(ic *Context) bool {
	if ic.Intent != nil && ic.Intent.SkipMemory {
		return false
	}
	return ic.UserProfile != "" || (u.fetcher != nil && ic.UserID != "")
}

func (u *UserMemoryInjector) Inject(ctx context.Context, ic *Context) (*Fragment, error) {
	profile := ic.UserProfile
	if profile == "" {
		var err error
		profile, err = u.fetcher.FetchProfile(ctx, ic.UserID)
		if err != nil {
			return nil, fmt.Errorf("fetch profile: %w", err)
		}
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return nil, nil
	}
	if len(profile) > userMemoryLimit {
		profile = profile[:userMemoryLimit]
	}
	return &Fragment{Content: profile, XMLTag: "user_memory"}, nil
}

// Playbook is a recorded past-success pattern.
type Playbook struct {
	Title      string
	Hint       string
	Confidence float64
}

// PlaybookFinder matches the query against recorded playbooks. A nil result
// with a nil error means no match.
type PlaybookFinder interface {
	BestMatch(ctx context.Context, query string) (*Playbook, error)
}

// PlaybookInjector surfaces the single best matching playbook as a
// confidence-tagged hint.
type PlaybookInjector struct {
	finder PlaybookFinder
}

func NewPlaybookInjector(finder PlaybookFinder) *PlaybookInjector {
	return &PlaybookInjector{finder: finder}
}

func (p *PlaybookInjector) Name() string                 { return "playbook_hint" }
func (p *PlaybookInjector) Phase() Phase                 { return PhaseUserContext }
func (p *PlaybookInjector) CacheStrategy() CacheStrategy { return CacheSession }
func (p *PlaybookInjector) Priority() int                { return 80 }

func (p *PlaybookInjector) ShouldInject(ic *Context) bool {
	return p.finder != nil && ic.Query != ""
}

func (p *PlaybookInjector) Inject(ctx context.Context, ic *Context) (*Fragment, error) {
	pb, err := p.finder.BestMatch(ctx, ic.Query)
	if err != nil {
		return nil, fmt.Errorf("playbook lookup: %w", err)
	}
	if pb == nil {
		return nil, nil
	}
	content := fmt.Sprintf("A similar task succeeded before (confidence %.0f%%): %s\n%s",
		pb.Confidence*100, pb.Title, pb.Hint)
	return &Fragment{Content: content, XMLTag: "playbook_hint"}, nil
}

// Knowledge retrieval limits.
const (
	maxKnowledgeSnippets = 3
	maxKnowledgeChars    = 2000
)

// Snippet is one retrieved local-knowledge fragment.
type Snippet struct {
	Source  string
	Content string
}

// KnowledgeRetriever searches the instance's local knowledge for a query.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Snippet, error)
}

// KnowledgeInjector adds up to three local-knowledge snippets for the query,
// bounded by a total character budget.
type KnowledgeInjector struct {
	retriever KnowledgeRetriever
}

func NewKnowledgeInjector(retriever KnowledgeRetriever) *KnowledgeInjector {
	return &KnowledgeInjector{retriever: retriever}
}

func (k *KnowledgeInjector) Name() string                 { return "knowledge_context" }
func (k *KnowledgeInjector) Phase() Phase                 { return PhaseUserContext }
func (k *KnowledgeInjector) CacheStrategy() CacheStrategy { return CacheDynamic }
func (k *KnowledgeInjector) Priority() int                { return 70 }

func (k *KnowledgeInjector) ShouldInject(ic *Context) bool {
	return k.retriever != nil && ic.Query != ""
}

func (k *KnowledgeInjector) Inject(ctx context.Context, ic *Context) (*Fragment, error) {
	snippets, err := k.retriever.Retrieve(ctx, ic.Query, maxKnowledgeSnippets)
	if err != nil {
		return nil, fmt.Errorf("knowledge retrieval: %w", err)
	}
	if len(snippets) == 0 {
		return nil, nil
	}
	if len(snippets) > maxKnowledgeSnippets {
		snippets = snippets[:maxKnowledgeSnippets]
	}

	var sb strings.Builder
	budget := maxKnowledgeChars
	for _, s := range snippets {
		content := strings.TrimSpace(s.Content)
		if content == "" {
			continue
		}
		if len(content) > budget {
			content = content[:budget]
		}
		if s.Source != "" {
			fmt.Fprintf(&sb, "[%s]\n", s.Source)
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
		budget -= len(content)
		if budget <= 0 {
			break
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, nil
	}
	return &Fragment{Content: text, XMLTag: "knowledge"}, nil
}
