package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fakePlatform is an in-memory Platform
type fakePlatform struct {
	mu sync.Mutex

	search  func(q SearchQuery) (*SearchResult, error)
	users   map[string]User
	userErr map[string]error
	postErr error

	queries []SearchQuery
	posted  []string
}

func (f *fakePlatform) SearchRecent(_ context.Context, q SearchQuery) (*SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.search == nil {
		return &SearchResult{}, nil
	}
	return f.search(q)
}

func (f *fakePlatform) UserByHandle(_ context.Context, handle string) (*User, error) {
	if err, ok := f.userErr[handle]; ok {
		return nil, err
	}
	u, ok := f.users[handle]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (f *fakePlatform) CreatePost(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posted = append(f.posted, text)
	return "post-1", nil
}

// fakeCompleter answers by stage, detected from the user message prefix
type fakeCompleter struct {
	mu       sync.Mutex
	respond  func(stage Stage, req CompletionRequest) (string, error)
	requests []CompletionRequest
	stages   []Stage
}

func (f *fakeCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	stage := stageOf(req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.stages = append(f.stages, stage)
	f.mu.Unlock()
	return f.respond(stage, req)
}

func (f *fakeCompleter) count(stage Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.stages {
		if s == stage {
			n++
		}
	}
	return n
}

func stageOf(req CompletionRequest) Stage {
	user := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.HasPrefix(user, "POSTS:"):
		return StageSelection
	case strings.HasPrefix(user, "IMPORTANT_POST:"):
		return StageDrafting
	case strings.HasPrefix(user, "OUTPUT:"):
		return StageExtraction
	default:
		return StageCompression
	}
}

func testEntry() *logrus.Entry {
	return logrus.NewEntry(discardLogger())
}

func testPrompts() *Prompts {
	prompts, err := ParsePrompts(PromptTexts{
		Selection:   defaultSelectionPrompt,
		Drafting:    defaultDraftingPrompt,
		Extraction:  defaultExtractionPrompt,
		Compression: defaultCompressionPrompt,
	})
	if err != nil {
		panic(err)
	}
	return prompts
}

func testSettings() *Settings {
	s := &Settings{}
	s.Account.Handle = "me"
	s.Topics = []string{"ai"}
	s.Synthesis.Framing = "Torus"
	s.Normalize()
	return s
}

func intPtr(n int) *int { return &n }

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
