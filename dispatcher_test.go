package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newsPlatform serves one verified author posting about AI and an empty own history
func newsPlatform() *fakePlatform {
	return &fakePlatform{
		users: map[string]User{
			"me": {ID: "100", Username: "me", CreatedAt: time.Date(2025, 1, 17, 0, 34, 0, 0, time.UTC)},
		},
		search: func(q SearchQuery) (*SearchResult, error) {
			if strings.HasPrefix(q.Query, "from:") {
				return &SearchResult{}, nil
			}
			return &SearchResult{
				Posts: []Post{{ID: "1", AuthorID: "42", CreatedAt: fixedNow.Add(-time.Hour), Text: "AI will change everything"}},
				Users: map[string]User{"42": {ID: "42", Username: "visionary", Name: "Visionary", FollowersCount: 10000}},
			}, nil
		},
	}
}

// scriptedCompleter answers every stage with fixed text
func scriptedCompleter() *fakeCompleter {
	return &fakeCompleter{
		respond: func(stage Stage, req CompletionRequest) (string, error) {
			switch stage {
			case StageSelection:
				return "Username: @visionary Post: AI will change everything", nil
			case StageDrafting:
				return "Thinking... " + strings.Repeat("long draft ", 40), nil
			case StageExtraction:
				return `"` + strings.Repeat("AI agents need open networks. ", 12) + `"`, nil
			default:
				return "AI will change everything, and open networks like Torus decide who benefits.", nil
			}
		},
	}
}

func newTestDispatcher(s *Settings, p Platform, c Completer, lock RunLock) *Dispatcher {
	d := NewDispatcher(s, p, c, testPrompts(), lock, nil)
	d.now = func() time.Time { return fixedNow }
	return d
}

func TestDispatchPublishes(t *testing.T) {
	platform := newsPlatform()
	completer := scriptedCompleter()
	before := testutil.ToFloat64(runsTotal.WithLabelValues(string(StatusPublished)))

	result := newTestDispatcher(testSettings(), platform, completer, nil).Dispatch(context.Background())

	require.NoError(t, result.Error)
	assert.Equal(t, StatusPublished, result.Status)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "post-1", result.PostID)

	require.Len(t, platform.posted, 1)
	assert.LessOrEqual(t, PostLength(platform.posted[0]), 280)
	assert.Equal(t, 1, completer.count(StageSelection))
	assert.Equal(t, 1, completer.count(StageCompression))
	assert.Contains(t, completer.requests[0].Messages[1].Content, "AI will change everything")

	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues(string(StatusPublished))))
}

func TestDispatchDryRun(t *testing.T) {
	s := testSettings()
	s.Publish.DryRun = true
	platform := newsPlatform()

	result := newTestDispatcher(s, platform, scriptedCompleter(), nil).Dispatch(context.Background())

	assert.Equal(t, StatusDryRun, result.Status)
	assert.NotEmpty(t, result.Text)
	assert.Empty(t, platform.posted)
}

func TestDispatchSelectionFailure(t *testing.T) {
	platform := newsPlatform()
	completer := &fakeCompleter{
		respond: func(stage Stage, req CompletionRequest) (string, error) {
			if stage == StageSelection {
				return "", errors.New("provider unavailable")
			}
			return "should not be used", nil
		},
	}

	result := newTestDispatcher(testSettings(), platform, completer, nil).Dispatch(context.Background())

	assert.Equal(t, StatusAborted, result.Status)
	var stageErr *StageError
	require.True(t, errors.As(result.Error, &stageErr))
	assert.Equal(t, StageSelection, stageErr.Stage)
	assert.Equal(t, 0, completer.count(StageDrafting))
	assert.Empty(t, platform.posted)
}

func TestDispatchLengthNotConverged(t *testing.T) {
	platform := newsPlatform()
	completer := &fakeCompleter{
		respond: func(stage Stage, req CompletionRequest) (string, error) {
			return strings.Repeat("too long ", 50), nil
		},
	}

	result := newTestDispatcher(testSettings(), platform, completer, nil).Dispatch(context.Background())

	assert.Equal(t, StatusAborted, result.Status)
	assert.ErrorIs(t, result.Error, ErrLengthNotConverged)
	assert.Empty(t, platform.posted)
}

func TestDispatchPublishFailure(t *testing.T) {
	platform := newsPlatform()
	platform.postErr = &HTTPError{StatusCode: 403, URL: "/2/tweets"}

	result := newTestDispatcher(testSettings(), platform, scriptedCompleter(), nil).Dispatch(context.Background())

	assert.Equal(t, StatusPublishFailed, result.Status)
	assert.NotEmpty(t, result.Text)
	assert.Empty(t, result.PostID)
}

func TestDispatchNoCandidates(t *testing.T) {
	platform := &fakePlatform{users: map[string]User{"me": {ID: "100", Username: "me"}}}
	completer := scriptedCompleter()

	result := newTestDispatcher(testSettings(), platform, completer, nil).Dispatch(context.Background())

	assert.Equal(t, StatusSkipped, result.Status)
	assert.ErrorIs(t, result.Error, ErrNoCandidates)
	assert.Empty(t, completer.requests)
}

func TestDispatchContinuesWithoutHistory(t *testing.T) {
	platform := newsPlatform()
	platform.userErr = map[string]error{"me": errors.New("lookup failed")}

	result := newTestDispatcher(testSettings(), platform, scriptedCompleter(), nil).Dispatch(context.Background())

	assert.Equal(t, StatusPublished, result.Status)
}

func TestDispatchSkipsWhileRunning(t *testing.T) {
	lock := &LocalLock{}
	release, ok, err := lock.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	platform := newsPlatform()
	completer := scriptedCompleter()
	d := newTestDispatcher(testSettings(), platform, completer, lock)

	result := d.Dispatch(context.Background())
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Empty(t, platform.queries)
	assert.Empty(t, completer.requests)

	release()
	result = d.Dispatch(context.Background())
	assert.Equal(t, StatusPublished, result.Status)
}

type failingLock struct{}

func (failingLock) TryAcquire(context.Context) (func(), bool, error) {
	return nil, false, errors.New("redis down")
}

func TestDispatchLockError(t *testing.T) {
	result := newTestDispatcher(testSettings(), newsPlatform(), scriptedCompleter(), failingLock{}).Dispatch(context.Background())
	assert.Equal(t, StatusAborted, result.Status)
	assert.EqualError(t, result.Error, "redis down")
}

func TestDispatchInvalidCreationTime(t *testing.T) {
	s := testSettings()
	s.Account.CreatedAt = "17/01/2025"
	platform := newsPlatform()
	completer := scriptedCompleter()

	result := newTestDispatcher(s, platform, completer, nil).Dispatch(context.Background())

	assert.Equal(t, StatusAborted, result.Status)
	assert.ErrorContains(t, result.Error, "account.created_at")
	assert.Empty(t, platform.queries)
	assert.Empty(t, completer.requests)
}
