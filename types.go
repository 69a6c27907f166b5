package main

import (
	"fmt"
	"strings"
	"time"
)

// CandidatePost represents a collected public post with its author context
type CandidatePost struct {
	SourceHandle string    `json:"source_handle"`
	DisplayName  string    `json:"display_name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Reach        *int      `json:"reach,omitempty"`
	Text         string    `json:"text"`
}

// ReachValue returns the follower count, or 0 when reach is unknown
func (p CandidatePost) ReachValue() int {
	if p.Reach == nil {
		return 0
	}
	return *p.Reach
}

// Format renders the post as a single prompt line
func (p CandidatePost) Format() string {
	author := "@" + p.SourceHandle
	if p.DisplayName != "" {
		author = fmt.Sprintf("%s (%s)", author, p.DisplayName)
	}
	return fmt.Sprintf("-- %s - %s - Post: %s", p.Timestamp.UTC().Format(time.RFC3339), author, p.Text)
}

// FormatPosts renders posts one per line for use in prompts
func FormatPosts(posts []CandidatePost) string {
	var sb strings.Builder
	for _, p := range posts {
		sb.WriteString(p.Format())
		sb.WriteString("\n")
	}
	return sb.String()
}

// RunStatus represents the outcome status of a dispatcher run
type RunStatus string

const (
	StatusPublished     RunStatus = "published"
	StatusDryRun        RunStatus = "dry_run"
	StatusSkipped       RunStatus = "skipped"
	StatusAborted       RunStatus = "aborted"
	StatusPublishFailed RunStatus = "publish_failed"
)

// RunResult tracks the outcome of a single dispatcher run
type RunResult struct {
	RunID  string
	Status RunStatus
	Text   string
	PostID string
	Error  error
}
