package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"
)

// Stage names a single model call in the pipeline
type Stage string

const (
	StageSelection   Stage = "selection"
	StageDrafting    Stage = "drafting"
	StageExtraction  Stage = "extraction"
	StageCompression Stage = "compression"
)

// ErrorKind classifies a stage failure
type ErrorKind string

const (
	KindCompletion ErrorKind = "completion_failed"
	KindEmpty      ErrorKind = "empty_output"
)

// ErrEmptyCompletion is returned when the model answers with no text
var ErrEmptyCompletion = errors.New("empty completion")

// StageError reports which stage failed and why
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ModelSettings are the parameters sent with each completion
type ModelSettings struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// promptData is the data available to prompt templates
type promptData struct {
	Topics  string
	Framing string
	Budget  int
	Limit   int
	History string
}

// Prompts holds parsed system prompt templates
type Prompts struct {
	selection   *template.Template
	drafting    *template.Template
	extraction  *template.Template
	compression *template.Template
}

// ParsePrompts parses prompt texts as text/template templates
func ParsePrompts(texts PromptTexts) (*Prompts, error) {
	var p Prompts
	var err error
	if p.selection, err = template.New("selection").Parse(texts.Selection); err != nil {
		return nil, fmt.Errorf("parsing selection prompt: %w", err)
	}
	if p.drafting, err = template.New("drafting").Parse(texts.Drafting); err != nil {
		return nil, fmt.Errorf("parsing drafting prompt: %w", err)
	}
	if p.extraction, err = template.New("extraction").Parse(texts.Extraction); err != nil {
		return nil, fmt.Errorf("parsing extraction prompt: %w", err)
	}
	if p.compression, err = template.New("compression").Parse(texts.Compression); err != nil {
		return nil, fmt.Errorf("parsing compression prompt: %w", err)
	}
	return &p, nil
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing %s prompt: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// SynthesisChain runs selection, drafting and extraction in sequence
type SynthesisChain struct {
	completer Completer
	prompts   *Prompts
	model     ModelSettings
	topics    []string
	framing   string
	budget    int
	logger    *logrus.Entry
}

// NewSynthesisChain creates a chain that drafts posts under budget characters
func NewSynthesisChain(completer Completer, prompts *Prompts, model ModelSettings, topics []string, framing string, budget int, logger *logrus.Entry) *SynthesisChain {
	return &SynthesisChain{
		completer: completer,
		prompts:   prompts,
		model:     model,
		topics:    topics,
		framing:   framing,
		budget:    budget,
		logger:    logger,
	}
}

// Run produces a candidate post from the collected posts, avoiding the history corpus.
// The first failing stage stops the chain and is returned as a *StageError.
func (s *SynthesisChain) Run(ctx context.Context, candidates, history []CandidatePost) (string, error) {
	data := promptData{
		Topics:  strings.Join(s.topics, ", "),
		Framing: s.framing,
		Budget:  s.budget,
		History: strings.TrimSpace(FormatPosts(history)),
	}

	steps := []struct {
		stage  Stage
		tmpl   *template.Template
		prefix string
	}{
		{StageSelection, s.prompts.selection, "POSTS:\n"},
		{StageDrafting, s.prompts.drafting, "IMPORTANT_POST:\n"},
		{StageExtraction, s.prompts.extraction, "OUTPUT:\n"},
	}

	text := FormatPosts(candidates)
	for _, step := range steps {
		system, err := render(step.tmpl, data)
		if err != nil {
			return "", err
		}

		s.logger.WithField("stage", step.stage).Info("→ Asking model")
		out, err := s.complete(ctx, step.stage, system, step.prefix+text)
		if err != nil {
			stageFailures.WithLabelValues(string(step.stage)).Inc()
			return "", err
		}
		s.logger.WithField("stage", step.stage).Debugf("Model output: %s", preview(out, 300))
		text = out
	}

	s.logger.Info("✓ Synthesis completed")
	return text, nil
}

// complete performs one stage request; any failure becomes a *StageError
func (s *SynthesisChain) complete(ctx context.Context, stage Stage, system, user string) (string, error) {
	return completeStage(ctx, s.completer, stage, CompletionRequest{
		Messages:    chat(system, user),
		Model:       s.model.Model,
		MaxTokens:   s.model.MaxTokens,
		Temperature: s.model.Temperature,
	})
}

func completeStage(ctx context.Context, completer Completer, stage Stage, req CompletionRequest) (string, error) {
	out, err := completer.Complete(ctx, req)
	if err != nil {
		return "", &StageError{Stage: stage, Kind: KindCompletion, Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &StageError{Stage: stage, Kind: KindEmpty, Err: ErrEmptyCompletion}
	}
	return out, nil
}
