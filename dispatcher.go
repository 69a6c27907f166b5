package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNoCandidates is reported when collection produced nothing to write about
var ErrNoCandidates = errors.New("no candidate posts collected")

// Dispatcher runs the whole pipeline once per invocation
type Dispatcher struct {
	settings  *Settings
	platform  Platform
	completer Completer
	prompts   *Prompts
	lock      RunLock
	logger    Logger
	now       func() time.Time
}

// NewDispatcher wires the pipeline components; a nil lock means an in-process lock
func NewDispatcher(settings *Settings, platform Platform, completer Completer, prompts *Prompts, lock RunLock, logger Logger) *Dispatcher {
	if lock == nil {
		lock = &LocalLock{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Dispatcher{
		settings:  settings,
		platform:  platform,
		completer: completer,
		prompts:   prompts,
		lock:      lock,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch collects, synthesizes, enforces length and publishes.
// Runs never overlap; a run started while another is active is skipped.
func (d *Dispatcher) Dispatch(ctx context.Context) RunResult {
	result := RunResult{RunID: uuid.NewString()}
	log := d.logger.WithField("run_id", result.RunID)

	release, ok, err := d.lock.TryAcquire(ctx)
	if err != nil {
		return d.finish(log, result, StatusAborted, err)
	}
	if !ok {
		log.Warn("Previous run still in progress, skipping")
		return d.finish(log, result, StatusSkipped, nil)
	}
	defer release()

	start := time.Now()
	defer func() { runDuration.Observe(time.Since(start).Seconds()) }()

	log.Info("→ Starting run")
	s := d.settings

	createdAt, err := s.AccountCreatedAt()
	if err != nil {
		return d.finish(log, result, StatusAborted, err)
	}

	collector := NewCollector(d.platform, log, s.Language)
	collector.now = d.now

	topicPosts := collector.CollectTopics(ctx, s.Topics, s.Collection.TopicMaxResults, s.Collection.TopK)
	influencerPosts := collector.CollectInfluencers(ctx, s.Influencers, s.Collection.InfluencerLookback, s.Collection.InfluencerMaxResults)

	history, err := collector.CollectHistory(ctx, s.Account.Handle, s.Collection.HistoryLookback, createdAt, s.Collection.HistoryMaxResults)
	if err != nil {
		log.WithError(err).Warn("Continuing without history")
	}

	candidates := make([]CandidatePost, 0, len(topicPosts)+len(influencerPosts))
	candidates = append(candidates, topicPosts...)
	candidates = append(candidates, influencerPosts...)
	log.WithFields(logrus.Fields{
		"topic_posts":      len(topicPosts),
		"influencer_posts": len(influencerPosts),
		"history_posts":    len(history),
	}).Info("✓ Collection completed")
	log.Debugf("Candidates:\n%s", FormatPosts(candidates))

	if len(candidates) == 0 {
		return d.finish(log, result, StatusSkipped, ErrNoCandidates)
	}

	model := ModelSettings{Model: s.Synthesis.Model, MaxTokens: s.Synthesis.MaxTokens, Temperature: s.Synthesis.Temperature}
	chain := NewSynthesisChain(d.completer, d.prompts, model, s.Topics, s.Synthesis.Framing, s.Length.DraftBudget, log)
	draft, err := chain.Run(ctx, candidates, history)
	if err != nil {
		return d.finish(log, result, StatusAborted, err)
	}

	compressModel := model
	compressModel.MaxTokens = s.Length.CompressMaxTokens
	enforcer := NewLengthEnforcer(d.completer, d.prompts, compressModel, s.Length.Limit, s.Length.MaxAttempts, log)
	final, err := enforcer.Enforce(ctx, draft)
	if err != nil {
		return d.finish(log, result, StatusAborted, err)
	}
	result.Text = final

	publisher := NewPublisher(d.platform, s.Length.Limit, s.Publish.DryRun, log)
	id, err := publisher.Publish(ctx, final)
	if err != nil {
		return d.finish(log, result, StatusPublishFailed, err)
	}
	result.PostID = id
	if s.Publish.DryRun {
		return d.finish(log, result, StatusDryRun, nil)
	}
	return d.finish(log, result, StatusPublished, nil)
}

func (d *Dispatcher) finish(log *logrus.Entry, result RunResult, status RunStatus, err error) RunResult {
	result.Status = status
	result.Error = err
	runsTotal.WithLabelValues(string(status)).Inc()

	entry := log.WithField("status", status)
	switch {
	case status == StatusAborted || status == StatusPublishFailed:
		entry.WithError(err).Error("✗ Run failed")
	case err != nil:
		entry.WithError(err).Warn("Run ended early")
	default:
		entry.Info("✓ Run completed")
	}
	return result
}
