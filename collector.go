package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Collector gathers candidate posts from the platform
type Collector struct {
	platform Platform
	logger   *logrus.Entry
	lang     string
	now      func() time.Time
}

// NewCollector creates a collector for posts in the given language
func NewCollector(platform Platform, logger *logrus.Entry, lang string) *Collector {
	return &Collector{
		platform: platform,
		logger:   logger,
		lang:     lang,
		now:      time.Now,
	}
}

// CollectTopics returns the top-reach posts for each topic, topK per topic, in topic order.
// A failing topic is logged and skipped.
func (c *Collector) CollectTopics(ctx context.Context, topics []string, maxResults, topK int) []CandidatePost {
	var all []CandidatePost
	for _, topic := range topics {
		log := c.logger.WithField("topic", topic)
		log.Info("→ Collecting topic")

		candidates, err := c.searchTopic(ctx, topic, maxResults)
		if err != nil {
			collectionErrors.WithLabelValues(sourceTopic).Inc()
			log.WithError(err).Error("✗ Topic search failed")
			continue
		}
		if len(candidates) == 0 {
			log.Info("No posts found for this topic")
			continue
		}

		ranked := RankByReach(candidates, topK)
		collectedPosts.WithLabelValues(sourceTopic).Add(float64(len(ranked)))
		log.WithFields(logrus.Fields{"found": len(candidates), "kept": len(ranked)}).Info("✓ Topic collected")
		all = append(all, ranked...)
	}
	return all
}

// searchTopic joins each matching post with its author to obtain reach.
// Posts whose author is not in the expansion are dropped.
func (c *Collector) searchTopic(ctx context.Context, topic string, maxResults int) ([]CandidatePost, error) {
	result, err := c.platform.SearchRecent(ctx, SearchQuery{
		Query:         topicQuery(topic, c.lang),
		MaxResults:    maxResults,
		ExpandAuthors: true,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]CandidatePost, 0, len(result.Posts))
	for _, post := range result.Posts {
		author, ok := result.Users[post.AuthorID]
		if !ok {
			continue
		}
		reach := author.FollowersCount
		candidates = append(candidates, CandidatePost{
			SourceHandle: author.Username,
			DisplayName:  author.Name,
			Timestamp:    post.CreatedAt,
			Reach:        &reach,
			Text:         post.Text,
		})
	}
	return candidates, nil
}

// CollectInfluencers returns every recent verified post from the given handles.
// Each handle's window starts lookback ago, clamped to the account's creation.
func (c *Collector) CollectInfluencers(ctx context.Context, handles []string, lookback time.Duration, maxResults int) []CandidatePost {
	var all []CandidatePost
	for _, handle := range handles {
		log := c.logger.WithField("handle", handle)
		log.Info("→ Collecting influencer")

		posts, err := c.collectAccount(ctx, handle, lookback, time.Time{}, maxResults, true)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				log.Warn("User not found, skipping")
			} else {
				log.WithError(err).Error("✗ Influencer collection failed")
			}
			collectionErrors.WithLabelValues(sourceInfluencer).Inc()
			continue
		}

		collectedPosts.WithLabelValues(sourceInfluencer).Add(float64(len(posts)))
		log.WithField("found", len(posts)).Info("✓ Influencer collected")
		all = append(all, posts...)
	}
	return all
}

// CollectHistory returns the operating account's own posts inside the history window.
// createdAt overrides the platform-reported creation instant when non-zero.
func (c *Collector) CollectHistory(ctx context.Context, handle string, lookback time.Duration, createdAt time.Time, maxResults int) ([]CandidatePost, error) {
	log := c.logger.WithField("handle", handle)
	log.Info("→ Collecting own history")

	posts, err := c.collectAccount(ctx, handle, lookback, createdAt, maxResults, false)
	if err != nil {
		collectionErrors.WithLabelValues(sourceHistory).Inc()
		return nil, fmt.Errorf("collecting history for %s: %w", handle, err)
	}

	collectedPosts.WithLabelValues(sourceHistory).Add(float64(len(posts)))
	log.WithField("found", len(posts)).Info("✓ History collected")
	return posts, nil
}

func (c *Collector) collectAccount(ctx context.Context, handle string, lookback time.Duration, createdAt time.Time, maxResults int, verifiedOnly bool) ([]CandidatePost, error) {
	user, err := c.platform.UserByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if createdAt.IsZero() {
		createdAt = user.CreatedAt
	}

	window := ResolveWindow(c.now(), lookback, createdAt)
	c.logger.WithFields(logrus.Fields{"handle": handle, "user_id": user.ID, "since": window.StartString()}).Debug("Resolved window")

	result, err := c.platform.SearchRecent(ctx, SearchQuery{
		Query:      fromQuery(handle, c.lang, verifiedOnly),
		StartTime:  window.Start,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, err
	}

	posts := make([]CandidatePost, 0, len(result.Posts))
	for _, post := range result.Posts {
		posts = append(posts, CandidatePost{
			SourceHandle: handle,
			DisplayName:  user.Name,
			Timestamp:    post.CreatedAt,
			Text:         post.Text,
		})
	}
	return posts, nil
}
