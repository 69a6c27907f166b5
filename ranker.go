package main

import "sort"

// defaultTopK is the number of candidates kept per topic
const defaultTopK = 5

// RankByReach returns up to k posts ordered by descending reach.
// Ties keep the platform-returned order. The input slice is not modified.
func RankByReach(posts []CandidatePost, k int) []CandidatePost {
	if k <= 0 || len(posts) == 0 {
		return []CandidatePost{}
	}

	ranked := make([]CandidatePost, len(posts))
	copy(ranked, posts)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ReachValue() > ranked[j].ReachValue()
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k]
}
