package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func posts(reaches ...int) []CandidatePost {
	out := make([]CandidatePost, 0, len(reaches))
	for i, r := range reaches {
		out = append(out, CandidatePost{SourceHandle: fmt.Sprintf("u%d", i), Reach: intPtr(r), Text: fmt.Sprintf("post %d", i)})
	}
	return out
}

func handles(ps []CandidatePost) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.SourceHandle)
	}
	return out
}

func TestRankByReach(t *testing.T) {
	tests := []struct {
		name     string
		input    []CandidatePost
		k        int
		expected []string
	}{
		{"empty", nil, 5, []string{}},
		{"single", posts(10000), 5, []string{"u0"}},
		{"fewer than k", posts(1, 3, 2), 5, []string{"u1", "u2", "u0"}},
		{"more than k", posts(1, 7, 3, 9, 5, 2, 8), 5, []string{"u3", "u6", "u1", "u4", "u2"}},
		{"ties keep platform order", posts(5, 9, 5, 9, 5), 5, []string{"u1", "u3", "u0", "u2", "u4"}},
		{"zero k", posts(1, 2), 0, []string{}},
		{"missing reach sorts last", append(posts(3), CandidatePost{SourceHandle: "nil"}), 5, []string{"u0", "nil"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RankByReach(tt.input, tt.k)
			assert.Equal(t, tt.expected, handles(result))
		})
	}
}

func TestRankByReachFewerThanFive(t *testing.T) {
	for n := 0; n < defaultTopK; n++ {
		reaches := make([]int, n)
		for i := range reaches {
			reaches[i] = i * 10
		}
		result := RankByReach(posts(reaches...), defaultTopK)
		assert.Len(t, result, n)
	}
}

func TestRankByReachNonIncreasingAndStable(t *testing.T) {
	input := posts(4, 4, 1, 8, 4, 0, 8, 2, 4, 6)
	result := RankByReach(input, len(input))

	assert.Len(t, result, len(input))
	for i := 1; i < len(result); i++ {
		prev, cur := result[i-1], result[i]
		assert.GreaterOrEqual(t, prev.ReachValue(), cur.ReachValue())
		if prev.ReachValue() == cur.ReachValue() {
			// handles are u<index>, so lexical order here tracks input order for single digits
			assert.Less(t, prev.SourceHandle, cur.SourceHandle, "tie order changed")
		}
	}
}

func TestRankByReachDoesNotModifyInput(t *testing.T) {
	input := posts(1, 2, 3)
	RankByReach(input, 2)
	assert.Equal(t, []string{"u0", "u1", "u2"}, handles(input))
}
