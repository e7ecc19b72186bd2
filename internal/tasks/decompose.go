package tasks

import (
	"strings"
)

// Subtask is one atomic unit produced by decomposing a goal.
type Subtask struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// shortGoalThreshold is the normalized length below which a goal is
// returned as a single subtask instead of being split.
const shortGoalThreshold = 60

// Boundary ranks. Sentence boundaries are applied first, then each
// sentence is subdivided at clause boundaries.
var (
	sentenceBoundaries = []string{" then ", ";", "."}
	clauseBoundaries   = []string{" and ", ","}
)

// Normalize trims the text and collapses internal whitespace runs to a
// single space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Decompose breaks a high-level goal into smaller subtasks without
// calling an LLM, so planning stays available even when model keys or
// upstream services are broken. It is a pure function: identical inputs
// always yield identical output.
//
// Rules, in order:
//   - empty normalized goal yields no subtasks
//   - goals shorter than 60 characters pass through as a single subtask
//   - otherwise the goal is split at sentence boundaries (" then ", ".",
//     ";") and each sentence at clause boundaries (" and ", ",")
//   - candidates are deduplicated case-insensitively, first-seen order
//   - if nothing survives, the whole goal becomes the single subtask
//   - the list is silently truncated to maxSubtasks
func Decompose(goal string, maxSubtasks int) []Subtask {
	if maxSubtasks < 1 {
		maxSubtasks = 1
	}

	g := Normalize(goal)
	if g == "" {
		return nil
	}

	if len(g) < shortGoalThreshold {
		return []Subtask{{ID: 1, Text: g}}
	}

	var candidates []string
	for _, sentence := range splitOnAny(g, sentenceBoundaries) {
		for _, clause := range splitOnAny(sentence, clauseBoundaries) {
			if t := Normalize(clause); t != "" {
				candidates = append(candidates, t)
			}
		}
	}

	// Deduplicate while preserving first-seen order.
	seen := make(map[string]bool, len(candidates))
	var uniq []string
	for _, c := range candidates {
		key := strings.ToLower(c)
		if !seen[key] {
			seen[key] = true
			uniq = append(uniq, c)
		}
	}

	if len(uniq) == 0 {
		uniq = []string{g}
	}

	if len(uniq) > maxSubtasks {
		uniq = uniq[:maxSubtasks]
	}

	subtasks := make([]Subtask, len(uniq))
	for i, t := range uniq {
		subtasks[i] = Subtask{ID: i + 1, Text: t}
	}
	return subtasks
}

// splitOnAny splits s at every occurrence of any boundary token. The
// tokens themselves are discarded.
func splitOnAny(s string, boundaries []string) []string {
	parts := []string{s}
	for _, b := range boundaries {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, b)...)
		}
		parts = next
	}
	return parts
}
