package verifier

import (
	"github.com/vsavkov/devkernel/internal/adapter"
)

// Candidate pairs a speculate dispatch's proof with its workcell id for
// scoring and voting.
type Candidate struct {
	WorkcellID string
	Proof      *adapter.Proof
}

// riskPoints implements the scoring table's risk dimension (spec §4.6).
var riskPoints = map[string]float64{
	"critical": 0,
	"high":     5,
	"medium":   10,
	"low":      15,
}

// Score computes a candidate's weighted score out of 100 within the context
// of the full candidate set (needed for the relative diff-size and duration
// dimensions). Only meaningful for candidates with AllPassed; callers filter
// eligibility separately per spec §4.6 ("only candidates with all_passed are
// eligible").
func Score(c Candidate, set []Candidate) float64 {
	maxLines := 0
	maxDuration := int64(0)
	for _, other := range set {
		lines := other.Proof.Patch.Insertions + other.Proof.Patch.Deletions
		if lines > maxLines {
			maxLines = lines
		}
		if other.Proof.Metadata.DurationMs > maxDuration {
			maxDuration = other.Proof.Metadata.DurationMs
		}
	}

	score := 40.0 // verification: eligibility filter already removed non-passing candidates
	score += c.Proof.Confidence * 20

	thisLines := c.Proof.Patch.Insertions + c.Proof.Patch.Deletions
	if maxLines > 0 {
		score += (1 - float64(thisLines)/float64(maxLines)) * 15
	} else {
		score += 15
	}

	score += riskPoints[c.Proof.RiskClassification]

	if maxDuration > 0 {
		score += (1 - float64(c.Proof.Metadata.DurationMs)/float64(maxDuration)) * 10
	} else {
		score += 10
	}

	return score
}

// Vote selects a winner among candidates (spec §4.6). Only candidates with
// verification.all_passed are eligible. Ties broken by higher confidence,
// then lower workcell id lexicographically. Returns nil if the best score is
// below voteThreshold*100 (no winner — see Runner fallback policy).
func Vote(candidates []Candidate, voteThreshold float64) *Candidate {
	var eligible []Candidate
	for _, c := range candidates {
		if c.Proof.Verification.AllPassed {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	scores := make(map[string]float64, len(eligible))
	for _, c := range eligible {
		scores[c.WorkcellID] = Score(c, eligible)
	}

	best := eligible[0]
	for _, c := range eligible[1:] {
		if betterCandidate(c, best, scores) {
			best = c
		}
	}

	if scores[best.WorkcellID] < voteThreshold*100 {
		return nil
	}
	result := best
	return &result
}

func betterCandidate(a, b Candidate, scores map[string]float64) bool {
	if scores[a.WorkcellID] != scores[b.WorkcellID] {
		return scores[a.WorkcellID] > scores[b.WorkcellID]
	}
	if a.Proof.Confidence != b.Proof.Confidence {
		return a.Proof.Confidence > b.Proof.Confidence
	}
	return a.WorkcellID < b.WorkcellID
}

// Fallback implements the Runner-level fallback policy (spec §4.6, not part
// of Verifier proper): if voting found no winner, pick the highest-confidence
// candidate with all_passed; if none passed, pick the highest-confidence
// successful dispatch; otherwise nil (declare the issue failed).
func Fallback(candidates []Candidate) *Candidate {
	if best := highestConfidence(candidates, func(c Candidate) bool {
		return c.Proof.Verification.AllPassed
	}); best != nil {
		return best
	}
	return highestConfidence(candidates, func(c Candidate) bool {
		return c.Proof.Status == adapter.StatusSuccess || c.Proof.Status == adapter.StatusPartial
	})
}

func highestConfidence(candidates []Candidate, filter func(Candidate) bool) *Candidate {
	var best *Candidate
	for i := range candidates {
		c := candidates[i]
		if !filter(c) {
			continue
		}
		if best == nil || c.Proof.Confidence > best.Proof.Confidence {
			cc := c
			best = &cc
		}
	}
	return best
}
