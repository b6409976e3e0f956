package similarity

import (
	"github.com/placeforge/ingest-cli/internal/model"
)

// ListMatch pairs two indices in a batch with their similarity score.
type ListMatch struct {
	A          int      `json:"a"`
	B          int      `json:"b"`
	Similarity float64  `json:"similarity"`
	Reasons    []string `json:"reasons"`
}

// FindDuplicatesInList does a pairwise scan over the batch and returns every
// pair at or above the threshold. O(n^2), acceptable for moderate batch sizes.
func (e *Engine) FindDuplicatesInList(records []model.CandidateRecord) []ListMatch {
	var matches []ListMatch
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if !e.IsDuplicate(records[i], records[j]) {
				continue
			}
			score := e.Score(records[i], records[j])
			matches = append(matches, ListMatch{
				A:          i,
				B:          j,
				Similarity: score,
				Reasons:    e.Explain(records[i], records[j]),
			})
		}
	}
	return matches
}

// RemoveDuplicates collapses a batch into unique records. Each unprocessed
// record is tested only against the first member of each growing group, not
// the full transitive closure; the highest-confidence member of each group
// survives.
func (e *Engine) RemoveDuplicates(records []model.CandidateRecord) []model.CandidateRecord {
	var groups [][]model.CandidateRecord

	for _, rec := range records {
		placed := false
		for gi := range groups {
			if e.IsDuplicate(rec, groups[gi][0]) {
				groups[gi] = append(groups[gi], rec)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []model.CandidateRecord{rec})
		}
	}

	unique := make([]model.CandidateRecord, 0, len(groups))
	for _, group := range groups {
		best := group[0]
		for _, rec := range group[1:] {
			if rec.Confidence > best.Confidence {
				best = rec
			}
		}
		unique = append(unique, best)
	}
	return unique
}
