package model

// Enrichment holds SEO/content metadata attached by the enhancer collaborator.
type Enrichment struct {
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Slug     string   `json:"slug,omitempty"`
}

// PipelineResult is the outcome of processing one raw candidate through the
// ingestion pipeline. It is created once per invocation and never mutated
// after return.
type PipelineResult struct {
	Original      string           `json:"original,omitempty"`
	Validated     *CandidateRecord `json:"validated,omitempty"`
	Confidence    float64          `json:"confidence"`
	IsDuplicate   bool             `json:"is_duplicate"`
	DuplicateOfID string           `json:"duplicate_of_id,omitempty"`
	Match         *DuplicateMatch  `json:"match,omitempty"`
	Enriched      *Enrichment      `json:"enriched,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// OK reports whether the result carries no hard failures.
func (r *PipelineResult) OK() bool {
	return len(r.Errors) == 0
}

// Validation holds the outcome of field-level rule checks. Failures are
// non-fatal at the pipeline level; the record still flows through duplicate
// classification for manual review.
type Validation struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
