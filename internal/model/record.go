package model

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Zero reports whether the location is unset.
func (l Location) Zero() bool {
	return l.Lat == 0 && l.Lng == 0
}

// CandidateRecord is a place/business extracted from a source. It is immutable
// once produced by a parser; downstream stages read it and emit new values.
type CandidateRecord struct {
	Name       string    `json:"name"`
	Address    string    `json:"address,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	Website    string    `json:"website,omitempty"`
	Category   string    `json:"category,omitempty"`
	Rating     float64   `json:"rating,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Photos     []string  `json:"photos,omitempty"`
	Confidence float64   `json:"confidence"` // source-supplied trust estimate, 0-100
}

// ExistingRecord is a persisted place returned by duplicate lookups.
type ExistingRecord struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Address  string    `json:"address,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Email    string    `json:"email,omitempty"`
	Website  string    `json:"website,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Candidate returns the existing record reshaped as a CandidateRecord so the
// similarity engine can compare like with like.
func (e ExistingRecord) Candidate() CandidateRecord {
	return CandidateRecord{
		Name:     e.Name,
		Address:  e.Address,
		Phone:    e.Phone,
		Email:    e.Email,
		Website:  e.Website,
		Location: e.Location,
	}
}

// DuplicateMatch explains why a candidate was matched to an existing record.
// It is produced transiently for audit display and never persisted.
type DuplicateMatch struct {
	Candidate       CandidateRecord `json:"candidate"`
	MatchedExisting ExistingRecord  `json:"matched_existing"`
	Similarity      float64         `json:"similarity"`
	MatchReasons    []string        `json:"match_reasons"`
}
