package store

import "time"

// SearchFilters narrows which memories a search may return. Zero value
// means no filtering beyond tenant scope, expiry, and the default noise
// exclusion.
type SearchFilters struct {
	// Tags matches memories carrying ANY of the listed tags (OR).
	Tags []string
	// Types restricts to the listed memory types.
	Types []MemoryType
	// Importance restricts to the listed importance levels.
	Importance []Importance
	// CreatedAfter/CreatedBefore bound the creation time.
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// IncludeExpired keeps memories whose soft TTL has elapsed.
	IncludeExpired bool
	// IncludeNoise keeps memories carrying a configured noise tag.
	// Noise tags are excluded by default.
	IncludeNoise bool
}

// Validate checks filter values. Returns a *ValidationError on the first
// malformed field.
func (f SearchFilters) Validate() error {
	for _, t := range f.Types {
		if !t.Valid() {
			return &ValidationError{Field: "types", Reason: "unknown memory type " + string(t)}
		}
	}
	for _, i := range f.Importance {
		if !i.Valid() {
			return &ValidationError{Field: "importance", Reason: "unknown importance " + string(i)}
		}
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && f.CreatedBefore.Before(*f.CreatedAfter) {
		return &ValidationError{Field: "created_before", Reason: "date range is inverted"}
	}
	return nil
}

// VectorQuery parameterizes a similarity search against the store.
type VectorQuery struct {
	Filters   SearchFilters
	Threshold float64  // minimum cosine similarity, results below are dropped
	Limit     int      // top-K cap
	NoiseTags []string // tags excluded unless Filters.IncludeNoise
}
