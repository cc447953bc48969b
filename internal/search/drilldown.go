package search

// Drilldown classifies a result set so the caller can decide whether to
// broaden, narrow, or escalate to external research. It is advisory and
// never blocks a response.
type Drilldown string

const (
	DrilldownNone         Drilldown = "none"
	DrilldownLowRelevance Drilldown = "low_relevance"
	DrilldownFew          Drilldown = "few"
	DrilldownMany         Drilldown = "many"
	DrilldownGood         Drilldown = "good"
)

// classify maps a merged result set to a drilldown class and guidance.
// generalThreshold is the advisory mid threshold; limit is the requested
// result cap.
func classify(results int, topScore, generalThreshold float64, limit int) (Drilldown, string) {
	switch {
	case results == 0:
		return DrilldownNone, "no matches: broaden the query, drop filters, or escalate to external research"
	case topScore < generalThreshold:
		return DrilldownLowRelevance, "weak matches only: rephrase the query or escalate to external research"
	case results <= 2:
		return DrilldownFew, "few matches: related memories may exist under different wording"
	case limit > 0 && results >= limit:
		return DrilldownMany, "result cap reached: narrow with tags or type filters"
	default:
		return DrilldownGood, ""
	}
}
