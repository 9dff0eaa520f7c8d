package merge

// Counts tallies dispositions across a batch.
type Counts struct {
	ImportedAsCurrent int `json:"importedAsCurrent"`
	ImportedAsHistory int `json:"importedAsHistory"`
	Skipped           int `json:"skipped"`
	Errors            int `json:"errors"`
}

// Add records one result.
func (c *Counts) Add(r Result) {
	switch r.Disposition {
	case ImportedCurrent:
		c.ImportedAsCurrent++
	case ImportedHistory:
		c.ImportedAsHistory++
	case Skipped:
		c.Skipped++
	case Error:
		c.Errors++
	}
}

// Total is the number of results recorded.
func (c Counts) Total() int {
	return c.ImportedAsCurrent + c.ImportedAsHistory + c.Skipped + c.Errors
}

// MergeBatch merges every candidate against the resident state returned by
// lookup without writing anything. It backs import previews.
func (e *Engine) MergeBatch(cands []Candidate, lookup func(areaID string) (Resident, error)) ([]Result, Counts) {
	results := make([]Result, 0, len(cands))
	var counts Counts
	for _, c := range cands {
		var res Result
		r, err := lookup(c.AreaID)
		if err != nil {
			res = Result{AreaID: c.AreaID, AreaName: c.AreaID, Disposition: Error, Reason: err.Error()}
			if area, ok := e.cat.Area(c.AreaID); ok {
				res.AreaName = area.Name
			}
		} else {
			res = e.Merge(c, r)
		}
		counts.Add(res)
		results = append(results, res)
	}
	return results, counts
}
