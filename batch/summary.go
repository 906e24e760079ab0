package batch

import (
	"time"

	"flatbatch/convert"
)

// Summary aggregates a result set.
type Summary struct {
	Total     int                     `json:"total"`
	Succeeded int                     `json:"succeeded"`
	Changed   int                     `json:"changed"`
	Failed    int                     `json:"failed"`
	ByOutcome map[convert.Outcome]int `json:"by_outcome"`
	Bytes     int64                   `json:"binary_bytes"`
	Elapsed   time.Duration           `json:"elapsed_ns"`
}

func Summarize(results []convert.Result) Summary {
	s := Summary{Total: len(results), ByOutcome: make(map[convert.Outcome]int)}
	for _, r := range results {
		s.ByOutcome[r.Outcome]++
		s.Bytes += r.BinarySize
		if r.Outcome.Failed() {
			s.Failed++
			continue
		}
		s.Succeeded++
		if r.Changed {
			s.Changed++
		}
	}
	return s
}
