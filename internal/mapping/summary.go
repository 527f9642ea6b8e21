package mapping

import (
	"math"
	"sort"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
)

// Summarize aggregates a run's records: total mapped value, record count,
// and the topN records by absolute value for operator-facing output.
func Summarize(records []domain.OutputRecord, topN int) domain.RunSummary {
	summary := domain.RunSummary{RecordCount: len(records)}
	for _, rec := range records {
		summary.TotalValue += rec.Value
	}

	if topN <= 0 || len(records) == 0 {
		return summary
	}

	top := append([]domain.OutputRecord(nil), records...)
	sort.SliceStable(top, func(i, j int) bool {
		return math.Abs(top[i].Value) > math.Abs(top[j].Value)
	})
	if len(top) > topN {
		top = top[:topN]
	}
	summary.Top = top
	return summary
}
