package collector

import "github.com/RPG812/debridge-token-analytics/pkg/types"

// Schedule carves up to count descending, contiguous ranges of step blocks
// ending at cursor. The last range stops at block 0 when the cursor is close
// to genesis. A negative cursor yields no ranges.
func Schedule(cursor int64, step uint64, count int) []types.BlockRange {
	if cursor < 0 || step == 0 || count <= 0 {
		return nil
	}

	ranges := make([]types.BlockRange, 0, count)
	to := uint64(cursor)
	for len(ranges) < count {
		var from uint64
		if to >= step {
			from = to - step + 1
		}
		ranges = append(ranges, types.BlockRange{From: from, To: to})
		if from == 0 {
			break
		}
		to = from - 1
	}
	return ranges
}
