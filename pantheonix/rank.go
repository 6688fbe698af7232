package pantheonix

// rankFromThresholds derives a rank from an accrual counter using a monotonically
// increasing threshold table. Rank N is held once counter >= thresholds[N-1], so a
// counter below the first threshold yields rank 0. Rank is never stored; it is always
// recomputed from the counter to avoid drift.
func rankFromThresholds(counter int64, thresholds []int64) int32 {
	rank := int32(0)
	for _, threshold := range thresholds {
		if counter < threshold {
			break
		}
		rank++
	}
	return rank
}

// validThresholds reports whether the threshold table is strictly increasing and
// non-negative. An invalid table is a definition error caught at config load.
func validThresholds(thresholds []int64) bool {
	prev := int64(-1)
	for _, threshold := range thresholds {
		if threshold < 0 || threshold <= prev {
			return false
		}
		prev = threshold
	}
	return true
}
