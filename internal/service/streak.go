package service

import "slices"

// CurrentStreak is the length of the run of consecutive periods ending at the
// latest accepted one.
func CurrentStreak(periods []int) int {
	if len(periods) == 0 {
		return 0
	}
	sorted := slices.Clone(periods)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	streak := 1
	for i := len(sorted) - 1; i > 0; i-- {
		if sorted[i-1] != sorted[i]-1 {
			break
		}
		streak++
	}
	return streak
}

// Missed reports whether the last of closed periods went without an accepted
// proof and nothing later was accepted either.
func Missed(periods []int, closed int) bool {
	if closed == 0 {
		return false
	}
	if len(periods) == 0 {
		return true
	}
	return slices.Max(periods) < closed-1
}

func distinctCount(periods []int) int {
	sorted := slices.Clone(periods)
	slices.Sort(sorted)
	return len(slices.Compact(sorted))
}
