package match

import "strings"

// TitleSimilarity returns the percentage (0-100) of characters the two
// titles share, ignoring case. Common characters are counted by taking the
// longest common substring and recursing into the pieces on either side.
func TitleSimilarity(a, b string) float64 {
	ra := []rune(strings.ToLower(strings.TrimSpace(a)))
	rb := []rune(strings.ToLower(strings.TrimSpace(b)))
	total := len(ra) + len(rb)
	if total == 0 {
		return 0
	}
	return float64(commonChars(ra, rb)*2) * 100 / float64(total)
}

func commonChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	posA, posB, n := longestCommonSubstring(a, b)
	if n == 0 {
		return 0
	}
	return n +
		commonChars(a[:posA], b[:posB]) +
		commonChars(a[posA+n:], b[posB+n:])
}

// longestCommonSubstring returns the start offsets and length of the first
// longest run shared by a and b.
func longestCommonSubstring(a, b []rune) (int, int, int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	bestA, bestB, best := 0, 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
					bestA, bestB = i-best, j-best
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestA, bestB, best
}
