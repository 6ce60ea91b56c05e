package memory

// Ratio computes a symmetric similarity score in [0,1] between two strings:
// twice the total length of the longest matching blocks divided by the
// combined length. This is the classic Ratcliff/Obershelp measure, kept
// byte-compatible with difflib.SequenceMatcher.ratio() so entity search
// ranks the way it always has.
func Ratio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := matchedLen(a, b)
	return 2 * float64(matched) / float64(len(a)+len(b))
}

// matchedLen sums the longest matching block and recurses into the
// unmatched regions on either side of it.
func matchedLen(a, b string) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchedLen(a[:ai], b[:bi])
	total += matchedLen(a[ai+size:], b[bi+size:])
	return total
}

// longestMatch finds the leftmost longest common substring of a and b.
func longestMatch(a, b string) (ai, bi, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	// lengths[j] is the length of the common suffix ending at a[i], b[j].
	lengths := make([]int, len(b))
	for i := 0; i < len(a); i++ {
		prev := 0
		for j := 0; j < len(b); j++ {
			cur := lengths[j]
			if a[i] == b[j] {
				lengths[j] = prev + 1
				if lengths[j] > size {
					size = lengths[j]
					ai = i - size + 1
					bi = j - size + 1
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}
	return ai, bi, size
}
