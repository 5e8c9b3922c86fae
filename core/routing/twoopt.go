package routing

const twoOptEpsilon = 1e-9

// twoOpt improves an open tour in place by reversing segments. tour[0] never
// moves. It stops when no improving exchange remains or after maxIter
// improvements, and returns the number of improvements applied.
func twoOpt(m *matrix, tour []int, maxIter int) int {
	n := len(tour)
	if n < 3 {
		return 0
	}
	applied := 0
	improved := true
	for improved && (maxIter <= 0 || applied < maxIter) {
		improved = false
		for i := 1; i < n-1 && !improved; i++ {
			for k := i + 1; k < n; k++ {
				a, b, c := tour[i-1], tour[i], tour[k]
				before := m.at(a, b)
				after := m.at(a, c)
				if k+1 < n {
					d := tour[k+1]
					before += m.at(c, d)
					after += m.at(b, d)
				}
				if after < before-twoOptEpsilon {
					reverse(tour[i : k+1])
					applied++
					improved = true
					break
				}
			}
		}
	}
	return applied
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
