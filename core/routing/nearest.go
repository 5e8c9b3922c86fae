package routing

// nearestTour visits every node starting at node 0, always moving to the
// closest unvisited node. Ties go to the lower index.
func nearestTour(m *matrix) []int {
	if m.n == 0 {
		return nil
	}
	visited := make([]bool, m.n)
	tour := make([]int, 0, m.n)
	cur := 0
	visited[0] = true
	tour = append(tour, 0)
	for len(tour) < m.n {
		next, best := -1, 0.0
		for j := 0; j < m.n; j++ {
			if visited[j] {
				continue
			}
			if d := m.at(cur, j); next < 0 || d < best {
				next, best = j, d
			}
		}
		visited[next] = true
		tour = append(tour, next)
		cur = next
	}
	return tour
}
