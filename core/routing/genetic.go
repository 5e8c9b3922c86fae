package routing

import (
	"context"
	"math/rand"
)

type geneticParams struct {
	population  int
	generations int
	tournament  int
	mutation    float64
	elitism     int
}

// geneticTour searches permutations of nodes 1..n-1 behind the fixed node 0.
// The population is seeded with seed, so the result is never worse than it.
func geneticTour(ctx context.Context, m *matrix, seed []int, p geneticParams, rng *rand.Rand) []int {
	if m.n < 4 {
		return append([]int(nil), seed...)
	}
	genes := len(seed) - 1
	pop := make([][]int, p.population)
	pop[0] = append([]int(nil), seed[1:]...)
	for i := 1; i < len(pop); i++ {
		g := append([]int(nil), seed[1:]...)
		rng.Shuffle(genes, func(a, b int) { g[a], g[b] = g[b], g[a] })
		pop[i] = g
	}
	fitness := func(g []int) float64 {
		total := m.at(0, g[0])
		for i := 1; i < len(g); i++ {
			total += m.at(g[i-1], g[i])
		}
		return total
	}

	scores := make([]float64, len(pop))
	for i, g := range pop {
		scores[i] = fitness(g)
	}
	best, bestScore := pop[0], scores[0]
	for i := range pop {
		if scores[i] < bestScore {
			best, bestScore = pop[i], scores[i]
		}
	}

	for gen := 0; gen < p.generations; gen++ {
		if ctx.Err() != nil {
			break
		}
		next := make([][]int, 0, len(pop))
		for _, idx := range elite(scores, p.elitism) {
			next = append(next, append([]int(nil), pop[idx]...))
		}
		for len(next) < len(pop) {
			a := pop[tournament(scores, p.tournament, rng)]
			b := pop[tournament(scores, p.tournament, rng)]
			child := orderCrossover(a, b, rng)
			swapMutate(child, p.mutation, rng)
			next = append(next, child)
		}
		pop = next
		for i, g := range pop {
			scores[i] = fitness(g)
			if scores[i] < bestScore {
				best, bestScore = g, scores[i]
			}
		}
	}
	return append([]int{0}, best...)
}

func elite(scores []float64, k int) []int {
	if k <= 0 {
		return nil
	}
	if k > len(scores) {
		k = len(scores)
	}
	picked := make([]bool, len(scores))
	out := make([]int, 0, k)
	for len(out) < k {
		bi := -1
		for i, s := range scores {
			if !picked[i] && (bi < 0 || s < scores[bi]) {
				bi = i
			}
		}
		picked[bi] = true
		out = append(out, bi)
	}
	return out
}

func tournament(scores []float64, size int, rng *rand.Rand) int {
	if size < 1 {
		size = 1
	}
	best := rng.Intn(len(scores))
	for i := 1; i < size; i++ {
		if c := rng.Intn(len(scores)); scores[c] < scores[best] {
			best = c
		}
	}
	return best
}

// orderCrossover copies a random slice of a and fills the rest in b's order.
func orderCrossover(a, b []int, rng *rand.Rand) []int {
	n := len(a)
	i, j := rng.Intn(n), rng.Intn(n)
	if i > j {
		i, j = j, i
	}
	child := make([]int, n)
	taken := make(map[int]bool, n)
	for k := i; k <= j; k++ {
		child[k] = a[k]
		taken[a[k]] = true
	}
	pos := (j + 1) % n
	for k := 0; k < n; k++ {
		g := b[(j+1+k)%n]
		if taken[g] {
			continue
		}
		child[pos] = g
		taken[g] = true
		pos = (pos + 1) % n
	}
	return child
}

func swapMutate(g []int, rate float64, rng *rand.Rand) {
	for i := range g {
		if rng.Float64() < rate {
			j := rng.Intn(len(g))
			g[i], g[j] = g[j], g[i]
		}
	}
}
