// Package routing orders a courier's stops into a visiting sequence.
//
// Strategies:
//   - nearest: greedy nearest-neighbour tour, deterministic (default)
//   - genetic: genetic algorithm over permutations refined with 2-opt
//   - auto: genetic for small stop counts, nearest otherwise
//
// The package also defines the contract of the optional external solver.
package routing
