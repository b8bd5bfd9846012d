// Package scoring turns a judging plan into a final score: weight
// distribution, subtask dependency ordering and the three aggregation modes.
package scoring

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lyrio-dev/judge/api"
)

// DistributeWeights honors explicit weights and shares the residual of 100
// equally among the unspecified ones. The weight sum must not exceed 100.
func DistributeWeights(points []*float64) ([]float64, error) {
	weights := make([]float64, len(points))
	if len(points) == 0 {
		return weights, nil
	}

	specified := 0.0
	unspecified := 0
	for _, p := range points {
		if p == nil {
			unspecified++
			continue
		}
		if *p < 0 {
			return nil, fmt.Errorf("negative weight %v", *p)
		}
		specified += *p
	}
	if specified > 100+1e-9 {
		return nil, fmt.Errorf("weights sum to %v, exceeding 100", specified)
	}

	share := 0.0
	if unspecified > 0 {
		share = (100 - specified) / float64(unspecified)
	}
	for i, p := range points {
		if p != nil {
			weights[i] = *p
		} else {
			weights[i] = share
		}
	}
	return weights, nil
}

// TopologicalOrder sorts subtask indices so every dependency comes first,
// breaking ties by original index. Cyclic or out-of-range dependencies are
// rejected.
func TopologicalOrder(subtasks []api.Subtask) ([]int, error) {
	n := len(subtasks)
	indegree := make([]int, n)
	dependents := make([][]int, n)

	for i, subtask := range subtasks {
		seen := mapset.NewThreadUnsafeSet[int]()
		for _, dep := range subtask.Dependencies {
			if dep < 0 || dep >= n {
				return nil, fmt.Errorf("subtask %d depends on nonexistent subtask %d", i, dep)
			}
			if dep == i {
				return nil, fmt.Errorf("subtask %d depends on itself", i)
			}
			if !seen.Add(dep) {
				continue
			}
			indegree[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	done := mapset.NewThreadUnsafeSet[int]()
	order := make([]int, 0, n)
	for done.Cardinality() < n {
		progressed := false
		for i := 0; i < n; i++ {
			if indegree[i] == 0 && !done.Contains(i) {
				done.Add(i)
				order = append(order, i)
				for _, dependent := range dependents[i] {
					indegree[dependent]--
				}
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("subtask dependencies form a cycle")
		}
	}
	return order, nil
}
