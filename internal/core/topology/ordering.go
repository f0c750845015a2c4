package topology

import "strings"

// =============================================================================
// Service Ordering
// =============================================================================

// StartupOrder sorts service names by their dependencies using Kahn's
// algorithm. Services with no dependencies come first; ties keep declaration
// order so the result is stable across runs.
//
// Example:
//
//	// Services: api → db, api → redis
//	order, _ := StartupOrder(t)
//	// Result: [db, redis, api]
//
// A cycle, including a self reference, returns ErrCircularDependency.
// Dependencies on unknown services are ignored here; Validate reports them.
func StartupOrder(t *Topology) ([]string, error) {
	known := make(map[string]bool, len(t.Services))
	for _, svc := range t.Services {
		known[svc.Name] = true
	}

	inDegree := make(map[string]int, len(t.Services))
	dependents := make(map[string][]string)
	for _, svc := range t.Services {
		for _, dep := range svc.DependsOn {
			if !known[dep.Service] {
				continue
			}
			inDegree[svc.Name]++
			dependents[dep.Service] = append(dependents[dep.Service], svc.Name)
		}
	}

	var queue []string
	for _, svc := range t.Services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	order := make([]string, 0, len(t.Services))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		for _, d := range dependents[name] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(order) < len(t.Services) {
		var stuck []string
		for _, svc := range t.Services {
			if inDegree[svc.Name] > 0 {
				stuck = append(stuck, svc.Name)
			}
		}
		return nil, NewValidationError("services", "cycle between "+strings.Join(stuck, ", "), ErrCircularDependency)
	}

	return order, nil
}
