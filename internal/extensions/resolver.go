package extensions

import (
	"fmt"
	"sort"
	"strings"
)

// Resolution is the outcome of dependency resolution: a deterministic load
// order plus the extensions that could not be loaded, with reasons.
type Resolution struct {
	Order      []string
	Unloadable map[string]string
}

// CycleError reports a dependency cycle; cycles abort loading entirely.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "extension dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// Resolve orders the manifests topologically (dependencies first). Optional
// edges to absent or version-unsatisfied dependencies are dropped; missing
// required dependencies mark the dependent unloadable and cascade to its
// dependents. Ties break lexicographically so resolution is stable.
func Resolve(manifests map[string]*Manifest) (*Resolution, error) {
	res := &Resolution{Unloadable: make(map[string]string)}

	// Drop extensions whose required dependencies cannot be satisfied,
	// repeating until no more fall out.
	alive := make(map[string]*Manifest, len(manifests))
	for name, m := range manifests {
		alive[name] = m
	}
	for changed := true; changed; {
		changed = false
		for name, m := range alive {
			for _, dep := range m.ExtDependencies {
				target, present := alive[dep.Name]
				if present && satisfies(target.SemVer(), dep.Constraint) {
					continue
				}
				if dep.Optional {
					continue
				}
				reason := fmt.Sprintf("requires %s", dep.Name)
				if dep.Constraint != "" {
					reason = fmt.Sprintf("requires %s %s", dep.Name, dep.Constraint)
				}
				if _, wasKnown := manifests[dep.Name]; wasKnown && present {
					reason += " (version unsatisfied)"
				} else if _, wasKnown := manifests[dep.Name]; wasKnown {
					reason += " (unloadable)"
				} else {
					reason += " (missing)"
				}
				res.Unloadable[name] = reason
				delete(alive, name)
				changed = true
				break
			}
		}
	}

	// Kahn's algorithm over the surviving graph, dep -> dependent.
	indegree := make(map[string]int, len(alive))
	dependents := make(map[string][]string)
	for name := range alive {
		indegree[name] = 0
	}
	for name, m := range alive {
		for _, dep := range m.ExtDependencies {
			target, present := alive[dep.Name]
			if !present {
				continue
			}
			// Unsatisfied optional edges are dropped entirely; they must not
			// constrain ordering. Required deps surviving the pass above are
			// already satisfied.
			if dep.Optional && !satisfies(target.SemVer(), dep.Constraint) {
				continue
			}
			indegree[name]++
			dependents[dep.Name] = append(dependents[dep.Name], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		res.Order = append(res.Order, name)
		var unlocked []string
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}

	if len(res.Order) < len(alive) {
		return nil, &CycleError{Cycle: findCycle(alive, res.Order)}
	}
	return res, nil
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// findCycle walks the leftover nodes to name one cycle for the error
func findCycle(alive map[string]*Manifest, ordered []string) []string {
	placed := make(map[string]struct{}, len(ordered))
	for _, name := range ordered {
		placed[name] = struct{}{}
	}

	// Restrict to unplaced nodes; every one of them sits on or above a cycle.
	var start string
	remaining := make([]string, 0)
	for name := range alive {
		if _, ok := placed[name]; !ok {
			remaining = append(remaining, name)
		}
	}
	sort.Strings(remaining)
	if len(remaining) == 0 {
		return nil
	}
	start = remaining[0]

	// Follow required/satisfied edges until a node repeats.
	seen := make(map[string]int)
	path := []string{}
	cur := start
	for {
		if idx, ok := seen[cur]; ok {
			cycle := append([]string{}, path[idx:]...)
			return append(cycle, cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)
		next := ""
		for _, dep := range alive[cur].ExtDependencies {
			if _, isPlaced := placed[dep.Name]; isPlaced {
				continue
			}
			target, liveDep := alive[dep.Name]
			if !liveDep {
				continue
			}
			if dep.Optional && !satisfies(target.SemVer(), dep.Constraint) {
				continue
			}
			next = dep.Name
			break
		}
		if next == "" {
			return path
		}
		cur = next
	}
}
