package pipeline

import (
	"fmt"
	"strings"

	"cadence/internal/domain"
)

// Plugin declares a processor, its position in the dependency DAG, and its
// settler preference.
type Plugin struct {
	Name         string
	Dependencies []string
	Settler      SettlerKind
	New          func() Processor
}

// DuplicatePluginError reports two plugins sharing a name.
type DuplicatePluginError struct {
	Name string
}

func (e *DuplicatePluginError) Error() string {
	return fmt.Sprintf("plugin %q registered twice", e.Name)
}

func (e *DuplicatePluginError) Unwrap() error { return domain.ErrDuplicatePlugin }

// MissingDependencyError reports a dependency on an unregistered plugin.
type MissingDependencyError struct {
	Plugin     string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %q depends on unknown plugin %q", e.Plugin, e.Dependency)
}

func (e *MissingDependencyError) Unwrap() error { return domain.ErrMissingDependency }

// CircularDependencyError reports a dependency cycle, including its path.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("plugin dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CircularDependencyError) Unwrap() error { return domain.ErrCircularDependency }

// Resolve topologically sorts the plugins (Kahn's algorithm) and negotiates
// the most specific settler any plugin requests. Dependencies run before
// their dependents; ties preserve registration order.
func Resolve(plugins []Plugin) ([]Plugin, SettlerKind, error) {
	byName := make(map[string]*Plugin, len(plugins))
	for i := range plugins {
		p := &plugins[i]
		if _, ok := byName[p.Name]; ok {
			return nil, SettleParagraph, &DuplicatePluginError{Name: p.Name}
		}
		byName[p.Name] = p
	}

	indegree := make(map[string]int, len(plugins))
	dependents := make(map[string][]string, len(plugins))
	for _, p := range plugins {
		indegree[p.Name] += 0
		for _, dep := range p.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, SettleParagraph, &MissingDependencyError{Plugin: p.Name, Dependency: dep}
			}
			indegree[p.Name]++
			dependents[dep] = append(dependents[dep], p.Name)
		}
	}

	// Seed the queue in registration order for deterministic output.
	var queue []string
	for _, p := range plugins {
		if indegree[p.Name] == 0 {
			queue = append(queue, p.Name)
		}
	}

	ordered := make([]Plugin, 0, len(plugins))
	settler := SettleParagraph
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		p := byName[name]
		ordered = append(ordered, *p)
		if p.Settler > settler {
			settler = p.Settler
		}
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) != len(plugins) {
		return nil, SettleParagraph, &CircularDependencyError{Cycle: findCycle(plugins, byName)}
	}
	return ordered, settler, nil
}

// findCycle locates one dependency cycle via DFS back-edge detection and
// returns its path, endpoints repeated.
func findCycle(plugins []Plugin, byName map[string]*Plugin) []string {
	const (
		unvisited = 0
		inStack   = 1
		finished  = 2
	)
	state := make(map[string]int, len(plugins))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = inStack
		stack = append(stack, name)
		for _, dep := range byName[name].Dependencies {
			switch state[dep] {
			case inStack:
				// Back edge: the cycle is the stack suffix from dep onward.
				for i, n := range stack {
					if n == dep {
						cycle = append(append(cycle, stack[i:]...), dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = finished
		return false
	}

	for _, p := range plugins {
		if state[p.Name] == unvisited && visit(p.Name) {
			break
		}
	}
	return cycle
}
