package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// Pipeline is a validated, fixed sequence of levels.
type Pipeline struct {
	levels  []Level
	byAgent map[string]int // agent name -> level position
}

// NewPipeline validates the level topology:
//   - level and agent names are unique and non-empty
//   - batched levels hold exactly one agent with an item source
//   - every dependency names Setup or an agent of an earlier level
//   - the dependency graph between levels is acyclic
func NewPipeline(levels []Level) (*Pipeline, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("pipeline has no levels")
	}

	p := &Pipeline{
		levels:  levels,
		byAgent: map[string]int{SetupKey: -1},
	}

	seenLevels := make(map[string]bool)
	for i, level := range levels {
		if level.Name == "" {
			return nil, fmt.Errorf("level %d has no name", i)
		}
		if seenLevels[level.Name] {
			return nil, fmt.Errorf("duplicate level %q", level.Name)
		}
		seenLevels[level.Name] = true

		if err := validateMode(level); err != nil {
			return nil, err
		}

		for _, spec := range level.Agents {
			if spec.Agent == nil {
				return nil, fmt.Errorf("level %q has an agent spec without an agent", level.Name)
			}
			name := spec.Name()
			if _, exists := p.byAgent[name]; exists {
				return nil, fmt.Errorf("agent %q is declared more than once", name)
			}
			p.byAgent[name] = i
		}
	}

	if err := p.validateDependencies(); err != nil {
		return nil, err
	}
	return p, nil
}

func validateMode(level Level) error {
	if len(level.Agents) == 0 {
		return fmt.Errorf("level %q has no agents", level.Name)
	}

	switch level.Mode {
	case Sequential, Parallel:
		for _, spec := range level.Agents {
			if spec.Items != nil {
				return fmt.Errorf("level %q is %s but agent %q has an item source", level.Name, level.Mode, spec.Name())
			}
		}
	case Batched:
		if len(level.Agents) != 1 {
			return fmt.Errorf("batched level %q must have exactly one agent, has %d", level.Name, len(level.Agents))
		}
		if level.Agents[0].Items == nil {
			return fmt.Errorf("batched level %q has no item source", level.Name)
		}
	default:
		return fmt.Errorf("level %q has unknown mode %q", level.Name, level.Mode)
	}
	return nil
}

// validateDependencies checks that dependencies resolve, that the level graph
// is acyclic, and that the declared order is a topological order of it.
func (p *Pipeline) validateDependencies() error {
	var edges []toposort.Edge
	for i, level := range p.levels {
		edges = append(edges, toposort.Edge{nil, level.Name})
		for _, dep := range level.DependsOn {
			pos, exists := p.byAgent[dep]
			if !exists {
				return fmt.Errorf("level %q depends on unknown result %q", level.Name, dep)
			}
			if pos == i {
				return fmt.Errorf("level %q depends on its own agent %q", level.Name, dep)
			}
			if pos >= 0 {
				// Edge (dep level, level) means dep level must come first
				edges = append(edges, toposort.Edge{p.levels[pos].Name, level.Name})
			}
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("pipeline contains a dependency cycle: %w", err)
	}

	for i, level := range p.levels {
		for _, dep := range level.DependsOn {
			if pos := p.byAgent[dep]; pos > i {
				return fmt.Errorf("level %q depends on %q of later level %q", level.Name, dep, p.levels[pos].Name)
			}
		}
	}
	return nil
}

// Levels returns the levels in execution order.
func (p *Pipeline) Levels() []Level {
	return p.levels
}

// Level returns the level at position i.
func (p *Pipeline) Level(i int) Level {
	return p.levels[i]
}

// LevelOf returns the name of the level that produces the named result.
func (p *Pipeline) LevelOf(agentName string) (string, bool) {
	pos, ok := p.byAgent[agentName]
	if !ok {
		return "", false
	}
	if pos < 0 {
		return SetupKey, true
	}
	return p.levels[pos].Name, true
}

// Downstream returns the names of levels after position i, used when a
// mandatory failure skips the rest of the pipeline.
func (p *Pipeline) Downstream(i int) []string {
	var names []string
	for _, level := range p.levels[i+1:] {
		names = append(names, level.Name)
	}
	return names
}

func (p *Pipeline) String() string {
	parts := make([]string, len(p.levels))
	for i, level := range p.levels {
		parts[i] = fmt.Sprintf("%s(%s: %s)", level.Name, level.Mode, strings.Join(level.AgentNames(), ","))
	}
	return strings.Join(parts, " -> ")
}
