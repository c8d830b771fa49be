package orchestrator

import (
	"github.com/alsksssass/deepagent/internal/scheduler"
)

// PlanDocument is the task document written by Plan.
const PlanDocument = "plan.json"

// Plan is the resolved execution plan of a task. Items is filled in for a
// batched level once its item source has run at the level gate.
type Plan struct {
	Task   string      `json:"task"`
	Levels []PlanLevel `json:"levels"`
}

// PlanLevel is one level of a Plan.
type PlanLevel struct {
	Name      string      `json:"name"`
	Mode      string      `json:"mode"`
	DependsOn []string    `json:"depends_on,omitempty"`
	Agents    []PlanAgent `json:"agents"`
	Items     *int        `json:"items,omitempty"`
}

// PlanAgent is one agent of a PlanLevel.
type PlanAgent struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Criticality string `json:"criticality"`
}

func newPlan(task string, p *scheduler.Pipeline) *Plan {
	plan := &Plan{Task: task}
	for _, level := range p.Levels() {
		pl := PlanLevel{
			Name:      level.Name,
			Mode:      string(level.Mode),
			DependsOn: level.DependsOn,
		}
		for _, spec := range level.Agents {
			pl.Agents = append(pl.Agents, PlanAgent{
				Name:        spec.Name(),
				Kind:        string(spec.Agent.Kind()),
				Criticality: spec.Criticality.String(),
			})
		}
		plan.Levels = append(plan.Levels, pl)
	}
	return plan
}

// resolve records the item count of a batched level.
func (p *Plan) resolve(level string, items int) {
	for i := range p.Levels {
		if p.Levels[i].Name == level {
			n := items
			p.Levels[i].Items = &n
			return
		}
	}
}
