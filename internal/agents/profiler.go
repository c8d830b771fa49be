package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/prompt"
	"github.com/alsksssass/deepagent/internal/vector"
)

// ProfileContext is the input of user_skill_profiler.
type ProfileContext struct {
	Users      []UserStats `json:"users,omitempty"`
	Index      string      `json:"index,omitempty"` // Vector index path, empty when none was built
	Collection string      `json:"collection,omitempty"`
}

// Skill levels.
var skillLevels = []string{"basic", "intermediate", "advanced"}

// Skill is one skill the evidence supports.
type Skill struct {
	Name     string `json:"name"`
	Level    string `json:"level" jsonschema:"one of basic, intermediate, advanced"`
	Evidence string `json:"evidence" jsonschema:"the commits or code that show the skill"`
}

// SkillProfile is the model's answer for one developer.
type SkillProfile struct {
	Summary string  `json:"summary" jsonschema:"at most three sentences"`
	Skills  []Skill `json:"skills,omitempty"`
}

// Validate checks skill levels.
func (p SkillProfile) Validate() error {
	for _, s := range p.Skills {
		ok := false
		for _, l := range skillLevels {
			if strings.EqualFold(s.Level, l) {
				ok = true
			}
		}
		if !ok {
			return fmt.Errorf("skill %q has level %q, want one of %s", s.Name, s.Level, strings.Join(skillLevels, ", "))
		}
	}
	return nil
}

// UserProfile is the skill profile of one developer.
type UserProfile struct {
	Email   string  `json:"email"`
	Name    string  `json:"name"`
	Summary string  `json:"summary"`
	Skills  []Skill `json:"skills,omitempty"`
}

// Profiles is the payload of user_skill_profiler.
type Profiles struct {
	Profiles []UserProfile `json:"profiles,omitempty"`
}

// ProfilerConfig configures user_skill_profiler.
type ProfilerConfig struct {
	LLM        *llm.Caller
	Prompt     *prompt.Bound[SkillProfile] // skill_profile template
	Policy     llm.ParsePolicy
	Embedder   vector.Embedder // Optional; enables code samples in the prompt
	MaxUsers   int             // Developers profiled, most commits first (default 5)
	CodeChunks int             // Code samples per developer (default 3)
}

type code struct {
	Path    string
	Content string
}

type profileData struct {
	User           string
	Evaluated      int
	AverageQuality float64
	Complexity     map[string]int
	Technologies   []string
	Highlights     []string
	Code           []code
}

// NewUserSkillProfiler asks the model for a skill profile of each of the most
// active developers. A developer whose profile cannot be produced is skipped
// with a warning; the agent fails only when every developer failed.
func NewUserSkillProfiler(cfg ProfilerConfig) *agent.Typed[ProfileContext, Profiles] {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 5
	}
	if cfg.CodeChunks <= 0 {
		cfg.CodeChunks = 3
	}

	return agent.Define(UserSkillProfiler, agent.KindEvaluator, func(ctx context.Context, inv agent.Invocation, in ProfileContext) (Profiles, error) {
		var idx *vector.Index
		if cfg.Embedder != nil && in.Index != "" && in.Collection != "" {
			var err error
			idx, err = vector.Open(ctx, in.Index, cfg.Embedder)
			if err != nil {
				agent.Warn(ctx, "vector index unavailable: %v", err)
			} else {
				defer idx.Close()
			}
		}

		var out Profiles
		var lastErr error
		attempted := 0
		for _, u := range in.Users {
			if attempted == cfg.MaxUsers {
				break
			}
			if u.Stats.Successful == 0 {
				continue
			}
			attempted++

			data := profileData{
				User:           u.Name,
				Evaluated:      u.Stats.Successful,
				AverageQuality: u.Stats.Quality.Average,
				Complexity:     make(map[string]int),
				Highlights:     u.Highlights,
			}
			for _, c := range u.Stats.Complexity {
				data.Complexity[c.Level] = c.Count
			}
			for _, t := range u.Stats.TopTechnologies {
				data.Technologies = append(data.Technologies, t.Name)
			}
			if idx != nil && len(data.Technologies) > 0 {
				data.Code = samples(ctx, idx, in.Collection, data.Technologies, cfg.CodeChunks)
			}

			got, err := llm.Structured(ctx, cfg.LLM, UserSkillProfiler, cfg.Prompt, data, cfg.Policy)
			if err != nil {
				if ctx.Err() != nil {
					return Profiles{}, err
				}
				agent.Warn(ctx, "no profile for %s: %v", u.Email, err)
				lastErr = err
				continue
			}

			p := UserProfile{Email: u.Email, Name: u.Name, Summary: strings.TrimSpace(got.Summary)}
			for _, s := range got.Skills {
				s.Level = strings.ToLower(s.Level)
				p.Skills = append(p.Skills, s)
			}
			out.Profiles = append(out.Profiles, p)
		}

		if attempted > 0 && len(out.Profiles) == 0 {
			return Profiles{}, lastErr
		}
		return out, nil
	})
}

func samples(ctx context.Context, idx *vector.Index, collection string, techs []string, k int) []code {
	matches, err := idx.Search(ctx, collection, "code using "+strings.Join(techs, ", "), k)
	if err != nil {
		agent.Warn(ctx, "code sample search failed: %v", err)
		return nil
	}
	out := make([]code, 0, len(matches))
	for _, m := range matches {
		out = append(out, code{Path: m.Path, Content: m.Content})
	}
	return out
}
