package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/prompt"
)

// ParsePolicy decides what an agent returns when the model's answer stays
// unparsable after the stricter retry.
type ParsePolicy string

const (
	// ParseFail fails the invocation with the default payload.
	ParseFail ParsePolicy = "fail"
	// ParseDegrade succeeds with the default payload and records the parse error.
	ParseDegrade ParsePolicy = "degrade"
)

// ParsePolicyFrom parses a configured policy name. Empty means ParseFail.
func ParsePolicyFrom(s string) (ParsePolicy, error) {
	switch ParsePolicy(s) {
	case "", ParseFail:
		return ParseFail, nil
	case ParseDegrade:
		return ParseDegrade, nil
	default:
		return "", fmt.Errorf("unknown parse policy %q (want fail or degrade)", s)
	}
}

// validator is implemented by response types with constraints beyond their
// JSON schema (value ranges, enumerations).
type validator interface {
	Validate() error
}

// Structured renders the bound template with data, calls the model and parses
// the answer into T. An unparsable answer is retried once with a stricter
// instruction; if it is still unparsable the result follows policy: an
// *agent.ParseError, or that error wrapped with agent.Degraded.
// Inference failures are returned as *agent.ExternalCallError.
func Structured[T any](ctx context.Context, c *Caller, agentName string, b *prompt.Bound[T], data any, policy ParsePolicy) (T, error) {
	var zero T

	rendered, err := b.Render(data)
	if err != nil {
		return zero, err
	}

	req := Request{
		Agent:    agentName,
		Template: rendered.Template,
		System:   rendered.System,
		Messages: []Message{{Role: RoleUser, Content: rendered.User}},
		JSON:     true,
	}

	reply, err := c.Complete(ctx, req)
	if err != nil {
		return zero, err
	}

	out, perr := parse[T](b, reply.Text)
	if perr == nil {
		return out, nil
	}

	c.logger.Printf("WARNING: %s: unparsable %s response, retrying with stricter instruction: %v", agentName, b.Name(), perr)

	strict, err := b.StrictRetry(perr.Error())
	if err != nil {
		return zero, err
	}
	req.Messages = append(req.Messages,
		Message{Role: RoleAssistant, Content: reply.Text},
		Message{Role: RoleUser, Content: strict},
	)

	reply, err = c.Complete(ctx, req)
	if err != nil {
		return zero, err
	}

	out, perr = parse[T](b, reply.Text)
	if perr == nil {
		return out, nil
	}

	parseErr := &agent.ParseError{Template: b.Name(), Raw: reply.Text, Err: perr}
	if policy == ParseDegrade {
		return zero, agent.Degraded(parseErr)
	}
	return zero, parseErr
}

func parse[T any](b *prompt.Bound[T], text string) (T, error) {
	var out T

	raw, err := ExtractJSON(text)
	if err != nil {
		return out, err
	}
	if err := b.Schema().Validate([]byte(raw)); err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, err
	}
	if v, ok := any(&out).(validator); ok {
		if err := v.Validate(); err != nil {
			return out, err
		}
	} else if v, ok := any(out).(validator); ok {
		if err := v.Validate(); err != nil {
			return out, err
		}
	}
	return out, nil
}
