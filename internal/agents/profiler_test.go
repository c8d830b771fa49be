package agents

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/prompt"
	"github.com/alsksssass/deepagent/internal/vector"
)

const goodProfile = `{"summary": " Backend developer. ", "skills": [{"name": "Go", "level": "Advanced", "evidence": "commit a3"}]}`

func testProfiler(t *testing.T, client llm.Client, e vector.Embedder, maxUsers int) *agent.Typed[ProfileContext, Profiles] {
	t.Helper()
	return NewUserSkillProfiler(ProfilerConfig{
		LLM:      testCaller(client),
		Prompt:   prompt.MustBind[SkillProfile](testCatalog(t), "skill_profile"),
		Policy:   llm.ParseDegrade,
		Embedder: e,
		MaxUsers: maxUsers,
	})
}

func aggregatedUsers(t *testing.T) []UserStats {
	t.Helper()
	resp := execute(t, NewUserAggregator(), AggregateContext{Commits: evaluations()})
	return decode[Aggregate](t, resp).Users
}

func TestUserSkillProfiler(t *testing.T) {
	client := &scriptedClient{responses: []any{goodProfile, goodProfile}}

	resp := execute(t, testProfiler(t, client, nil, 0), ProfileContext{Users: aggregatedUsers(t)})
	if !resp.Succeeded() || resp.Error != "" {
		t.Fatalf("expected clean success, got %s: %s", resp.Status, resp.Error)
	}

	out := decode[Profiles](t, resp)
	if len(out.Profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(out.Profiles))
	}
	p := out.Profiles[0]
	if p.Email != "alice@example.com" || p.Summary != "Backend developer." || p.Skills[0].Level != "advanced" {
		t.Errorf("unexpected profile: %+v", p)
	}

	user := client.Requests()[0].Messages[0].Content
	if !strings.Contains(user, "Developer: Alice") || !strings.Contains(user, "Evaluated commits: 3 (average quality 8.00)") {
		t.Errorf("prompt missing developer stats:\n%s", user)
	}
	if !strings.Contains(user, "- excellent") {
		t.Errorf("prompt missing highlights:\n%s", user)
	}
}

func TestUserSkillProfiler_MaxUsers(t *testing.T) {
	client := &scriptedClient{responses: []any{goodProfile}}

	resp := execute(t, testProfiler(t, client, nil, 1), ProfileContext{Users: aggregatedUsers(t)})
	if !resp.Succeeded() {
		t.Fatalf("expected success, got %s", resp.Error)
	}
	if n := len(client.Requests()); n != 1 {
		t.Errorf("expected 1 profiled developer, got %d calls", n)
	}
}

func TestUserSkillProfiler_CodeSamples(t *testing.T) {
	ctx := context.Background()
	e := &keywordEmbedder{}
	path := filepath.Join(t.TempDir(), "vectors.db")
	idx, err := vector.Open(ctx, path, e)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, "code", []vector.Chunk{{Path: "api/db.go", StartLine: 1, EndLine: 2, Content: "rows := query()"}}); err != nil {
		t.Fatal(err)
	}
	idx.Close()

	client := &scriptedClient{responses: []any{goodProfile}}
	resp := execute(t, testProfiler(t, client, e, 1), ProfileContext{Users: aggregatedUsers(t), Index: path, Collection: "code"})
	if !resp.Succeeded() {
		t.Fatalf("expected success, got %s", resp.Error)
	}
	user := client.Requests()[0].Messages[0].Content
	if !strings.Contains(user, "--- api/db.go") {
		t.Errorf("prompt missing code samples:\n%s", user)
	}
}

func TestUserSkillProfiler_PartialFailure(t *testing.T) {
	client := &scriptedClient{responses: []any{errors.New("503"), goodProfile}}

	resp := execute(t, testProfiler(t, client, nil, 0), ProfileContext{Users: aggregatedUsers(t)})
	if !resp.Succeeded() {
		t.Fatalf("one profile should be enough, got %s", resp.Error)
	}
	out := decode[Profiles](t, resp)
	if len(out.Profiles) != 1 || out.Profiles[0].Name != "Bob" {
		t.Errorf("unexpected profiles: %+v", out.Profiles)
	}
	if len(resp.Warnings) != 1 || !strings.Contains(resp.Warnings[0], "alice@example.com") {
		t.Errorf("expected a warning for the skipped developer, got %v", resp.Warnings)
	}
}

func TestUserSkillProfiler_UnparsableDegrades(t *testing.T) {
	client := &scriptedClient{responses: []any{"prose", "more prose"}}

	resp := execute(t, testProfiler(t, client, nil, 1), ProfileContext{Users: aggregatedUsers(t)})
	if !resp.Succeeded() {
		t.Fatalf("degrade policy must succeed, got %s", resp.Error)
	}
	if resp.ErrorKind != agent.ErrorParse || resp.Error == "" {
		t.Errorf("parse error should be recorded, got %q (%s)", resp.Error, resp.ErrorKind)
	}
	if string(resp.Payload) != "{}" {
		t.Errorf("expected the default payload, got %s", resp.Payload)
	}
}

func TestUserSkillProfiler_NoUsers(t *testing.T) {
	client := &scriptedClient{}
	resp := execute(t, testProfiler(t, client, nil, 0), ProfileContext{})
	if !resp.Succeeded() || len(client.Requests()) != 0 {
		t.Errorf("nothing to profile should succeed without calls: %s", resp.Error)
	}
}

func TestSkillProfile_Validate(t *testing.T) {
	ok := SkillProfile{Skills: []Skill{{Name: "Go", Level: "Intermediate"}}}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := SkillProfile{Skills: []Skill{{Name: "Go", Level: "guru"}}}
	if err := bad.Validate(); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
