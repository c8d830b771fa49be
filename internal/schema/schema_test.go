package schema

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Name  string   `json:"name"`
	Score float64  `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

type other struct {
	Path string `json:"path"`
}

func TestForCachesPerType(t *testing.T) {
	a, err := For[sample]()
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}
	b := MustFor[sample]()
	if a != b {
		t.Error("expected the same *Schema for repeated lookups")
	}

	c := MustFor[other]()
	if a == c {
		t.Error("expected distinct schemas for distinct types")
	}

	if a.Name() != "sample" {
		t.Errorf("Name mismatch: got %s, want sample", a.Name())
	}
	if !strings.Contains(a.Text(), `"score"`) {
		t.Errorf("schema text missing property: %s", a.Text())
	}
}

func TestValidate(t *testing.T) {
	s := MustFor[sample]()

	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid", `{"name":"a","score":1.5,"tags":["x"]}`, false},
		{"optional field omitted", `{"name":"a","score":2}`, false},
		{"missing required", `{"name":"a"}`, true},
		{"wrong type", `{"name":"a","score":"high"}`, true},
		{"unknown property", `{"name":"a","score":1,"extra":true}`, true},
		{"not json", `{"name":`, true},
		{"empty", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.doc, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	v, err := Decode[sample]([]byte(`{"name":"a","score":7,"tags":["go"]}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if v.Name != "a" || v.Score != 7 || len(v.Tags) != 1 {
		t.Errorf("unexpected value: %+v", v)
	}

	if _, err := Decode[other]([]byte(`{"name":"a","score":7}`)); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for mismatched shape, got %v", err)
	}
}
