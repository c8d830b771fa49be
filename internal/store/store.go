// Package store persists agent responses as schema-validated artifacts.
//
// Layout, relative to the backend root:
//
//	<task>/results/<agent>.json                 singleton stages
//	<task>/results/<agent>/batch_0000.json      fan-out stages, one per item
//	<task>/<document>                           plan, report and other task documents
//
// Every key has exactly one writer per run, enforced by the scheduler, so the
// store itself does no locking.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/schema"
)

var (
	// ErrNotFound is returned when a key has no artifact.
	ErrNotFound = errors.New("artifact not found")
	// ErrSchemaMismatch is returned when an artifact does not fit the expected schema.
	ErrSchemaMismatch = errors.New("artifact schema mismatch")
)

const resultsDir = "results"

// Key addresses one artifact.
type Key struct {
	Task  string
	Agent string
	Index int // agent.NoIndex for singleton stages
}

// Singleton returns the key of a non-batched stage's artifact.
func Singleton(task, name string) Key {
	return Key{Task: task, Agent: name, Index: agent.NoIndex}
}

// Batch returns the key of one item of a fan-out stage.
func Batch(task, name string, index int) Key {
	return Key{Task: task, Agent: name, Index: index}
}

// Batched reports whether the key addresses a batch item.
func (k Key) Batched() bool {
	return k.Index >= 0
}

// Path returns the backend path of the artifact.
func (k Key) Path() string {
	if k.Batched() {
		return joinPath(k.Task, resultsDir, k.Agent, batchName(k.Index))
	}
	return joinPath(k.Task, resultsDir, k.Agent+".json")
}

func (k Key) String() string {
	if k.Batched() {
		return fmt.Sprintf("%s/%s[%d]", k.Task, k.Agent, k.Index)
	}
	return fmt.Sprintf("%s/%s", k.Task, k.Agent)
}

func (k Key) validate() error {
	if err := validSegment("task", k.Task); err != nil {
		return err
	}
	if err := validSegment("agent", k.Agent); err != nil {
		return err
	}
	if k.Index < agent.NoIndex {
		return fmt.Errorf("invalid batch index %d", k.Index)
	}
	return nil
}

func validSegment(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return fmt.Errorf("invalid %s %q", field, v)
	}
	return nil
}

func batchName(index int) string {
	return fmt.Sprintf("batch_%04d.json", index)
}

func parseBatchName(base string) (int, bool) {
	digits, ok := strings.CutPrefix(base, "batch_")
	if !ok {
		return 0, false
	}
	digits, ok = strings.CutSuffix(digits, ".json")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(digits)
	if err != nil || idx < 0 || batchName(idx) != base {
		return 0, false
	}
	return idx, true
}

// record is the on-disk envelope. It carries no timestamps so that saving the
// same response twice yields identical bytes.
type record struct {
	Task  string `json:"task"`
	Agent string `json:"agent"`
	Index *int   `json:"index,omitempty"`
	agent.Response
}

// Store reads and writes artifacts through a Backend.
type Store struct {
	backend Backend
}

// New creates a store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Save validates resp's payload against s and writes the artifact atomically.
// A second save for the same key replaces the first.
func (st *Store) Save(ctx context.Context, key Key, resp agent.Response, s *schema.Schema) error {
	if err := key.validate(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	if resp.Status != agent.StatusSuccess && resp.Status != agent.StatusFailed {
		return fmt.Errorf("failed to save %s: %w: unknown status %q", key, ErrSchemaMismatch, resp.Status)
	}
	if err := s.Validate(resp.Payload); err != nil {
		return fmt.Errorf("failed to save %s: %w: %v", key, ErrSchemaMismatch, err)
	}

	data, err := encode(key, resp)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if err := st.backend.Put(ctx, key.Path(), data); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func encode(key Key, resp agent.Response) ([]byte, error) {
	rec := record{Task: key.Task, Agent: key.Agent, Response: resp}
	if key.Batched() {
		idx := key.Index
		rec.Index = &idx
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Load reads the artifact for key and validates its payload against s.
func (st *Store) Load(ctx context.Context, key Key, s *schema.Schema) (agent.Response, error) {
	return st.load(ctx, key, s)
}

// Inspect reads the artifact for key without validating its payload, for
// readers that do not know the producing agent's schema.
func (st *Store) Inspect(ctx context.Context, key Key) (agent.Response, error) {
	return st.load(ctx, key, nil)
}

func (st *Store) load(ctx context.Context, key Key, s *schema.Schema) (agent.Response, error) {
	if err := key.validate(); err != nil {
		return agent.Response{}, fmt.Errorf("failed to load %s: %w", key, err)
	}

	data, err := st.backend.Get(ctx, key.Path())
	if err != nil {
		return agent.Response{}, fmt.Errorf("failed to load %s: %w", key, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return agent.Response{}, fmt.Errorf("failed to load %s: %w: %v", key, ErrSchemaMismatch, err)
	}
	if rec.Task != key.Task || rec.Agent != key.Agent {
		return agent.Response{}, fmt.Errorf("failed to load %s: %w: artifact belongs to %s/%s", key, ErrSchemaMismatch, rec.Task, rec.Agent)
	}
	if rec.Status != agent.StatusSuccess && rec.Status != agent.StatusFailed {
		return agent.Response{}, fmt.Errorf("failed to load %s: %w: unknown status %q", key, ErrSchemaMismatch, rec.Status)
	}
	if s != nil {
		if err := s.Validate(rec.Payload); err != nil {
			return agent.Response{}, fmt.Errorf("failed to load %s: %w: %v", key, ErrSchemaMismatch, err)
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, rec.Payload); err != nil {
		return agent.Response{}, fmt.Errorf("failed to load %s: %w: %v", key, ErrSchemaMismatch, err)
	}
	rec.Response.Payload = compact.Bytes()

	return rec.Response, nil
}

// LoadPayload loads the artifact for key and decodes its payload into P.
func LoadPayload[P any](ctx context.Context, st *Store, key Key) (P, agent.Response, error) {
	var p P

	s, err := schema.For[P]()
	if err != nil {
		return p, agent.Response{}, err
	}

	resp, err := st.Load(ctx, key, s)
	if err != nil {
		return p, agent.Response{}, err
	}

	p, err = agent.Decode[P](resp)
	if err != nil {
		return p, resp, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return p, resp, nil
}

// Exists reports whether an artifact exists for key.
func (st *Store) Exists(ctx context.Context, key Key) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	return st.backend.Exists(ctx, key.Path())
}

// SaveBatch saves the artifact of one item of a fan-out stage.
func (st *Store) SaveBatch(ctx context.Context, task, name string, index int, resp agent.Response, s *schema.Schema) error {
	if index < 0 {
		return fmt.Errorf("invalid batch index %d", index)
	}
	return st.Save(ctx, Batch(task, name, index), resp, s)
}

// ListBatches returns the sorted item indices stored for a fan-out stage.
func (st *Store) ListBatches(ctx context.Context, task, name string) ([]int, error) {
	if err := Singleton(task, name).validate(); err != nil {
		return nil, err
	}

	paths, err := st.backend.List(ctx, joinPath(task, resultsDir, name)+"/")
	if err != nil {
		return nil, err
	}

	var indices []int
	for _, p := range paths {
		idx, ok := parseBatchName(p[strings.LastIndex(p, "/")+1:])
		if !ok {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// TruncateBatches removes the items of a fan-out stage with index n or above,
// so a stage re-run over fewer items leaves exactly 0..n-1 once it completes.
func (st *Store) TruncateBatches(ctx context.Context, task, name string, n int) error {
	indices, err := st.ListBatches(ctx, task, name)
	if err != nil {
		return err
	}
	for _, idx := range indices {
		if idx < n {
			continue
		}
		if err := st.backend.Delete(ctx, Batch(task, name, idx).Path()); err != nil {
			return err
		}
	}
	return nil
}

// LoadBatches loads every item of a fan-out stage in index order. The stored
// indices must be contiguous from 0.
func (st *Store) LoadBatches(ctx context.Context, task, name string, s *schema.Schema) ([]agent.Response, error) {
	indices, err := st.ListBatches(ctx, task, name)
	if err != nil {
		return nil, err
	}

	responses := make([]agent.Response, 0, len(indices))
	for i, idx := range indices {
		if idx != i {
			return nil, fmt.Errorf("batch %s/%s is not contiguous: missing index %d", task, name, i)
		}
		resp, err := st.Load(ctx, Batch(task, name, idx), s)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// List returns the keys of every artifact stored for task, ordered by path.
func (st *Store) List(ctx context.Context, task string) ([]Key, error) {
	if err := validSegment("task", task); err != nil {
		return nil, err
	}

	prefix := joinPath(task, resultsDir) + "/"
	paths, err := st.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var keys []Key
	for _, p := range paths {
		if key, ok := ParsePath(p); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// ParsePath returns the key of the artifact at backend path p, or false when
// p is not an artifact path.
func ParsePath(p string) (Key, bool) {
	parts := strings.Split(p, "/")
	if len(parts) < 3 || parts[1] != resultsDir || !strings.HasSuffix(p, ".json") {
		return Key{}, false
	}
	task := parts[0]
	switch len(parts) {
	case 3:
		key := Singleton(task, strings.TrimSuffix(parts[2], ".json"))
		return key, key.validate() == nil
	case 4:
		idx, ok := parseBatchName(parts[3])
		if !ok {
			return Key{}, false
		}
		key := Batch(task, parts[2], idx)
		return key, key.validate() == nil
	}
	return Key{}, false
}

// SaveDocument writes a task-level document (plan, report) outside the results tree.
func (st *Store) SaveDocument(ctx context.Context, task, name string, data []byte) error {
	if err := validSegment("task", task); err != nil {
		return err
	}
	if err := validSegment("document", name); err != nil {
		return err
	}
	if err := st.backend.Put(ctx, joinPath(task, name), data); err != nil {
		return fmt.Errorf("failed to save document %s/%s: %w", task, name, err)
	}
	return nil
}

// SaveJSONDocument writes v as an indented JSON task document.
func (st *Store) SaveJSONDocument(ctx context.Context, task, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", name, err)
	}
	return st.SaveDocument(ctx, task, name, append(data, '\n'))
}

// LoadDocument reads a task-level document.
func (st *Store) LoadDocument(ctx context.Context, task, name string) ([]byte, error) {
	if err := validSegment("task", task); err != nil {
		return nil, err
	}
	if err := validSegment("document", name); err != nil {
		return nil, err
	}
	return st.backend.Get(ctx, joinPath(task, name))
}
