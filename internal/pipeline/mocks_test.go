package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"basegraph.app/categorizer/common/llm"
	"basegraph.app/categorizer/common/retry"
	"basegraph.app/categorizer/internal/model"
	"basegraph.app/categorizer/internal/pipeline"
	"basegraph.app/categorizer/internal/store"
)

var fastRetry = retry.Policy{
	MaxTries:        2,
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
}

// fakeConversationStore is an in-memory document collection that filters like the AQL query.
type fakeConversationStore struct {
	mu        sync.Mutex
	docs      map[string]map[string]any
	order     []string
	listErr   error
	upsertErr map[string]error
	upserts   []string
	lastSince int64
	onUpsert  func(id string)
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		docs:      map[string]map[string]any{},
		upsertErr: map[string]error{},
	}
}

func (f *fakeConversationStore) add(doc map[string]any) {
	key := doc["_key"].(string)
	f.docs[key] = doc
	f.order = append(f.order, key)
}

func (f *fakeConversationStore) doc(key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[key]
}

func (f *fakeConversationStore) ListCreatedSince(_ context.Context, since int64) ([]*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastSince = since
	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []*model.Conversation
	for _, key := range f.order {
		conv, err := model.ConversationFromDocument(f.docs[key])
		if err != nil {
			return nil, err
		}
		if conv.CreatedAt.Unix() >= since {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (f *fakeConversationStore) Upsert(_ context.Context, conv *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.upsertErr[conv.ID]; err != nil {
		return err
	}
	f.docs[conv.ID] = conv.Document()
	f.upserts = append(f.upserts, conv.ID)
	if f.onUpsert != nil {
		f.onUpsert(conv.ID)
	}
	return nil
}

// fakeTaxonomyStore keeps the first description written for a key.
type fakeTaxonomyStore struct {
	rows         map[string]string
	loadErr      error
	persistErr   error
	persistCalls int
	persisted    model.Taxonomy
}

func newFakeTaxonomyStore(rows map[string]string) *fakeTaxonomyStore {
	if rows == nil {
		rows = map[string]string{}
	}
	return &fakeTaxonomyStore{rows: rows}
}

func (f *fakeTaxonomyStore) EnsureSchema(context.Context) error { return nil }

func (f *fakeTaxonomyStore) Load(context.Context) (model.Taxonomy, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := model.Taxonomy{}
	for k, v := range f.rows {
		out[k] = v
	}
	return out, nil
}

func (f *fakeTaxonomyStore) List(context.Context) ([]model.Label, error) {
	var labels []model.Label
	for i, k := range model.Taxonomy(f.rows).Keys() {
		labels = append(labels, model.Label{ID: int64(i + 1), Key: k, Description: f.rows[k]})
	}
	return labels, nil
}

func (f *fakeTaxonomyStore) InsertIfAbsent(_ context.Context, key, value string) (bool, error) {
	if _, ok := f.rows[key]; ok {
		return false, nil
	}
	f.rows[key] = value
	return true, nil
}

func (f *fakeTaxonomyStore) Persist(ctx context.Context, taxonomy model.Taxonomy) (int, error) {
	f.persistCalls++
	f.persisted = taxonomy.Clone()
	if f.persistErr != nil {
		return 0, f.persistErr
	}
	n := 0
	for _, k := range taxonomy.Keys() {
		if ok, _ := f.InsertIfAbsent(ctx, k, taxonomy[k]); ok {
			n++
		}
	}
	return n, nil
}

type fakeLease struct {
	held     bool
	acquired int
	renewed  int
	released int
	renewErr func(n int) error
}

func (f *fakeLease) Acquire(context.Context) (*store.Lease, error) {
	if f.held {
		return nil, store.ErrLeaseHeld
	}
	f.acquired++
	return &store.Lease{Key: "lease", Token: "t"}, nil
}

func (f *fakeLease) Renew(context.Context, *store.Lease) error {
	f.renewed++
	if f.renewErr != nil {
		return f.renewErr(f.renewed)
	}
	return nil
}

func (f *fakeLease) Release(context.Context, *store.Lease) error {
	f.released++
	return nil
}

// runeCodec treats every rune as one token.
type runeCodec struct{}

func (runeCodec) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeCodec) Decode(tokens []int) string {
	rs := make([]rune, len(tokens))
	for i, t := range tokens {
		rs[i] = rune(t)
	}
	return string(rs)
}

// scriptedLLM answers induction and assignment requests with fixed bodies.
type scriptedLLM struct {
	mu          sync.Mutex
	induction   func(chunk string) string
	assignment  func(chunk string) string
	inductions  int
	assignments int
}

func (s *scriptedLLM) Chat(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
	s.mu.Lock()
	var body string
	switch req.SchemaName {
	case "label_induction":
		s.inductions++
		body = s.induction(req.UserPrompt)
	case "label_assignment":
		s.assignments++
		body = s.assignment(req.UserPrompt)
	default:
		s.mu.Unlock()
		return nil, errors.New("unexpected request")
	}
	s.mu.Unlock()

	if err := json.Unmarshal([]byte(body), result); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
	}
	return &llm.Response{Content: body}, nil
}

func (s *scriptedLLM) Model() string { return "test-model" }

func always(body string) func(string) string {
	return func(string) string { return body }
}

func userMessages(contents ...string) []any {
	out := make([]any, 0, len(contents))
	for _, c := range contents {
		out = append(out, map[string]any{"role": "user", "content": c})
	}
	return out
}

// panickingChunker panics for records whose user text contains trigger.
type panickingChunker struct {
	pipeline.Chunker
	trigger string
}

func (p panickingChunker) Chunk(messages []model.Message) ([]string, error) {
	for _, m := range messages {
		if strings.Contains(m.Content, p.trigger) {
			panic("unexpected message shape")
		}
	}
	return p.Chunker.Chunk(messages)
}

type fakeRunStore struct {
	created  []model.PipelineRun
	finished []model.PipelineRun
	err      error
}

func (f *fakeRunStore) EnsureSchema(context.Context) error { return nil }

func (f *fakeRunStore) Create(_ context.Context, run *model.PipelineRun) error {
	f.created = append(f.created, *run)
	return f.err
}

func (f *fakeRunStore) Finish(_ context.Context, run *model.PipelineRun) error {
	f.finished = append(f.finished, *run)
	return f.err
}

func (f *fakeRunStore) ListRecent(context.Context, int32) ([]model.PipelineRun, error) {
	return f.finished, nil
}
