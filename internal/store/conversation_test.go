package store_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/categorizer/internal/model"
	"basegraph.app/categorizer/internal/store"
)

var _ = Describe("ConversationStore", func() {
	var (
		ctx    context.Context
		client *mockArangoClient
		s      store.ConversationStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockArangoClient{}
		s = store.NewConversationStore(client, "conversations")
	})

	Describe("ListCreatedSince", func() {
		It("binds the collection and the inclusive lower bound", func() {
			_, err := s.ListCreatedSince(ctx, 1700000000)
			Expect(err).NotTo(HaveOccurred())

			Expect(client.queries).To(HaveLen(1))
			Expect(client.queries[0].query).To(ContainSubstring("c.created_at >= @since"))
			Expect(client.queries[0].bindVars).To(HaveKeyWithValue("@collection", "conversations"))
			Expect(client.queries[0].bindVars).To(HaveKeyWithValue("since", int64(1700000000)))
		})

		It("decodes documents and skips ones without a key", func() {
			client.queryFn = func(context.Context, string, map[string]any) ([]map[string]any, error) {
				return []map[string]any{
					{
						"_key":       "r1",
						"created_at": float64(1700000100),
						"messages":   []any{map[string]any{"role": "user", "content": "hello"}},
					},
					{"created_at": float64(1700000200)},
					{"_key": "r2", "category": []any{"a"}},
				}, nil
			}

			convs, err := s.ListCreatedSince(ctx, 1700000000)
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(HaveLen(2))
			Expect(convs[0].ID).To(Equal("r1"))
			Expect(convs[0].Messages).To(Equal([]model.Message{{Role: "user", Content: "hello"}}))
			Expect(convs[1].HasCategory()).To(BeTrue())
		})

		It("returns query failures", func() {
			client.queryFn = func(context.Context, string, map[string]any) ([]map[string]any, error) {
				return nil, errors.New("connection refused")
			}

			_, err := s.ListCreatedSince(ctx, 0)
			Expect(err).To(MatchError(ContainSubstring("connection refused")))
		})
	})

	Describe("Upsert", func() {
		It("replaces the full document keyed by the record id", func() {
			conv, err := model.ConversationFromDocument(map[string]any{
				"_key":     "r1",
				"_rev":     "_abc",
				"messages": []any{},
				"channel":  "web",
			})
			Expect(err).NotTo(HaveOccurred())
			conv.SetCategory([]string{"topic-x"})

			Expect(s.Upsert(ctx, conv)).To(Succeed())

			Expect(client.execs).To(HaveLen(1))
			vars := client.execs[0].bindVars
			Expect(vars).To(HaveKeyWithValue("key", "r1"))

			doc, ok := vars["doc"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(doc).To(HaveKeyWithValue("category", []string{"topic-x"}))
			Expect(doc).To(HaveKeyWithValue("channel", "web"))
			Expect(doc).NotTo(HaveKey("_rev"))
		})

		It("wraps write failures with the record id", func() {
			client.execFn = func(context.Context, string, map[string]any) error {
				return errors.New("write conflict")
			}
			conv, err := model.ConversationFromDocument(map[string]any{"_key": "r9"})
			Expect(err).NotTo(HaveOccurred())

			err = s.Upsert(ctx, conv)
			Expect(err).To(MatchError(ContainSubstring("r9")))
			Expect(err).To(MatchError(ContainSubstring("write conflict")))
		})
	})
})
