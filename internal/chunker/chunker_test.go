package chunker_test

import (
	"strings"

	"basegraph.app/categorizer/internal/chunker"
	"basegraph.app/categorizer/internal/model"
	"basegraph.app/categorizer/internal/tokenizer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// runeCodec maps every rune to one token, which makes token counts easy to reason about.
type runeCodec struct{}

func (runeCodec) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeCodec) Decode(tokens []int) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteRune(rune(t))
	}
	return sb.String()
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

var _ = Describe("Split", func() {
	DescribeTable("tiles the token sequence",
		func(length, limit, wantRuns int) {
			tokens := seq(length)
			runs := chunker.Split(tokens, limit)

			Expect(runs).To(HaveLen(wantRuns))

			var joined []int
			for i, run := range runs {
				Expect(len(run)).To(BeNumerically("<=", limit))
				if i < len(runs)-1 {
					Expect(run).To(HaveLen(limit))
				}
				joined = append(joined, run...)
			}
			if length == 0 {
				Expect(joined).To(BeEmpty())
			} else {
				Expect(joined).To(Equal(tokens))
			}
		},
		Entry("empty input", 0, 10, 0),
		Entry("shorter than limit", 7, 10, 1),
		Entry("exactly the limit", 10, 10, 1),
		Entry("one over the limit", 11, 10, 2),
		Entry("several full runs", 30, 10, 3),
		Entry("ragged tail", 25001, 10000, 3),
		Entry("limit of one", 5, 1, 5),
	)

	It("does not let runs alias each other's capacity", func() {
		runs := chunker.Split(seq(4), 2)
		runs[0] = append(runs[0], 99)
		Expect(runs[1]).To(Equal([]int{2, 3}))
	})
})

var _ = Describe("Chunker", func() {
	newChunker := func(limit int) *chunker.Chunker {
		c, err := chunker.New(runeCodec{}, chunker.Config{TokenLimit: limit, MaxUserMessages: 3})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	It("serializes at most three user messages as a JSON array", func() {
		chunks, err := newChunker(1000).Chunk([]model.Message{
			{Role: model.RoleSystem, Content: "be nice"},
			{Role: model.RoleUser, Content: "a"},
			{Role: model.RoleAssistant, Content: "reply"},
			{Role: model.RoleUser, Content: "b <c> & d"},
			{Role: model.RoleUser, Content: "日本語"},
			{Role: model.RoleUser, Content: "dropped"},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(Equal([]string{`["a","b <c> & d","日本語"]`}))
	})

	It("returns no chunks without user content", func() {
		c := newChunker(10)

		chunks, err := c.Chunk([]model.Message{{Role: model.RoleAssistant, Content: "hello"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(BeEmpty())

		chunks, err = c.Chunk(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(BeEmpty())
	})

	It("splits long content into bounded chunks that concatenate back", func() {
		long := strings.Repeat("x", 95)
		chunks, err := newChunker(10).Chunk([]model.Message{{Role: model.RoleUser, Content: long}})
		Expect(err).NotTo(HaveOccurred())

		// ["x...x"] is 95 + 4 runes.
		Expect(chunks).To(HaveLen(10))
		for _, ch := range chunks {
			Expect(len([]rune(ch))).To(BeNumerically("<=", 10))
		}
		Expect(strings.Join(chunks, "")).To(Equal(`["` + long + `"]`))
	})

	It("rejects invalid configuration", func() {
		_, err := chunker.New(runeCodec{}, chunker.Config{TokenLimit: 0, MaxUserMessages: 3})
		Expect(err).To(HaveOccurred())
		_, err = chunker.New(runeCodec{}, chunker.Config{TokenLimit: 10, MaxUserMessages: 0})
		Expect(err).To(HaveOccurred())
	})

	It("keeps every chunk within the limit of a real encoding", func() {
		codec, err := tokenizer.New("gpt-4-turbo")
		Expect(err).NotTo(HaveOccurred())
		c, err := chunker.New(codec, chunker.Config{TokenLimit: 50, MaxUserMessages: 3})
		Expect(err).NotTo(HaveOccurred())

		text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
		chunks, err := c.Chunk([]model.Message{{Role: model.RoleUser, Content: text}})
		Expect(err).NotTo(HaveOccurred())

		total := len(codec.Encode(`["` + text + `"]`))
		Expect(chunks).To(HaveLen((total + 49) / 50))
	})
})
