package config_test

import (
	"time"

	"basegraph.app/categorizer/core/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Load", func() {
	BeforeEach(func() {
		GinkgoT().Setenv("CATEGORIZER_ENV", "test")
		GinkgoT().Setenv("ARANGO_URL", "http://localhost:8529")
		GinkgoT().Setenv("ARANGO_USERNAME", "root")
		GinkgoT().Setenv("ARANGO_DATABASE", "support")
		GinkgoT().Setenv("OPENAI_API_KEY", "sk-test")
	})

	It("applies the reference pipeline defaults", func() {
		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Pipeline.Window).To(Equal(90 * time.Minute))
		Expect(cfg.Pipeline.ChunkTokenLimit).To(Equal(10000))
		Expect(cfg.Pipeline.MaxUserMessages).To(Equal(3))
		Expect(cfg.Pipeline.TokenizerModel).To(Equal("gpt-4-turbo"))
		Expect(cfg.Pipeline.Interval).To(Equal(time.Minute))
		Expect(cfg.Pipeline.DedupeCategories).To(BeFalse())
		Expect(cfg.Pipeline.HaltOnInductionError).To(BeFalse())
		Expect(cfg.ArangoDB.Collection).To(Equal("conversations"))
	})

	It("reads overrides from the environment", func() {
		GinkgoT().Setenv("WINDOW", "2h")
		GinkgoT().Setenv("CHUNK_TOKEN_LIMIT", "500")
		GinkgoT().Setenv("DEDUPE_CATEGORIES", "true")

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Pipeline.Window).To(Equal(2 * time.Hour))
		Expect(cfg.Pipeline.ChunkTokenLimit).To(Equal(500))
		Expect(cfg.Pipeline.DedupeCategories).To(BeTrue())
	})

	It("requires the document store settings", func() {
		GinkgoT().Setenv("ARANGO_URL", "")

		_, err := config.Load()
		Expect(err).To(MatchError(ContainSubstring("ARANGO_URL")))
	})

	It("requires an API key for the completion service", func() {
		GinkgoT().Setenv("OPENAI_API_KEY", "")

		_, err := config.Load()
		Expect(err).To(MatchError(ContainSubstring("OPENAI_API_KEY")))
	})

	It("rejects a non-positive chunk limit", func() {
		GinkgoT().Setenv("CHUNK_TOKEN_LIMIT", "0")

		_, err := config.Load()
		Expect(err).To(MatchError(ContainSubstring("CHUNK_TOKEN_LIMIT")))
	})
})
