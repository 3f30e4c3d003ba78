package secret_test

import (
	"github.com/sable-sec/loom/secret"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Secret keys", func() {
	Context("when generating keys", func() {
		It("should generate distinct keys", func() {
			key1, err := secret.Generate()
			Expect(err).ToNot(HaveOccurred())
			key2, err := secret.Generate()
			Expect(err).ToNot(HaveOccurred())
			Expect(key1).ToNot(Equal(key2))
		})
	})

	Context("when round-tripping through the text form", func() {
		It("should parse what it printed", func() {
			key, err := secret.Generate()
			Expect(err).ToNot(HaveOccurred())

			parsed, err := secret.Parse(key.String())
			Expect(err).ToNot(HaveOccurred())
			Expect(parsed).To(Equal(key))
		})

		It("should reject text that is not base64", func() {
			_, err := secret.Parse("not a key!")
			Expect(err).To(HaveOccurred())
		})

		It("should reject keys of the wrong size", func() {
			_, err := secret.Parse("c2hvcnQ=")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when deriving keys from passphrases", func() {
		It("should derive the same key from the same passphrase", func() {
			Expect(secret.FromPassphrase("correct horse")).To(Equal(secret.FromPassphrase("correct horse")))
		})

		It("should derive different keys from different passphrases", func() {
			Expect(secret.FromPassphrase("correct horse")).ToNot(Equal(secret.FromPassphrase("battery staple")))
		})
	})
})
