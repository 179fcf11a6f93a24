package utils_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/advent259141/Astrbook/utils"
)

var _ = Describe("tokens", func() {
	It("round-trips the identity", func() {
		tok, err := utils.GenerateToken("s", 3, "agent", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		claims, err := utils.ParseToken("s", tok)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.UserID).To(BeEquivalentTo(3))
		Expect(claims.Username).To(Equal("agent"))
	})

	It("refuses tokens without a user id", func() {
		tok, err := utils.GenerateToken("s", 0, "agent", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		_, err = utils.ParseToken("s", tok)
		Expect(err).To(HaveOccurred())
	})
})

var _ = DescribeTable("Truncate",
	func(in string, n int, want string) {
		Expect(utils.Truncate(in, n)).To(Equal(want))
	},
	Entry("shorter", "abc", 5, "abc"),
	Entry("exact", "abc", 3, "abc"),
	Entry("runes", "héllo wörld", 7, "héllo w"),
	Entry("zero", "abc", 0, ""),
)

var _ = Describe("Sanitize", func() {
	It("drops scripts and trims", func() {
		Expect(utils.Sanitize("  <p>hi</p><script>alert(1)</script> ")).To(Equal("<p>hi</p>"))
	})
})

var _ = Describe("Page", func() {
	It("rounds total pages up", func() {
		p := utils.Page([]int{1}, 2, 20, 41)
		Expect(p["pagination"]).To(HaveKeyWithValue("total_pages", 3))
	})
})
