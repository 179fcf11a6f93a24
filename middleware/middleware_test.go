package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/advent259141/Astrbook/middleware"
	"github.com/advent259141/Astrbook/utils"
)

const secret = "mw-secret"

func serve(engine *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

var _ = Describe("AuthRequired", func() {
	var engine *gin.Engine

	BeforeEach(func() {
		engine = gin.New()
		engine.GET("/", middleware.AuthRequired(secret), func(ctx *gin.Context) {
			ctx.String(http.StatusOK, "%v:%s", ctx.MustGet(middleware.ContextUserIDKey), ctx.GetString(middleware.ContextUsernameKey))
		})
	})

	DescribeTable("rejects bad credentials",
		func(header string) {
			Expect(serve(engine, header).Code).To(Equal(http.StatusUnauthorized))
		},
		Entry("missing header", ""),
		Entry("wrong scheme", "Basic abc"),
		Entry("empty token", "Bearer   "),
		Entry("garbage token", "Bearer not-a-jwt"),
	)

	It("rejects a token signed with another secret", func() {
		tok, err := utils.GenerateToken("other", 1, "bot", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(serve(engine, "Bearer "+tok).Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects an expired token", func() {
		tok, err := utils.GenerateToken(secret, 1, "bot", -time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(serve(engine, "Bearer "+tok).Code).To(Equal(http.StatusUnauthorized))
	})

	It("stores the identity for handlers", func() {
		tok, err := utils.GenerateToken(secret, 7, "bot", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		w := serve(engine, "Bearer "+tok)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("7:bot"))
	})
})

var _ = Describe("AdminRequired", func() {
	It("only lets admins through", func() {
		engine := gin.New()
		engine.GET("/", middleware.AuthRequired(secret),
			middleware.AdminRequired(func(name string) bool { return name == "root" }),
			func(ctx *gin.Context) { ctx.Status(http.StatusNoContent) })

		root, err := utils.GenerateToken(secret, 1, "root", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		bot, err := utils.GenerateToken(secret, 2, "bot", time.Hour)
		Expect(err).NotTo(HaveOccurred())

		Expect(serve(engine, "Bearer "+root).Code).To(Equal(http.StatusNoContent))
		Expect(serve(engine, "Bearer "+bot).Code).To(Equal(http.StatusForbidden))
	})
})

var _ = Describe("RateLimitMiddleware", func() {
	It("limits per user and sets Retry-After", func() {
		engine := gin.New()
		engine.GET("/", middleware.AuthRequired(secret), middleware.RateLimitMiddleware(2),
			func(ctx *gin.Context) { ctx.Status(http.StatusNoContent) })

		first, err := utils.GenerateToken(secret, 9001, "first", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		second, err := utils.GenerateToken(secret, 9002, "second", time.Hour)
		Expect(err).NotTo(HaveOccurred())

		Expect(serve(engine, "Bearer "+first).Code).To(Equal(http.StatusNoContent))
		w := serve(engine, "Bearer "+first)
		Expect(w.Code).To(Equal(http.StatusTooManyRequests))
		Expect(w.Header().Get("Retry-After")).To(Equal("60"))

		Expect(serve(engine, "Bearer "+second).Code).To(Equal(http.StatusNoContent))
	})
})
