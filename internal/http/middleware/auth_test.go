package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"classroom.app/discussion/internal/http/middleware"
	"classroom.app/discussion/internal/model"
)

var _ = Describe("ParseTokens", func() {
	It("parses token entries", func() {
		tokens, err := middleware.ParseTokens("abc=1:Ada Lovelace, xyz=2:Bo ,")
		Expect(err).NotTo(HaveOccurred())
		Expect(tokens).To(HaveLen(2))
		Expect(tokens["abc"]).To(Equal(model.Author{ID: 1, Name: "Ada Lovelace"}))
		Expect(tokens["xyz"]).To(Equal(model.Author{ID: 2, Name: "Bo"}))
	})

	It("names authors without a display name", func() {
		tokens, err := middleware.ParseTokens("t=7")
		Expect(err).NotTo(HaveOccurred())
		Expect(tokens["t"].Name).To(Equal("user-7"))
	})

	It("accepts an empty configuration", func() {
		tokens, err := middleware.ParseTokens("")
		Expect(err).NotTo(HaveOccurred())
		Expect(tokens).To(BeEmpty())
	})

	DescribeTable("rejects malformed entries",
		func(raw string) {
			_, err := middleware.ParseTokens(raw)
			Expect(err).To(HaveOccurred())
		},
		Entry("missing separator", "abc"),
		Entry("missing token", "=1:Ada"),
		Entry("non-numeric id", "abc=x:Ada"),
		Entry("zero id", "abc=0:Ada"),
	)
})

var _ = Describe("RequireAuth", func() {
	var router *gin.Engine

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		tokens := middleware.Tokens{"secret": {ID: 1, Name: "Ada"}}
		router.GET("/me", middleware.RequireAuth(tokens), func(c *gin.Context) {
			author, ok := middleware.GetAuthor(c.Request.Context())
			if !ok {
				c.Status(http.StatusInternalServerError)
				return
			}
			c.JSON(http.StatusOK, gin.H{"id": author.ID, "name": author.Name})
		})
	})

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("attaches the author for a known token", func() {
		w := serve("Bearer secret")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"name":"Ada"`))
	})

	It("accepts a lowercase scheme", func() {
		Expect(serve("bearer secret").Code).To(Equal(http.StatusOK))
	})

	DescribeTable("returns 401",
		func(header string) {
			Expect(serve(header).Code).To(Equal(http.StatusUnauthorized))
		},
		Entry("without a header", ""),
		Entry("with another scheme", "Basic secret"),
		Entry("with an empty token", "Bearer "),
		Entry("with an unknown token", "Bearer nope"),
	)
})
