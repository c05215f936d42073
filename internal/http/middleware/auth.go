package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"classroom.app/discussion/internal/model"
)

type contextKey string

const authorContextKey contextKey = "author"

// Tokens maps bearer tokens to the author they authenticate.
type Tokens map[string]model.Author

// ParseTokens reads the AUTH_TOKENS format: "token=userID:Name,token2=userID:Name".
func ParseTokens(raw string) (Tokens, error) {
	tokens := make(Tokens)
	for entry := range strings.SplitSeq(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, identity, ok := strings.Cut(entry, "=")
		if !ok || token == "" {
			return nil, fmt.Errorf("auth token entry %q: expected token=userID:Name", entry)
		}
		idPart, name, _ := strings.Cut(identity, ":")
		userID, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil || userID <= 0 {
			return nil, fmt.Errorf("auth token entry %q: invalid user id", entry)
		}
		if name == "" {
			name = "user-" + idPart
		}
		tokens[token] = model.Author{ID: userID, Name: name}
	}
	return tokens, nil
}

func (t Tokens) lookup(presented string) (model.Author, bool) {
	for token, author := range t {
		if subtle.ConstantTimeCompare([]byte(token), []byte(presented)) == 1 {
			return author, true
		}
	}
	return model.Author{}, false
}

func RequireAuth(tokens Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		author, ok := tokens.lookup(presented)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(WithAuthor(c.Request.Context(), author))

		c.Next()
	}
}

func GetAuthor(ctx context.Context) (model.Author, bool) {
	author, ok := ctx.Value(authorContextKey).(model.Author)
	return author, ok
}

// WithAuthor attaches author to ctx the way RequireAuth does.
func WithAuthor(ctx context.Context, author model.Author) context.Context {
	return context.WithValue(ctx, authorContextKey, author)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
