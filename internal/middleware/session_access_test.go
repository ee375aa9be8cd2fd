package middleware

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-amnesia-go/pkg/token"
)

type fakeAccess struct {
	allowed map[string]bool
	err     error
}

func (f *fakeAccess) CanAccess(_ context.Context, sessionID, userID string) (bool, error) {
	return f.allowed[sessionID+"/"+userID], f.err
}

func (f *fakeAccess) Enter(ctx context.Context, sessionID, userID string) (bool, error) {
	return f.CanAccess(ctx, sessionID, userID)
}

func (f *fakeAccess) AddMember(context.Context, string, string) error { return nil }

func TestSessionAccessMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := token.NewJWTManager("secret", 1, 1)
	access := &fakeAccess{allowed: map[string]bool{"group-1/7": true}}
	r := gin.New()
	r.GET("/sessions/:sessionId", AuthMiddleware(m), SessionAccessMiddleware(access), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	bob, err := m.GenerateToken("7", "bob", "USER")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, do(r, "/sessions/group-1", "Bearer "+bob).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/sessions/group-2", "Bearer "+bob).Code)

	access.err = errors.New("redis: connection refused")
	assert.Equal(t, http.StatusInternalServerError, do(r, "/sessions/group-1", "Bearer "+bob).Code)
}
