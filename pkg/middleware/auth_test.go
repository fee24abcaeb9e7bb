package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/site-journal/pkg/jwt"
)

func identityRouter(t *testing.T, cfg IdentityConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	id, err := NewIdentity(cfg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(id.Handler())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c))
	})
	return r
}

func get(r http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeaderIdentity(t *testing.T) {
	r := identityRouter(t, IdentityConfig{Mode: "header"})

	w := get(r, "/whoami", map[string]string{"X-User-ID": " alice "})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	w = get(r, "/whoami", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestRequiredIdentity(t *testing.T) {
	r := identityRouter(t, IdentityConfig{Mode: "header", Header: "X-Actor", Required: true})

	assert.Equal(t, http.StatusUnauthorized, get(r, "/whoami", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/whoami", map[string]string{"X-Actor": "bob"}).Code)
}

func TestJWTIdentity(t *testing.T) {
	r := identityRouter(t, IdentityConfig{Mode: "jwt", JWTSecret: "secret"})

	v, err := jwt.NewValidator("secret", "")
	require.NoError(t, err)
	token, err := v.Issue("carol", time.Minute)
	require.NoError(t, err)

	w := get(r, "/whoami", map[string]string{AuthHeaderKey: BearerPrefix + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carol", w.Body.String())

	w = get(r, "/whoami?access_token="+token, nil)
	assert.Equal(t, "carol", w.Body.String())

	w = get(r, "/whoami", map[string]string{AuthHeaderKey: BearerPrefix + "bogus"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The gateway header is ignored in jwt mode.
	w = get(r, "/whoami", map[string]string{"X-User-ID": "mallory"})
	assert.Empty(t, w.Body.String())
}

func TestJWTModeRequiresSecret(t *testing.T) {
	_, err := NewIdentity(IdentityConfig{Mode: "jwt"})
	assert.Error(t, err)
}
