package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/site-journal/pkg/jwt"
	"github.com/weiawesome/site-journal/pkg/response"
)

const (
	UserIDKey     = "user_id"
	RolesKey      = "roles"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "

	// tokenQueryKey lets browsers pass the token on websocket upgrades,
	// where custom headers cannot be set.
	tokenQueryKey = "access_token"
)

// IdentityConfig selects how the caller identity is established.
type IdentityConfig struct {
	// Mode is "jwt" (verify bearer tokens), "header" (trust a header set by
	// the gateway) or "none".
	Mode      string `mapstructure:"mode"`
	Header    string `mapstructure:"header"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
	Required  bool   `mapstructure:"required"`
}

// Identity resolves the authenticated user for a request. Credential checks
// belong to the auth subsystem; this only verifies what it hands over.
type Identity struct {
	mode      string
	header    string
	required  bool
	validator *jwt.Validator
}

// NewIdentity builds the identity middleware from cfg.
func NewIdentity(cfg IdentityConfig) (*Identity, error) {
	id := &Identity{
		mode:     cfg.Mode,
		header:   cfg.Header,
		required: cfg.Required,
	}
	if id.header == "" {
		id.header = "X-User-ID"
	}

	if cfg.Mode == "jwt" {
		v, err := jwt.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return nil, err
		}
		id.validator = v
	}
	return id, nil
}

// Handler returns the gin middleware. Requests without credentials pass
// through anonymously unless the identity is required.
func (m *Identity) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch m.mode {
		case "jwt":
			token := bearerToken(c)
			if token == "" {
				break
			}
			claims, err := m.validator.Validate(token)
			if err != nil {
				response.Unauthorized(c, err.Error())
				return
			}
			c.Set(UserIDKey, claims.UserID)
			c.Set(RolesKey, claims.Roles)

		case "header":
			if userID := strings.TrimSpace(c.GetHeader(m.header)); userID != "" {
				c.Set(UserIDKey, userID)
			}
		}

		if m.required && GetUserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Response{
				Error: &response.ErrorInfo{Code: response.CodeUnauthorized, Message: "missing credentials"},
			})
			return
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimPrefix(h, BearerPrefix)
	}
	return c.Query(tokenQueryKey)
}

// GetUserID extracts the authenticated user ID, or "" for anonymous requests.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetRoles extracts roles from the gin context.
func GetRoles(c *gin.Context) []string {
	if roles, ok := c.Get(RolesKey); ok {
		if r, ok := roles.([]string); ok {
			return r
		}
	}
	return nil
}
