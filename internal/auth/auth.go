package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/klear-repo/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid token")
)

// Permissions carried in issued tokens.
const (
	PermissionRead    = "read"
	PermissionControl = "control"
)

const tokenTTL = 24 * time.Hour

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Party      string    `json:"party"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	Party       string   `json:"party"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the token grants p.
func (c *Claims) HasPermission(p string) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

type client struct {
	secret      string
	permissions []string
}

// Service issues and validates the tokens guarding a bot's control
// endpoints. Tokens are scoped to the party the bot acts for.
type Service struct {
	jwtSecret []byte
	party     string
	now       func() time.Time
	clients   map[string]client
}

func NewService(jwtSecret, party string) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		party:     party,
		now:       time.Now,
		clients:   make(map[string]client),
	}
}

// RegisterAPICredentials registers a client. Without explicit permissions
// the client may only read.
func (s *Service) RegisterAPICredentials(apiKey, apiSecret string, permissions ...string) {
	if len(permissions) == 0 {
		permissions = []string{PermissionRead}
	}
	s.clients[apiKey] = client{secret: apiSecret, permissions: permissions}
}

// GenerateToken issues a token for valid credentials, expiring after 24 hours.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	cl, ok := s.clients[creds.APIKey]
	if !ok || cl.secret != creds.APISecret {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	expiration := now.Add(tokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.party,
		},
		ClientID:    creds.APIKey,
		Party:       s.party,
		Permissions: cl.permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Party:      s.party,
		Expiration: expiration,
	}, nil
}

// ValidateToken checks the signature and expiry, and that the token was
// issued for this service's party.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Party != s.party {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler exchanges API credentials in the JSON body for a token.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, token)
	}
}
