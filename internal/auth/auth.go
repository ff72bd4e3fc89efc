package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	DefaultTokenExpiry = 15 * time.Minute
)

var (
	ErrMissingToken = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the access token payload. The user id travels in the "id"
// claim; tokens carrying only "sub" are accepted as well.
type Claims struct {
	ID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) userID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Subject
}

type Config struct {
	Secret      string        `json:"secret"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	if c.TokenExpiry < 0 {
		return errors.New("token expiry must be positive")
	}

	return nil
}

// Authenticator verifies the bearer token presented when a socket opens.
type Authenticator struct {
	Config
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

func NewAuthenticator(config Config) (*Authenticator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Authenticator{
		Config: config,
		secret: []byte(config.Secret),
		now:    time.Now,
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)

	return a, nil
}

// Authenticate checks signature and expiry of token and returns the user id it was issued for.
func (a *Authenticator) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	var claims Claims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}

	userID := claims.userID()
	if userID == "" {
		return "", errors.Wrap(ErrInvalidToken, "token carries no user id")
	}

	return userID, nil
}

// Issue signs a token for userID valid for the configured expiry.
func (a *Authenticator) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}

	now := a.now()
	claims := Claims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TokenExpiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
