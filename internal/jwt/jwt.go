package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskhive/realtime/internal/errors"
)

const (
	ErrInvalidRequest errors.Code = "invalid request"
	ErrInvalidToken   errors.Code = "invalid token"
	ErrNoToken        errors.Code = "no token"
)

// Payload carries the identity the REST tier authenticated: the user, the
// team whose realtime channel the connection subscribes to, and the display
// name shown to other participants.
type Payload struct {
	UserID string `json:"uid"`
	TeamID string `json:"tid"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type Auth interface {
	Sign(userID, teamID, name string, expiresIn time.Duration) (string, error)
	Verify(token string) (*Payload, error)
}

// NewAuth creates a JWT authenticator using HS256.
func NewAuth(secret string) Auth {
	return NewAuthWithAlgorithm(secret, jwt.SigningMethodHS256)
}

// NewAuthWithAlgorithm allows HS384/HS512 where deployments require it.
func NewAuthWithAlgorithm(secret string, method jwt.SigningMethod) Auth {
	return &jwtAuthImpl{
		secret:        []byte(secret),
		signingMethod: method,
		allowedMethods: map[string]bool{
			method.Alg(): true,
		},
	}
}

type jwtAuthImpl struct {
	secret         []byte
	signingMethod  jwt.SigningMethod
	allowedMethods map[string]bool
}

func (j *jwtAuthImpl) Sign(userID, teamID, name string, expiresIn time.Duration) (string, error) {
	if userID == "" || teamID == "" {
		return "", errors.New(ErrInvalidRequest, "userID and teamID are required")
	}

	claims := &Payload{
		UserID: userID,
		TeamID: teamID,
		Name:   name,
	}
	if expiresIn > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(expiresIn))
	}

	token := jwt.NewWithClaims(j.signingMethod, claims)
	return token.SignedString(j.secret)
}

// Verify parses the token with strict algorithm validation.
func (j *jwtAuthImpl) Verify(tokenString string) (*Payload, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Payload{}, func(token *jwt.Token) (any, error) {
		alg := token.Method.Alg()
		if !j.allowedMethods[alg] {
			return nil, errors.Newf(
				ErrInvalidToken,
				"unexpected signing method: %s (expected: %s)",
				alg, j.signingMethod.Alg(),
			)
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err, "token verification failed")
	}

	if claims, ok := token.Claims.(*Payload); ok && token.Valid {
		if claims.UserID == "" || claims.TeamID == "" {
			return nil, errors.New(ErrInvalidToken, "missing required fields in token")
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}
