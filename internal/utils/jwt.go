package utils // package utils provides access-token minting for operators and tests

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/scenario-steal/internal/model"
)

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewAccessToken signs an HS256 token whose sub is the decimal user id and
// whose role claim is role.  Users are issued tokens by the upstream
// identity service; this is what scenarioctl uses to act as an operator.
func NewAccessToken(secret string, userID int64, role model.Role, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, errors.New("empty signing secret")
	}
	if userID <= 0 {
		return AccessToken{}, errors.New("user id must be positive")
	}
	if !role.Valid() {
		return AccessToken{}, errors.New("unknown role " + string(role))
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
