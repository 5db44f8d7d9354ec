package middleware // reusable HTTP middleware for the scenario API

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scenario-steal/internal/model"
)

// Context keys set by JWTAuth.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores the caller's numeric subject and role in the request
// context.  Handlers read them back with c.Get("user_id") (an int64) and
// c.Get("role") (a model.Role).
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Only HMAC tokens signed with our secret are accepted; exp is
			// checked by the parser.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid claims"})
			}

			p, ok := principalFromClaims(claims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "token has no usable subject"})
			}
			c.Set(ContextUserID, p.UserID)
			c.Set(ContextRole, p.Role)
			return next(c)
		}
	}
}

// principalFromClaims reads sub and role.  sub may be encoded as a JSON
// number or as a decimal string; it must be positive.
func principalFromClaims(claims jwt.MapClaims) (model.Principal, bool) {
	var id int64
	switch v := claims["sub"].(type) {
	case float64:
		id = int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.Principal{}, false
		}
		id = n
	}
	if id <= 0 {
		return model.Principal{}, false
	}
	role, _ := claims["role"].(string)
	return model.Principal{UserID: id, Role: model.Role(strings.ToUpper(role))}, true
}
