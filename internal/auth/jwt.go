package auth

import (
	"github.com/dgrijalva/jwt-go"
)

// JWTBearer treats the CONNECT password field as a JWT bearer token,
// signed with a shared HMAC secret, and accepts the connection if the
// token parses, is unexpired, and (when set) its "client_id" claim
// matches the CONNECT client id.
type JWTBearer struct {
	Secret []byte
}

// Authenticate parses password as a JWT and validates its signature and
// client-id claim.
func (j JWTBearer) Authenticate(clientID, _ string, password []byte) bool {
	if len(password) == 0 {
		return false
	}
	token, err := jwt.Parse(string(password), func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.NewValidationError("unexpected signing method", jwt.ValidationErrorSignatureInvalid)
		}
		return j.Secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	if cid, present := claims["client_id"]; present {
		if s, ok := cid.(string); ok && s != clientID {
			return false
		}
	}
	return true
}
