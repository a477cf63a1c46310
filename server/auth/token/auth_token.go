// Package token implements authentication by HMAC-signed JSON Web Token.
package token

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"time"

	"github.com/bazaarline/chat/server/auth"
	"github.com/bazaarline/chat/server/store"
	"github.com/bazaarline/chat/server/store/types"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "bazaarline"

// authenticator is a singleton instance of the authenticator.
type authenticator struct {
	name         string
	hmacSalt     []byte
	lifetime     time.Duration
	serialNumber int
}

// claims carried by the token. Subject is the user ID.
type claims struct {
	// User's authentication level.
	AuthLevel auth.Level `json:"lvl"`
	// Serial number - to invalidate all tokens if needed.
	SerialNumber int `json:"sn"`
	jwt.RegisteredClaims
}

// Init initializes the authenticator: parses the config and sets salt, serial number and lifetime.
func (ta *authenticator) Init(jsonconf json.RawMessage, name string) error {
	if ta.name != "" {
		return errors.New("auth_token: already initialized as " + ta.name + "; " + name)
	}

	type configType struct {
		// Key for signing tokens
		Key []byte `json:"key"`
		// Datatabase or other serial number, to invalidate all issued tokens at once.
		SerialNum int `json:"serial_num"`
		// Token expiration time
		ExpireIn int `json:"expire_in"`
	}
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("auth_token: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if len(config.Key) < sha256.Size {
		return errors.New("auth_token: the key is missing or too short")
	}
	if config.ExpireIn <= 0 {
		return errors.New("auth_token: invalid expiration value")
	}

	ta.name = name
	ta.hmacSalt = config.Key
	ta.lifetime = time.Duration(config.ExpireIn) * time.Second
	ta.serialNumber = config.SerialNum

	return nil
}

// IsInitialized returns true if the handler is initialized.
func (ta *authenticator) IsInitialized() bool {
	return ta.name != ""
}

// Authenticate checks validity of provided token.
func (ta *authenticator) Authenticate(token []byte) (*auth.Rec, error) {
	if len(token) == 0 {
		return nil, auth.ErrMalformed
	}

	var cl claims
	_, err := jwt.ParseWithClaims(string(token), &cl, func(*jwt.Token) (interface{}, error) {
		return ta.hmacSalt, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, auth.ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, auth.ErrFailed
		default:
			return nil, auth.ErrMalformed
		}
	}

	uid := types.ParseUid(cl.Subject)
	if uid.IsZero() {
		return nil, auth.ErrMalformed
	}

	// Check authentication level for validity.
	if cl.AuthLevel <= auth.LevelNone || cl.AuthLevel > auth.LevelRoot {
		return nil, auth.ErrMalformed
	}

	// Check serial number.
	if cl.SerialNumber != ta.serialNumber {
		return nil, auth.ErrFailed
	}

	expires := cl.ExpiresAt.Time.UTC()
	return &auth.Rec{
		Uid:       uid,
		AuthLevel: cl.AuthLevel,
		Lifetime:  time.Until(expires),
		Expires:   expires,
	}, nil
}

// GenSecret generates a new token.
func (ta *authenticator) GenSecret(rec *auth.Rec) ([]byte, time.Time, error) {
	if rec.Uid.IsZero() {
		return nil, time.Time{}, auth.ErrMalformed
	}

	if rec.Lifetime == 0 {
		rec.Lifetime = ta.lifetime
	} else if rec.Lifetime < 0 {
		return nil, time.Time{}, auth.ErrExpired
	}
	if rec.AuthLevel == auth.LevelNone {
		rec.AuthLevel = auth.LevelAuth
	}

	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(rec.Lifetime)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		AuthLevel:    rec.AuthLevel,
		SerialNumber: ta.serialNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   rec.Uid.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(ta.hmacSalt)
	if err != nil {
		return nil, time.Time{}, auth.ErrInternal
	}

	return []byte(signed), expires, nil
}

func init() {
	store.RegisterAuthScheme("token", &authenticator{})
}
