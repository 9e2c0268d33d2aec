package security

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signing and TTL.
type Options struct {
	Secret []byte        // HMAC key, from ENV/KMS in production
	Alg    string        // HS256/HS384/HS512, defaults to HS256
	TTL    time.Duration // token validity, defaults to 2h
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Claims carried by a gateway token. CharaIdent is the character
// identity hash the client registered with.
type Claims struct {
	UID        string `json:"uid"`
	Alias      string `json:"alias,omitempty"`
	CharaIdent string `json:"chara_ident"`
	jwtlib.RegisteredClaims
}

func Generate(opts Options, uid, alias, charaIdent string) (string, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		UID:        uid,
		Alias:      alias,
		CharaIdent: charaIdent,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(opts.TTL)),
		},
	}
	return jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
}

func Verify(opts Options, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		// HMAC family only
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.UID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch alg {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s", alg)
	}
}
