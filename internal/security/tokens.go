package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, carries a bad signature, or names the wrong issuer or audience.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the JWT payload for both access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Codec signs and verifies JWTs. It checks structure, signature, issuer and audience only;
// expiry and token type are the caller's policy so they can be checked in a fixed order.
type Codec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	audience  string
}

// NewCodec returns a Codec that signs with the given private key (RS256 or ES256).
func NewCodec(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string) (*Codec, error) {
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	if KeyAlg(publicKey) != method.Alg() {
		return nil, ErrInvalidKey
	}
	return &Codec{method: method, signKey: privateKey, verifyKey: publicKey, issuer: issuer, audience: audience}, nil
}

// NewHMACCodec returns an HS256 Codec. secret must be at least 32 bytes.
func NewHMACCodec(secret []byte, issuer, audience string) (*Codec, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidKey
	}
	return &Codec{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret, issuer: issuer, audience: audience}, nil
}

// LoadCodec builds a Codec from config values: a PEM key pair when both keys are set, otherwise the HMAC secret.
func LoadCodec(privateKey, publicKey, secret, issuer, audience string) (*Codec, error) {
	if privateKey != "" || publicKey != "" {
		signer, err := ParsePrivateKey(privateKey)
		if err != nil {
			return nil, err
		}
		pub, err := ParsePublicKey(publicKey)
		if err != nil {
			return nil, err
		}
		return NewCodec(signer, pub, issuer, audience)
	}
	return NewHMACCodec([]byte(secret), issuer, audience)
}

// Alg returns the JWS algorithm name.
func (c *Codec) Alg() string { return c.method.Alg() }

// Sign stamps issuer and audience on claims and returns the compact token.
func (c *Codec) Sign(claims *Claims) (string, error) {
	claims.Issuer = c.issuer
	claims.Audience = jwt.ClaimStrings{c.audience}
	return jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
}

// Parse verifies the signature and structure of token and returns its claims. Time-based claims are not checked.
// Every failure is ErrInvalidToken.
func (c *Codec) Parse(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" || claims.ExpiresAt == nil || claims.TokenType == "" {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != c.issuer {
		return nil, ErrInvalidToken
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == c.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
