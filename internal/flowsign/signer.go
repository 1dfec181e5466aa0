// Package flowsign produces RS256 JWS compact tokens for Flow data-exchange
// responses.
package flowsign

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	StageParseKey      = "parse_key"
	StageEncodePayload = "encode_payload"
	StageSign          = "sign"
)

// SigningError is returned whenever a token could not be produced.
type SigningError struct {
	Stage string
	Err   error
}

func (e *SigningError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("flowsign: %s failed", e.Stage)
	}
	return fmt.Sprintf("flowsign: %s failed: %v", e.Stage, e.Err)
}

func (e *SigningError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SignedResponse is the envelope expected by the Flow client.
type SignedResponse struct {
	SignedRequest string `json:"signed_request"`
}

// Signer holds a parsed private key and can be shared between invocations.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner parses a PEM encoded RSA private key (PKCS8 or PKCS1).
func NewSigner(privateKeyPEM string) (*Signer, error) {
	if strings.TrimSpace(privateKeyPEM) == "" {
		return nil, &SigningError{Stage: StageParseKey, Err: errors.New("private key is empty")}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, &SigningError{Stage: StageParseKey, Err: err}
	}
	return &Signer{key: key}, nil
}

// Sign is a one-shot helper that parses the key and signs payload.
func Sign(payload any, privateKeyPEM string) (string, error) {
	s, err := NewSigner(privateKeyPEM)
	if err != nil {
		return "", err
	}
	return s.Sign(payload)
}

// Sign returns "<b64url(header)>.<b64url(payload)>.<b64url(signature)>".
func (s *Signer) Sign(payload any) (string, error) {
	if s == nil || s.key == nil {
		return "", &SigningError{Stage: StageParseKey, Err: errors.New("signer not initialized")}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", &SigningError{Stage: StageEncodePayload, Err: err}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, rawClaims(raw)).SignedString(s.key)
	if err != nil {
		return "", &SigningError{Stage: StageSign, Err: err}
	}
	return token, nil
}

// SignResponse signs payload and wraps it in the response envelope.
func (s *Signer) SignResponse(payload any) (SignedResponse, error) {
	token, err := s.Sign(payload)
	if err != nil {
		return SignedResponse{}, err
	}
	return SignedResponse{SignedRequest: token}, nil
}

// rawClaims carries an already encoded JSON payload through jwt.Token so the
// payload segment is exactly the caller's JSON, not a claims set.
type rawClaims json.RawMessage

func (c rawClaims) MarshalJSON() ([]byte, error) { return json.RawMessage(c), nil }

func (rawClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (rawClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (rawClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (rawClaims) GetIssuer() (string, error)                   { return "", nil }
func (rawClaims) GetSubject() (string, error)                  { return "", nil }
func (rawClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }
