package issuance

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSigner produces the payload encoded into a ticket's QR code. The
// token binds the ticket id and issue time so check-in can verify it
// offline.
type TokenSigner interface {
	Sign(ticketID string, issuedAt time.Time) (string, error)
	Verify(token string) (*TicketClaims, error)
}

// TicketClaims are the claims carried by a ticket token
type TicketClaims struct {
	TicketID string `json:"tid"`
	jwt.RegisteredClaims
}

// JWTSigner signs ticket tokens with HS256
type JWTSigner struct {
	secret []byte
	issuer string
}

// NewJWTSigner creates a new JWTSigner
func NewJWTSigner(secret, issuer string) (*JWTSigner, error) {
	if secret == "" {
		return nil, errors.New("ticket signing secret is required")
	}
	return &JWTSigner{secret: []byte(secret), issuer: issuer}, nil
}

// Sign returns a compact JWS over the ticket id and issue time
func (s *JWTSigner) Sign(ticketID string, issuedAt time.Time) (string, error) {
	if ticketID == "" {
		return "", errors.New("ticket id is required")
	}
	claims := TicketClaims{
		TicketID: ticketID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  ticketID,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket token: %w", err)
	}
	return token, nil
}

// Verify parses token and checks its signature and issuer
func (s *JWTSigner) Verify(token string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid ticket token: %w", err)
	}
	if claims.TicketID == "" || claims.TicketID != claims.Subject {
		return nil, errors.New("invalid ticket token: ticket id mismatch")
	}
	return claims, nil
}
