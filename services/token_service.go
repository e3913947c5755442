package services

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "bounty-session-service"
	tokenAudience = "bounty-session-client"
)

// SessionClaims binds a bearer credential to one session, device, bounty, and
// rotation identifier. The subject is the user id.
type SessionClaims struct {
	SessionID  string `json:"sid"`
	DeviceID   string `json:"did"`
	BountyID   string `json:"bid"`
	RotationID string `json:"rot"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies the short-lived EdDSA bearer tokens rotated
// on every successful mutating call.
type TokenService struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
}

func NewTokenService(seed []byte, ttl time.Duration) *TokenService {
	priv := ed25519.NewKeyFromSeed(seed)
	return &TokenService{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
		ttl:  ttl,
	}
}

// NewTokenServiceFromEnv loads the Ed25519 seed from TOKEN_SIGNING_SEED
// (base64, 32 bytes). Without it an ephemeral key is generated, which
// invalidates all outstanding tokens whenever the process restarts.
func NewTokenServiceFromEnv(ttl time.Duration) *TokenService {
	if raw := os.Getenv("TOKEN_SIGNING_SEED"); raw != "" {
		seed, err := base64.StdEncoding.DecodeString(raw)
		if err != nil || len(seed) != ed25519.SeedSize {
			log.Fatal("TOKEN_SIGNING_SEED must be the base64 encoding of a 32-byte seed")
		}
		return NewTokenService(seed, ttl)
	}

	log.Println("⚠️  TOKEN_SIGNING_SEED not set — generating ephemeral signing key")
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		log.Fatal("failed to generate signing seed:", err)
	}
	return NewTokenService(seed, ttl)
}

// Mint signs a fresh bearer token for the session carrying rotationID.
func (t *TokenService) Mint(userID, sessionID, deviceID, bountyID, rotationID string, now time.Time) (string, error) {
	claims := SessionClaims{
		SessionID:  sessionID,
		DeviceID:   deviceID,
		BountyID:   bountyID,
		RotationID: rotationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(t.priv)
}

// Verify checks signature, issuer, audience, and expiry, and extracts the
// claims. Every failure collapses into the same invalid_token error so a caller
// probing the format learns nothing about why a token was rejected.
func (t *TokenService) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(tok *jwt.Token) (interface{}, error) { return t.pub, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.DeviceID == "" ||
		claims.BountyID == "" || claims.RotationID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
