package hrapi

import (
	"crypto/rsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// expiryLeeway is how long before expiry a cached token is re-signed.
const expiryLeeway = 30 * time.Second

// DeviceTokenSource signs short-lived RS256 device tokens identifying
// this terminal to the HR API. Tokens are cached until shortly before
// expiry.
type DeviceTokenSource struct {
	privateKey *rsa.PrivateKey
	terminalID string
	tenantID   string
	ttl        time.Duration

	now func() time.Time

	mu     sync.Mutex
	cached string
	expiry time.Time
}

// NewDeviceTokenSource loads the PEM private key at privateKeyPath and
// returns a token source for the given terminal and tenant.
func NewDeviceTokenSource(privateKeyPath, terminalID, tenantID string, ttl time.Duration) (*DeviceTokenSource, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device private key: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DeviceTokenSource{
		privateKey: privateKey,
		terminalID: terminalID,
		tenantID:   tenantID,
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// Token returns a valid signed token, re-signing when the cached one is
// about to expire.
func (ts *DeviceTokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.cached != "" && now.Before(ts.expiry.Add(-expiryLeeway)) {
		return ts.cached, nil
	}

	expiry := now.Add(ts.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   ts.terminalID,
		Issuer:    ts.tenantID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(ts.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign device token: %w", err)
	}

	ts.cached = signed
	ts.expiry = expiry
	return signed, nil
}
