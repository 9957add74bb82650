package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"

	"kalshi-weather-trader/pkg/types"
)

// Auth signs exchange requests with RSA-PSS per the trade API's key-based
// scheme: the signature covers "timestamp_ms + METHOD + path" and rides in
// three headers alongside the API key id. The private key never leaves the
// process and is never logged.
type Auth struct {
	apiKeyID   string
	privateKey *rsa.PrivateKey
}

// NewAuth loads the RSA private key from the configured PEM file.
func NewAuth(apiKeyID, privateKeyPath string) (*Auth, error) {
	if apiKeyID == "" || privateKeyPath == "" {
		return nil, types.Ef(types.KindAuth, "exchange api key id and private key path are required")
	}

	pemData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, types.E(types.KindAuth, fmt.Errorf("read private key: %w", err))
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, types.E(types.KindAuth, err)
	}

	return &Auth{apiKeyID: apiKeyID, privateKey: key}, nil
}

func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key file")
	}

	// PKCS#8 is what the exchange key console exports; fall back to PKCS#1.
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Headers returns the three auth headers for a request. The path must be
// the full request path including the API prefix, without query string.
func (a *Auth) Headers(method, path string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	sig, err := a.sign(ts + method + path)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       a.apiKeyID,
		"KALSHI-ACCESS-TIMESTAMP": ts,
		"KALSHI-ACCESS-SIGNATURE": sig,
	}, nil
}

// sign produces a base64 RSA-PSS SHA-256 signature over msg.
func (a *Auth) sign(msg string) (string, error) {
	digest := sha256.Sum256([]byte(msg))

	sig, err := rsa.SignPSS(rand.Reader, a.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", types.E(types.KindAuth, fmt.Errorf("sign request: %w", err))
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
