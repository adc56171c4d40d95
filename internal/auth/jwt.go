package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// JWTResolver validates JWT bearer tokens and resolves them to a User.
type JWTResolver struct {
	algorithm string
	hmacKey   []byte
	rsaPubKey *rsa.PublicKey
	issuer    string
}

// JWTConfig holds JWT resolver configuration.
type JWTConfig struct {
	Algorithm     string // HS256, RS256
	Secret        string // HMAC secret
	PublicKeyFile string // RSA public key file
	Issuer        string // optional issuer validation
}

// NewJWTResolver creates a JWT-backed Resolver.
func NewJWTResolver(cfg JWTConfig) (*JWTResolver, error) {
	r := &JWTResolver{algorithm: cfg.Algorithm, issuer: cfg.Issuer}

	switch cfg.Algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("JWT secret required for HS256")
		}
		r.hmacKey = []byte(cfg.Secret)

	case "RS256":
		if cfg.PublicKeyFile == "" {
			return nil, fmt.Errorf("public key file required for RS256")
		}
		pubKey, err := loadRSAPublicKey(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load public key: %w", err)
		}
		r.rsaPubKey = pubKey

	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	return r, nil
}

// ResolveUser implements Resolver.
func (r *JWTResolver) ResolveUser(ctx context.Context, token string) (*User, error) {
	claims, err := r.validateToken(token)
	if err != nil {
		return nil, nil // an invalid token resolves to no user, not an error
	}

	subject := "unknown"
	if sub, ok := claims["sub"].(string); ok {
		subject = sub
	}
	tier := "default"
	if t, ok := claims["tier"].(string); ok {
		tier = t
	}

	return &User{Subject: "user:" + subject, Tier: tier, Claims: claims}, nil
}

func (r *JWTResolver) validateToken(tokenStr string) (map[string]any, error) {
	parts := splitToken(tokenStr)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid token format")
	}
	headerB64, payloadB64, signatureB64 := parts[0], parts[1], parts[2]

	headerBytes, err := base64URLDecode(headerB64)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if header.Alg != r.algorithm {
		return nil, fmt.Errorf("algorithm mismatch: expected %s, got %s", r.algorithm, header.Alg)
	}

	signature, err := base64URLDecode(signatureB64)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	signingInput := headerB64 + "." + payloadB64
	if err := r.verifySignature(signingInput, signature); err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}

	payloadBytes, err := base64URLDecode(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	now := time.Now().Unix()
	if exp, ok := claims["exp"].(float64); ok && int64(exp) < now {
		return nil, fmt.Errorf("token expired")
	}
	if nbf, ok := claims["nbf"].(float64); ok && int64(nbf) > now {
		return nil, fmt.Errorf("token not yet valid")
	}
	if r.issuer != "" {
		iss, ok := claims["iss"].(string)
		if !ok || iss != r.issuer {
			return nil, fmt.Errorf("issuer mismatch")
		}
	}

	return claims, nil
}

func (r *JWTResolver) verifySignature(input string, signature []byte) error {
	switch r.algorithm {
	case "HS256":
		return r.verifyHS256(input, signature)
	case "RS256":
		return r.verifyRS256(input, signature)
	default:
		return fmt.Errorf("unsupported algorithm")
	}
}

func (r *JWTResolver) verifyHS256(input string, signature []byte) error {
	mac := hmac.New(sha256.New, r.hmacKey)
	mac.Write([]byte(input))
	expected := mac.Sum(nil)
	if !hmac.Equal(signature, expected) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

func (r *JWTResolver) verifyRS256(input string, signature []byte) error {
	hashed := sha256.Sum256([]byte(input))
	return rsa.VerifyPKCS1v15(r.rsaPubKey, crypto.SHA256, hashed[:], signature)
}

func splitToken(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func base64URLDecode(s string) ([]byte, error) {
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}
