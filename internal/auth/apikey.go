package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	apikeyPrefix = "reactiverpc:apikey:"
	apikeyIndex  = "reactiverpc:apikeys"
)

// APIKey represents a stored API key.
type APIKey struct {
	Name      string     `json:"name"`
	KeyHash   string     `json:"key_hash"`
	Tier      string     `json:"tier"`
	Enabled   bool       `json:"enabled"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// APIKeyResolver resolves bearer tokens that are API keys, checking a
// static in-memory set first and falling back to Redis.
type APIKeyResolver struct {
	redis      *redis.Client
	staticKeys map[string]staticKey
}

type staticKey struct {
	name string
	tier string
}

// APIKeyResolverConfig configures an APIKeyResolver.
type APIKeyResolverConfig struct {
	Redis      *redis.Client
	StaticKeys []StaticKeyConfig
}

// StaticKeyConfig represents a static API key supplied via configuration.
type StaticKeyConfig struct {
	Name string
	Key  string
	Tier string
}

// NewAPIKeyResolver creates an APIKeyResolver.
func NewAPIKeyResolver(cfg APIKeyResolverConfig) *APIKeyResolver {
	r := &APIKeyResolver{
		redis:      cfg.Redis,
		staticKeys: make(map[string]staticKey),
	}
	for _, k := range cfg.StaticKeys {
		hash := hashAPIKey(k.Key)
		tier := k.Tier
		if tier == "" {
			tier = "default"
		}
		r.staticKeys[hash] = staticKey{name: k.Name, tier: tier}
	}
	return r
}

// ResolveUser implements Resolver.
func (r *APIKeyResolver) ResolveUser(ctx context.Context, token string) (*User, error) {
	keyHash := hashAPIKey(token)

	if sk, ok := r.staticKeys[keyHash]; ok {
		return &User{
			Subject: "apikey:" + sk.name,
			Tier:    sk.tier,
			Claims:  map[string]any{"source": "static"},
		}, nil
	}

	if r.redis == nil {
		return nil, nil
	}
	return r.resolveFromRedis(ctx, keyHash)
}

func (r *APIKeyResolver) resolveFromRedis(ctx context.Context, keyHash string) (*User, error) {
	data, err := r.redis.Get(ctx, apikeyPrefix+keyHash).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var apiKey APIKey
	if err := json.Unmarshal(data, &apiKey); err != nil {
		return nil, nil
	}
	if !apiKey.Enabled {
		return nil, nil
	}
	if apiKey.ExpiresAt != nil && time.Now().After(*apiKey.ExpiresAt) {
		return nil, nil
	}

	tier := apiKey.Tier
	if tier == "" {
		tier = "default"
	}
	return &User{
		Subject: "apikey:" + apiKey.Name,
		Tier:    tier,
		Claims:  map[string]any{"source": "redis"},
	}, nil
}

func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// APIKeyStore manages API keys in Redis: creation, lookup, revocation.
type APIKeyStore struct {
	redis *redis.Client
}

// NewAPIKeyStore creates a new API key store.
func NewAPIKeyStore(redis *redis.Client) *APIKeyStore {
	return &APIKeyStore{redis: redis}
}

// Create generates a new API key and returns its plaintext form (shown to
// the caller exactly once; only the hash is persisted).
func (s *APIKeyStore) Create(ctx context.Context, name, tier string) (string, error) {
	key := generateAPIKey()
	keyHash := hashAPIKey(key)

	existing, _ := s.redis.HGet(ctx, apikeyIndex, name).Result()
	if existing != "" {
		return "", fmt.Errorf("API key with name '%s' already exists", name)
	}

	if tier == "" {
		tier = "default"
	}
	apiKey := APIKey{
		Name: name, KeyHash: keyHash, Tier: tier, Enabled: true,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	data, err := json.Marshal(apiKey)
	if err != nil {
		return "", err
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, apikeyPrefix+keyHash, data, 0)
	pipe.HSet(ctx, apikeyIndex, name, keyHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return key, nil
}

// Get retrieves an API key record by name.
func (s *APIKeyStore) Get(ctx context.Context, name string) (*APIKey, error) {
	keyHash, err := s.redis.HGet(ctx, apikeyIndex, name).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("API key not found: %s", name)
	}
	if err != nil {
		return nil, err
	}
	data, err := s.redis.Get(ctx, apikeyPrefix+keyHash).Bytes()
	if err != nil {
		return nil, err
	}
	var apiKey APIKey
	if err := json.Unmarshal(data, &apiKey); err != nil {
		return nil, err
	}
	return &apiKey, nil
}

// List returns every stored API key.
func (s *APIKeyStore) List(ctx context.Context) ([]*APIKey, error) {
	hashes, err := s.redis.HGetAll(ctx, apikeyIndex).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]*APIKey, 0, len(hashes))
	for _, hash := range hashes {
		data, err := s.redis.Get(ctx, apikeyPrefix+hash).Bytes()
		if err != nil {
			continue
		}
		var apiKey APIKey
		if err := json.Unmarshal(data, &apiKey); err != nil {
			continue
		}
		keys = append(keys, &apiKey)
	}
	return keys, nil
}

// Revoke disables an API key without deleting its record.
func (s *APIKeyStore) Revoke(ctx context.Context, name string) error {
	apiKey, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	apiKey.Enabled = false
	apiKey.UpdatedAt = time.Now()
	data, err := json.Marshal(apiKey)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, apikeyPrefix+apiKey.KeyHash, data, 0).Err()
}

// Delete permanently removes an API key.
func (s *APIKeyStore) Delete(ctx context.Context, name string) error {
	keyHash, err := s.redis.HGet(ctx, apikeyIndex, name).Result()
	if err == redis.Nil {
		return fmt.Errorf("API key not found: %s", name)
	}
	if err != nil {
		return err
	}
	pipe := s.redis.Pipeline()
	pipe.Del(ctx, apikeyPrefix+keyHash)
	pipe.HDel(ctx, apikeyIndex, name)
	_, err = pipe.Exec(ctx)
	return err
}

func generateAPIKey() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	randomBytes := make([]byte, 24)
	rand.Read(randomBytes)
	b := make([]byte, 24)
	for i := range b {
		b[i] = charset[randomBytes[i]%byte(len(charset))]
	}
	return "sk_" + string(b)
}

// VerifyAPIKey checks whether plaintext hashes to hash, in constant time.
func VerifyAPIKey(plaintext, hash string) bool {
	computed := hashAPIKey(plaintext)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
