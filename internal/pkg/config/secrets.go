// internal/pkg/config/secrets.go
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrMissingRequiredConfig flags a required configuration value that was
// never provided.
var ErrMissingRequiredConfig = errors.New("missing required configuration")

// SecretsManager resolves sensitive configuration values at runtime.
type SecretsManager interface {
	GetSecret(ctx context.Context, key string) (string, error)
	GetSecrets(ctx context.Context, keys []string) (map[string]string, error)
	RefreshSecrets(ctx context.Context) error
}

// AWSSecretsManager reads one JSON secret from AWS Secrets Manager and caches
// its key/value pairs. The whole secret is fetched at once; countd keeps all
// its credentials in a single secret per environment.
type AWSSecretsManager struct {
	client     *secretsmanager.Client
	secretName string
	logger     *slog.Logger

	mu        sync.RWMutex
	cache     map[string]string
	lastFetch time.Time
	ttl       time.Duration
}

// NewAWSSecretsManager builds a client against the default credential chain.
func NewAWSSecretsManager(region, secretName string, logger *slog.Logger) (*AWSSecretsManager, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AWSSecretsManager{
		client:     secretsmanager.NewFromConfig(cfg),
		secretName: secretName,
		cache:      make(map[string]string),
		ttl:        5 * time.Minute,
		logger:     logger,
	}, nil
}

// GetSecret retrieves one value from the secret.
func (sm *AWSSecretsManager) GetSecret(ctx context.Context, key string) (string, error) {
	secrets, err := sm.GetSecrets(ctx, []string{key})
	if err != nil {
		return "", err
	}

	val, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret key %s not found", key)
	}
	return val, nil
}

// GetSecrets retrieves the requested keys, serving from cache while it is
// fresh and complete.
func (sm *AWSSecretsManager) GetSecrets(ctx context.Context, keys []string) (map[string]string, error) {
	if cached, ok := sm.fromCache(keys); ok {
		return cached, nil
	}

	data, err := sm.fetch(ctx)
	if err != nil {
		return nil, err
	}

	found := make(map[string]string, len(keys))
	for _, key := range keys {
		val, ok := data[key]
		if !ok {
			sm.logger.Warn("secret key not found", slog.String("key", key))
			continue
		}
		found[key] = val
	}
	return found, nil
}

// RefreshSecrets drops the cache and fetches anew.
func (sm *AWSSecretsManager) RefreshSecrets(ctx context.Context) error {
	sm.mu.Lock()
	sm.cache = make(map[string]string)
	sm.lastFetch = time.Time{}
	sm.mu.Unlock()

	_, err := sm.fetch(ctx)
	return err
}

func (sm *AWSSecretsManager) fromCache(keys []string) (map[string]string, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if time.Since(sm.lastFetch) >= sm.ttl || len(sm.cache) == 0 {
		return nil, false
	}

	cached := make(map[string]string, len(keys))
	for _, key := range keys {
		val, ok := sm.cache[key]
		if !ok {
			return nil, false
		}
		cached[key] = val
	}
	return cached, true
}

func (sm *AWSSecretsManager) fetch(ctx context.Context) (map[string]string, error) {
	sm.logger.Info("fetching secrets",
		slog.String("secret_name", sm.secretName))

	result, err := sm.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(sm.secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret value: %w", err)
	}

	var data map[string]string
	if err := json.Unmarshal([]byte(aws.ToString(result.SecretString)), &data); err != nil {
		return nil, fmt.Errorf("parse secret JSON: %w", err)
	}

	sm.mu.Lock()
	sm.cache = data
	sm.lastFetch = time.Now()
	sm.mu.Unlock()

	return data, nil
}

// EnvSecretsManager serves secrets straight from environment variables, which
// is all a development laptop or CI runner needs.
type EnvSecretsManager struct{}

func NewEnvSecretsManager() *EnvSecretsManager {
	return &EnvSecretsManager{}
}

func (em *EnvSecretsManager) GetSecret(ctx context.Context, key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("environment variable %s not set", key)
	}
	return val, nil
}

func (em *EnvSecretsManager) GetSecrets(ctx context.Context, keys []string) (map[string]string, error) {
	secrets := make(map[string]string)
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			secrets[key] = val
		}
	}
	return secrets, nil
}

func (em *EnvSecretsManager) RefreshSecrets(ctx context.Context) error {
	return nil
}
