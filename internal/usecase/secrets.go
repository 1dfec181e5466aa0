package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"wa-bot/internal/integrations/paramstore"
)

// Secrets is the credential material of the webhook and flow endpoints.
type Secrets struct {
	VerifyToken    string
	AppSecret      string
	FlowPrivateKey string
}

// SecretProvider yields the current Secrets.
type SecretProvider interface {
	Secrets(ctx context.Context) (Secrets, error)
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// SecretLoader reads Secrets from the parameter store on first use and keeps
// them for the lifetime of the process. A failed load is retried on the next
// call. The flow signing key is loaded on its own: a missing key is cached as
// absent, any other failure is retried.
type SecretLoader struct {
	params      ParamGetter
	paramPrefix string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	keyLoaded   bool
	secrets     Secrets
}

func NewSecretLoader(p ParamGetter, paramPrefix string) (*SecretLoader, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &SecretLoader{params: p, paramPrefix: paramPrefix}, nil
}

func (l *SecretLoader) Secrets(ctx context.Context) (Secrets, error) {
	l.cacheMu.RLock()
	if l.cacheLoaded && l.keyLoaded {
		s := l.secrets
		l.cacheMu.RUnlock()
		return s, nil
	}
	l.cacheMu.RUnlock()

	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	if !l.cacheLoaded {
		if err := l.loadWebhookSecrets(ctx); err != nil {
			return Secrets{}, err
		}
	}
	if !l.keyLoaded {
		l.loadSigningKey(ctx)
	}
	return l.secrets, nil
}

func (l *SecretLoader) loadWebhookSecrets(ctx context.Context) error {
	verifyName := l.paramPrefix + "/verify_token"
	appName := l.paramPrefix + "/app_secret"
	values, err := l.params.GetParameters(ctx, verifyName, appName)
	if err != nil {
		return fmt.Errorf("usecase: load secrets: %w", err)
	}
	verify := strings.TrimSpace(values[verifyName])
	app := strings.TrimSpace(values[appName])
	if verify == "" || app == "" {
		return errors.New("usecase: verify token and app secret must not be empty")
	}
	l.secrets.VerifyToken = verify
	l.secrets.AppSecret = app
	l.cacheLoaded = true
	return nil
}

// loadSigningKey never fails the call: without the key flow responses fail
// to sign while webhooks keep working.
func (l *SecretLoader) loadSigningKey(ctx context.Context) {
	key, err := l.params.GetParameter(ctx, l.paramPrefix+"/flow_private_key")
	switch {
	case err == nil:
		l.secrets.FlowPrivateKey = key
		l.keyLoaded = true
	case errors.Is(err, paramstore.ErrNotFound):
		Logger(ctx).Warn("flow signing key not configured", "err", err)
		l.keyLoaded = true
	default:
		Logger(ctx).Warn("flow signing key unavailable, will retry", "err", err)
	}
}
