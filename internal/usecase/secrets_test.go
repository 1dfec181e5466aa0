package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"wa-bot/internal/integrations/paramstore"
)

type fakeParams struct {
	values map[string]string
	err    error
	calls  int
	names  []string

	keyErrs  []error
	keyCalls int
}

func (f *fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	f.keyCalls++
	if len(f.keyErrs) > 0 {
		err := f.keyErrs[0]
		f.keyErrs = f.keyErrs[1:]
		return "", err
	}
	v, ok := f.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", paramstore.ErrNotFound, name)
	}
	return v, nil
}

func (f *fakeParams) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	f.calls++
	f.names = names
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, n := range names {
		out[n] = f.values[n]
	}
	return out, nil
}

func TestNewSecretLoader_Validates(t *testing.T) {
	_, err := NewSecretLoader(nil, "/wa-bot")
	require.Error(t, err)
	_, err = NewSecretLoader(&fakeParams{}, " / ")
	require.Error(t, err)
}

func TestSecretLoader_LoadsOnceWithPrefix(t *testing.T) {
	p := &fakeParams{values: map[string]string{
		"/wa-bot/prod/verify_token":     " verify ",
		"/wa-bot/prod/app_secret":       "secret",
		"/wa-bot/prod/flow_private_key": "PEM",
	}}
	l, err := NewSecretLoader(p, "/wa-bot/prod/")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s, err := l.Secrets(context.Background())
		require.NoError(t, err)
		require.Equal(t, Secrets{VerifyToken: "verify", AppSecret: "secret", FlowPrivateKey: "PEM"}, s)
	}
	require.Equal(t, 1, p.calls)
	require.Equal(t, 1, p.keyCalls)
	require.Equal(t, []string{"/wa-bot/prod/verify_token", "/wa-bot/prod/app_secret"}, p.names)
}

func TestSecretLoader_SigningKeyOptional(t *testing.T) {
	p := &fakeParams{values: map[string]string{"/wa-bot/verify_token": "v", "/wa-bot/app_secret": "a"}}
	l, err := NewSecretLoader(p, "/wa-bot")
	require.NoError(t, err)

	s, err := l.Secrets(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", s.AppSecret)
	require.Empty(t, s.FlowPrivateKey)

	// A key that does not exist is not looked up again.
	_, err = l.Secrets(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.keyCalls)
}

func TestSecretLoader_RetriesSigningKeyAfterTransientError(t *testing.T) {
	p := &fakeParams{
		values: map[string]string{
			"/wa-bot/verify_token":     "v",
			"/wa-bot/app_secret":       "a",
			"/wa-bot/flow_private_key": "PEM",
		},
		keyErrs: []error{errors.New("ThrottlingException: rate exceeded")},
	}
	l, err := NewSecretLoader(p, "/wa-bot")
	require.NoError(t, err)

	s, err := l.Secrets(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v", s.VerifyToken)
	require.Empty(t, s.FlowPrivateKey)

	s, err = l.Secrets(context.Background())
	require.NoError(t, err)
	require.Equal(t, "PEM", s.FlowPrivateKey)
	require.Equal(t, 2, p.keyCalls)
	require.Equal(t, 1, p.calls)

	_, err = l.Secrets(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, p.keyCalls)
}

func TestSecretLoader_RetriesAfterFailure(t *testing.T) {
	p := &fakeParams{err: errors.New("throttled")}
	l, err := NewSecretLoader(p, "/wa-bot")
	require.NoError(t, err)

	_, err = l.Secrets(context.Background())
	require.Error(t, err)

	p.err = nil
	p.values = map[string]string{"/wa-bot/verify_token": "v", "/wa-bot/app_secret": "a"}
	s, err := l.Secrets(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", s.AppSecret)
	require.Equal(t, 2, p.calls)
}

func TestSecretLoader_RejectsEmptySecrets(t *testing.T) {
	p := &fakeParams{values: map[string]string{"/wa-bot/verify_token": "v"}}
	l, err := NewSecretLoader(p, "/wa-bot")
	require.NoError(t, err)

	_, err = l.Secrets(context.Background())
	require.Error(t, err)
}
