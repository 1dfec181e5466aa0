package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wa-bot/internal/domain"
	"wa-bot/internal/integrations/mediastore"
	"wa-bot/internal/repository"
)

const (
	testAppSecret   = "app-secret"
	testVerifyToken = "verify-me"
	testChannel     = "PHONE_1"
	testTenant      = "tenant-1"
	testUser        = "5491100000000"
)

type staticSecrets Secrets

func (s staticSecrets) Secrets(context.Context) (Secrets, error) {
	return Secrets(s), nil
}

func testSecrets() staticSecrets {
	return staticSecrets{VerifyToken: testVerifyToken, AppSecret: testAppSecret}
}

type fakeStates struct {
	mu      sync.Mutex
	now     func() time.Time
	states  map[string]domain.ConversationState
	calls   int
	getErr  error
	saveErr error
}

func newFakeStates(now func() time.Time) *fakeStates {
	return &fakeStates{now: now, states: map[string]domain.ConversationState{}}
}

func (f *fakeStates) key(tenantID, chatID string) string { return tenantID + "#" + chatID }

func (f *fakeStates) GetActive(_ context.Context, tenantID, chatID string) (domain.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.getErr != nil {
		return domain.ConversationState{}, f.getErr
	}
	st, ok := f.states[f.key(tenantID, chatID)]
	if !ok || !st.ActiveAt(f.now()) {
		return domain.ConversationState{}, repository.ErrNotFound
	}
	return st, nil
}

func (f *fakeStates) CreateOrReplace(_ context.Context, tenantID, chatID string, init domain.StateInit) (domain.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.saveErr != nil {
		return domain.ConversationState{}, f.saveErr
	}
	now := f.now()
	ctx := map[string]any{}
	for k, v := range init.Context {
		ctx[k] = v
	}
	st := domain.ConversationState{
		ID:        fmt.Sprintf("state-%d", f.calls),
		TenantID:  tenantID,
		ChatID:    chatID,
		UserID:    init.UserID,
		Flow:      init.Flow,
		Step:      init.Step,
		Context:   ctx,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	f.states[f.key(tenantID, chatID)] = st
	return st, nil
}

func (f *fakeStates) Transition(_ context.Context, current domain.ConversationState, next domain.Step, patch map[string]any) (domain.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.saveErr != nil {
		return domain.ConversationState{}, f.saveErr
	}
	k := f.key(current.TenantID, current.ChatID)
	st, ok := f.states[k]
	if !ok || st.ID != current.ID || st.Version != current.Version {
		return domain.ConversationState{}, repository.ErrStateConflict
	}
	ctx := map[string]any{}
	for k, v := range st.Context {
		ctx[k] = v
	}
	for k, v := range patch {
		ctx[k] = v
	}
	st.Context = ctx
	st.Step = next
	st.Version++
	st.UpdatedAt = f.now()
	st.ExpiresAt = st.UpdatedAt.Add(time.Hour)
	f.states[k] = st
	return st, nil
}

func (f *fakeStates) Cancel(_ context.Context, tenantID, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.saveErr != nil {
		return f.saveErr
	}
	k := f.key(tenantID, chatID)
	if st, ok := f.states[k]; ok && st.ActiveAt(f.now()) {
		st.ExpiresAt = f.now()
		f.states[k] = st
	}
	return nil
}

func (f *fakeStates) active(tenantID, chatID string) (domain.ConversationState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[f.key(tenantID, chatID)]
	if !ok || !st.ActiveAt(f.now()) {
		return domain.ConversationState{}, false
	}
	return st, true
}

type fakeMessages struct {
	mu        sync.Mutex
	inbound   map[string]domain.InboundMessageEvent
	outbound  []domain.MessageRecord
	statuses  map[string]domain.DeliveryStatus
	calls     int
	inboundFn func(ev domain.InboundMessageEvent) error
	statusErr error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		inbound:  map[string]domain.InboundMessageEvent{},
		statuses: map[string]domain.DeliveryStatus{},
	}
}

func (f *fakeMessages) RecordInbound(_ context.Context, ev domain.InboundMessageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.inboundFn != nil {
		if err := f.inboundFn(ev); err != nil {
			return err
		}
	}
	if _, ok := f.inbound[ev.MessageID]; ok {
		return fmt.Errorf("record %s: %w", ev.MessageID, repository.ErrDuplicate)
	}
	f.inbound[ev.MessageID] = ev
	return nil
}

func (f *fakeMessages) RecordOutbound(_ context.Context, rec domain.MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.outbound = append(f.outbound, rec)
	f.statuses[rec.MessageID] = domain.StatusSent
	return nil
}

func (f *fakeMessages) ApplyStatus(_ context.Context, ev domain.DeliveryStatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.statusErr != nil {
		return f.statusErr
	}
	cur, ok := f.statuses[ev.MessageID]
	if !ok {
		return repository.ErrNotFound
	}
	if ev.Status.Rank() > cur.Rank() {
		f.statuses[ev.MessageID] = ev.Status
	}
	return nil
}

type fakeTenants struct {
	calls int
	err   error
}

func (f *fakeTenants) Resolve(_ context.Context, channelID string) (domain.TenantConfig, error) {
	f.calls++
	if f.err != nil {
		return domain.TenantConfig{}, f.err
	}
	if channelID != testChannel {
		return domain.TenantConfig{}, fmt.Errorf("channel %s: %w", channelID, repository.ErrNotFound)
	}
	return domain.TenantConfig{TenantID: testTenant, PhoneNumberID: testChannel, AccessToken: "token"}, nil
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []domain.OutboundMessage
	sendErr  error
	media    domain.Media
	mediaErr error
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ domain.TenantConfig, msg domain.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("wamid.out-%d", len(f.sent)), nil
}

func (f *fakeMessenger) DownloadMedia(_ context.Context, _ domain.TenantConfig, mediaID string) (domain.Media, error) {
	if f.mediaErr != nil {
		return domain.Media{}, f.mediaErr
	}
	m := f.media
	m.ID = mediaID
	return m, nil
}

func (f *fakeMessenger) last() domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return domain.OutboundMessage{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeArchive struct {
	keys []mediastore.Key
	err  error
}

func (f *fakeArchive) Store(_ context.Context, key mediastore.Key, _ domain.Media) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "s3://bucket/" + mediastore.ObjectKey(key, "image/jpeg"), nil
}
