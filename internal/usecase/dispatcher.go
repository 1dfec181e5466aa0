package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"wa-bot/internal/domain"
	"wa-bot/internal/integrations/mediastore"
	"wa-bot/internal/intent"
	"wa-bot/internal/metrics"
	"wa-bot/internal/repository"
	"wa-bot/internal/signature"
)

// Reply button ids understood by the dispatcher.
const (
	buttonConfirmYes   = "confirm_yes"
	buttonConfirmNo    = "confirm_no"
	buttonOptInYes     = "opt_in_yes"
	buttonOptInNo      = "opt_in_no"
	buttonLoanReturned = "loan_returned"
	buttonPaidCash     = "paid_cash"
)

type StateStore interface {
	GetActive(ctx context.Context, tenantID, chatID string) (domain.ConversationState, error)
	CreateOrReplace(ctx context.Context, tenantID, chatID string, init domain.StateInit) (domain.ConversationState, error)
	Transition(ctx context.Context, current domain.ConversationState, next domain.Step, patch map[string]any) (domain.ConversationState, error)
	Cancel(ctx context.Context, tenantID, chatID string) error
}

type MessageStore interface {
	RecordInbound(ctx context.Context, ev domain.InboundMessageEvent) error
	RecordOutbound(ctx context.Context, rec domain.MessageRecord) error
	ApplyStatus(ctx context.Context, ev domain.DeliveryStatusEvent) error
}

type TenantResolver interface {
	Resolve(ctx context.Context, channelID string) (domain.TenantConfig, error)
}

// Messenger delivers replies and fetches inbound media on behalf of a tenant.
type Messenger interface {
	SendMessage(ctx context.Context, tenant domain.TenantConfig, msg domain.OutboundMessage) (string, error)
	DownloadMedia(ctx context.Context, tenant domain.TenantConfig, mediaID string) (domain.Media, error)
}

type MediaArchiver interface {
	Store(ctx context.Context, key mediastore.Key, m domain.Media) (string, error)
}

// Summary is the per-delivery result returned to the webhook sender.
type Summary struct {
	Success           bool
	ProcessedMessages int
	ProcessedStatuses int
	FailedItems       int
}

type Dispatcher struct {
	secrets   SecretProvider
	states    StateStore
	messages  MessageStore
	tenants   TenantResolver
	messenger Messenger
	archive   MediaArchiver
	metrics   *metrics.Metrics
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

// WithMediaArchive stores downloaded inbound media. Without it media is
// acknowledged but not kept.
func WithMediaArchive(a MediaArchiver) DispatcherOption {
	return func(d *Dispatcher) {
		d.archive = a
	}
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithDispatcherClock overrides the clock used for relative dates.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(secrets SecretProvider, states StateStore, messages MessageStore, tenants TenantResolver, messenger Messenger, opts ...DispatcherOption) (*Dispatcher, error) {
	if secrets == nil {
		return nil, errors.New("usecase: secret provider must not be nil")
	}
	if states == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if messages == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if tenants == nil {
		return nil, errors.New("usecase: tenant resolver must not be nil")
	}
	if messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	d := &Dispatcher{
		secrets:   secrets,
		states:    states,
		messages:  messages,
		tenants:   tenants,
		messenger: messenger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Verify answers the subscription handshake. It returns the challenge when
// mode is "subscribe" and token matches the configured verify token.
func (d *Dispatcher) Verify(ctx context.Context, mode, token, challenge string) (string, error) {
	sec, err := d.secrets.Secrets(ctx)
	if err != nil {
		return "", newError(ErrorInternal, "secrets_load_error", err)
	}
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(sec.VerifyToken)) != 1 {
		return "", newError(ErrorAuthentication, "verify_token_mismatch", nil)
	}
	return challenge, nil
}

// Dispatch authenticates and processes one webhook delivery. Items are
// handled in order and a failing item never stops the ones after it.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, signatureHeader string) (Summary, error) {
	defer d.metrics.ObserveDispatch(time.Now())
	log := Logger(ctx)

	sec, err := d.secrets.Secrets(ctx)
	if err != nil {
		d.metrics.Delivery("error")
		return Summary{}, newError(ErrorInternal, "secrets_load_error", err)
	}
	if !signature.Validate(raw, signatureHeader, sec.AppSecret) {
		d.metrics.SignatureFailure()
		d.metrics.Delivery("unauthenticated")
		return Summary{}, newError(ErrorAuthentication, "invalid_signature", nil)
	}

	delivery, err := DecodeDelivery(raw)
	if err != nil {
		d.metrics.Delivery("invalid")
		return Summary{}, err
	}

	sum := Summary{Success: true}
	for _, ev := range delivery.Messages {
		processed, err := d.handleMessage(ctx, ev)
		if err != nil {
			code := CodeOf(err)
			sum.FailedItems++
			d.metrics.ItemFailure("message", string(code))
			log.Error("message processing failed", "message_id", ev.MessageID, "tenant_id", ev.TenantID, "code", code, "err", err)
			continue
		}
		if processed {
			sum.ProcessedMessages++
			d.metrics.Message(string(ev.Type))
		}
	}
	for _, ev := range delivery.Statuses {
		if err := d.applyStatus(ctx, ev); err != nil {
			code := CodeOf(err)
			sum.FailedItems++
			d.metrics.ItemFailure("status", string(code))
			log.Error("status processing failed", "message_id", ev.MessageID, "status", ev.Status, "code", code, "err", err)
			continue
		}
		sum.ProcessedStatuses++
		d.metrics.Status(string(ev.Status))
	}
	d.metrics.Delivery("ok")
	return sum, nil
}

// handleMessage reports false for a replayed message.
func (d *Dispatcher) handleMessage(ctx context.Context, ev domain.InboundMessageEvent) (bool, error) {
	tenant, err := d.tenants.Resolve(ctx, ev.ChannelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, newError(ErrorValidation, "unknown_channel", err)
		}
		return false, newError(ErrorStorage, "tenant_lookup_error", err)
	}
	ev.TenantID = tenant.TenantID

	if err := d.messages.RecordInbound(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			Logger(ctx).Info("duplicate message skipped", "message_id", ev.MessageID, "tenant_id", ev.TenantID)
			return false, nil
		}
		return false, newError(ErrorStorage, "record_inbound_error", err)
	}

	reply, err := d.respond(ctx, tenant, ev)
	if err != nil && CodeOf(err) == ErrorStorage {
		reply = textReply(replyGeneric)
	}
	if reply.Text != "" {
		d.send(ctx, tenant, ev, reply)
	}
	return err == nil, err
}

func (d *Dispatcher) respond(ctx context.Context, tenant domain.TenantConfig, ev domain.InboundMessageEvent) (domain.OutboundMessage, error) {
	switch ev.Type {
	case domain.MessageText:
		return d.onText(ctx, ev)
	case domain.MessageInteractive, domain.MessageButton:
		return d.onButton(ctx, ev)
	case domain.MessageMedia:
		return d.onMedia(ctx, tenant, ev), nil
	case domain.MessageReaction:
		return domain.OutboundMessage{}, nil
	default:
		return textReply(replyUnsupported), nil
	}
}

func (d *Dispatcher) onText(ctx context.Context, ev domain.InboundMessageEvent) (domain.OutboundMessage, error) {
	if cmd, ok := intent.DetectCommand(ev.Text); ok {
		return d.onCommand(ctx, cmd, ev)
	}
	st, found, err := d.activeState(ctx, ev)
	if err != nil {
		return domain.OutboundMessage{}, err
	}
	if !found || st.Flow == domain.FlowNone {
		return d.startFlow(ctx, ev, intent.Classify(ev.Text))
	}
	return d.advanceFlow(ctx, st, ev.Text)
}

func (d *Dispatcher) onCommand(ctx context.Context, cmd intent.Command, ev domain.InboundMessageEvent) (domain.OutboundMessage, error) {
	switch cmd {
	case intent.CommandGreeting:
		st, found, err := d.activeState(ctx, ev)
		if err != nil {
			return domain.OutboundMessage{}, err
		}
		if found {
			Logger(ctx).Info("greeting kept active state", "tenant_id", ev.TenantID, "state", st.Label())
			return textReply(welcomeReply()), nil
		}
		if _, err := d.states.CreateOrReplace(ctx, ev.TenantID, ev.ChatID, domain.StateInit{
			UserID: ev.SenderID,
			Step:   domain.StepAwaitingIntent,
		}); err != nil {
			return domain.OutboundMessage{}, newError(ErrorStorage, "state_create_error", err)
		}
		return textReply(welcomeReply()), nil
	case intent.CommandHelp:
		return textReply(helpReply()), nil
	case intent.CommandCancel:
		if err := d.states.Cancel(ctx, ev.TenantID, ev.ChatID); err != nil {
			return domain.OutboundMessage{}, newError(ErrorStorage, "state_cancel_error", err)
		}
		return textReply(replyCancelled), nil
	case intent.CommandStatus:
		st, found, err := d.activeState(ctx, ev)
		if err != nil {
			return domain.OutboundMessage{}, err
		}
		if !found {
			return textReply(replyNoState), nil
		}
		return textReply(statusReply(st)), nil
	default:
		return textReply(helpReply()), nil
	}
}

func (d *Dispatcher) startFlow(ctx context.Context, ev domain.InboundMessageEvent, in intent.Intent) (domain.OutboundMessage, error) {
	d.metrics.Intent(string(in))
	init := domain.StateInit{UserID: ev.SenderID, Step: domain.StepAwaitingIntent}
	reply := textReply(unsureReply())
	if flow, ok := intentFlows[in]; ok {
		first, prompt, _ := startPrompt(flow)
		init.Flow = flow
		init.Step = first
		reply = stepReply(first, prompt)
	}
	if _, err := d.states.CreateOrReplace(ctx, ev.TenantID, ev.ChatID, init); err != nil {
		return domain.OutboundMessage{}, newError(ErrorStorage, "state_create_error", err)
	}
	return reply, nil
}

func (d *Dispatcher) advanceFlow(ctx context.Context, st domain.ConversationState, input string) (domain.OutboundMessage, error) {
	out := advance(st, input, d.now())
	if !out.valid {
		return stepReply(st.Step, out.reply), nil
	}
	if out.completed || out.abandoned {
		if err := d.states.Cancel(ctx, st.TenantID, st.ChatID); err != nil {
			return domain.OutboundMessage{}, newError(ErrorStorage, "state_cancel_error", err)
		}
		Logger(ctx).Info("flow finished", "tenant_id", st.TenantID, "state", st.Label(), "completed", out.completed)
		return textReply(out.reply), nil
	}
	if _, err := d.states.Transition(ctx, st, out.next, out.patch); err != nil {
		return domain.OutboundMessage{}, newError(ErrorStorage, "state_transition_error", err)
	}
	return stepReply(out.next, out.reply), nil
}

func (d *Dispatcher) onButton(ctx context.Context, ev domain.InboundMessageEvent) (domain.OutboundMessage, error) {
	switch ev.ReplyID {
	case buttonConfirmYes, buttonConfirmNo:
		st, found, err := d.activeState(ctx, ev)
		if err != nil {
			return domain.OutboundMessage{}, err
		}
		if !found || st.Step != domain.StepConfirming {
			return textReply(replyNoState), nil
		}
		answer := "si"
		if ev.ReplyID == buttonConfirmNo {
			answer = "no"
		}
		return d.advanceFlow(ctx, st, answer)
	case buttonOptInYes:
		return textReply(replyOptInYes), nil
	case buttonOptInNo:
		return textReply(replyOptInNo), nil
	case buttonLoanReturned:
		return textReply(replyLoanReturn), nil
	case buttonPaidCash:
		return textReply(replyPaidCash), nil
	default:
		return textReply(replyUnknownBtn), nil
	}
}

// onMedia never fails the item: download and archive problems are answered
// in the chat.
func (d *Dispatcher) onMedia(ctx context.Context, tenant domain.TenantConfig, ev domain.InboundMessageEvent) domain.OutboundMessage {
	log := Logger(ctx).With("message_id", ev.MessageID, "tenant_id", ev.TenantID)
	media, err := d.messenger.DownloadMedia(ctx, tenant, ev.MediaID)
	if err != nil {
		log.Warn("media download failed", "media_id", ev.MediaID, "err", err)
		return textReply(replyMediaFailed)
	}
	if d.archive == nil {
		return textReply(replyMediaSaved)
	}
	location, err := d.archive.Store(ctx, mediastore.Key{TenantID: ev.TenantID, ChatID: ev.ChatID, MessageID: ev.MessageID}, media)
	if err != nil {
		log.Error("media archive failed", "code", ErrorStorage, "err", err)
		return textReply(replyMediaFailed)
	}
	if location == "" {
		return textReply(replyMediaSaved)
	}
	st, found, err := d.activeState(ctx, ev)
	if err == nil && found {
		_, err = d.states.Transition(ctx, st, st.Step, map[string]any{ctxLastMedia: location})
	}
	if err != nil {
		log.Warn("media location not kept in state", "err", err)
	}
	return textReply(replyMediaSaved)
}

func (d *Dispatcher) activeState(ctx context.Context, ev domain.InboundMessageEvent) (domain.ConversationState, bool, error) {
	st, err := d.states.GetActive(ctx, ev.TenantID, ev.ChatID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ConversationState{}, false, nil
	}
	if err != nil {
		return domain.ConversationState{}, false, newError(ErrorStorage, "state_load_error", err)
	}
	return st, true, nil
}

// send delivers a reply and records it. Failures are logged only.
func (d *Dispatcher) send(ctx context.Context, tenant domain.TenantConfig, ev domain.InboundMessageEvent, msg domain.OutboundMessage) {
	log := Logger(ctx).With("message_id", ev.MessageID, "tenant_id", tenant.TenantID)
	msg.To = ev.SenderID
	id, err := d.messenger.SendMessage(ctx, tenant, msg)
	if err != nil {
		d.metrics.Reply("failed")
		log.Error("reply delivery failed", "code", ErrorDelivery, "err", err)
		return
	}
	d.metrics.Reply("sent")
	err = d.messages.RecordOutbound(ctx, domain.MessageRecord{
		MessageID: id,
		TenantID:  tenant.TenantID,
		ChatID:    ev.ChatID,
		Direction: domain.DirectionOutbound,
		Type:      string(msg.Kind),
		Content:   msg.Text,
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		log.Warn("outbound record failed", "reply_id", id, "err", err)
	}
}

func (d *Dispatcher) applyStatus(ctx context.Context, ev domain.DeliveryStatusEvent) error {
	if !ev.Status.Valid() {
		return newError(ErrorValidation, "unknown_status", fmt.Errorf("status %q", ev.Status))
	}
	if err := d.messages.ApplyStatus(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrorValidation, "unknown_message", err)
		}
		return newError(ErrorStorage, "status_update_error", err)
	}
	return nil
}

func textReply(text string) domain.OutboundMessage {
	return domain.OutboundMessage{Kind: domain.OutboundText, Text: text}
}

// stepReply attaches the confirmation buttons to confirming prompts.
func stepReply(step domain.Step, text string) domain.OutboundMessage {
	if step != domain.StepConfirming {
		return textReply(text)
	}
	return domain.OutboundMessage{Kind: domain.OutboundInteractive, Text: text, Buttons: confirmationButtons}
}
