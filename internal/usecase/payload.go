package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"wa-bot/internal/domain"
)

// Delivery is a decoded webhook POST body. Order within each slice follows
// the order of the payload.
type Delivery struct {
	Messages []domain.InboundMessageEvent
	Statuses []domain.DeliveryStatusEvent
}

type webhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	MessagingProduct string        `json:"messaging_product"`
	Metadata         *wireMetadata `json:"metadata"`
	Contacts         []wireContact `json:"contacts"`
	Messages         []wireMessage `json:"messages"`
	Statuses         []wireStatus  `json:"statuses"`
}

type wireMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type wireContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type wireMessage struct {
	From        string           `json:"from"`
	ID          string           `json:"id"`
	Timestamp   string           `json:"timestamp"`
	Type        string           `json:"type"`
	Text        *wireText        `json:"text"`
	Interactive *wireInteractive `json:"interactive"`
	Button      *wireButton      `json:"button"`
	Image       *wireMedia       `json:"image"`
	Audio       *wireMedia       `json:"audio"`
	Video       *wireMedia       `json:"video"`
	Document    *wireMedia       `json:"document"`
	Sticker     *wireMedia       `json:"sticker"`
}

type wireText struct {
	Body string `json:"body"`
}

type wireInteractive struct {
	Type        string     `json:"type"`
	ButtonReply *wireReply `json:"button_reply"`
	ListReply   *wireReply `json:"list_reply"`
}

type wireReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type wireButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type wireMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type wireStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors"`
}

// DecodeDelivery turns a webhook body into typed events. Any missing required
// field rejects the whole body with ErrorValidation. Changes for fields other
// than "messages" are ignored.
func DecodeDelivery(raw []byte) (Delivery, error) {
	var env webhookEnvelope
	if err := decodeSingleJSON(raw, &env); err != nil {
		return Delivery{}, newError(ErrorValidation, "malformed_json", err)
	}
	var out Delivery
	for i, entry := range env.Entry {
		for j, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			where := fmt.Sprintf("entry[%d].changes[%d]", i, j)
			v := change.Value
			if len(v.Messages) == 0 && len(v.Statuses) == 0 {
				continue
			}
			if v.Metadata == nil || strings.TrimSpace(v.Metadata.PhoneNumberID) == "" {
				return Delivery{}, newError(ErrorValidation, "missing_phone_number_id", fmt.Errorf("%s.value.metadata.phone_number_id is required", where))
			}
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for k, m := range v.Messages {
				ev, err := decodeMessage(m, v.Metadata.PhoneNumberID, names)
				if err != nil {
					return Delivery{}, newError(ErrorValidation, "invalid_message", fmt.Errorf("%s.value.messages[%d]: %w", where, k, err))
				}
				out.Messages = append(out.Messages, ev)
			}
			for k, s := range v.Statuses {
				ev, err := decodeStatus(s)
				if err != nil {
					return Delivery{}, newError(ErrorValidation, "invalid_status", fmt.Errorf("%s.value.statuses[%d]: %w", where, k, err))
				}
				out.Statuses = append(out.Statuses, ev)
			}
		}
	}
	return out, nil
}

func decodeMessage(m wireMessage, channelID string, names map[string]string) (domain.InboundMessageEvent, error) {
	if m.ID == "" {
		return domain.InboundMessageEvent{}, errors.New("id is required")
	}
	if m.From == "" {
		return domain.InboundMessageEvent{}, errors.New("from is required")
	}
	if m.Type == "" {
		return domain.InboundMessageEvent{}, errors.New("type is required")
	}
	ts, err := parseUnixSeconds(m.Timestamp)
	if err != nil {
		return domain.InboundMessageEvent{}, err
	}
	ev := domain.InboundMessageEvent{
		ChannelID:  channelID,
		ChatID:     m.From,
		SenderID:   m.From,
		SenderName: names[m.From],
		MessageID:  m.ID,
		Timestamp:  ts,
		RawType:    m.Type,
	}
	switch m.Type {
	case "text":
		if m.Text == nil {
			return domain.InboundMessageEvent{}, errors.New("text body is required")
		}
		ev.Type = domain.MessageText
		ev.Text = m.Text.Body
	case "interactive":
		reply := interactiveReply(m.Interactive)
		if reply == nil || reply.ID == "" {
			return domain.InboundMessageEvent{}, errors.New("interactive reply id is required")
		}
		ev.Type = domain.MessageInteractive
		ev.ReplyID = reply.ID
		ev.ReplyTitle = reply.Title
	case "button":
		if m.Button == nil || m.Button.Payload == "" {
			return domain.InboundMessageEvent{}, errors.New("button payload is required")
		}
		ev.Type = domain.MessageButton
		ev.ReplyID = m.Button.Payload
		ev.ReplyTitle = m.Button.Text
	case "image", "audio", "video", "document", "sticker":
		media := mediaOf(m)
		if media == nil || media.ID == "" {
			return domain.InboundMessageEvent{}, fmt.Errorf("%s id is required", m.Type)
		}
		ev.Type = domain.MessageMedia
		ev.MediaID = media.ID
		ev.MediaMime = media.MimeType
		ev.MediaCaption = media.Caption
	case "reaction":
		ev.Type = domain.MessageReaction
	default:
		ev.Type = domain.MessageUnsupported
	}
	return ev, nil
}

func interactiveReply(in *wireInteractive) *wireReply {
	if in == nil {
		return nil
	}
	if in.ButtonReply != nil {
		return in.ButtonReply
	}
	return in.ListReply
}

func mediaOf(m wireMessage) *wireMedia {
	switch m.Type {
	case "image":
		return m.Image
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	case "document":
		return m.Document
	default:
		return m.Sticker
	}
}

func decodeStatus(s wireStatus) (domain.DeliveryStatusEvent, error) {
	if s.ID == "" {
		return domain.DeliveryStatusEvent{}, errors.New("id is required")
	}
	if s.Status == "" {
		return domain.DeliveryStatusEvent{}, errors.New("status is required")
	}
	ts, err := parseUnixSeconds(s.Timestamp)
	if err != nil {
		return domain.DeliveryStatusEvent{}, err
	}
	ev := domain.DeliveryStatusEvent{
		MessageID:   s.ID,
		RecipientID: s.RecipientID,
		Status:      domain.DeliveryStatus(strings.ToLower(s.Status)),
		Timestamp:   ts,
	}
	if len(s.Errors) > 0 {
		ev.ErrorCode = strconv.Itoa(s.Errors[0].Code)
	}
	return ev, nil
}

func parseUnixSeconds(v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, errors.New("timestamp is required")
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", v, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// decodeSingleJSON decodes exactly one JSON value from raw.
func decodeSingleJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(raw)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("decode: multiple JSON values")
		}
		return fmt.Errorf("decode trailing data: %w", err)
	}
	return nil
}
