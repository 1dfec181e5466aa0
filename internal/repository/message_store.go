package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"wa-bot/internal/domain"
)

const (
	skMessage  = "MSG"
	messageTTL = 30 * 24 * time.Hour // 30-day TTL
	maxContent = 4096
)

// MessageStore is the message ledger: inbound idempotency records, sent
// replies and their delivery status.
type MessageStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewMessageStore creates a MessageStore on tableName.
func NewMessageStore(api dynamodbAPI, tableName string) (*MessageStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &MessageStore{
		api:       api,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func msgPK(messageID string) string {
	return "MSG#" + messageID
}

// RecordInbound stores an inbound message the first time its id is seen and
// returns ErrDuplicate on every replay.
func (m *MessageStore) RecordInbound(ctx context.Context, ev domain.InboundMessageEvent) error {
	if strings.TrimSpace(ev.MessageID) == "" {
		return errors.New("repository: RecordInbound: message id is required")
	}
	now := m.now()
	item := map[string]types.AttributeValue{
		"PK":        str(msgPK(ev.MessageID)),
		"SK":        str(skMessage),
		"tenantId":  str(ev.TenantID),
		"chatId":    str(ev.ChatID),
		"direction": str(string(domain.DirectionInbound)),
		"type":      str(string(ev.Type)),
		"content":   str(truncate(inboundContent(ev), maxContent)),
		"createdAt": timeAttr(now),
		"ttl":       num(now.Add(messageTTL).Unix()),
	}
	_, err := m.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(m.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: RecordInbound %s: %w", ev.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("repository: RecordInbound: %w", err)
	}
	return nil
}

// RecordOutbound stores a sent reply with status "sent". A record created
// earlier under the same id is left untouched and ErrDuplicate is returned.
func (m *MessageStore) RecordOutbound(ctx context.Context, rec domain.MessageRecord) error {
	if strings.TrimSpace(rec.MessageID) == "" {
		return errors.New("repository: RecordOutbound: message id is required")
	}
	now := m.now()
	sentAt := now
	if rec.SentAt != nil {
		sentAt = *rec.SentAt
	}
	item := map[string]types.AttributeValue{
		"PK":         str(msgPK(rec.MessageID)),
		"SK":         str(skMessage),
		"tenantId":   str(rec.TenantID),
		"chatId":     str(rec.ChatID),
		"direction":  str(string(domain.DirectionOutbound)),
		"type":       str(rec.Type),
		"content":    str(truncate(rec.Content, maxContent)),
		"status":     str(string(domain.StatusSent)),
		"statusRank": num(int64(domain.StatusSent.Rank())),
		"sentAt":     timeAttr(sentAt),
		"createdAt":  timeAttr(now),
		"ttl":        num(now.Add(messageTTL).Unix()),
	}
	_, err := m.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(m.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: RecordOutbound %s: %w", rec.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("repository: RecordOutbound: %w", err)
	}
	return nil
}

// ApplyStatus records a delivery status callback. The timestamp of each
// status is written once and never cleared; the status attribute only moves
// forward (sent < delivered < read < failed), so out-of-order callbacks
// cannot regress it. Unknown message ids return ErrNotFound.
func (m *MessageStore) ApplyStatus(ctx context.Context, ev domain.DeliveryStatusEvent) error {
	if !ev.Status.Valid() {
		return fmt.Errorf("repository: ApplyStatus: unknown status %q", ev.Status)
	}
	tsAttr := statusTimeAttr(ev.Status)
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}

	update := "SET #ts = if_not_exists(#ts, :ts)"
	names := map[string]string{"#ts": tsAttr}
	values := map[string]types.AttributeValue{":ts": timeAttr(ts)}
	if ev.Status == domain.StatusFailed && ev.ErrorCode != "" {
		update += ", #ec = if_not_exists(#ec, :ec)"
		names["#ec"] = "errorCode"
		values[":ec"] = str(ev.ErrorCode)
	}
	_, err := m.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(m.tableName),
		Key:                       itemKey(msgPK(ev.MessageID), skMessage),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: ApplyStatus %s: %w", ev.MessageID, ErrNotFound)
		}
		return fmt.Errorf("repository: ApplyStatus timestamp: %w", err)
	}

	_, err = m.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.tableName),
		Key:                 itemKey(msgPK(ev.MessageID), skMessage),
		UpdateExpression:    aws.String("SET #st = :st, #rank = :rank"),
		ConditionExpression: aws.String("attribute_not_exists(#rank) OR #rank < :rank"),
		ExpressionAttributeNames: map[string]string{
			"#st":   "status",
			"#rank": "statusRank",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st":   str(string(ev.Status)),
			":rank": num(int64(ev.Status.Rank())),
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("repository: ApplyStatus status: %w", err)
	}
	return nil
}

// GetMessage loads a message record by provider id.
func (m *MessageStore) GetMessage(ctx context.Context, messageID string) (domain.MessageRecord, error) {
	out, err := m.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(m.tableName),
		Key:       itemKey(msgPK(messageID), skMessage),
	})
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("repository: GetMessage: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.MessageRecord{}, ErrNotFound
	}
	return itemToMessage(messageID, out.Item)
}

func itemToMessage(messageID string, item map[string]types.AttributeValue) (domain.MessageRecord, error) {
	createdAt, err := timeFromAttr(item, "createdAt")
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("repository: GetMessage decode: %w", err)
	}
	rec := domain.MessageRecord{
		MessageID: messageID,
		TenantID:  optStrAttr(item, "tenantId"),
		ChatID:    optStrAttr(item, "chatId"),
		Direction: domain.Direction(optStrAttr(item, "direction")),
		Type:      optStrAttr(item, "type"),
		Content:   optStrAttr(item, "content"),
		Status:    domain.DeliveryStatus(optStrAttr(item, "status")),
		ErrorCode: optStrAttr(item, "errorCode"),
		CreatedAt: createdAt,
	}
	for attr, dst := range map[string]**time.Time{
		"sentAt":      &rec.SentAt,
		"deliveredAt": &rec.DeliveredAt,
		"readAt":      &rec.ReadAt,
		"failedAt":    &rec.FailedAt,
	} {
		t, err := optTimeAttr(item, attr)
		if err != nil {
			return domain.MessageRecord{}, fmt.Errorf("repository: GetMessage decode: %w", err)
		}
		*dst = t
	}
	return rec, nil
}

func statusTimeAttr(s domain.DeliveryStatus) string {
	switch s {
	case domain.StatusDelivered:
		return "deliveredAt"
	case domain.StatusRead:
		return "readAt"
	case domain.StatusFailed:
		return "failedAt"
	default:
		return "sentAt"
	}
}

func inboundContent(ev domain.InboundMessageEvent) string {
	switch {
	case ev.Text != "":
		return ev.Text
	case ev.ReplyTitle != "":
		return ev.ReplyTitle
	case ev.MediaCaption != "":
		return ev.MediaCaption
	case ev.MediaID != "":
		return ev.MediaID
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
