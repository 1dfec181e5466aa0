package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"wa-bot/internal/domain"
)

const (
	skState = "STATE"
	// DefaultStateTTL is the lifetime of a conversation state since its last
	// write.
	DefaultStateTTL = time.Hour
)

// StateStore keeps one conversation state item per (tenant, chat) pair. The
// pair is the item key, so a put always replaces the previous state and at
// most one state can be active for a chat.
type StateStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
	newID     func() string
}

// StateOption configures a StateStore.
type StateOption func(*StateStore)

// WithStateTTL overrides DefaultStateTTL.
func WithStateTTL(ttl time.Duration) StateOption {
	return func(s *StateStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) StateOption {
	return func(s *StateStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStateStore creates a StateStore on tableName.
func NewStateStore(api dynamodbAPI, tableName string, opts ...StateOption) (*StateStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &StateStore{
		api:       api,
		tableName: tableName,
		ttl:       DefaultStateTTL,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func chatPK(tenantID, chatID string) string {
	return "CHAT#" + tenantID + "#" + chatID
}

// GetActive returns the active state of a chat, or ErrNotFound when there is
// none. Expired items still present in the table are treated as absent.
func (s *StateStore) GetActive(ctx context.Context, tenantID, chatID string) (domain.ConversationState, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(chatPK(tenantID, chatID), skState),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: GetActive get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationState{}, ErrNotFound
	}
	state, err := itemToState(out.Item)
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: GetActive decode: %w", err)
	}
	if !state.ActiveAt(s.now()) {
		return domain.ConversationState{}, ErrNotFound
	}
	return state, nil
}

// CreateOrReplace installs a fresh state for the chat, superseding any
// previous one. Concurrent calls resolve to the last writer.
func (s *StateStore) CreateOrReplace(ctx context.Context, tenantID, chatID string, init domain.StateInit) (domain.ConversationState, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(chatID) == "" {
		return domain.ConversationState{}, errors.New("repository: CreateOrReplace: tenant and chat are required")
	}
	now := s.now()
	state := domain.ConversationState{
		ID:        s.newID(),
		TenantID:  tenantID,
		ChatID:    chatID,
		UserID:    init.UserID,
		Flow:      init.Flow,
		Step:      init.Step,
		Context:   mergeContext(nil, init.Context),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	item, err := stateItem(state)
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: CreateOrReplace: %w", err)
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: CreateOrReplace: %w", err)
	}
	return state, nil
}

// Transition moves current to next, merging patch into its context (patch
// wins on conflicts). Expiry slides to a full TTL window from now. The write
// only succeeds if current is still the stored, active version; otherwise
// ErrStateConflict is returned.
func (s *StateStore) Transition(ctx context.Context, current domain.ConversationState, next domain.Step, patch map[string]any) (domain.ConversationState, error) {
	now := s.now()
	updated := current
	updated.Step = next
	updated.Context = mergeContext(current.Context, patch)
	updated.Version = current.Version + 1
	updated.UpdatedAt = now
	updated.ExpiresAt = now.Add(s.ttl)

	item, err := stateItem(updated)
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: Transition: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("#id = :id AND #ver = :ver AND #exp > :now"),
		ExpressionAttributeNames: map[string]string{
			"#id":  "id",
			"#ver": "version",
			"#exp": "expiresAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":  str(current.ID),
			":ver": num(int64(current.Version)),
			":now": num(now.UnixMilli()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.ConversationState{}, fmt.Errorf("repository: Transition %s: %w", current.ID, ErrStateConflict)
		}
		return domain.ConversationState{}, fmt.Errorf("repository: Transition: %w", err)
	}
	return updated, nil
}

// Cancel logically expires the active state of a chat; the item is left for
// the sweeper. It is a no-op when no state is active.
func (s *StateStore) Cancel(ctx context.Context, tenantID, chatID string) error {
	now := s.now()
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 itemKey(chatPK(tenantID, chatID), skState),
		UpdateExpression:    aws.String("SET #exp = :now, #upd = :updated"),
		ConditionExpression: aws.String("#exp > :now"),
		ExpressionAttributeNames: map[string]string{
			"#exp": "expiresAt",
			"#upd": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":     num(now.UnixMilli()),
			":updated": timeAttr(now),
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("repository: Cancel: %w", err)
	}
	return nil
}

// SweepExpired deletes every expired state item and returns how many were
// removed. Each delete re-checks expiry, so a state refreshed after the scan
// survives.
func (s *StateStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	deleted := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.tableName),
			FilterExpression:     aws.String("#sk = :sk AND #exp <= :now"),
			ProjectionExpression: aws.String("#pk, #sk"),
			ExpressionAttributeNames: map[string]string{
				"#pk":  "PK",
				"#sk":  "SK",
				"#exp": "expiresAt",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sk":  str(skState),
				":now": num(now.UnixMilli()),
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("repository: SweepExpired scan: %w", err)
		}
		for _, item := range out.Items {
			pk, err := strAttr(item, "PK")
			if err != nil {
				return deleted, fmt.Errorf("repository: SweepExpired decode: %w", err)
			}
			_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                aws.String(s.tableName),
				Key:                      itemKey(pk, skState),
				ConditionExpression:      aws.String("#exp <= :now"),
				ExpressionAttributeNames: map[string]string{"#exp": "expiresAt"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now": num(now.UnixMilli()),
				},
			})
			if err != nil {
				if isConditionFailed(err) {
					continue
				}
				return deleted, fmt.Errorf("repository: SweepExpired delete %s: %w", pk, err)
			}
			deleted++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return deleted, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func mergeContext(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func stateItem(st domain.ConversationState) (map[string]types.AttributeValue, error) {
	ctxJSON, err := json.Marshal(st.Context)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":        str(chatPK(st.TenantID, st.ChatID)),
		"SK":        str(skState),
		"id":        str(st.ID),
		"tenantId":  str(st.TenantID),
		"chatId":    str(st.ChatID),
		"userId":    str(st.UserID),
		"flow":      str(string(st.Flow)),
		"step":      str(string(st.Step)),
		"context":   str(string(ctxJSON)),
		"version":   num(int64(st.Version)),
		"createdAt": timeAttr(st.CreatedAt),
		"updatedAt": timeAttr(st.UpdatedAt),
		"expiresAt": num(st.ExpiresAt.UnixMilli()),
		"ttl":       num(st.ExpiresAt.Unix()),
	}, nil
}

func itemToState(item map[string]types.AttributeValue) (domain.ConversationState, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.ConversationState{}, err
	}
	tenantID, err := strAttr(item, "tenantId")
	if err != nil {
		return domain.ConversationState{}, err
	}
	chatID, err := strAttr(item, "chatId")
	if err != nil {
		return domain.ConversationState{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.ConversationState{}, err
	}
	expiresMs, err := intAttr(item, "expiresAt")
	if err != nil {
		return domain.ConversationState{}, err
	}
	createdAt, err := timeFromAttr(item, "createdAt")
	if err != nil {
		return domain.ConversationState{}, err
	}
	updatedAt, err := timeFromAttr(item, "updatedAt")
	if err != nil {
		return domain.ConversationState{}, err
	}
	ctxMap := map[string]any{}
	if raw := optStrAttr(item, "context"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ctxMap); err != nil {
			return domain.ConversationState{}, fmt.Errorf("repository: decode context: %w", err)
		}
	}
	return domain.ConversationState{
		ID:        id,
		TenantID:  tenantID,
		ChatID:    chatID,
		UserID:    optStrAttr(item, "userId"),
		Flow:      domain.Flow(optStrAttr(item, "flow")),
		Step:      domain.Step(optStrAttr(item, "step")),
		Context:   ctxMap,
		Version:   int(version),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
	}, nil
}
