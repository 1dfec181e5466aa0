package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"wa-bot/internal/domain"
)

const skTenant = "TENANT"

// TenantStore resolves the tenant that owns a receiving channel.
type TenantStore struct {
	api       dynamodbAPI
	tableName string
}

// NewTenantStore creates a TenantStore on tableName.
func NewTenantStore(api dynamodbAPI, tableName string) (*TenantStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &TenantStore{api: api, tableName: tableName}, nil
}

func channelPK(channelID string) string {
	return "CHANNEL#" + channelID
}

// Resolve returns the tenant configured for channelID (the phone number id
// the message arrived on), or ErrNotFound.
func (t *TenantStore) Resolve(ctx context.Context, channelID string) (domain.TenantConfig, error) {
	if strings.TrimSpace(channelID) == "" {
		return domain.TenantConfig{}, fmt.Errorf("repository: Resolve: empty channel: %w", ErrNotFound)
	}
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.tableName),
		Key:       itemKey(channelPK(channelID), skTenant),
	})
	if err != nil {
		return domain.TenantConfig{}, fmt.Errorf("repository: Resolve: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.TenantConfig{}, fmt.Errorf("repository: Resolve %s: %w", channelID, ErrNotFound)
	}
	tenantID, err := strAttr(out.Item, "tenantId")
	if err != nil {
		return domain.TenantConfig{}, fmt.Errorf("repository: Resolve decode: %w", err)
	}
	token, err := strAttr(out.Item, "accessToken")
	if err != nil {
		return domain.TenantConfig{}, fmt.Errorf("repository: Resolve decode: %w", err)
	}
	phoneID := optStrAttr(out.Item, "phoneNumberId")
	if phoneID == "" {
		phoneID = channelID
	}
	return domain.TenantConfig{
		TenantID:      tenantID,
		Name:          optStrAttr(out.Item, "name"),
		PhoneNumberID: phoneID,
		AccessToken:   token,
		APIVersion:    optStrAttr(out.Item, "apiVersion"),
	}, nil
}
