// Package mediastore archives inbound media objects in S3.
package mediastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"wa-bot/internal/domain"
)

// s3API is the subset of *s3.Client used by Archive.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Key identifies where a media object belongs.
type Key struct {
	TenantID  string
	ChatID    string
	MessageID string
}

// Archive uploads media to a bucket. A zero bucket disables it: Store becomes
// a no-op returning an empty location.
type Archive struct {
	api    s3API
	bucket string
}

// New creates an Archive. api may be nil only when bucket is empty.
func New(api s3API, bucket string) (*Archive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket != "" && api == nil {
		return nil, errors.New("mediastore: api must not be nil")
	}
	return &Archive{api: api, bucket: bucket}, nil
}

// Enabled reports whether uploads are configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != ""
}

// Store uploads m and returns its s3:// location.
func (a *Archive) Store(ctx context.Context, key Key, m domain.Media) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	if key.TenantID == "" || key.ChatID == "" || key.MessageID == "" {
		return "", errors.New("mediastore: tenant, chat and message ids are required")
	}
	if len(m.Data) == 0 {
		return "", errors.New("mediastore: media is empty")
	}

	contentType := m.MimeType
	if contentType == "" {
		contentType = mimetype.Detect(m.Data).String()
	}
	objectKey := ObjectKey(key, contentType)
	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(m.Data),
		ContentLength: aws.Int64(int64(len(m.Data))),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"media-id":  m.ID,
			"tenant-id": key.TenantID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("mediastore: put object %s: %w", objectKey, err)
	}
	return "s3://" + a.bucket + "/" + objectKey, nil
}

// ObjectKey is media/<tenant>/<chat>/<message_id><ext>, where the extension
// follows the content type.
func ObjectKey(key Key, contentType string) string {
	ext := ""
	if mt := mimetype.Lookup(baseType(contentType)); mt != nil {
		ext = mt.Extension()
	}
	return path.Join("media", safe(key.TenantID), safe(key.ChatID), safe(key.MessageID)) + ext
}

func baseType(contentType string) string {
	t, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(strings.ToLower(t))
}

func safe(s string) string {
	return strings.NewReplacer("/", "_", "..", "_").Replace(s)
}
