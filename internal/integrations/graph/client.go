// Package graph is the WhatsApp Cloud (Graph) API collaborator: it delivers
// outbound replies and retrieves inbound media.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"

	"wa-bot/internal/domain"
)

const (
	DefaultBaseURL = "https://graph.facebook.com/v18.0"
	// DefaultMaxMediaBytes caps a single media download.
	DefaultMaxMediaBytes = 16 << 20
	maxButtons           = 3
	maxButtonTitle       = 20
)

var versionSuffix = regexp.MustCompile(`/v\d+(\.\d+)?$`)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("graph: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the Graph API on behalf of any tenant; credentials travel
// with each call.
type Client struct {
	baseURL       string
	http          *resty.Client
	timeout       time.Duration
	maxMediaBytes int64
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
			c.baseURL = b
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxMediaBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxMediaBytes = n
		}
	}
}

// NewClient creates a Client. Defaults: DefaultBaseURL, a 10s timeout and
// DefaultMaxMediaBytes.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:       DefaultBaseURL,
		http:          resty.New(),
		timeout:       10 * time.Second,
		maxMediaBytes: DefaultMaxMediaBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetTimeout(c.timeout).SetHeader("User-Agent", "wa-bot/1.0")
	return c
}

// base returns the API root for tenant, honouring a per-tenant API version.
func (c *Client) base(tenant domain.TenantConfig) string {
	v := strings.Trim(strings.TrimSpace(tenant.APIVersion), "/")
	if v == "" || !versionSuffix.MatchString(c.baseURL) {
		return c.baseURL
	}
	return versionSuffix.ReplaceAllString(c.baseURL, "/"+v)
}

type sendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *textBody        `json:"text,omitempty"`
	Interactive      *interactiveBody `json:"interactive,omitempty"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type interactiveBody struct {
	Type   string            `json:"type"`
	Body   textOnly          `json:"body"`
	Action interactiveAction `json:"action"`
}

type textOnly struct {
	Text string `json:"text"`
}

type interactiveAction struct {
	Buttons []buttonSpec `json:"buttons"`
}

type buttonSpec struct {
	Type  string    `json:"type"`
	Reply replySpec `json:"reply"`
}

type replySpec struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendMessage delivers msg from the tenant's phone number and returns the
// provider message id.
func (c *Client) SendMessage(ctx context.Context, tenant domain.TenantConfig, msg domain.OutboundMessage) (string, error) {
	if tenant.PhoneNumberID == "" || tenant.AccessToken == "" {
		return "", errors.New("graph: tenant phone number id and access token are required")
	}
	body, err := buildSendRequest(msg)
	if err != nil {
		return "", err
	}

	url := c.base(tenant) + "/" + tenant.PhoneNumberID + "/messages"
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(tenant.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("graph: send request failed: %w", err)
	}
	if !res.IsSuccess() {
		return "", statusError(res, url)
	}

	var payload sendResponse
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		return "", fmt.Errorf("graph: decode send response: %w", err)
	}
	if len(payload.Messages) == 0 || payload.Messages[0].ID == "" {
		return "", errors.New("graph: no message id in send response")
	}
	return payload.Messages[0].ID, nil
}

func buildSendRequest(msg domain.OutboundMessage) (sendRequest, error) {
	to := strings.TrimPrefix(strings.TrimSpace(msg.To), "+")
	if to == "" {
		return sendRequest{}, errors.New("graph: recipient must not be empty")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return sendRequest{}, errors.New("graph: message text must not be empty")
	}
	req := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
	}
	switch msg.Kind {
	case domain.OutboundText, "":
		req.Type = "text"
		req.Text = &textBody{Body: msg.Text}
	case domain.OutboundInteractive:
		if len(msg.Buttons) == 0 || len(msg.Buttons) > maxButtons {
			return sendRequest{}, fmt.Errorf("graph: interactive message needs 1 to %d buttons, got %d", maxButtons, len(msg.Buttons))
		}
		buttons := make([]buttonSpec, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			buttons = append(buttons, buttonSpec{
				Type:  "reply",
				Reply: replySpec{ID: b.ID, Title: clip(b.Title, maxButtonTitle)},
			})
		}
		req.Type = "interactive"
		req.Interactive = &interactiveBody{
			Type:   "button",
			Body:   textOnly{Text: msg.Text},
			Action: interactiveAction{Buttons: buttons},
		}
	default:
		return sendRequest{}, fmt.Errorf("graph: unsupported message kind %q", msg.Kind)
	}
	return req, nil
}

type mediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// DownloadMedia resolves mediaID to its short-lived URL and fetches the
// bytes. When the provider omits the mime type it is sniffed from content.
func (c *Client) DownloadMedia(ctx context.Context, tenant domain.TenantConfig, mediaID string) (domain.Media, error) {
	if strings.TrimSpace(mediaID) == "" {
		return domain.Media{}, errors.New("graph: media id must not be empty")
	}
	if tenant.AccessToken == "" {
		return domain.Media{}, errors.New("graph: tenant access token is required")
	}

	infoURL := c.base(tenant) + "/" + mediaID
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(tenant.AccessToken).
		Get(infoURL)
	if err != nil {
		return domain.Media{}, fmt.Errorf("graph: media info request failed: %w", err)
	}
	if !res.IsSuccess() {
		return domain.Media{}, statusError(res, infoURL)
	}
	var info mediaInfo
	if err := json.Unmarshal(res.Body(), &info); err != nil {
		return domain.Media{}, fmt.Errorf("graph: decode media info: %w", err)
	}
	if info.URL == "" {
		return domain.Media{}, errors.New("graph: media info has no url")
	}
	if info.FileSize > c.maxMediaBytes {
		return domain.Media{}, fmt.Errorf("graph: media %s is %d bytes, limit %d", mediaID, info.FileSize, c.maxMediaBytes)
	}

	dl, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(tenant.AccessToken).
		SetDoNotParseResponse(true).
		Get(info.URL)
	if err != nil {
		return domain.Media{}, fmt.Errorf("graph: media download failed: %w", err)
	}
	raw := dl.RawBody()
	defer func() { _ = raw.Close() }()
	if !dl.IsSuccess() {
		buf, _ := io.ReadAll(io.LimitReader(raw, 4096))
		return domain.Media{}, &HTTPStatusError{StatusCode: dl.StatusCode(), URL: info.URL, Body: string(buf)}
	}
	data, err := io.ReadAll(io.LimitReader(raw, c.maxMediaBytes+1))
	if err != nil {
		return domain.Media{}, fmt.Errorf("graph: read media body: %w", err)
	}
	if int64(len(data)) > c.maxMediaBytes {
		return domain.Media{}, fmt.Errorf("graph: media %s exceeds %d bytes", mediaID, c.maxMediaBytes)
	}

	mime := strings.TrimSpace(info.MimeType)
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	return domain.Media{ID: mediaID, MimeType: mime, Data: data}, nil
}

func statusError(res *resty.Response, url string) error {
	body := res.String()
	if len(body) > 4096 {
		body = body[:4096]
	}
	return &HTTPStatusError{StatusCode: res.StatusCode(), URL: url, Body: body}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
