package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"wa-bot/internal/flowsign"
	"wa-bot/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	signatureHeader   = "X-Hub-Signature-256"
)

type WebhookDispatcher interface {
	Verify(ctx context.Context, mode, token, challenge string) (string, error)
	Dispatch(ctx context.Context, raw []byte, signatureHeader string) (usecase.Summary, error)
}

type FlowResponder interface {
	Handle(ctx context.Context, raw []byte, signatureHeader string) (flowsign.SignedResponse, error)
}

type Handler struct {
	webhook WebhookDispatcher
	flows   FlowResponder
}

type webhookResponse struct {
	Success           bool `json:"success"`
	ProcessedMessages int  `json:"processed_messages"`
	ProcessedStatuses int  `json:"processed_statuses"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func NewHandler(webhook WebhookDispatcher, flows FlowResponder) (*Handler, error) {
	if webhook == nil {
		return nil, errors.New("handler: webhook dispatcher must not be nil")
	}
	if flows == nil {
		return nil, errors.New("handler: flow responder must not be nil")
	}
	return &Handler{webhook: webhook, flows: flows}, nil
}

// Handle routes an API Gateway proxy request to the webhook or flow endpoint.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := slog.Default().With("correlation_id", corrID)
	ctx = usecase.ContextWithLogger(ctx, log)

	var resp events.APIGatewayProxyResponse
	switch route(req.Path) {
	case "/webhook":
		switch req.HTTPMethod {
		case http.MethodGet:
			resp = h.verify(ctx, req)
		case http.MethodPost:
			resp = h.dispatch(ctx, req)
		default:
			resp = methodNotAllowed()
		}
	case "/flows":
		if req.HTTPMethod != http.MethodPost {
			resp = methodNotAllowed()
			break
		}
		resp = h.flowExchange(ctx, req)
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID
	return resp, nil
}

func (h *Handler) verify(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	challenge, err := h.webhook.Verify(ctx, q["hub.mode"], q["hub.verify_token"], q["hub.challenge"])
	if err != nil {
		status := http.StatusInternalServerError
		if usecase.CodeOf(err) == usecase.ErrorAuthentication {
			status = http.StatusForbidden
		}
		usecase.Logger(ctx).Warn("webhook verification failed", "err", err)
		return textResponse(status, http.StatusText(status))
	}
	return textResponse(http.StatusOK, challenge)
}

func (h *Handler) dispatch(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	raw, err := body(req)
	if err != nil {
		return errorResult(ctx, err)
	}
	sum, err := h.webhook.Dispatch(ctx, raw, headerValue(req.Headers, signatureHeader))
	if err != nil {
		return errorResult(ctx, err)
	}
	return jsonResponse(http.StatusOK, webhookResponse{
		Success:           sum.Success,
		ProcessedMessages: sum.ProcessedMessages,
		ProcessedStatuses: sum.ProcessedStatuses,
	})
}

func (h *Handler) flowExchange(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	raw, err := body(req)
	if err != nil {
		return errorResult(ctx, err)
	}
	signed, err := h.flows.Handle(ctx, raw, headerValue(req.Headers, signatureHeader))
	if err != nil {
		return errorResult(ctx, err)
	}
	return jsonResponse(http.StatusOK, signed)
}

func errorResult(ctx context.Context, err error) events.APIGatewayProxyResponse {
	code := usecase.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		usecase.Logger(ctx).Error("request failed", "code", code, "err", err)
	} else {
		usecase.Logger(ctx).Warn("request rejected", "code", code, "err", err)
	}
	return jsonResponse(status, errorResponse{Error: string(code)})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorAuthentication:
		return http.StatusUnauthorized
	case usecase.ErrorValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func body(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	raw, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_base64_body", Err: err}
	}
	return raw, nil
}

// route keeps the last path segment so stage prefixes like /prod are ignored.
func route(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i:]
	}
	return "/" + path
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
}

func textResponse(status int, text string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       text,
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"success":false,"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(raw),
	}
}
