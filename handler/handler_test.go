package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"wa-bot/internal/flowsign"
	"wa-bot/internal/usecase"
)

type stubWebhook struct {
	summary   usecase.Summary
	err       error
	verifyErr error

	raw    []byte
	header string
	query  [3]string
}

func (s *stubWebhook) Verify(_ context.Context, mode, token, challenge string) (string, error) {
	s.query = [3]string{mode, token, challenge}
	if s.verifyErr != nil {
		return "", s.verifyErr
	}
	return challenge, nil
}

func (s *stubWebhook) Dispatch(_ context.Context, raw []byte, header string) (usecase.Summary, error) {
	s.raw = raw
	s.header = header
	return s.summary, s.err
}

type stubFlows struct {
	out flowsign.SignedResponse
	err error
	raw []byte
}

func (s *stubFlows) Handle(_ context.Context, raw []byte, _ string) (flowsign.SignedResponse, error) {
	s.raw = raw
	return s.out, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json", "X-Hub-Signature-256": "sha256=abc"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, wh *stubWebhook, fl *stubFlows) *Handler {
	t.Helper()
	h, err := NewHandler(wh, fl)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubFlows{})
	require.Error(t, err)
	_, err = NewHandler(&stubWebhook{}, nil)
	require.Error(t, err)
}

func TestHandle_Handshake(t *testing.T) {
	wh := &stubWebhook{}
	h := newTestHandler(t, wh, &stubFlows{})

	ev := makeEvent(http.MethodGet, "/webhook", "")
	ev.QueryStringParameters = map[string]string{"hub.mode": "subscribe", "hub.verify_token": "tok", "hub.challenge": "42"}
	resp, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "42", resp.Body)
	require.Equal(t, "text/plain", resp.Headers["Content-Type"])
	require.Equal(t, [3]string{"subscribe", "tok", "42"}, wh.query)

	wh.verifyErr = &usecase.Error{Code: usecase.ErrorAuthentication, Reason: "verify_token_mismatch"}
	resp, err = h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandle_WebhookHappyPath(t *testing.T) {
	wh := &stubWebhook{summary: usecase.Summary{Success: true, ProcessedMessages: 2, ProcessedStatuses: 1}}
	h := newTestHandler(t, wh, &stubFlows{})

	ev := makeEvent(http.MethodPost, "/prod/webhook", `{"entry":[]}`)
	ev.Headers = map[string]string{"x-hub-signature-256": "sha256=abc"}
	resp, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"entry":[]}`, string(wh.raw))
	require.Equal(t, "sha256=abc", wh.header)

	out := parseBody[webhookResponse](t, resp.Body)
	require.Equal(t, webhookResponse{Success: true, ProcessedMessages: 2, ProcessedStatuses: 1}, out)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_DecodesBase64Body(t *testing.T) {
	wh := &stubWebhook{summary: usecase.Summary{Success: true}}
	h := newTestHandler(t, wh, &stubFlows{})

	ev := makeEvent(http.MethodPost, "/webhook", base64.StdEncoding.EncodeToString([]byte(`{"a":1}`)))
	ev.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"a":1}`, string(wh.raw))

	ev.Body = "%%%"
	resp, err = h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "authentication", err: &usecase.Error{Code: usecase.ErrorAuthentication, Reason: "invalid_signature"}, status: http.StatusUnauthorized, code: string(usecase.ErrorAuthentication)},
		{name: "validation", err: &usecase.Error{Code: usecase.ErrorValidation, Reason: "malformed_json"}, status: http.StatusBadRequest, code: string(usecase.ErrorValidation)},
		{name: "storage", err: &usecase.Error{Code: usecase.ErrorStorage, Reason: "state_load_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorStorage)},
		{name: "signing", err: &usecase.Error{Code: usecase.ErrorSigning, Reason: "parse_key"}, status: http.StatusInternalServerError, code: string(usecase.ErrorSigning)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubWebhook{err: tc.err}, &stubFlows{})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/webhook", `{}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.False(t, out.Success)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_Flows(t *testing.T) {
	fl := &stubFlows{out: flowsign.SignedResponse{SignedRequest: "a.b.c"}}
	h := newTestHandler(t, &stubWebhook{}, fl)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/flows", `{"action":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"signed_request":"a.b.c"}`, resp.Body)
	require.Equal(t, `{"action":"ping"}`, string(fl.raw))

	fl.err = &usecase.Error{Code: usecase.ErrorSigning, Reason: "sign_response"}
	resp, err = h.Handle(context.Background(), makeEvent(http.MethodPost, "/flows", `{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandle_Routing(t *testing.T) {
	h := newTestHandler(t, &stubWebhook{}, &stubFlows{})

	cases := []struct {
		method, path string
		status       int
	}{
		{method: http.MethodPut, path: "/webhook", status: http.StatusMethodNotAllowed},
		{method: http.MethodGet, path: "/flows", status: http.StatusMethodNotAllowed},
		{method: http.MethodPost, path: "/other", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := h.Handle(context.Background(), makeEvent(tc.method, tc.path, ""))
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, tc.method+" "+tc.path)
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubWebhook{summary: usecase.Summary{Success: true}}, &stubFlows{})

	event := makeEvent(http.MethodPost, "/webhook", `{}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
