package handler

import (
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// maxHTTPBody caps request bodies read by the net/http adapter.
const maxHTTPBody = 1 << 20

// HTTP adapts h to net/http for local runs. Requests are translated to API
// Gateway proxy events so both entrypoints share one code path.
func HTTP(h *Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBody))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}
		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}
		query := make(map[string]string, len(r.URL.Query()))
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		resp, err := h.Handle(r.Context(), events.APIGatewayProxyRequest{
			HTTPMethod:            r.Method,
			Path:                  r.URL.Path,
			Headers:               headers,
			QueryStringParameters: query,
			Body:                  string(raw),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.WriteString(w, resp.Body)
	})
}
