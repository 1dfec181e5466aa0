package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"

	"wa-bot/internal/flowsign"
	"wa-bot/internal/signature"
)

const (
	flowResponseVersion = "7.2"
	screenSuccess       = "SUCCESS"
	screenProfileForm   = "PROFILE_FORM"
	screenAccountForm   = "ACCOUNT_FORM"
)

var (
	namePattern    = regexp.MustCompile(`^[a-zA-ZáéíóúÁÉÍÓÚñÑ\s]{2,50}$`)
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	accountPattern = regexp.MustCompile(`^\d{8,20}$`)
)

// FlowRequest is a decrypted Flow data-exchange request.
type FlowRequest struct {
	Version   string          `json:"version"`
	Action    string          `json:"action"`
	Screen    string          `json:"screen"`
	Data      json.RawMessage `json:"data"`
	FlowToken string          `json:"flow_token"`
}

type flowResponse struct {
	Version string         `json:"version,omitempty"`
	Screen  string         `json:"screen,omitempty"`
	Data    map[string]any `json:"data"`
}

type profileData struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type accountData struct {
	Alias         string `json:"alias"`
	AccountNumber string `json:"account_number"`
}

// FlowExchange answers Flow data-exchange requests with signed responses.
type FlowExchange struct {
	secrets SecretProvider

	signerMu  sync.RWMutex
	signer    *flowsign.Signer
	signerPEM string
}

func NewFlowExchange(secrets SecretProvider) (*FlowExchange, error) {
	if secrets == nil {
		return nil, errors.New("usecase: secret provider must not be nil")
	}
	return &FlowExchange{secrets: secrets}, nil
}

// Handle authenticates raw, computes the next screen and signs it.
func (f *FlowExchange) Handle(ctx context.Context, raw []byte, signatureHeader string) (flowsign.SignedResponse, error) {
	sec, err := f.secrets.Secrets(ctx)
	if err != nil {
		return flowsign.SignedResponse{}, newError(ErrorInternal, "secrets_load_error", err)
	}
	if !signature.Validate(raw, signatureHeader, sec.AppSecret) {
		return flowsign.SignedResponse{}, newError(ErrorAuthentication, "invalid_signature", nil)
	}

	var req FlowRequest
	if err := decodeSingleJSON(raw, &req); err != nil {
		return flowsign.SignedResponse{}, newError(ErrorValidation, "malformed_json", err)
	}
	resp, err := nextScreen(req)
	if err != nil {
		return flowsign.SignedResponse{}, err
	}

	signer, err := f.signerFor(sec.FlowPrivateKey)
	if err != nil {
		return flowsign.SignedResponse{}, newError(ErrorSigning, "parse_key", err)
	}
	signed, err := signer.SignResponse(resp)
	if err != nil {
		return flowsign.SignedResponse{}, newError(ErrorSigning, "sign_response", err)
	}
	Logger(ctx).Info("flow response signed", "action", req.Action, "screen", resp.Screen)
	return signed, nil
}

func (f *FlowExchange) signerFor(pem string) (*flowsign.Signer, error) {
	f.signerMu.RLock()
	if f.signer != nil && f.signerPEM == pem {
		s := f.signer
		f.signerMu.RUnlock()
		return s, nil
	}
	f.signerMu.RUnlock()

	f.signerMu.Lock()
	defer f.signerMu.Unlock()
	if f.signer != nil && f.signerPEM == pem {
		return f.signer, nil
	}
	s, err := flowsign.NewSigner(pem)
	if err != nil {
		return nil, err
	}
	f.signer = s
	f.signerPEM = pem
	return s, nil
}

func nextScreen(req FlowRequest) (flowResponse, error) {
	if req.Action == "ping" {
		return flowResponse{Data: map[string]any{"status": "active"}}, nil
	}
	kind, _, _ := strings.Cut(req.FlowToken, "_")
	switch kind {
	case "profile":
		var in profileData
		if err := decodeFlowData(req.Data, &in); err != nil {
			return flowResponse{}, err
		}
		if msg := validateProfile(in); msg != "" {
			return screenError(screenProfileForm, msg), nil
		}
		if !validToken(req.FlowToken) {
			return screenError(screenProfileForm, "Hubo un error al guardar tu perfil. Por favor intenta de nuevo."), nil
		}
	case "bank":
		var in accountData
		if err := decodeFlowData(req.Data, &in); err != nil {
			return flowResponse{}, err
		}
		if msg := validateAccount(in); msg != "" {
			return screenError(screenAccountForm, msg), nil
		}
		if !validToken(req.FlowToken) {
			return screenError(screenAccountForm, "Hubo un error al guardar tu cuenta. Por favor intenta de nuevo."), nil
		}
	default:
		return flowResponse{}, newError(ErrorValidation, "unknown_flow_type", nil)
	}
	return flowResponse{
		Version: flowResponseVersion,
		Screen:  screenSuccess,
		Data: map[string]any{
			"extension_message_response": map[string]any{
				"params": map[string]any{"flow_token": req.FlowToken},
			},
		},
	}, nil
}

func decodeFlowData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return newError(ErrorValidation, "missing_flow_data", nil)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newError(ErrorValidation, "malformed_flow_data", err)
	}
	return nil
}

func validateProfile(in profileData) string {
	if !namePattern.MatchString(in.FirstName) {
		return "Ingresa un nombre válido (solo letras, 2-50 caracteres)"
	}
	if !namePattern.MatchString(in.LastName) {
		return "Ingresa un apellido válido (solo letras, 2-50 caracteres)"
	}
	if !emailPattern.MatchString(in.Email) {
		return "Ingresa un correo válido (ej: nombre@gmail.com)"
	}
	return ""
}

func validateAccount(in accountData) string {
	if n := len([]rune(strings.TrimSpace(in.Alias))); n < 3 || n > 30 {
		return "El alias debe tener entre 3 y 30 caracteres"
	}
	if !accountPattern.MatchString(in.AccountNumber) {
		return "Número de cuenta inválido (solo números, 8-20 dígitos)"
	}
	return ""
}

// validToken checks the <kind>_<tenant>_<contact>_<profile>_<timestamp> shape.
func validToken(token string) bool {
	parts := strings.Split(token, "_")
	if len(parts) < 5 {
		return false
	}
	for _, p := range parts[1:5] {
		if p == "" {
			return false
		}
	}
	return true
}

func screenError(screen, msg string) flowResponse {
	return flowResponse{
		Version: flowResponseVersion,
		Screen:  screen,
		Data:    map[string]any{"error": msg},
	}
}
