package intent

import "strings"

// Intent is the closed set of classification results.
type Intent string

const (
	NewLoan        Intent = "new_loan"
	Reschedule     Intent = "reschedule"
	NewService     Intent = "new_service"
	ConfirmReturn  Intent = "confirm_return"
	ConfirmPayment Intent = "confirm_payment"
	GeneralInquiry Intent = "general_inquiry"
)

// Fallback is returned when no rule matches.
const Fallback = GeneralInquiry

// Rule matches when the normalized text contains any of its keywords.
type Rule struct {
	Intent   Intent
	Keywords []string
}

// Matches reports whether normalized contains one of the rule keywords.
func (r Rule) Matches(normalized string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// Keywords are stored already normalized. Order is significant.
var rules = []Rule{
	{Intent: NewLoan, Keywords: []string{"prestar", "prestamo"}},
	{Intent: Reschedule, Keywords: []string{"reprogramar", "cambiar fecha", "posponer", "mover fecha", "nueva fecha"}},
	{Intent: NewService, Keywords: []string{"servicio", "mensual", "recurrente", "suscripcion"}},
	{Intent: ConfirmReturn, Keywords: []string{"devolvieron", "entregaron", "regresaron", "ya me dieron", "ya tengo"}},
	{Intent: ConfirmPayment, Keywords: []string{"pague", "pagado", "pago", "transferi", "deposito"}},
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{Intent: r.Intent, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}

// Classify normalizes text and returns the intent of the first matching rule.
func Classify(text string) Intent {
	return ClassifyNormalized(Normalize(text))
}

// ClassifyNormalized is Classify for text that is already normalized.
func ClassifyNormalized(normalized string) Intent {
	if normalized == "" {
		return Fallback
	}
	for _, r := range rules {
		if r.Matches(normalized) {
			return r.Intent
		}
	}
	return Fallback
}

// Command is a whole-message keyword handled outside the flows.
type Command string

const (
	CommandGreeting Command = "greeting"
	CommandHelp     Command = "help"
	CommandCancel   Command = "cancel"
	CommandStatus   Command = "status"
)

var commands = map[string]Command{
	"hola":     CommandGreeting,
	"hi":       CommandGreeting,
	"ayuda":    CommandHelp,
	"help":     CommandHelp,
	"cancelar": CommandCancel,
	"cancel":   CommandCancel,
	"estado":   CommandStatus,
	"status":   CommandStatus,
}

// DetectCommand matches the whole normalized text against the command words.
func DetectCommand(text string) (Command, bool) {
	cmd, ok := commands[Normalize(text)]
	return cmd, ok
}
