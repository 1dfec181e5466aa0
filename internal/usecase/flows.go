package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"wa-bot/internal/domain"
	"wa-bot/internal/intent"
)

// stepComplete is never stored: reaching it ends the flow.
const stepComplete domain.Step = "complete"

// Context keys written by the flows.
const (
	ctxContact     = "contact_info"
	ctxTempContact = "temp_contact_name"
	ctxPhone       = "new_contact_phone"
	ctxItem        = "item_description"
	ctxDueDate     = "due_date"
	ctxNewDate     = "new_date"
	ctxService     = "service_description"
	ctxRecurrence  = "recurrence"
	ctxLastMedia   = "last_media"
)

// stepRule validates free text at one step and returns the context patch and
// the following step.
type stepRule struct {
	invalid string
	accept  func(input string, now time.Time) (patch map[string]any, next domain.Step, ok bool)
}

type flowDef struct {
	first      domain.Step
	rules      map[domain.Step]stepRule
	prompts    map[domain.Step]func(ctx map[string]any) string
	confirm    []string
	completion string
}

var intentFlows = map[intent.Intent]domain.Flow{
	intent.NewLoan:        domain.FlowNewLoan,
	intent.Reschedule:     domain.FlowReschedule,
	intent.NewService:     domain.FlowNewService,
	intent.ConfirmReturn:  domain.FlowConfirmReturn,
	intent.ConfirmPayment: domain.FlowConfirmPayment,
}

var baseConfirmations = []string{"si", "yes", "confirmar", "ok", "confirmo"}

var flows = map[domain.Flow]flowDef{
	domain.FlowNewLoan: {
		first: domain.StepAwaitingContact,
		rules: map[domain.Step]stepRule{
			domain.StepAwaitingContact: {
				invalid: "Por favor proporciona un nombre válido o número de teléfono.",
				accept: func(in string, _ time.Time) (map[string]any, domain.Step, bool) {
					if !validContact(in) {
						return nil, "", false
					}
					if isDigits(in) {
						return map[string]any{ctxContact: in, ctxPhone: in}, domain.StepAwaitingItem, true
					}
					return map[string]any{ctxTempContact: in}, domain.StepAwaitingPhone, true
				},
			},
			domain.StepAwaitingPhone: {
				invalid: "Por favor proporciona un número de teléfono válido (mínimo 8 dígitos) o escribe \"sin teléfono\".",
				accept: func(in string, _ time.Time) (map[string]any, domain.Step, bool) {
					if skipPhone(in) {
						return map[string]any{ctxPhone: ""}, domain.StepAwaitingItem, true
					}
					digits := onlyDigits(in)
					if len(digits) < 8 {
						return nil, "", false
					}
					return map[string]any{ctxPhone: digits}, domain.StepAwaitingItem, true
				},
			},
			domain.StepAwaitingItem: {
				invalid: "Por favor describe qué vas a prestar (mínimo 3 caracteres).",
				accept:  describe(ctxItem, domain.StepAwaitingDueDate),
			},
			domain.StepAwaitingDueDate: {
				invalid: "Por favor proporciona una fecha válida. Puedes escribir \"mañana\", \"en una semana\" o \"2024-12-31\".",
				accept:  date(ctxDueDate, domain.StepConfirming),
			},
		},
		prompts: map[domain.Step]func(map[string]any) string{
			domain.StepAwaitingContact: func(map[string]any) string {
				return "¡Perfecto! Vamos a crear un nuevo préstamo. ¿A quién se lo vas a prestar? Puedes escribir su nombre o número de teléfono."
			},
			domain.StepAwaitingPhone: func(c map[string]any) string {
				return fmt.Sprintf("No encontré a \"%s\" en tus contactos.\n\n¿Puedes compartir su número de teléfono?\n\n(También puedes escribir \"sin teléfono\" si no lo tienes)", str(c, ctxTempContact))
			},
			domain.StepAwaitingItem: func(c map[string]any) string {
				return fmt.Sprintf("¿Qué le vas a prestar a %s?", contactName(c))
			},
			domain.StepAwaitingDueDate: func(c map[string]any) string {
				return fmt.Sprintf("¿Para cuándo debe devolver \"%s\"?", str(c, ctxItem))
			},
			domain.StepConfirming: func(c map[string]any) string {
				return fmt.Sprintf("Perfecto, voy a registrar:\n\n📝 *Préstamo a:* %s\n🎯 *Artículo:* %s\n📅 *Fecha límite:* %s\n\n¿Confirmas que todo está correcto?",
					contactName(c), str(c, ctxItem), str(c, ctxDueDate))
			},
		},
		completion: "✅ *Préstamo registrado exitosamente*\n\nTe avisaré cuando se acerque la fecha de vencimiento.",
	},
	domain.FlowReschedule: {
		first: domain.StepAwaitingRescheduleDate,
		rules: map[domain.Step]stepRule{
			domain.StepAwaitingRescheduleDate: {
				invalid: "Por favor proporciona una fecha válida para reprogramar.",
				accept:  date(ctxNewDate, domain.StepConfirming),
			},
		},
		prompts: map[domain.Step]func(map[string]any) string{
			domain.StepAwaitingRescheduleDate: func(map[string]any) string {
				return "¿Para qué fecha quieres reprogramar? Puedes escribir algo como \"mañana\", \"el viernes\" o \"en una semana\"."
			},
			domain.StepConfirming: func(c map[string]any) string {
				return fmt.Sprintf("¿Confirmas que quieres reprogramar para el %s?", str(c, ctxNewDate))
			},
		},
		completion: "✅ *Fecha reprogramada exitosamente*\n\nTe enviaré recordatorios para la nueva fecha.",
	},
	domain.FlowNewService: {
		first: domain.StepAwaitingContact,
		rules: map[domain.Step]stepRule{
			domain.StepAwaitingContact: {
				invalid: "Por favor proporciona un nombre válido o número de teléfono.",
				accept: func(in string, _ time.Time) (map[string]any, domain.Step, bool) {
					if !validContact(in) {
						return nil, "", false
					}
					return map[string]any{ctxContact: in}, domain.StepAwaitingServiceDetails, true
				},
			},
			domain.StepAwaitingServiceDetails: {
				invalid: "Por favor describe el servicio (mínimo 3 caracteres).",
				accept:  describe(ctxService, domain.StepAwaitingRecurrence),
			},
			domain.StepAwaitingRecurrence: {
				invalid: "Por favor especifica la frecuencia: mensual, semanal, quincenal o diario.",
				accept: func(in string, _ time.Time) (map[string]any, domain.Step, bool) {
					switch r := intent.Normalize(in); r {
					case "mensual", "semanal", "quincenal", "diario":
						return map[string]any{ctxRecurrence: r}, domain.StepConfirming, true
					}
					return nil, "", false
				},
			},
		},
		prompts: map[domain.Step]func(map[string]any) string{
			domain.StepAwaitingContact: func(map[string]any) string {
				return "¡Perfecto! Vamos a configurar un servicio recurrente. ¿Para quién es este servicio? Puedes escribir su nombre o número de teléfono."
			},
			domain.StepAwaitingServiceDetails: func(c map[string]any) string {
				return fmt.Sprintf("¿Qué servicio le vas a cobrar a %s?", str(c, ctxContact))
			},
			domain.StepAwaitingRecurrence: func(c map[string]any) string {
				return fmt.Sprintf("¿Con qué frecuencia quieres cobrar \"%s\"? (mensual, semanal, quincenal, diario)", str(c, ctxService))
			},
			domain.StepConfirming: func(c map[string]any) string {
				return fmt.Sprintf("Voy a configurar:\n\n👤 *Cliente:* %s\n💼 *Servicio:* %s\n🔄 *Frecuencia:* %s\n\n¿Confirmas?",
					str(c, ctxContact), str(c, ctxService), str(c, ctxRecurrence))
			},
		},
		completion: "✅ *Servicio recurrente configurado*\n\nTe notificaré cada vez que sea momento de enviar el recordatorio.",
	},
	domain.FlowConfirmReturn: {
		first: domain.StepConfirming,
		prompts: map[domain.Step]func(map[string]any) string{
			domain.StepConfirming: func(map[string]any) string {
				return "¿Confirmas que ya te devolvieron el artículo prestado?"
			},
		},
		confirm:    []string{"devuelto", "entregado"},
		completion: "✅ *Devolución confirmada*\n\nHe marcado el préstamo como completado. ¡Gracias por mantener tus registros actualizados!",
	},
	domain.FlowConfirmPayment: {
		first: domain.StepConfirming,
		prompts: map[domain.Step]func(map[string]any) string{
			domain.StepConfirming: func(map[string]any) string {
				return "¿Confirmas que ya realizaste el pago?"
			},
		},
		confirm:    []string{"pagado", "completado"},
		completion: "✅ *Pago confirmado*\n\nHe registrado el pago. El acuerdo se ha marcado como completado.",
	},
}

// stepOutcome is the result of feeding one text input to an active flow.
type stepOutcome struct {
	valid     bool
	next      domain.Step
	patch     map[string]any
	completed bool
	abandoned bool
	reply     string
}

// advance applies input to the flow step of st. It performs no I/O.
func advance(st domain.ConversationState, input string, now time.Time) stepOutcome {
	def, ok := flows[st.Flow]
	if !ok {
		return stepOutcome{reply: replyGeneric}
	}
	if st.Step == domain.StepConfirming {
		return confirmOutcome(def, input)
	}
	rule, ok := def.rules[st.Step]
	if !ok {
		return stepOutcome{reply: replyGeneric}
	}
	patch, next, ok := rule.accept(strings.TrimSpace(input), now)
	if !ok {
		return stepOutcome{reply: rule.invalid}
	}
	merged := make(map[string]any, len(st.Context)+len(patch))
	for k, v := range st.Context {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return stepOutcome{valid: true, next: next, patch: patch, reply: def.prompt(next, merged)}
}

func confirmOutcome(def flowDef, input string) stepOutcome {
	answer := intent.Normalize(input)
	switch answer {
	case "no", "cancelar", "cancel":
		return stepOutcome{valid: true, abandoned: true, next: stepComplete, reply: replyAbandoned}
	}
	for _, w := range append(append([]string{}, baseConfirmations...), def.confirm...) {
		if answer == w {
			return stepOutcome{valid: true, completed: true, next: stepComplete, reply: def.completion}
		}
	}
	return stepOutcome{reply: "Por favor responde \"sí\" o \"no\" para confirmar."}
}

func (d flowDef) prompt(step domain.Step, ctx map[string]any) string {
	if p, ok := d.prompts[step]; ok {
		return p(ctx)
	}
	return "Continuemos..."
}

// startPrompt is the reply sent when a flow is opened.
func startPrompt(flow domain.Flow) (domain.Step, string, bool) {
	def, ok := flows[flow]
	if !ok {
		return "", "", false
	}
	return def.first, def.prompt(def.first, map[string]any{}), true
}

func describe(key string, next domain.Step) func(string, time.Time) (map[string]any, domain.Step, bool) {
	return func(in string, _ time.Time) (map[string]any, domain.Step, bool) {
		if utf8.RuneCountInString(in) < 3 {
			return nil, "", false
		}
		return map[string]any{key: in}, next, true
	}
}

func date(key string, next domain.Step) func(string, time.Time) (map[string]any, domain.Step, bool) {
	return func(in string, now time.Time) (map[string]any, domain.Step, bool) {
		d, ok := parseDate(in, now)
		if !ok {
			return nil, "", false
		}
		return map[string]any{key: d}, next, true
	}
}

func validContact(in string) bool {
	if utf8.RuneCountInString(in) < 2 {
		return false
	}
	if isDigits(in) {
		return len(in) >= 10
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func skipPhone(in string) bool {
	switch intent.Normalize(in) {
	case "sin telefono", "no tengo", "skip", "saltar":
		return true
	}
	return false
}

func str(ctx map[string]any, key string) string {
	v, _ := ctx[key].(string)
	return v
}

func contactName(ctx map[string]any) string {
	if c := str(ctx, ctxContact); c != "" {
		return c
	}
	return str(ctx, ctxTempContact)
}

var (
	relativeAmount = regexp.MustCompile(`\b(\d{1,3}) (dia|dias|semana|semanas|mes|meses)\b`)
	weekdays       = map[string]time.Weekday{
		"domingo":   time.Sunday,
		"lunes":     time.Monday,
		"martes":    time.Tuesday,
		"miercoles": time.Wednesday,
		"jueves":    time.Thursday,
		"viernes":   time.Friday,
		"sabado":    time.Saturday,
	}
	dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006"}
)

const dateFormat = "2006-01-02"

// parseDate resolves a due date relative to now and returns it as
// YYYY-MM-DD. Past explicit dates are rejected.
func parseDate(input string, now time.Time) (string, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	raw := strings.TrimSpace(input)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, now.Location()); err == nil {
			if t.Before(today) {
				return "", false
			}
			return t.Format(dateFormat), true
		}
	}

	text := intent.Normalize(raw)
	if m := relativeAmount.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "dia", "dias":
			return today.AddDate(0, 0, n).Format(dateFormat), true
		case "semana", "semanas":
			return today.AddDate(0, 0, 7*n).Format(dateFormat), true
		default:
			return today.AddDate(0, n, 0).Format(dateFormat), true
		}
	}
	words := strings.Fields(text)
	has := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}
	switch {
	case strings.Contains(text, "pasado manana"):
		return today.AddDate(0, 0, 2).Format(dateFormat), true
	case has("manana"):
		return today.AddDate(0, 0, 1).Format(dateFormat), true
	case has("hoy"):
		return today.Format(dateFormat), true
	}
	for _, w := range words {
		if wd, ok := weekdays[w]; ok {
			days := (int(wd) - int(today.Weekday()) + 7) % 7
			if days == 0 {
				days = 7
			}
			return today.AddDate(0, 0, days).Format(dateFormat), true
		}
	}
	switch {
	case has("semana"):
		return today.AddDate(0, 0, 7).Format(dateFormat), true
	case has("mes"):
		return today.AddDate(0, 1, 0).Format(dateFormat), true
	}
	return "", false
}
