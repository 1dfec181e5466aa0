package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wa-bot/internal/domain"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "hoy", want: "2026-03-10", ok: true},
		{in: "Mañana", want: "2026-03-11", ok: true},
		{in: "pasado mañana", want: "2026-03-12", ok: true},
		{in: "en 3 días", want: "2026-03-13", ok: true},
		{in: "en 2 semanas", want: "2026-03-24", ok: true},
		{in: "en 1 mes", want: "2026-04-10", ok: true},
		{in: "en una semana", want: "2026-03-17", ok: true},
		{in: "el próximo mes", want: "2026-04-10", ok: true},
		{in: "el viernes", want: "2026-03-13", ok: true},
		{in: "el martes", want: "2026-03-17", ok: true},
		{in: "2026-12-31", want: "2026-12-31", ok: true},
		{in: "31/12/2026", want: "2026-12-31", ok: true},
		{in: "5/4/2026", want: "2026-04-05", ok: true},
		{in: "2020-01-01", ok: false},
		{in: "cuando pueda", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := parseDate(tc.in, testNow)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestAdvance_NewServiceSteps(t *testing.T) {
	st := domain.ConversationState{Flow: domain.FlowNewService, Step: domain.StepAwaitingContact, Context: map[string]any{}}

	out := advance(st, "Carla", testNow)
	require.True(t, out.valid)
	require.Equal(t, domain.StepAwaitingServiceDetails, out.next)
	require.Equal(t, "¿Qué servicio le vas a cobrar a Carla?", out.reply)

	st.Step, st.Context = out.next, out.patch
	out = advance(st, "Clases de piano", testNow)
	require.True(t, out.valid)
	require.Equal(t, domain.StepAwaitingRecurrence, out.next)

	st.Step = out.next
	st.Context["service_description"] = "Clases de piano"
	out = advance(st, "cada año", testNow)
	require.False(t, out.valid)
	require.Equal(t, "Por favor especifica la frecuencia: mensual, semanal, quincenal o diario.", out.reply)

	out = advance(st, "Mensual", testNow)
	require.True(t, out.valid)
	require.Equal(t, domain.StepConfirming, out.next)
	require.Equal(t, "mensual", out.patch[ctxRecurrence])
	require.Contains(t, out.reply, "Clases de piano")
}

func TestAdvance_Confirmation(t *testing.T) {
	st := domain.ConversationState{Flow: domain.FlowConfirmPayment, Step: domain.StepConfirming}

	for _, in := range []string{"sí", "OK", "confirmar", "pagado", "Completado"} {
		out := advance(st, in, testNow)
		require.True(t, out.completed, in)
		require.Contains(t, out.reply, "Pago confirmado")
	}

	out := advance(st, "no", testNow)
	require.True(t, out.abandoned)
	require.Equal(t, replyAbandoned, out.reply)

	out = advance(st, "devuelto", testNow)
	require.False(t, out.valid)
	require.Equal(t, "Por favor responde \"sí\" o \"no\" para confirmar.", out.reply)
}

func TestAdvance_PhoneStep(t *testing.T) {
	st := domain.ConversationState{Flow: domain.FlowNewLoan, Step: domain.StepAwaitingPhone, Context: map[string]any{ctxTempContact: "Juan"}}

	out := advance(st, "123", testNow)
	require.False(t, out.valid)

	out = advance(st, "+54 9 11 2222-3333", testNow)
	require.True(t, out.valid)
	require.Equal(t, "5491122223333", out.patch[ctxPhone])
	require.Equal(t, "¿Qué le vas a prestar a Juan?", out.reply)
}

func TestAdvance_ContactValidation(t *testing.T) {
	st := domain.ConversationState{Flow: domain.FlowNewLoan, Step: domain.StepAwaitingContact}

	for _, in := range []string{"J", "12345"} {
		out := advance(st, in, testNow)
		require.False(t, out.valid, in)
		require.Equal(t, "Por favor proporciona un nombre válido o número de teléfono.", out.reply)
	}
}

func TestStartPrompt(t *testing.T) {
	for flow := range flows {
		step, prompt, ok := startPrompt(flow)
		require.True(t, ok)
		require.NotEmpty(t, step)
		require.NotEmpty(t, prompt)
	}
	_, _, ok := startPrompt(domain.FlowNone)
	require.False(t, ok)
}
