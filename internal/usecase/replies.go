package usecase

import (
	"fmt"
	"strings"

	"wa-bot/internal/domain"
)

const (
	replyGeneric     = "Hubo un error procesando tu mensaje. Por favor intenta de nuevo o escribe \"ayuda\"."
	replyCancelled   = "❌ Conversación cancelada. Puedes iniciar una nueva cuando gustes."
	replyAbandoned   = "Entendido, no registré nada. Puedes iniciar una nueva conversación cuando gustes."
	replyUnsupported = "Por ahora solo entiendo mensajes de texto, botones y archivos. Escribe \"ayuda\" para ver las opciones."
	replyUnknownBtn  = "No reconozco esa opción. Por favor usa los botones disponibles."
	replyOptInYes    = "✅ ¡Perfecto! Ahora recibirás recordatorios por WhatsApp. Puedes cambiar esta preferencia en cualquier momento."
	replyOptInNo     = "👋 Entendido. No recibirás más recordatorios por WhatsApp. Si cambias de opinión, puedes contactarnos."
	replyLoanReturn  = "✅ ¡Perfecto! He registrado la devolución. ¡Gracias!"
	replyPaidCash    = "✅ Pago en efectivo registrado. ¡Gracias!"
	replyMediaSaved  = "📎 Recibí tu archivo. Lo guardé junto a esta conversación."
	replyMediaFailed = "No pude descargar tu archivo. Por favor intenta enviarlo de nuevo."
	replyNoState     = "No tienes ninguna conversación en curso. Escribe \"ayuda\" para ver lo que puedo hacer."
)

func welcomeReply() string {
	return strings.Join([]string{
		"¡Hola! 👋 Soy tu asistente de recordatorios.",
		"",
		"Puedes escribir cosas como:",
		"• \"Nuevo préstamo\" - Para registrar algo que prestaste",
		"• \"Reprogramar\" - Para cambiar una fecha",
		"• \"Servicio mensual\" - Para cobros recurrentes",
		"• \"Estado\" - Ver tu conversación en curso",
		"",
		"¿En qué puedo ayudarte?",
	}, "\n")
}

func helpReply() string {
	return strings.Join([]string{
		"🤖 *Comandos disponibles:*",
		"",
		"• *Nuevo préstamo* - Registrar algo prestado",
		"• *Reprogramar* - Cambiar fecha de vencimiento",
		"• *Servicio mensual* - Configurar cobros recurrentes",
		"• *Estado* - Ver la conversación en curso",
		"• *Cancelar* - Cancelar conversación actual",
		"",
		"También puedes responder a los recordatorios con los botones.",
	}, "\n")
}

// unsureReply answers free text that matched no intent.
func unsureReply() string {
	return strings.Join([]string{
		"No estoy seguro de lo que necesitas. ¿Te refieres a alguno de estos?",
		"",
		"1. Nuevo préstamo",
		"2. Reprogramar",
		"3. Servicio mensual",
		"4. Confirmar devolución",
		"5. Confirmar pago",
		"",
		"O escribe \"ayuda\" para ver todas las opciones.",
	}, "\n")
}

var flowTitles = map[domain.Flow]string{
	domain.FlowNewLoan:        "nuevo préstamo",
	domain.FlowReschedule:     "reprogramación",
	domain.FlowNewService:     "servicio recurrente",
	domain.FlowConfirmReturn:  "confirmación de devolución",
	domain.FlowConfirmPayment: "confirmación de pago",
}

var stepTitles = map[domain.Step]string{
	domain.StepAwaitingIntent:         "esperando que elijas una opción",
	domain.StepAwaitingContact:        "esperando el contacto",
	domain.StepAwaitingPhone:          "esperando el teléfono del contacto",
	domain.StepAwaitingItem:           "esperando el artículo",
	domain.StepAwaitingDueDate:        "esperando la fecha límite",
	domain.StepAwaitingRescheduleDate: "esperando la nueva fecha",
	domain.StepAwaitingServiceDetails: "esperando el detalle del servicio",
	domain.StepAwaitingRecurrence:     "esperando la frecuencia",
	domain.StepConfirming:             "esperando tu confirmación",
}

func statusReply(st domain.ConversationState) string {
	step := stepTitles[st.Step]
	if step == "" {
		step = string(st.Step)
	}
	if st.Flow == domain.FlowNone {
		return fmt.Sprintf("📋 Conversación en curso: %s.", step)
	}
	return fmt.Sprintf("📋 Conversación en curso: *%s*, %s.\n\nEscribe \"cancelar\" para empezar de nuevo.", flowTitles[st.Flow], step)
}

// confirmationButtons accompany every confirming prompt.
var confirmationButtons = []domain.ReplyButton{
	{ID: buttonConfirmYes, Title: "Sí, confirmar"},
	{ID: buttonConfirmNo, Title: "No"},
}
