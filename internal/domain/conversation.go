package domain

import "time"

// Flow names a multi-step conversational task.
type Flow string

const (
	FlowNone           Flow = ""
	FlowNewLoan        Flow = "new_loan"
	FlowReschedule     Flow = "reschedule"
	FlowNewService     Flow = "new_service"
	FlowConfirmReturn  Flow = "confirm_return"
	FlowConfirmPayment Flow = "confirm_payment"
)

// Step names a position inside a flow. StepAwaitingIntent is used when a
// state exists but no flow has been selected yet.
type Step string

const (
	StepNone                   Step = ""
	StepAwaitingIntent         Step = "awaiting_intent"
	StepAwaitingContact        Step = "awaiting_contact"
	StepAwaitingPhone          Step = "awaiting_phone_for_new_contact"
	StepAwaitingItem           Step = "awaiting_item"
	StepAwaitingDueDate        Step = "awaiting_due_date"
	StepAwaitingRescheduleDate Step = "awaiting_reschedule_date"
	StepAwaitingServiceDetails Step = "awaiting_service_details"
	StepAwaitingRecurrence     Step = "awaiting_recurrence"
	StepConfirming             Step = "confirming"
)

// ConversationState is the short-lived dialogue state of one chat inside one
// tenant. A state is active only while ExpiresAt is in the future.
type ConversationState struct {
	ID        string
	TenantID  string
	ChatID    string
	UserID    string
	Flow      Flow
	Step      Step
	Context   map[string]any
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// ActiveAt reports whether the state is still active at now.
func (s ConversationState) ActiveAt(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// Label renders the state machine position, e.g. "new_loan:awaiting_item".
func (s ConversationState) Label() string {
	if s.Flow == FlowNone {
		if s.Step == StepNone {
			return string(StepAwaitingIntent)
		}
		return string(s.Step)
	}
	return string(s.Flow) + ":" + string(s.Step)
}

// StateInit is the initial content of a new conversation state.
type StateInit struct {
	UserID  string
	Flow    Flow
	Step    Step
	Context map[string]any
}

// StringValue reads a string entry from the state context.
func (s ConversationState) StringValue(key string) string {
	if s.Context == nil {
		return ""
	}
	v, _ := s.Context[key].(string)
	return v
}
