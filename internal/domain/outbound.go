package domain

// OutboundKind selects the body of an outbound message.
type OutboundKind string

const (
	OutboundText        OutboundKind = "text"
	OutboundInteractive OutboundKind = "interactive"
)

// ReplyButton is a quick-reply button of an interactive message.
type ReplyButton struct {
	ID    string
	Title string
}

// OutboundMessage is a reply handed to the delivery collaborator.
type OutboundMessage struct {
	To      string
	Kind    OutboundKind
	Text    string
	Buttons []ReplyButton
}

// Media is a downloaded media object.
type Media struct {
	ID       string
	MimeType string
	Data     []byte
}
