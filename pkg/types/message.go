package types

// Visibility of a reply in the conversation.
type Visibility string

const (
	VisibilityChannel Visibility = "channel"
	VisibilityPrivate Visibility = "private"
)

// ResponseType maps the visibility onto the chat platform's response_type field.
func (v Visibility) ResponseType() string {
	if v == VisibilityPrivate {
		return "ephemeral"
	}
	return "in_channel"
}

// InboundMessage is one webhook call, discarded once dispatch completes.
type InboundMessage struct {
	Text        string
	ChannelID   string
	UserName    string
	CallbackURL string
}

// DispatchResult is the synchronous answer to an inbound message. When
// Deferred is set, Text is the ephemeral acknowledgement and the real answer
// is delivered later by a background task.
type DispatchResult struct {
	Text       string
	Visibility Visibility
	Deferred   bool
}

// Immediate builds a synchronous reply.
func Immediate(text string, visibility Visibility) DispatchResult {
	return DispatchResult{Text: text, Visibility: visibility}
}

// Deferred builds the ephemeral acknowledgement for a scheduled task.
func Deferred(ack string) DispatchResult {
	return DispatchResult{Text: ack, Visibility: VisibilityPrivate, Deferred: true}
}

// Report is the output of a backend adapter. Text is always displayable; it
// carries the user-facing failure message when Err is set.
type Report struct {
	Text string `json:"text"`
	Err  error  `json:"-"`
}

// Failed builds a report whose text is the user message for err.
func Failed(err error) Report {
	return Report{Text: UserMessage(err), Err: err}
}
