package bus

// InboundMessage is a trigger entering the orchestrator: a user message
// from a channel, a gateway request, or a scheduler firing.
type InboundMessage struct {
	Channel       string // originating channel name ("discord", "http", "scheduler")
	SenderID      string
	ChatID        string
	Content       string
	AttachmentURL string
	System        bool // true for system-originated instructions (triggers, notify)
	Metadata      map[string]string
}

// OutboundMessage carries a finished reply back to a channel. An empty
// Content is intentional silence; channels acknowledge it instead of
// sending text.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// ReplyToID is the id of the inbound message this responds to, when the
	// originating channel supplied one.
	ReplyToID string
	// UpdatedFields lists profile fields changed by the turn that produced
	// this message; channels may surface them transiently.
	UpdatedFields []string
}
