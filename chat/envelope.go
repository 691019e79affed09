package chat

// Commands accepted from clients.
const (
	CmdLogin    = "login"
	CmdRegister = "register"
	CmdExit     = "ex"
	CmdPublic   = "pm"
	CmdDirect   = "dm"
)

// Status values returned in direct response to a command. These strings are
// part of the wire contract and must not change.
const (
	StatusSuccess           = "success"
	StatusUserNotFound      = "user_not_found"
	StatusFailed            = "failed"
	StatusUsernameTaken     = "username_taken"
	StatusExiting           = "exiting"
	StatusUserNotLoggedIn   = "user_not_logged_in"
	StatusMessageSent       = "message_sent"
	StatusRecipientNotFound = "recipient_username_not_found"
	StatusCannotMessageSelf = "cannot_message_self"
	StatusSenderNotActive   = "sender_not_active"
	StatusAlreadyActive     = "user_already_active"
	StatusUnknownCommand    = "unknown_command"
)

// Push types for server-originated envelopes that are not responses.
const (
	PushPublic      = "pm"
	PushDirect      = "dm"
	PushActiveUsers = "active_users"
)

// Envelope is one complete application-level message. Client requests fill
// Command plus its arguments; responses fill Status; pushes fill Type. All
// fields are omitempty so each direction serializes only its own shape.
type Envelope struct {
	Command   string `json:"command,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`

	Status      string   `json:"status,omitempty"`
	Type        string   `json:"type,omitempty"`
	From        string   `json:"from,omitempty"`
	ActiveUsers []string `json:"active_users,omitempty"`
}

// Response builds a plain status response.
func Response(status string) Envelope {
	return Envelope{Status: status}
}

// ResponseWithUsers builds a status response carrying the active user list.
func ResponseWithUsers(status string, users []string) Envelope {
	return Envelope{Status: status, ActiveUsers: users}
}

// PublicPush builds the broadcast push relayed to every other session.
func PublicPush(from, message string) Envelope {
	return Envelope{Type: PushPublic, From: from, Message: message}
}

// DirectPush builds the push delivered to a single recipient.
func DirectPush(from, message string) Envelope {
	return Envelope{Type: PushDirect, From: from, Message: message}
}

// MembershipPush builds the active-user-list push sent on membership change.
// The order of users carries no meaning for clients.
func MembershipPush(users []string) Envelope {
	return Envelope{Type: PushActiveUsers, ActiveUsers: users}
}
