package chat

// State is the authentication state of one connection.
type State int

const (
	// StateUnauthenticated is the initial state; only login and register
	// are legal.
	StateUnauthenticated State = iota
	// StateAuthenticated admits exit, broadcast and direct messages.
	StateAuthenticated
	// StateClosed is terminal, reached via exit or transport failure.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Allows reports whether cmd is legal in state s. Illegal commands are
// rejected with an error response and leave the state unchanged.
func (s State) Allows(cmd string) bool {
	switch s {
	case StateUnauthenticated:
		return cmd == CmdLogin || cmd == CmdRegister
	case StateAuthenticated:
		return cmd == CmdExit || cmd == CmdPublic || cmd == CmdDirect
	default:
		return false
	}
}

// rejectionStatus maps a command that is illegal in the current state to
// the status returned to the sender.
func rejectionStatus(cmd string) string {
	switch cmd {
	case CmdPublic, CmdDirect:
		return StatusSenderNotActive
	case CmdExit:
		return StatusUserNotLoggedIn
	case CmdLogin, CmdRegister:
		return StatusFailed
	default:
		return StatusUnknownCommand
	}
}
