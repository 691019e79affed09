package chat

import (
	"errors"
	"log/slog"
)

// Router consumes decoded, state-checked commands on behalf of one
// connection, consulting the registry and credential store and producing
// the response for the sender plus any side-effect deliveries to other
// sessions.
type Router struct {
	registry *Registry
	store    CredentialStore
	log      *slog.Logger
	metrics  *Metrics
}

// NewRouter wires a router to its collaborators. metrics may be nil.
func NewRouter(registry *Registry, store CredentialStore, log *slog.Logger, metrics *Metrics) *Router {
	return &Router{registry: registry, store: store, log: log, metrics: metrics}
}

// Handle runs one command for a connection whose current state is st and
// whose session (nil before login) is sess. It returns the response to send
// back, the connection's next state, and the possibly-updated session.
func (r *Router) Handle(st State, sess *Session, sink Conn, env Envelope) (Envelope, State, *Session) {
	switch env.Command {
	case CmdLogin, CmdRegister, CmdExit, CmdPublic, CmdDirect:
		if !st.Allows(env.Command) {
			return Response(rejectionStatus(env.Command)), st, sess
		}
	default:
		return Response(StatusUnknownCommand), st, sess
	}

	switch env.Command {
	case CmdLogin:
		return r.login(st, sink, env)
	case CmdRegister:
		return r.register(st, sess, env)
	case CmdExit:
		return r.exit(sess)
	case CmdPublic:
		return r.public(st, sess, env)
	default: // CmdDirect
		return r.direct(st, sess, env)
	}
}

func (r *Router) login(st State, sink Conn, env Envelope) (Envelope, State, *Session) {
	if env.Username == "" {
		return Response(StatusUserNotFound), st, nil
	}

	switch err := r.store.Authenticate(env.Username, env.Password); {
	case err == nil:
	case errors.Is(err, ErrUserNotFound):
		r.metrics.AuthFailed()
		return Response(StatusUserNotFound), st, nil
	default:
		// Wrong password and store failures both surface as a plain
		// failure; nothing about the credential leaks to the client.
		r.metrics.AuthFailed()
		return Response(StatusFailed), st, nil
	}

	sess, err := r.registry.Register(env.Username, sink)
	if err != nil {
		return Response(StatusAlreadyActive), st, nil
	}
	r.log.Info("user logged in", "user", env.Username)

	// The sender learns the member list from the success response; everyone
	// else gets the membership push.
	users := r.registry.Usernames()
	r.registry.BroadcastMembership(env.Username)
	return ResponseWithUsers(StatusSuccess, users), StateAuthenticated, sess
}

func (r *Router) register(st State, sess *Session, env Envelope) (Envelope, State, *Session) {
	if env.Username == "" || env.Password == "" {
		return Response(StatusFailed), st, sess
	}

	switch err := r.store.Create(env.Username, env.Password); {
	case err == nil:
		r.log.Info("user registered", "user", env.Username)
		// Registration does not log in; the connection stays
		// unauthenticated.
		return Response(StatusSuccess), st, sess
	case errors.Is(err, ErrUserExists):
		return Response(StatusUsernameTaken), st, sess
	default:
		r.log.Error("credential store create failed", "user", env.Username, "err", err)
		return Response(StatusFailed), st, sess
	}
}

func (r *Router) exit(sess *Session) (Envelope, State, *Session) {
	if r.registry.Drop(sess) {
		r.registry.BroadcastMembership("")
	}
	r.log.Info("user exited", "user", sess.Name)
	return Response(StatusExiting), StateClosed, nil
}

func (r *Router) public(st State, sess *Session, env Envelope) (Envelope, State, *Session) {
	r.registry.Broadcast(PublicPush(sess.Name, env.Message), sess.Name)
	r.metrics.MessageRouted(PushPublic)
	return Response(StatusMessageSent), st, sess
}

func (r *Router) direct(st State, sess *Session, env Envelope) (Envelope, State, *Session) {
	if env.Recipient == sess.Name {
		// Always rejected, whatever the registry says.
		return Response(StatusCannotMessageSelf), st, sess
	}
	rcpt, ok := r.registry.Lookup(env.Recipient)
	if !ok {
		return Response(StatusRecipientNotFound), st, sess
	}

	if err := rcpt.Send(DirectPush(sess.Name, env.Message)); err != nil {
		// Best effort: the recipient's connection is dying and its own
		// handler will reap it. The sender still sees message_sent.
		r.metrics.DeliveryFailed()
		r.log.Warn("direct delivery failed", "from", sess.Name, "to", env.Recipient)
	}
	r.metrics.MessageRouted(PushDirect)
	return Response(StatusMessageSent), st, sess
}
