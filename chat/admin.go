package chat

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/gliderlabs/ssh"
)

// adminConsole is an SSH listener for operators. It is not part of the
// client wire contract; it reads one command per line and answers in plain
// text.
type adminConsole struct {
	server *Server
	srv    *ssh.Server
	log    *slog.Logger
}

func newAdminConsole(server *Server, addr, hostKeyPath string, log *slog.Logger) *adminConsole {
	c := &adminConsole{server: server, log: log}
	c.srv = &ssh.Server{
		Addr:    addr,
		Handler: c.handle,
	}
	if hostKeyPath != "" {
		if err := c.srv.SetOption(ssh.HostKeyFile(hostKeyPath)); err != nil {
			log.Error("failed to load admin host key, using ephemeral key", "path", hostKeyPath, "err", err)
		}
	}
	return c
}

func (c *adminConsole) run() {
	c.log.Info("admin console listening", "addr", c.srv.Addr)
	if err := c.srv.ListenAndServe(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, ssh.ErrServerClosed) {
		c.log.Error("admin console error", "err", err)
	}
}

func (c *adminConsole) close() {
	_ = c.srv.Close()
}

func (c *adminConsole) handle(s ssh.Session) {
	fmt.Fprintln(s, "chat admin console; commands: users, notice <text>, kick <user>, ban <ip>, unban <ip>, bans, quit")

	scanner := bufio.NewScanner(s)
	for {
		fmt.Fprint(s, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")

		switch cmd {
		case "users":
			users := c.server.registry.Usernames()
			fmt.Fprintf(s, "%d active: %s\n", len(users), strings.Join(users, ", "))

		case "notice":
			if rest == "" {
				fmt.Fprintln(s, "usage: notice <text>")
				continue
			}
			c.server.registry.Broadcast(PublicPush("server", rest), "")
			c.server.metrics.MessageRouted(PushPublic)
			fmt.Fprintln(s, "sent")

		case "kick":
			if rest == "" {
				fmt.Fprintln(s, "usage: kick <user>")
				continue
			}
			sess, ok := c.server.registry.Lookup(rest)
			if !ok {
				fmt.Fprintf(s, "no active session for %q\n", rest)
				continue
			}
			// Closing the transport drives the user's handler to its
			// teardown, which unregisters and re-broadcasts membership.
			_ = sess.Close()
			c.log.Info("operator kicked user", "user", rest)
			fmt.Fprintln(s, "kicked")

		case "ban":
			if rest == "" {
				fmt.Fprintln(s, "usage: ban <ip>")
				continue
			}
			// Only blocks new connections; live sessions from the address
			// stay up until kicked.
			c.server.bans.Ban(rest)
			c.log.Info("operator banned address", "ip", rest)
			fmt.Fprintln(s, "banned")

		case "unban":
			if rest == "" {
				fmt.Fprintln(s, "usage: unban <ip>")
				continue
			}
			c.server.bans.Unban(rest)
			c.log.Info("operator unbanned address", "ip", rest)
			fmt.Fprintln(s, "unbanned")

		case "bans":
			banned := c.server.bans.Banned()
			fmt.Fprintf(s, "%d banned: %s\n", len(banned), strings.Join(banned, ", "))

		case "quit", "exit":
			return

		default:
			fmt.Fprintf(s, "unknown command %q\n", cmd)
		}
	}
}
