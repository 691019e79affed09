package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iwanhae/tcp-chat/chat"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tcp-chat",
		Short: "A tiny TCP chat server and client",
		Long:  "A tiny chat service: JSON envelopes over TCP, with login, broadcast and direct messages.",
	}
	rootCmd.AddCommand(newServeCmd(), newConnectCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <port>",
		Short: "Run the chat server",
		Args:  cobra.ExactArgs(1),
		RunE:  runServe,
	}

	flags := cmd.Flags()
	flags.String("ws-addr", "", "optional websocket listen address (e.g. :8080)")
	flags.String("metrics-addr", "", "optional Prometheus metrics listen address")
	flags.String("admin-addr", "", "optional SSH admin console listen address")
	flags.String("admin-host-key", "", "path to the admin console SSH host key")
	flags.String("store", "file", "credential store backend: memory, file or sqlite")
	flags.String("store-path", "users.json", "credential store path (file or sqlite backend)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.Int("conn-rate-limit", 0, "max connections per client IP per minute, 0 to disable")
	flags.Duration("shutdown-grace", 5*time.Second, "how long shutdown waits for connections to drain")
	flags.String("config", "", "optional config file (YAML)")

	viper.SetEnvPrefix("CHATD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{
		"ws-addr", "metrics-addr", "admin-addr", "admin-host-key",
		"store", "store-path", "log-level", "log-format",
		"conn-rate-limit", "shutdown-grace",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("port must be an integer, got %q", args[0])
	}
	if port < 1024 || port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535, got %d", port)
	}

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	log := newLogger(viper.GetString("log-level"), viper.GetString("log-format"))

	store, err := newStore(viper.GetString("store"), viper.GetString("store-path"))
	if err != nil {
		return err
	}
	defer store.Close()

	var metrics *chat.Metrics
	if viper.GetString("metrics-addr") != "" {
		metrics = chat.NewMetrics(nil)
	}

	srv := chat.NewServer(chat.Config{
		Addr:          net.JoinHostPort("", strconv.Itoa(port)),
		WSAddr:        viper.GetString("ws-addr"),
		MetricsAddr:   viper.GetString("metrics-addr"),
		AdminAddr:     viper.GetString("admin-addr"),
		AdminHostKey:  viper.GetString("admin-host-key"),
		ConnRateLimit: viper.GetInt("conn-rate-limit"),
		ShutdownGrace: viper.GetDuration("shutdown-grace"),
	}, store, log, metrics)

	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-quitCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}
	return srv.Close()
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <host> <port>",
		Short: "Connect to a chat server",
		Args:  cobra.ExactArgs(2),
		RunE:  runConnect,
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	if _, err := strconv.Atoi(args[1]); err != nil {
		return fmt.Errorf("port must be an integer, got %q", args[1])
	}

	client, err := chat.Dial(net.JoinHostPort(args[0], args[1]))
	if err != nil {
		return err
	}
	defer client.Close()
	fmt.Println("[INFO]: connected to chat room")

	stdin := bufio.NewReader(os.Stdin)
	if err := loginPrompt(client, stdin); err != nil {
		return err
	}

	client.Run(stdin, os.Stdout)
	fmt.Println("[INFO]: client connection closed")
	return nil
}

// loginPrompt drives the interactive login/register loop until the user is
// authenticated or the connection dies.
func loginPrompt(client *chat.Client, in *bufio.Reader) error {
	for {
		username := promptNonEmpty(in, "Enter username: ")
		password := promptNonEmpty(in, "Enter password: ")
		if username == "" || password == "" {
			// Stdin ended before we got credentials.
			return fmt.Errorf("no credentials provided")
		}

		users, err := client.Login(username, password)
		if err == nil {
			fmt.Println("[INFO]: login successful!")
			fmt.Printf("[ACTIVE USERS]: %s\n", strings.Join(users, ", "))
			return nil
		}
		if errors.Is(err, chat.ErrConnClosed) {
			return fmt.Errorf("connection lost during login")
		}

		switch {
		case strings.HasSuffix(err.Error(), chat.StatusUserNotFound):
			fmt.Println("[INFO]: username does not exist.")
			if promptNonEmpty(in, "Would you like to register? (yes/no): ") == "yes" {
				if rerr := client.Register(username, password); rerr != nil {
					fmt.Printf("[INFO]: registration failed: %v\n", rerr)
					continue
				}
				fmt.Println("[INFO]: registration successful, logging in.")
				users, err := client.Login(username, password)
				if err != nil {
					fmt.Printf("[INFO]: login failed: %v\n", err)
					continue
				}
				fmt.Println("[INFO]: login successful!")
				fmt.Printf("[ACTIVE USERS]: %s\n", strings.Join(users, ", "))
				return nil
			}
		default:
			fmt.Println("[INFO]: login failed, try again.")
		}
	}
}

func promptNonEmpty(in *bufio.Reader, prompt string) string {
	for {
		fmt.Print(prompt)
		line, err := in.ReadString('\n')
		if err != nil {
			return ""
		}
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func newStore(backend, path string) (chat.CredentialStore, error) {
	switch backend {
	case "memory":
		return chat.NewMemoryStore(), nil
	case "file":
		return chat.NewFileStore(path)
	case "sqlite":
		return chat.NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown credential store backend %q", backend)
	}
}
