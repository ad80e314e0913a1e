// ABOUTME: Admin CLI for a running xeno-gateway
// ABOUTME: Inspects status, personas, history, tasks and the knowledge graph, and chats over HTTP or WebSocket

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/xeno-gateway/internal/client"
	"github.com/2389/xeno-gateway/internal/gateway"
)

// Environment variables read for flag defaults.
const (
	envGatewayURL = "XENO_GATEWAY_URL"
	envToken      = "XENO_TOKEN"
)

const defaultGatewayURL = "http://localhost:8080"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	url   string
	token string
	in    io.Reader
	out   io.Writer
}

func (o *rootOptions) client() (*client.Client, error) {
	var opts []client.Option
	if o.token != "" {
		opts = append(opts, client.WithToken(o.token))
	}
	return client.New(o.url, opts...)
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	opts := &rootOptions{in: in, out: out}

	root := &cobra.Command{
		Use:           "xeno-admin",
		Short:         "Inspect and talk to a running xeno-gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.url, "url", getEnv(envGatewayURL, defaultGatewayURL), "gateway base URL ($"+envGatewayURL+")")
	root.PersistentFlags().StringVar(&opts.token, "token", getToken(), "JWT bearer token ($"+envToken+" or ~/.config/xeno/token)")

	root.AddCommand(
		newStatusCmd(opts),
		newAgentsCmd(opts),
		newHistoryCmd(opts),
		newConversationsCmd(opts),
		newNewConversationCmd(opts),
		newTaskCmd(opts),
		newChatCmd(opts),
		newWatchCmd(opts),
		newKnowledgeCmd(opts),
	)
	return root
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway health and feature status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			out := opts.out
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			green.Fprint(out, "  Gateway:     ")
			if _, err := c.Health(cmd.Context()); err != nil {
				color.New(color.FgRed).Fprintf(out, "UNREACHABLE (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "%s\n", c.BaseURL())

			st, err := c.Status(cmd.Context())
			if err != nil {
				yellow.Fprint(out, "  Status:      ")
				fmt.Fprintf(out, "unavailable (%v)\n", err)
				return nil
			}

			green.Fprint(out, "  Provider:    ")
			fmt.Fprintf(out, "%s (available: %t, fallback forced: %t)\n",
				st.Features.Provider, st.Features.AIModels, st.Features.FallbackForce)
			green.Fprint(out, "  Persistence: ")
			fmt.Fprintf(out, "%t\n", st.Features.Persistence)
			green.Fprint(out, "  Knowledge:   ")
			fmt.Fprintf(out, "%t\n", st.Features.KnowledgeGraph)
			green.Fprint(out, "  Auth:        ")
			fmt.Fprintf(out, "%t\n", st.Features.Auth)
			green.Fprint(out, "  Tasks:       ")
			fmt.Fprintf(out, "%d live\n", st.Features.ActiveTasks)
			green.Fprint(out, "  Uptime:      ")
			fmt.Fprintf(out, "%s\n", time.Duration(st.System.Uptime*float64(time.Second)).Round(time.Second))
			green.Fprint(out, "  Host:        ")
			fmt.Fprintf(out, "%s (%s, %s)\n", st.System.Hostname, st.System.Platform, st.System.GoVersion)
			return nil
		},
	}
}

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the registered personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			agents, err := c.Agents(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(opts.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tMODEL\tTEMP\tLEAD\tDESCRIPTION")
			for _, a := range agents {
				lead := ""
				if a.Lead {
					lead = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n", a.Role, a.Model, a.Temperature, lead, truncate(a.Description, 60))
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		html  bool
	)
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show a session's persisted messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			msgs, err := c.History(cmd.Context(), args[0], client.HistoryOptions{Limit: limit, HTML: html})
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(opts.out, "No messages.")
				return nil
			}

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			for i := len(msgs) - 1; i >= 0; i-- {
				m := msgs[i]
				who := "user"
				if !m.IsUser {
					who = m.AgentRole
				}
				gray.Fprintf(opts.out, "%s ", m.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				cyan.Fprintf(opts.out, "%s:\n", who)
				body := m.Content
				if html && m.HTML != "" {
					body = m.HTML
				}
				fmt.Fprintln(opts.out, indent(body))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum messages (gateway default 50)")
	cmd.Flags().BoolVar(&html, "html", false, "print rendered HTML instead of markdown")
	return cmd
}

func newConversationsCmd(opts *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "conversations <user-id>",
		Short: "List a user's conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			convs, err := c.Conversations(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Fprintln(opts.out, "No conversations.")
				return nil
			}

			w := tabwriter.NewWriter(opts.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED\tLAST")
			for _, cv := range convs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					cv.ID, truncate(cv.Title, 30), cv.MessageCount,
					cv.UpdatedAt.Local().Format("2006-01-02 15:04"), truncate(cv.LastMessage, 40))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum conversations (gateway default 10)")
	cmd.Flags().IntVar(&offset, "offset", 0, "conversations to skip")
	return cmd
}

func newNewConversationCmd(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "new <title>",
		Short: "Create an empty conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			conv, err := c.CreateConversation(cmd.Context(), strings.Join(args, " "), user)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprint(opts.out, "  ✓ ")
			fmt.Fprintf(opts.out, "Created conversation %s (%s)\n", conv.ID, conv.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "owner user id (ignored when the token names one)")
	return cmd
}

func newTaskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "task <task-id>",
		Short: "Show a live task and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			snap, err := c.Task(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			green.Fprint(opts.out, "  Task:    ")
			fmt.Fprintf(opts.out, "%s (%s)\n", snap.ID, snap.Title)
			green.Fprint(opts.out, "  Status:  ")
			fmt.Fprintf(opts.out, "%s\n", snap.Status)
			green.Fprint(opts.out, "  Lead:    ")
			fmt.Fprintf(opts.out, "%s\n", snap.LeadRole)
			fmt.Fprintln(opts.out)

			w := tabwriter.NewWriter(opts.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tFROM\tTO\tCONTENT")
			for _, m := range snap.Messages {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					m.CreatedAt.Local().Format("15:04:05"), m.Kind, m.From, m.To, truncate(m.Content, 60))
			}
			return w.Flush()
		},
	}
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var session, user string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message, or start a REPL when no message is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				return chatOneShot(cmd.Context(), opts, c, gateway.ChatRequest{
					Message:         strings.Join(args, " "),
					SessionID:       session,
					UserID:          user,
					ClientMessageID: uuid.NewString(),
				})
			}
			if session == "" {
				session = uuid.NewString()
			}
			return chatREPL(cmd.Context(), opts, c, session, user)
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "session id (new session when empty)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id (ignored when the token names one)")
	return cmd
}

func chatOneShot(ctx context.Context, opts *rootOptions, c *client.Client, req gateway.ChatRequest) error {
	out, err := c.Chat(ctx, req)
	if err != nil {
		return err
	}
	printReply(opts.out, out.LeadRole, out.Message, out.Degraded)
	color.New(color.FgHiBlack).Fprintf(opts.out, "  task %s\n", out.TaskID)
	return nil
}

// chatREPL reads lines and sends each over the WebSocket, waiting for the
// reply before reading the next. Turns by other clients on the same session
// are printed as they arrive.
func chatREPL(ctx context.Context, opts *rootOptions, c *client.Client, session, user string) error {
	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	if err := subscribe(conn, session); err != nil {
		_ = conn.Close()
		return err
	}

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(opts.out, "session %s - Ctrl-D to quit\n", session)

	replies := make(chan struct{}, 1)
	done := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Go(func() { done <- printEvents(opts.out, conn, replies) })
	defer func() {
		_ = conn.Close()
		wg.Wait()
	}()

	scanner := bufio.NewScanner(opts.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := conn.Send(gateway.ChatRequest{
			Message:         line,
			SessionID:       session,
			UserID:          user,
			ClientMessageID: uuid.NewString(),
		}); err != nil {
			return fmt.Errorf("sending: %w", err)
		}
		select {
		case <-replies:
		case err := <-done:
			return err
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

// subscribe sends a subscribe frame and waits for the acknowledgement.
func subscribe(conn *client.Conn, session string) error {
	if err := conn.Subscribe(session); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	ev, err := conn.Next()
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	if err := ev.Err(); err != nil {
		return err
	}
	return nil
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Print turns on a session as they happen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			conn, err := c.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			stop := context.AfterFunc(cmd.Context(), func() { _ = conn.Close() })
			defer stop()

			if err := subscribe(conn, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "watching %s\n", args[0])
			err = printEvents(opts.out, conn, nil)
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

// printEvents prints server events until the connection fails. Each reply
// to this connection's own turns is signalled on replies when non-nil.
func printEvents(out io.Writer, conn *client.Conn, replies chan<- struct{}) error {
	gray := color.New(color.FgHiBlack)
	for {
		ev, err := conn.Next()
		if err != nil {
			return err
		}
		switch ev.Event {
		case gateway.EventResponse:
			if resp, err := ev.Response(); err == nil {
				printReply(out, resp.LeadRole, resp.Message, resp.Degraded)
			}
			notifyReply(replies)
		case gateway.EventMessage:
			if msg, err := ev.Message(); err == nil {
				printReply(out, msg.From, msg.Content, false)
			}
		case gateway.EventSubscribed:
			gray.Fprintln(out, "subscribed")
		case gateway.EventError:
			var apiErr *client.APIError
			if errors.As(ev.Err(), &apiErr) {
				color.New(color.FgRed).Fprintf(out, "error (%d): %s\n", apiErr.Status, apiErr.Message)
			}
			notifyReply(replies)
		}
	}
}

func notifyReply(ch chan<- struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func printReply(out io.Writer, who, text string, degraded bool) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(out, "%s:", who)
	if degraded {
		color.New(color.FgYellow).Fprint(out, " [fallback]")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, indent(text))
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getToken reads XENO_TOKEN, then the token file written by
// "xeno-gateway token".
func getToken() string {
	if token := os.Getenv(envToken); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "xeno", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
