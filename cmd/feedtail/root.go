package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RahmatullahZadran/appss/internal/client"
	"github.com/RahmatullahZadran/appss/internal/feed"
	"github.com/RahmatullahZadran/appss/internal/models"
)

// Flag names, also the viper keys. Each can be set from the environment as
// FEEDTAIL_<NAME> with dashes turned into underscores.
const (
	ServerFlag       = "server"
	TokenFlag        = "token"
	EmailFlag        = "email"
	PasswordFlag     = "password"
	ConversationFlag = "conversation"
	PeerFlag         = "peer"
	WindowFlag       = "window"
	PageFlag         = "page"
	LogLevelFlag     = "log-level"
)

// Execute runs the root command. Called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "feedtail",
	Short: "Follow a conversation on a feed server",
	Long: `Attach to one conversation, print its messages as they arrive and send
every line typed on stdin. Type /older to load the previous page and /quit to
leave.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP(ServerFlag, "s", "http://localhost:8080", "Feed server base URL")
	rootCmd.PersistentFlags().StringP(TokenFlag, "t", "", "Access token; skips login when set")
	rootCmd.PersistentFlags().StringP(EmailFlag, "e", "", "Account email used to log in")
	rootCmd.PersistentFlags().StringP(PasswordFlag, "p", "", "Account password used to log in")
	rootCmd.Flags().StringP(ConversationFlag, "c", "", "Conversation ID to follow")
	rootCmd.Flags().Uint(PeerFlag, 0, "Open (or create) the conversation with this user ID")
	rootCmd.Flags().Int(WindowFlag, feed.DefaultLiveWindow, "Number of newest messages kept live")
	rootCmd.Flags().Int(PageFlag, feed.DefaultPageSize, "Messages loaded per /older")
	rootCmd.PersistentFlags().StringP(LogLevelFlag, "v", "warn", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
	_ = viper.BindPFlags(rootCmd.Flags())
}

func initConfig() {
	viper.SetEnvPrefix("FEEDTAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(viper.GetString(LogLevelFlag))
	if err != nil {
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	log := newLogger()

	c, err := client.New(viper.GetString(ServerFlag),
		client.WithToken(viper.GetString(TokenFlag)),
		client.WithLogger(log))
	if err != nil {
		return err
	}

	if c.Token() == "" {
		email, password := viper.GetString(EmailFlag), viper.GetString(PasswordFlag)
		if email == "" || password == "" {
			return errors.New("either --token or --email and --password are required")
		}
		if _, err := c.Login(ctx, email, password); err != nil {
			return err
		}
	}
	me, err := c.Me(ctx)
	if err != nil {
		return err
	}

	conversationID := viper.GetString(ConversationFlag)
	if conversationID == "" {
		peer := viper.GetUint(PeerFlag)
		if peer == 0 {
			return errors.New("either --conversation or --peer is required")
		}
		conv, err := c.OpenConversation(ctx, peer)
		if err != nil {
			return err
		}
		conversationID = conv.ID
	}

	view, err := feed.Attach(ctx, c, conversationID, me.ID,
		feed.WithLiveWindow(viper.GetInt(WindowFlag)),
		feed.WithPageSize(viper.GetInt(PageFlag)),
		feed.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		view.Detach()
		view.Wait()
	}()
	fmt.Fprintf(out, "following %s as %s (%d)\n", conversationID, me.FirstName, me.ID)

	p := &printer{out: out, viewerID: me.ID, seen: make(map[string]struct{})}
	go p.follow(ctx, view)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-view.Done():
			if err := view.Err(); err != nil {
				return err
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := p.handle(ctx, view, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// printer writes each message once. Live deliveries append at the bottom;
// pages from /older are printed as a block.
type printer struct {
	out      io.Writer
	viewerID uint

	mu   sync.Mutex
	seen map[string]struct{}
}

func (p *printer) follow(ctx context.Context, view *feed.Synchronizer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-view.Done():
			return
		case ev := <-view.Events():
			switch ev.Kind {
			case feed.EventMessages:
				p.mu.Lock()
				p.printNewest(view.Messages())
				p.mu.Unlock()
			case feed.EventError:
				p.mu.Lock()
				fmt.Fprintf(p.out, "! %v\n", ev.Err)
				p.mu.Unlock()
			}
		}
	}
}

// printNewest prints the unseen messages after the last one already shown.
// Older ones are left to the /older output. Callers hold p.mu.
func (p *printer) printNewest(list []models.Message) {
	start := len(list)
	for start > 0 {
		if _, ok := p.seen[list[start-1].ID]; ok {
			break
		}
		start--
	}
	for _, m := range list[start:] {
		p.print(m)
	}
}

func (p *printer) print(m models.Message) {
	p.seen[m.ID] = struct{}{}
	who := fmt.Sprintf("user %d", m.SenderID)
	if m.SenderID == p.viewerID {
		who = "me"
	}
	fmt.Fprintf(p.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("Jan 2 15:04:05"), who, m.Text)
}

func (p *printer) handle(ctx context.Context, view *feed.Synchronizer, line string) bool {
	switch line {
	case "":
		return false
	case "/quit":
		return true
	case "/older":
		if view.ReachedStart() {
			fmt.Fprintln(p.out, "-- start of conversation --")
			return false
		}
		added, err := view.LoadOlder(ctx)
		if err != nil {
			fmt.Fprintf(p.out, "! %v\n", err)
			return false
		}
		p.mu.Lock()
		fmt.Fprintf(p.out, "-- %d older messages --\n", len(added))
		for _, m := range added {
			p.print(m)
		}
		fmt.Fprintln(p.out, "--")
		p.mu.Unlock()
		return false
	}

	if _, err := view.Send(ctx, line); err != nil {
		var sendErr *feed.SendError
		if errors.As(err, &sendErr) && sendErr.MessageStored() {
			fmt.Fprintf(p.out, "! sent, but read state was not updated: %v\n", err)
			return false
		}
		fmt.Fprintf(p.out, "! not sent: %v\n", err)
	}
	return false
}
