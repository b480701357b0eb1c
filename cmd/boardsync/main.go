package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/charlesng35/boardsync/internal/app"
	"github.com/charlesng35/boardsync/internal/models"
	"github.com/charlesng35/boardsync/internal/session"
	"github.com/charlesng35/boardsync/internal/stream"
	"github.com/charlesng35/boardsync/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("boardsync", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		configPath  string
		roomID      string
		metricsAddr string
	)
	fs.StringVar(&configPath, "config", "", "Path to a configuration file")
	fs.StringVar(&roomID, "room", "", "Room (board) to join")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "Optional address for the /metrics endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(roomID) == "" {
		return errors.New("a room id is required (-room)")
	}

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := app.ConfigureLogging(cfg.Log.Level); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	author, err := app.ResolveAuthor(cfg.Identity)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	sess, err := session.Open(ctx, roomID, session.Config{
		APIBaseURL:    cfg.Server.APIURL,
		StreamBaseURL: cfg.Server.StreamURL,
		Token:         cfg.Identity.Token,
		Author:        author,
		Stream: stream.Config{
			BackoffBase:      cfg.Stream.BackoffBase,
			BackoffCap:       cfg.Stream.BackoffCap,
			MaxAttempts:      cfg.Stream.MaxAttempts,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
			WriteTimeout:     cfg.Stream.WriteTimeout,
		},
		EchoWindow:              cfg.Sync.EchoWindow,
		HistoryLimit:            cfg.Sync.HistoryLimit,
		PresenceRefreshInterval: cfg.Presence.RefreshInterval,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	fmt.Printf("joined room %s as %s — type a message and press enter\n", roomID, author.Name)
	printHistory(sess.Chat.Messages())

	cancelConn := sess.OnConn(func(event stream.ConnEvent) {
		switch {
		case event.Err != nil && event.State == stream.StateClosed:
			fmt.Printf("* %s stream gave up reconnecting; press enter to retry\n", event.Kind)
		case event.State == stream.StateReconnecting:
			fmt.Printf("* %s stream reconnecting (attempt %d)\n", event.Kind, event.Attempt)
		case event.State == stream.StateOpen:
			fmt.Printf("* %s stream connected\n", event.Kind)
		}
	})
	defer cancelConn()

	printer := newChatPrinter(sess, author.ID)
	sess.Chat.SetOnChange(printer.print)
	sess.Presence.SetOnChange(func(members []models.PresenceMember) {
		names := make([]string, 0, len(members))
		for _, member := range members {
			names = append(names, member.DisplayName)
		}
		fmt.Printf("* online: %s\n", strings.Join(names, ", "))
	})

	lines := readLines(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				if err := sess.Reconnect(); err != nil {
					logger.WithModule("cli").Warn("reconnect failed", zap.Error(err))
				}
				continue
			}
			if _, err := sess.SendChat(line); err != nil {
				fmt.Printf("! message not sent: %v\n", err)
			}
		}
	}
}

// chatPrinter prints messages appended to the chat store since the last
// render.
type chatPrinter struct {
	sess    *session.RoomSession
	selfID  string
	printed map[string]struct{}
}

func newChatPrinter(sess *session.RoomSession, selfID string) *chatPrinter {
	printer := &chatPrinter{sess: sess, selfID: selfID, printed: make(map[string]struct{})}
	for _, message := range sess.Chat.Messages() {
		printer.printed[message.LocalID] = struct{}{}
	}
	return printer
}

func (p *chatPrinter) print() {
	for _, message := range p.sess.Chat.Messages() {
		if _, seen := p.printed[message.LocalID]; seen {
			continue
		}
		p.printed[message.LocalID] = struct{}{}
		printMessage(message, p.selfID)
	}
}

func printHistory(messages []models.ChatMessage) {
	for _, message := range messages {
		printMessage(message, "")
	}
}

func printMessage(message models.ChatMessage, selfID string) {
	switch {
	case message.Kind == models.MessageKindSystem:
		fmt.Printf("* %s\n", message.Content)
	case selfID != "" && message.AuthorID == selfID && message.Pending():
		fmt.Printf("you (sending): %s\n", message.Content)
	default:
		fmt.Printf("%s: %s\n", message.AuthorName, message.Content)
	}
}

func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func startMetricsServer(ctx context.Context, addr string) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithModule("metrics").Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
