package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"studychat/internal/config"
	"studychat/internal/constants"
	"studychat/internal/metrics"
	"studychat/internal/models"
	"studychat/internal/retry"
	"studychat/internal/session"
	"studychat/internal/store"
	"studychat/internal/tracing"
	"studychat/pkg/channel"
	"studychat/pkg/chatapi"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose        = flag.Bool("verbose", false, "Enable verbose logging")
	configPath     = flag.String("config", "config.json", "Path to configuration file")
	showVersion    = flag.Bool("version", false, "Show version information")
	conversationID = flag.Int64("conversation", 0, "Conversation id to open")
	participantID  = flag.String("participant", "", "User id to open a direct conversation with")
	group          = flag.Bool("group", false, "Join the conversation as a group")
	sendText       = flag.String("send", "", "Send one message after the session opens")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("studychat %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting studychat")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *conversationID == 0 && *participantID == "" {
		return fmt.Errorf("either -conversation or -participant is required")
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Open the local archive with exponential backoff; sqlite may be
	// briefly locked by a previous instance shutting down.
	var archive session.Archive
	if cfg.Store.Path != "" {
		backoff := retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  constants.DefaultStoreRetryAttempts,
			Jitter:       true,
		})
		var st *store.Store
		err = backoff.Retry(ctx, func() error {
			var openErr error
			st, openErr = store.Open(cfg.Store.Path)
			if openErr != nil {
				logger.Warnf("Failed to open message archive: %v", openErr)
			}
			return openErr
		})
		if err != nil {
			return fmt.Errorf("failed to open message archive after retries: %w", err)
		}
		defer st.Close()
		archive = st
	}

	httpTimeout := cfg.API.TimeoutSec
	if httpTimeout <= 0 {
		httpTimeout = constants.DefaultHTTPTimeoutSec
	}
	apiClient := chatapi.NewClient(cfg.API.BaseURL, cfg.API.AuthToken, &http.Client{
		Timeout: time.Duration(httpTimeout) * time.Second,
	}, logger)

	kind := models.ConversationDirect
	if *group {
		kind = models.ConversationGroup
	}

	registry := metrics.NewRegistry()
	updates := make(chan struct{}, 1)

	sess, err := session.New(session.Options{
		ConversationID: *conversationID,
		ParticipantID:  *participantID,
		Kind:           kind,
		LocalUserID:    cfg.UserID,
		API:            apiClient,
		Archive:        archive,
		Metrics:        registry,
		Logger:         logger,
		HistoryTimeout: time.Duration(cfg.API.HistoryTimeoutSec) * time.Second,
		NewChannel: func(convID int64, handler session.ChannelHandler) session.LiveChannel {
			return channel.New(channel.Options{
				URL:            cfg.Channel.URL,
				AuthToken:      cfg.Channel.AuthToken,
				ConversationID: convID,
				Kind:           kind,
				Backoff: retry.BackoffConfig{
					InitialDelay: constants.DefaultReconnectInitialMs * time.Millisecond,
					MaxDelay:     constants.DefaultReconnectMaxMs * time.Millisecond,
					MaxAttempts:  constants.DefaultReconnectAttempts,
					Multiplier:   2.0,
					Jitter:       true,
				},
				Logger: logger,
			}, handler)
		},
		OnUpdate: func() {
			select {
			case updates <- struct{}{}:
			default:
			}
		},
		OnError: func(userMessage string) {
			fmt.Fprintf(os.Stderr, "! %s\n", userMessage)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Close()

	server := NewServer(sess, registry, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("status server error: %w", err)
		}
	}()

	if err := sess.Open(ctx); err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}

	if *sendText != "" {
		if err := sess.Send(ctx, *sendText, ""); err != nil {
			logger.Warnf("Send failed: %v", err)
		}
	}

	// Lines typed on stdin become outbound messages.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := sess.Send(ctx, line, ""); err != nil {
				logger.Warnf("Send failed: %v", err)
			}
		}
	}()

	printed := tail(ctx, sess, 0)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("Received shutdown signal")
			break loop
		case err := <-serverErrCh:
			logger.Error(err)
			runErr = err
			break loop
		case <-updates:
			printed = tail(ctx, sess, printed)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown status server gracefully: %w", err)
	}

	logger.Info("Shutdown completed")
	return runErr
}

// tail prints messages appended since the last call and returns the new
// high-water mark. Edits to already-printed entries (tombstones, ack
// replacements) are not re-rendered; this is a follow view, not a UI.
func tail(ctx context.Context, sess *session.Session, printed int) int {
	msgs := sess.Messages()
	for _, msg := range msgs[min(printed, len(msgs)):] {
		name := sess.Profiles().DisplayName(ctx, msg.SenderID)
		switch {
		case msg.IsDeleted:
			fmt.Printf("[%s] %s: (message deleted)\n", msg.SentAt.Format(time.RFC3339), name)
		case msg.Failed:
			fmt.Printf("[%s] %s: %s (failed to send)\n", msg.SentAt.Format(time.RFC3339), name, msg.Text)
		case msg.Pending:
			fmt.Printf("[%s] %s: %s (sending)\n", msg.SentAt.Format(time.RFC3339), name, msg.Text)
		default:
			fmt.Printf("[%s] %s: %s\n", msg.SentAt.Format(time.RFC3339), name, msg.Text)
		}
	}
	return len(msgs)
}
