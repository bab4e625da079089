// ABOUTME: CLI entrypoint for the cardgate approval service.
// ABOUTME: Wires the store, scheduler, ingestor, notifier, and HTTP server together.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
	"github.com/2389-research/cardgate/ingest"
	"github.com/2389-research/cardgate/notify"
	"github.com/2389-research/cardgate/sched"
	"github.com/2389-research/cardgate/server"
	"github.com/2389-research/cardgate/store"
	"github.com/2389-research/cardgate/web"
)

var version = "dev"

func main() {
	if err := server.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	var (
		bindFlag    = flag.String("bind", "", "Listen address (overrides CARDGATE_BIND)")
		homeFlag    = flag.String("home", "", "Data directory (overrides CARDGATE_HOME)")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("cardgate %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(*bindFlag, *homeFlag))
}

func run(bindOverride, homeOverride string) int {
	cfg, err := server.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if bindOverride != "" {
		cfg.Bind = bindOverride
	}
	if homeOverride != "" {
		cfg.Home = homeOverride
	}

	ttls, err := server.LoadSettings(cfg.SettingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating data directory: %v\n", err)
		return 1
	}

	st, err := store.OpenSqlite(filepath.Join(cfg.Home, "cards.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening card store: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	var telegram *notify.Telegram
	var notifier ingest.Notifier
	if cfg.TelegramToken != "" {
		telegram = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramAPIBase)
		notifier = telegram
	} else {
		log.Printf("component=main action=startup telegram=disabled reason=no_token")
		notifier = logNotifier{}
	}

	scheduler := sched.New(ttls)
	defer scheduler.Stop()
	dispatcher := ingest.NewDispatcher(notifier, scheduler)
	ingestor := ingest.NewIngestor(st, dispatcher, cfg.TelegramChatID)
	scheduler.Start(ingestor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Rehydrate(ctx, st); err != nil {
		fmt.Fprintf(os.Stderr, "error rehydrating gate deadlines: %v\n", err)
		return 1
	}

	srv := web.NewServer(web.ServerConfig{
		Addr:      cfg.Bind,
		Store:     st,
		Ingestor:  ingestor,
		Scheduler: scheduler,
		Telegram:  telegram,
	})

	log.Printf("component=main action=listen bind=%s home=%s version=%s", cfg.Bind, cfg.Home, version)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		log.Printf("component=main action=shutdown reason=signal")
		// Let in-flight notification sends drain before exiting.
		done := make(chan struct{})
		go func() {
			dispatcher.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			log.Printf("component=main action=shutdown result=drain_timeout")
		}
	}

	return 0
}

// logNotifier stands in when no Telegram token is configured: approval
// prompts and decision notices go to the log instead of a chat.
type logNotifier struct{}

func (logNotifier) RequestApproval(_ context.Context, card gate.Card, kind gate.GateKind, artifactRef string) error {
	log.Printf("component=notify action=request_approval card=%s gate=%s artifact=%s", card.CardID, kind, artifactRef)
	return nil
}

func (logNotifier) NotifyDecision(_ context.Context, cardID ulid.ULID, message string) error {
	log.Printf("component=notify action=notify_decision card=%s message=%q", cardID, message)
	return nil
}
