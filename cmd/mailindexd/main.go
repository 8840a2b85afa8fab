package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"

	"github.com/northbound-dev/mailindex/internal/applier"
	"github.com/northbound-dev/mailindex/internal/authz"
	"github.com/northbound-dev/mailindex/internal/backfill"
	"github.com/northbound-dev/mailindex/internal/config"
	"github.com/northbound-dev/mailindex/internal/cryptoindex"
	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/eventstream"
	"github.com/northbound-dev/mailindex/internal/fetcher/gmail"
	"github.com/northbound-dev/mailindex/internal/fetcher/outlook"
	"github.com/northbound-dev/mailindex/internal/folder"
	"github.com/northbound-dev/mailindex/internal/httpapi"
	"github.com/northbound-dev/mailindex/internal/indexcore"
	"github.com/northbound-dev/mailindex/internal/lifecycle"
	"github.com/northbound-dev/mailindex/internal/logging"
	"github.com/northbound-dev/mailindex/internal/metrics"
	"github.com/northbound-dev/mailindex/internal/objectstore/sqlite"
	"github.com/northbound-dev/mailindex/internal/progress"
)

func main() {
	cfg := config.Load()
	logging.SetLevel(cfg.LogLevel)
	log := logging.For(logging.Main)

	cipher := cryptoindex.NewKeyCipher([]byte(cfg.DatabaseEncryptionKey))

	meter := otel.GetMeterProvider().Meter("mailindex")
	core, err := indexcore.Open(cfg.DatabasePath+".bleve", cipher, indexcore.WithMeter(meter))
	if err != nil {
		log.WithError(err).Fatal("could not open index core")
	}
	defer core.Close()

	objectStore, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("could not open object store")
	}
	defer objectStore.Close()
	store := progress.New(objectStore)

	folderCache, err := folder.OpenCache(cfg.DatabasePath + ".folders")
	if err != nil {
		log.WithError(err).Fatal("could not open folder cache")
	}
	defer folderCache.Close()

	fetcher, err := buildFetcher(cfg)
	if err != nil {
		log.WithError(err).Fatal("could not build entity fetcher")
	}

	backfillEngine := backfill.New(fetcher, core, store, cipher)
	controller := lifecycle.New(fetcher, store, backfillEngine, lifecycle.WithFolderCache(folderCache))
	eventApplier := applier.New(fetcher, core, store, cipher)

	reporter := metrics.NewReporter(core)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reporter.Run(ctx)

	if cfg.NATSURL != "" {
		consumer, err := eventstream.NewConsumer(cfg.NATSURL)
		if err != nil {
			log.WithError(err).Warn("could not connect to mutation event stream, HTTP ingestion only")
		} else {
			defer consumer.Close()
			go runConsumer(ctx, consumer, eventApplier, groupIDsFromEnv())
		}
	}

	var verifier *authz.Verifier
	if cfg.JWKSURL != "" {
		verifier, err = authz.NewVerifier(cfg.JWKSURL)
		if err != nil {
			log.WithError(err).Fatal("could not initialize jwt verifier")
		}
	} else {
		log.Warn("JWKS_URL not set, control API is unauthenticated")
	}

	server := httpapi.NewServer(controller, eventApplier.Apply, verifier)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http control surface listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("could not shut down http server")
	}
}

// runConsumer subscribes to every group named in GROUP_IDS. In a fuller
// deployment group membership would be pushed from the host rather than
// configured statically.
func runConsumer(ctx context.Context, consumer *eventstream.Consumer, eventApplier *applier.Applier, groupIDs []string) {
	log := logging.For(logging.Eventbus)
	for _, groupID := range groupIDs {
		go func(groupID string) {
			if err := consumer.RunGroup(ctx, groupID, eventApplier.Apply); err != nil {
				log.WithError(err).WithField("group", groupID).Error("mutation consumer stopped")
			}
		}(groupID)
	}
}

func groupIDsFromEnv() []string {
	raw := strings.TrimSpace(os.Getenv("GROUP_IDS"))
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func buildFetcher(cfg config.Config) (domain.EntityFetcher, error) {
	provider := strings.ToLower(os.Getenv("MAIL_PROVIDER"))
	switch provider {
	case "outlook":
		return outlook.New(os.Getenv("OUTLOOK_ACCESS_TOKEN"), os.Getenv("OUTLOOK_USER_ID"))
	default:
		token := &oauth2.Token{AccessToken: os.Getenv("GMAIL_ACCESS_TOKEN")}
		return gmail.New(context.Background(), token)
	}
}
