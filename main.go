package main

import (
	"context"
	"emergencyline/app/client/groq"
	"emergencyline/app/config"
	"emergencyline/app/server"
	"emergencyline/app/service/classifier"
	"emergencyline/app/service/conversation"
	"emergencyline/app/service/convstore"
	"emergencyline/app/service/dispatch"
	"emergencyline/app/service/ledger"
	"emergencyline/app/util/mylog"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, groq.NewClient)
	do.Provide(di, convstore.New)
	do.Provide(di, ledger.New)
	do.Provide(di, dispatch.New)
	do.Provide(di, classifier.New)
	do.Provide(di, conversation.New)
	do.Provide(di, server.New)

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	g, gCtx := errgroup.WithContext(appCtx)

	g.Go(func() error {
		return do.MustInvoke[*server.Service](di).Run(gCtx)
	})

	if err = g.Wait(); err != nil {
		slog.Error("Service failed", "error", err, "telegram", true)
		os.Exit(1)
	}
}
