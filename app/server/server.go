package server

import (
	"context"
	"emergencyline/app/client/twilio"
	"emergencyline/app/config"
	"emergencyline/app/service/conversation"
	"emergencyline/app/service/dispatch"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

var _ do.Shutdownable = (*Service)(nil)

// Service is the HTTP face of the intake system: Twilio voice
// webhooks on one side, the department merge endpoint on the other.
type Service struct {
	cfg        *config.Config
	engine     *conversation.Service
	dispatcher *dispatch.Service
	validator  *twilio.Validator

	app *fiber.App
}

func New(di *do.Injector) (*Service, error) {
	return NewService(
		do.MustInvoke[*config.Config](di),
		do.MustInvoke[*conversation.Service](di),
		do.MustInvoke[*dispatch.Service](di),
	), nil
}

func NewService(cfg *config.Config, engine *conversation.Service, dispatcher *dispatch.Service) *Service {
	s := &Service{
		cfg:        cfg,
		engine:     engine,
		dispatcher: dispatcher,
		validator:  twilio.NewValidator(cfg.Twilio.AuthToken),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Post("/voice", s.requireTwilioSignature, s.handleVoice)
	app.Post("/voice/transcribe", s.requireTwilioSignature, s.handleTranscribe)
	app.Post("/status/callback", s.requireTwilioSignature, s.handleStatusCallback)
	app.Post("/webhook", s.handleWebhook)

	s.app = app

	return s
}

// App exposes the fiber app for tests.
func (s *Service) App() *fiber.App {
	return s.app
}

func (s *Service) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		errChan <- s.app.Listen(s.cfg.Server.Addr)
	}()

	slog.Info("HTTP server listening", "addr", s.cfg.Server.Addr)

	select {
	case <-ctx.Done():
		if err := s.app.Shutdown(); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}

		return nil
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	}
}

func (s *Service) Shutdown() error {
	return s.app.Shutdown()
}
