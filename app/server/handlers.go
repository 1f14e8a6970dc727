package server

import (
	"emergencyline/app/client/twilio"
	"emergencyline/app/service/conversation"
	"emergencyline/app/service/ledger"
	"log/slog"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/gofiber/fiber/v2"
)

const (
	transcribeCallbackPath = "/voice/transcribe"
	describePrompt         = "Please describe your emergency."
	noInputText            = "We didn't receive any input. Please call back if you have an emergency."
)

// callStatuses that mean the call is over, per Twilio status callbacks
var terminalCallStatuses = []string{"completed", "failed", "busy", "no-answer"}

// requireTwilioSignature rejects webhook requests that do not carry a
// valid X-Twilio-Signature for the forwarded URL and form body.
func (s *Service) requireTwilioSignature(c *fiber.Ctx) error {
	if s.cfg.Twilio.SkipValidation {
		return c.Next()
	}

	proto := c.Get("X-Forwarded-Proto", "http")
	host := c.Get("X-Forwarded-Host", string(c.Request().Host()))
	url := proto + "://" + host + c.Path()

	params := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})

	if !s.validator.Validate(url, params, c.Get("X-Twilio-Signature")) {
		slog.Warn("Twilio request validation failed",
			"url", url,
			"path", c.Path())

		return c.Status(fiber.StatusForbidden).SendString("Invalid request")
	}

	return c.Next()
}

// handleVoice answers a new incoming call with the greeting and arms
// speech gathering.
func (s *Service) handleVoice(c *fiber.Ctx) error {
	prompt := s.engine.Greet(c.FormValue("CallSid"))

	twiml, err := twilio.NewVoiceResponse().
		WithSay(prompt.Text).
		WithGather(describePrompt, transcribeCallbackPath).
		WithSay(noInputText).
		Render()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return sendTwiML(c, twiml)
}

// handleTranscribe feeds one utterance into the call's state machine
// and renders its answer: either the next question with a gather, or
// the closing message with a hangup.
func (s *Service) handleTranscribe(c *fiber.Ctx) error {
	ev := conversation.Event{
		CallID:    c.FormValue("CallSid"),
		Text:      c.FormValue("SpeechResult"),
		Timestamp: parseTimestamp(c.FormValue("Timestamp")),
	}

	prompt, err := s.engine.HandleUtterance(c.Context(), ev)
	if err != nil {
		// the caller still gets the prompt; dispatch errors are an
		// operator problem, not a caller problem
		slog.Error("Utterance handling failed",
			"call_id", ev.CallID,
			"error", err,
			"telegram", true)
	}

	response := twilio.NewVoiceResponse()
	switch {
	case prompt.Gather:
		response.WithSay(prompt.Text).
			WithGather("", transcribeCallbackPath).
			WithSay(noInputText)
	case prompt.Text != "":
		response.WithSay(prompt.Text).WithHangup()
	}

	twiml, err := response.Render()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return sendTwiML(c, twiml)
}

// handleStatusCallback closes the call's machine on terminal statuses.
func (s *Service) handleStatusCallback(c *fiber.Ctx) error {
	callSid := c.FormValue("CallSid")
	callStatus := c.FormValue("CallStatus")

	slog.Info("Call status callback",
		"call_sid", callSid,
		"status", callStatus)

	if pie.Contains(terminalCallStatuses, callStatus) {
		s.engine.EndCall(callSid)
	}

	return c.SendString("")
}

// handleWebhook applies a batch merge: {category: [case, ...], ...}.
// Replaying the same payload is safe; duplicates are no-ops.
func (s *Service) handleWebhook(c *fiber.Ctx) error {
	var batch map[string][]ledger.Case
	if err := c.BodyParser(&batch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid JSON payload.",
		})
	}

	if err := s.dispatcher.SubmitBatch(c.Context(), batch); err != nil {
		slog.Error("Webhook merge failed",
			"error", err,
			"telegram", true)

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "An error occurred while processing the request.",
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Data received and updated.",
	})
}

func sendTwiML(c *fiber.Ctx, twiml string) error {
	c.Set(fiber.HeaderContentType, "application/xml")

	return c.SendString(twiml)
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}

	// Twilio sends RFC 2822 timestamps
	if ts, err := time.Parse(time.RFC1123Z, raw); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}

	return time.Now()
}
