package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MEETING WEBHOOK
// The meeting platform is untrusted and retries on anything but 2xx. Business
// rejections and malformed payloads are therefore acknowledged with 200 and
// an outcome; only infrastructure failures answer 503 so the delivery is
// retried later.
// ══════════════════════════════════════════════════════════════════════════════

const (
	HeaderDeliveryID = "X-Delivery-ID"
	HeaderSignature  = "X-Signature"
)

// Outcomes the webhook reports beyond the command's meeting outcomes.
const (
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
)

// MeetingEventPayload is the body posted by the meeting platform.
type MeetingEventPayload struct {
	Event               string    `json:"event" validate:"required,oneof=join leave JOIN LEAVE"`
	ParticipantIdentity string    `json:"participantIdentity" validate:"required,max=256"`
	Timestamp           time.Time `json:"timestamp" validate:"required"`
	MeetingIdentifier   string    `json:"meetingIdentifier" validate:"required,max=256"`
}

// MeetingEventAck is the acknowledgment body.
type MeetingEventAck struct {
	Outcome    string `json:"outcome"`
	ScheduleID string `json:"schedule_id,omitempty"`
	Date       string `json:"date,omitempty"`
}

// MeetingEventRecorder records one meeting event.
type MeetingEventRecorder interface {
	Handle(ctx context.Context, cmd command.RecordMeetingEventCommand) (*command.RecordMeetingEventResult, error)
}

// DeliveryDedup remembers delivery IDs for a while.
type DeliveryDedup interface {
	FirstDelivery(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// OutcomeObserver counts webhook outcomes.
type OutcomeObserver interface {
	ObserveMeetingEvent(event, outcome string)
}

// MeetingWebhookConfig configures MeetingWebhook.
type MeetingWebhookConfig struct {
	// Secret enables HMAC-SHA256 verification of the raw body when set.
	Secret string
	// MaxBodyBytes bounds the payload (default 64 KiB).
	MaxBodyBytes int64
}

// MeetingWebhook handles POST /webhook/meeting.
type MeetingWebhook struct {
	recorder MeetingEventRecorder
	dedup    DeliveryDedup
	observer OutcomeObserver
	validate *validator.Validate
	logger   *slog.Logger
	config   MeetingWebhookConfig
}

// NewMeetingWebhook creates the handler. dedup and observer may be nil.
func NewMeetingWebhook(recorder MeetingEventRecorder, dedup DeliveryDedup, observer OutcomeObserver, logger *slog.Logger, config MeetingWebhookConfig) *MeetingWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 64 << 10
	}
	return &MeetingWebhook{
		recorder: recorder,
		dedup:    dedup,
		observer: observer,
		validate: validator.New(),
		logger:   logger.With("component", "meeting_webhook"),
		config:   config,
	}
}

// ServeHTTP implements http.Handler.
func (h *MeetingWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.config.MaxBodyBytes+1))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "unreadable_body", "request body could not be read")
		return
	}
	if int64(len(body)) > h.config.MaxBodyBytes {
		WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return
	}
	if h.config.Secret != "" && !VerifySignature(h.config.Secret, body, r.Header.Get(HeaderSignature)) {
		WriteError(w, r, http.StatusUnauthorized, "invalid_signature", "signature does not match")
		return
	}

	var p MeetingEventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		h.ack(w, r, "", MeetingEventAck{Outcome: OutcomeInvalid})
		return
	}
	if err := h.validate.Struct(p); err != nil {
		h.logger.Debug("invalid meeting event", "error", err)
		h.ack(w, r, p.Event, MeetingEventAck{Outcome: OutcomeInvalid})
		return
	}

	ctx := r.Context()
	claimed, duplicate := h.claim(ctx, r.Header.Get(HeaderDeliveryID), p)
	if duplicate {
		h.ack(w, r, p.Event, MeetingEventAck{Outcome: OutcomeDuplicate})
		return
	}

	res, err := h.recorder.Handle(ctx, command.RecordMeetingEventCommand{
		Event:               p.Event,
		ParticipantIdentity: p.ParticipantIdentity,
		MeetingID:           p.MeetingIdentifier,
		Timestamp:           p.Timestamp,
	})
	if err != nil {
		if isRejection(err) {
			h.ack(w, r, p.Event, MeetingEventAck{Outcome: OutcomeInvalid})
			return
		}
		h.release(context.WithoutCancel(ctx), claimed)
		h.logger.Error("meeting event failed", "meeting_id", p.MeetingIdentifier, "error", err)
		WriteError(w, r, http.StatusServiceUnavailable, "temporarily_unavailable", "retry later")
		return
	}

	ack := MeetingEventAck{Outcome: string(res.Outcome)}
	if res.ScheduleID.IsValid() {
		ack.ScheduleID = res.ScheduleID.String()
	}
	if !res.Date.IsZero() {
		ack.Date = res.Date.String()
	}
	h.ack(w, r, p.Event, ack)
}

func (h *MeetingWebhook) ack(w http.ResponseWriter, r *http.Request, event string, ack MeetingEventAck) {
	if h.observer != nil {
		event = strings.ToLower(event)
		if event != "join" && event != "leave" {
			event = "unknown"
		}
		h.observer.ObserveMeetingEvent(event, ack.Outcome)
	}
	WriteJSON(w, r, http.StatusOK, ack)
}

// isRejection reports whether err is the caller's fault and retrying
// cannot help.
func isRejection(err error) bool {
	return shared.IsValidation(err)
}

// VerifySignature checks a hex HMAC-SHA256 of body. A "sha256=" prefix on
// the header value is accepted.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(secret, body))
}

// Sign returns the HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// payloadKey identifies a delivery without an explicit delivery ID.
// claim marks the delivery ID and the content key of p. A delivery is a
// duplicate when either key was already marked; keys claimed by this call
// are returned so a transient failure can release them.
func (h *MeetingWebhook) claim(ctx context.Context, deliveryID string, p MeetingEventPayload) ([]string, bool) {
	if h.dedup == nil {
		return nil, false
	}
	keys := []string{"content:" + payloadKey(p)}
	if deliveryID = strings.TrimSpace(deliveryID); deliveryID != "" {
		keys = append([]string{"delivery:" + deliveryID}, keys...)
	}

	var claimed []string
	duplicate := false
	for _, key := range keys {
		first, err := h.dedup.FirstDelivery(ctx, key)
		if err != nil {
			// Without dedup the command is still idempotent per timestamp.
			h.logger.Warn("webhook dedup unavailable", "error", err)
			continue
		}
		if first {
			claimed = append(claimed, key)
		} else {
			duplicate = true
		}
	}
	return claimed, duplicate
}

func (h *MeetingWebhook) release(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := h.dedup.Forget(ctx, key); err != nil {
			h.logger.Warn("webhook dedup release failed", "key", key, "error", err)
		}
	}
}

func payloadKey(p MeetingEventPayload) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.ToLower(p.Event),
		p.ParticipantIdentity,
		p.MeetingIdentifier,
		p.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "|")))
	return hex.EncodeToString(sum[:])
}
