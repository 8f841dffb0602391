package http

import (
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
	"github.com/elie222/inbox-zero-sub011/pkg/response"
)

// WebhookMetrics counts ingress outcomes.
type WebhookMetrics struct {
	Received int64
	Dropped  int64
	Enqueued int64
	Errors   int64
}

// WebhookHandler turns provider push notifications into event.process
// jobs. Google notifies with a mailbox history marker that is diffed
// into message IDs; Microsoft notifications carry the message ID
// directly.
type WebhookHandler struct {
	accounts    out.AccountRepository
	providers   out.ProviderFactory
	queue       out.JobQueue
	clientState string
	log         *logger.Logger
	metrics     WebhookMetrics
}

func NewWebhookHandler(
	accounts out.AccountRepository,
	providers out.ProviderFactory,
	queue out.JobQueue,
	clientState string,
	log *logger.Logger,
) *WebhookHandler {
	if log == nil {
		log = logger.Default()
	}
	return &WebhookHandler{
		accounts:    accounts,
		providers:   providers,
		queue:       queue,
		clientState: clientState,
		log:         log,
	}
}

func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/v1/webhooks/google", h.GoogleWebhook)
	app.Post("/v1/webhooks/microsoft", h.MicrosoftWebhook)
	app.Get("/v1/webhooks/microsoft", h.MicrosoftWebhook)
}

// GetMetrics returns a snapshot of the ingress counters.
func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Received: atomic.LoadInt64(&h.metrics.Received),
		Dropped:  atomic.LoadInt64(&h.metrics.Dropped),
		Enqueued: atomic.LoadInt64(&h.metrics.Enqueued),
		Errors:   atomic.LoadInt64(&h.metrics.Errors),
	}
}

// pubSubEnvelope is the Pub/Sub push wrapper around a Gmail
// notification.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// GoogleWebhook handles Gmail push. A 2xx acknowledges the Pub/Sub
// message; transient failures return 5xx so Pub/Sub redelivers.
func (h *WebhookHandler) GoogleWebhook(c *fiber.Ctx) error {
	atomic.AddInt64(&h.metrics.Received, 1)

	var envelope pubSubEnvelope
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		atomic.AddInt64(&h.metrics.Dropped, 1)
		return response.Error(c, apperr.BadRequest("malformed pubsub envelope"))
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		atomic.AddInt64(&h.metrics.Dropped, 1)
		return response.Error(c, apperr.BadRequest("malformed pubsub data"))
	}

	var notif gmailNotification
	if err := json.Unmarshal(raw, &notif); err != nil || notif.EmailAddress == "" {
		atomic.AddInt64(&h.metrics.Dropped, 1)
		return response.Error(c, apperr.BadRequest("malformed gmail notification"))
	}

	account, err := h.accounts.GetByEmail(c.Context(), notif.EmailAddress)
	if err != nil {
		if apperr.IsNotFound(err) {
			// Unknown mailbox, ack so Pub/Sub stops retrying.
			atomic.AddInt64(&h.metrics.Dropped, 1)
			h.log.Debug("gmail notification for unknown mailbox %s", notif.EmailAddress)
			return response.OK(c, fiber.Map{"dropped": true})
		}
		atomic.AddInt64(&h.metrics.Errors, 1)
		return response.Error(c, err)
	}

	// First notification after arming: record the baseline and wait for
	// the next marker.
	if account.LastHistoryID == 0 {
		if err := h.accounts.UpdateHistoryID(c.Context(), account.ID, notif.HistoryID); err != nil {
			atomic.AddInt64(&h.metrics.Errors, 1)
			return response.Error(c, err)
		}
		return response.OK(c, fiber.Map{"baselined": true})
	}

	provider, err := h.providers.ForAccount(c.Context(), account)
	if err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		return response.Error(c, err)
	}

	refs, err := provider.ListHistory(c.Context(), account.LastHistoryID)
	if err != nil {
		if apperr.IsNotFound(err) {
			// Marker aged out of the history window; rebaseline and catch
			// up on the next notification.
			h.log.Warn("history marker expired, rebaselining: account=%s", account.ID)
			if err := h.accounts.UpdateHistoryID(c.Context(), account.ID, notif.HistoryID); err != nil {
				return response.Error(c, err)
			}
			return response.OK(c, fiber.Map{"rebaselined": true})
		}
		atomic.AddInt64(&h.metrics.Errors, 1)
		return response.Error(c, err)
	}

	enqueued, err := h.enqueueEvents(c, account, refs)
	if err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		return response.Error(c, err)
	}

	if err := h.accounts.UpdateHistoryID(c.Context(), account.ID, notif.HistoryID); err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		return response.Error(c, err)
	}

	atomic.AddInt64(&h.metrics.Enqueued, int64(enqueued))
	return response.OK(c, fiber.Map{"enqueued": enqueued})
}

func (h *WebhookHandler) enqueueEvents(c *fiber.Ctx, account *domain.Account, refs []*out.HistoryRef) (int, error) {
	jobs := make([]*out.Job, 0, len(refs))
	for _, ref := range refs {
		jobs = append(jobs, &out.Job{
			ID:   fmt.Sprintf("event:%s:%s", account.ID, ref.MessageID),
			Type: "event.process",
			Payload: map[string]any{
				"account_id": account.ID.String(),
				"message_id": ref.MessageID,
				"thread_id":  ref.ThreadID,
			},
			CreatedAt: time.Now(),
		})
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	ids, err := h.queue.BulkEnqueue(c.Context(), out.QueueEvents, jobs)
	return len(ids), err
}

// graphEnvelope is the Graph change-notification batch.
type graphEnvelope struct {
	Value []graphNotification `json:"value"`
}

type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

// MicrosoftWebhook handles Graph change notifications, including the
// subscription validation handshake.
func (h *WebhookHandler) MicrosoftWebhook(c *fiber.Ctx) error {
	// Subscription validation: echo the token as text/plain.
	if token := c.Query("validationToken"); token != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(token)
	}

	atomic.AddInt64(&h.metrics.Received, 1)

	var envelope graphEnvelope
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		atomic.AddInt64(&h.metrics.Dropped, 1)
		return response.Error(c, apperr.BadRequest("malformed graph notification"))
	}

	enqueued := 0
	for _, notif := range envelope.Value {
		if h.clientState != "" && notif.ClientState != h.clientState {
			atomic.AddInt64(&h.metrics.Dropped, 1)
			h.log.Warn("graph notification with bad client state: subscription=%s", notif.SubscriptionID)
			continue
		}
		if notif.ResourceData.ID == "" {
			atomic.AddInt64(&h.metrics.Dropped, 1)
			continue
		}

		account, err := h.accounts.GetByWatchSubscription(c.Context(), notif.SubscriptionID)
		if err != nil {
			if apperr.IsNotFound(err) {
				atomic.AddInt64(&h.metrics.Dropped, 1)
				h.log.Debug("graph notification for unknown subscription %s", notif.SubscriptionID)
				continue
			}
			atomic.AddInt64(&h.metrics.Errors, 1)
			return response.Error(c, err)
		}

		_, err = h.queue.Enqueue(c.Context(), out.QueueEvents, &out.Job{
			ID:   fmt.Sprintf("event:%s:%s", account.ID, notif.ResourceData.ID),
			Type: "event.process",
			Payload: map[string]any{
				"account_id": account.ID.String(),
				"message_id": notif.ResourceData.ID,
			},
			CreatedAt: time.Now(),
		}, nil)
		if err != nil {
			atomic.AddInt64(&h.metrics.Errors, 1)
			return response.Error(c, err)
		}
		enqueued++
	}

	atomic.AddInt64(&h.metrics.Enqueued, int64(enqueued))
	// Graph expects a 202 within 30 seconds.
	return response.Accepted(c, fiber.Map{"enqueued": enqueued})
}
