package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// =============================================================================
// Gmail Provider
// =============================================================================

// gmailMetadataHeaders lists the headers requested on metadata fetches.
var gmailMetadataHeaders = []string{
	"From", "To", "Cc", "Reply-To", "Subject", "Date",
	"Message-ID", "In-Reply-To", "References",
	"List-Unsubscribe", "Precedence", "Auto-Submitted",
}

// GmailProvider implements out.EmailProviderPort for one Gmail account.
type GmailProvider struct {
	svc   *gmail.Service
	cb    *gobreaker.CircuitBreaker
	topic string
}

// NewGmailProvider builds a provider bound to the given token source.
// The circuit breaker is shared across accounts so a Gmail outage trips
// once.
func NewGmailProvider(ctx context.Context, ts oauth2.TokenSource, topic string, cb *gobreaker.CircuitBreaker) (*GmailProvider, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, wrapGmailError(err, "new service")
	}
	return &GmailProvider{svc: svc, cb: cb, topic: topic}, nil
}

// ProviderType returns the provider type.
func (p *GmailProvider) ProviderType() domain.Provider {
	return domain.ProviderGmail
}

// execute wraps an API call with circuit breaker protection. Client
// errors (4xx except 429) pass through without tripping the breaker.
func (p *GmailProvider) execute(op string, fn func() error) error {
	if p.cb == nil {
		return fn()
	}
	_, err := p.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case http.StatusInternalServerError, http.StatusBadGateway,
					http.StatusServiceUnavailable, http.StatusTooManyRequests:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})
	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err != nil {
		logger.Warn("gmail call failed: op=%s breaker=%s err=%v", op, p.cb.State(), err)
	}
	return err
}

// nonCircuitError wraps errors that must not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }

// =============================================================================
// Reading
// =============================================================================

// GetMessage fetches and normalizes one message.
func (p *GmailProvider) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg *gmail.Message
	err := p.execute("get message", func() error {
		var err error
		msg, err = p.svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, wrapGmailError(err, "get message")
	}
	return convertGmailMessage(msg), nil
}

// GetThreadMessages fetches every message in the thread, oldest first.
func (p *GmailProvider) GetThreadMessages(ctx context.Context, threadID string) ([]*domain.Message, error) {
	var thread *gmail.Thread
	err := p.execute("get thread", func() error {
		var err error
		thread, err = p.svc.Users.Threads.Get("me", threadID).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, wrapGmailError(err, "get thread")
	}

	messages := make([]*domain.Message, len(thread.Messages))
	for i, m := range thread.Messages {
		messages[i] = convertGmailMessage(m)
	}
	return messages, nil
}

// GetMessagesBatch fetches several messages, skipping ones that
// disappeared in the meantime.
func (p *GmailProvider) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*domain.Message, error) {
	messages := make([]*domain.Message, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := p.GetMessage(ctx, id)
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
				continue
			}
			if strings.Contains(err.Error(), "not found") {
				continue
			}
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// =============================================================================
// Labels
// =============================================================================

// GetOrCreateLabel resolves a label by name, creating it on first use.
func (p *GmailProvider) GetOrCreateLabel(ctx context.Context, name string) (*out.Label, error) {
	var list *gmail.ListLabelsResponse
	err := p.execute("list labels", func() error {
		var err error
		list, err = p.svc.Users.Labels.List("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, wrapGmailError(err, "list labels")
	}
	for _, l := range list.Labels {
		if strings.EqualFold(l.Name, name) {
			return &out.Label{ID: l.Id, Name: l.Name}, nil
		}
	}

	var created *gmail.Label
	err = p.execute("create label", func() error {
		var err error
		created, err = p.svc.Users.Labels.Create("me", &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		// Concurrent creation loses with 409; re-list to pick the winner.
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return p.GetOrCreateLabel(ctx, name)
		}
		return nil, wrapGmailError(err, "create label")
	}
	return &out.Label{ID: created.Id, Name: created.Name}, nil
}

// DeleteLabel removes a label definition.
func (p *GmailProvider) DeleteLabel(ctx context.Context, labelID string) error {
	err := p.execute("delete label", func() error {
		return p.svc.Users.Labels.Delete("me", labelID).Context(ctx).Do()
	})
	return wrapGmailError(err, "delete label")
}

// LabelMessage attaches a label to a message.
func (p *GmailProvider) LabelMessage(ctx context.Context, messageID, labelID string) error {
	return p.modify(ctx, messageID, []string{labelID}, nil)
}

// RemoveLabel detaches a label from a message.
func (p *GmailProvider) RemoveLabel(ctx context.Context, messageID, labelID string) error {
	return p.modify(ctx, messageID, nil, []string{labelID})
}

// =============================================================================
// State changes
// =============================================================================

// Archive removes the message from the inbox.
func (p *GmailProvider) Archive(ctx context.Context, messageID string) error {
	return p.modify(ctx, messageID, nil, []string{domain.LabelInbox})
}

// MarkRead clears the unread flag.
func (p *GmailProvider) MarkRead(ctx context.Context, messageID string) error {
	return p.modify(ctx, messageID, nil, []string{domain.LabelUnread})
}

// MarkSpam moves the message to spam.
func (p *GmailProvider) MarkSpam(ctx context.Context, messageID string) error {
	return p.modify(ctx, messageID, []string{domain.LabelSpam}, []string{domain.LabelInbox})
}

func (p *GmailProvider) modify(ctx context.Context, messageID string, add, remove []string) error {
	err := p.execute("modify message", func() error {
		_, err := p.svc.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
		return err
	})
	return wrapGmailError(err, "modify message")
}

// =============================================================================
// Composition
// =============================================================================

// SendEmail sends a message, threading into msg.ThreadID when set.
func (p *GmailProvider) SendEmail(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	payload := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(buildRawMessage(msg))),
		ThreadId: msg.ThreadID,
	}

	var sent *gmail.Message
	err := p.execute("send", func() error {
		var err error
		sent, err = p.svc.Users.Messages.Send("me", payload).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, wrapGmailError(err, "send")
	}
	return &out.SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// DraftEmail creates a draft, threading into msg.ThreadID when set.
func (p *GmailProvider) DraftEmail(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	draft := &gmail.Draft{
		Message: &gmail.Message{
			Raw:      base64.URLEncoding.EncodeToString([]byte(buildRawMessage(msg))),
			ThreadId: msg.ThreadID,
		},
	}

	var created *gmail.Draft
	err := p.execute("create draft", func() error {
		var err error
		created, err = p.svc.Users.Drafts.Create("me", draft).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, wrapGmailError(err, "create draft")
	}
	res := &out.SendResult{DraftID: created.Id}
	if created.Message != nil {
		res.MessageID = created.Message.Id
		res.ThreadID = created.Message.ThreadId
	}
	return res, nil
}

// ListThreadDrafts returns the drafts attached to a thread. The
// returned Message.ID carries the draft ID so DeleteDraft can act on
// it directly.
func (p *GmailProvider) ListThreadDrafts(ctx context.Context, threadID string) ([]*domain.Message, error) {
	var list *gmail.ListDraftsResponse
	err := p.execute("list drafts", func() error {
		var err error
		list, err = p.svc.Users.Drafts.List("me").MaxResults(100).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, wrapGmailError(err, "list drafts")
	}

	var drafts []*domain.Message
	for _, d := range list.Drafts {
		if d.Message == nil || d.Message.ThreadId != threadID {
			continue
		}
		var full *gmail.Draft
		err := p.execute("get draft", func() error {
			var err error
			full, err = p.svc.Users.Drafts.Get("me", d.Id).Format("metadata").Context(ctx).Do()
			return err
		})
		if err != nil {
			continue
		}
		msg := convertGmailMessage(full.Message)
		msg.ID = d.Id
		drafts = append(drafts, msg)
	}
	return drafts, nil
}

// DeleteDraft discards a draft.
func (p *GmailProvider) DeleteDraft(ctx context.Context, draftID string) error {
	err := p.execute("delete draft", func() error {
		return p.svc.Users.Drafts.Delete("me", draftID).Context(ctx).Do()
	})
	return wrapGmailError(err, "delete draft")
}

// =============================================================================
// History
// =============================================================================

// HasPreviousCommunications checks for any earlier exchange with the
// sender, in either direction, outside the excluded thread.
func (p *GmailProvider) HasPreviousCommunications(ctx context.Context, q *out.PreviousCommsQuery) (bool, error) {
	query := fmt.Sprintf("(from:%s OR to:%s)", q.Sender, q.Sender)
	if !q.Before.IsZero() {
		query += " before:" + q.Before.Format("2006/01/02")
	}

	var list *gmail.ListMessagesResponse
	err := p.execute("search history", func() error {
		var err error
		list, err = p.svc.Users.Messages.List("me").Q(query).MaxResults(5).Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, wrapGmailError(err, "search history")
	}
	for _, m := range list.Messages {
		if q.ExcludeThread != "" && m.ThreadId == q.ExcludeThread {
			continue
		}
		return true, nil
	}
	return false, nil
}

// =============================================================================
// Push notifications
// =============================================================================

// WatchEmails arms Gmail push notifications for the inbox.
func (p *GmailProvider) WatchEmails(ctx context.Context) (*out.WatchResult, error) {
	var resp *gmail.WatchResponse
	err := p.execute("watch", func() error {
		var err error
		resp, err = p.svc.Users.Watch("me", &gmail.WatchRequest{
			TopicName: p.topic,
			LabelIds:  []string{domain.LabelInbox, domain.LabelSent},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, wrapGmailError(err, "watch")
	}
	return &out.WatchResult{
		SubscriptionID: p.topic,
		Expiration:     time.UnixMilli(resp.Expiration),
		HistoryID:      uint64(resp.HistoryId),
	}, nil
}

// ListHistory diffs the mailbox since the history marker and returns
// the added messages, oldest first.
func (p *GmailProvider) ListHistory(ctx context.Context, sinceHistoryID uint64) ([]*out.HistoryRef, error) {
	var refs []*out.HistoryRef
	seen := make(map[string]struct{})

	pageToken := ""
	for {
		var resp *gmail.ListHistoryResponse
		err := p.execute("list history", func() error {
			call := p.svc.Users.History.List("me").
				StartHistoryId(sinceHistoryID).
				HistoryTypes("messageAdded").
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			// A 404 means the marker aged out of Gmail's history window;
			// the caller rebaselines and catches up on the next event.
			return nil, wrapGmailError(err, "list history")
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if _, dup := seen[added.Message.Id]; dup {
					continue
				}
				seen[added.Message.Id] = struct{}{}
				refs = append(refs, &out.HistoryRef{
					MessageID: added.Message.Id,
					ThreadID:  added.Message.ThreadId,
				})
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return refs, nil
		}
	}
}

// UnwatchEmails disarms push notifications.
func (p *GmailProvider) UnwatchEmails(ctx context.Context) error {
	err := p.execute("stop watch", func() error {
		return p.svc.Users.Stop("me").Context(ctx).Do()
	})
	return wrapGmailError(err, "stop watch")
}

// =============================================================================
// Conversion
// =============================================================================

func convertGmailMessage(msg *gmail.Message) *domain.Message {
	m := &domain.Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
		Date:     time.UnixMilli(msg.InternalDate),
	}
	for _, l := range msg.LabelIds {
		switch l {
		case domain.LabelInbox, domain.LabelSent, domain.LabelDraft, domain.LabelSpam:
			m.Folder = l
		}
	}
	if msg.Payload == nil {
		return m
	}

	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			m.From = parseAddress(h.Value)
		case "To":
			m.To = parseAddresses(h.Value)
		case "Cc":
			m.CC = parseAddresses(h.Value)
		case "Reply-To":
			m.ReplyTo = parseAddress(h.Value).Email
		case "Subject":
			m.Subject = h.Value
		case "Message-ID", "Message-Id":
			m.RFCMessageID = h.Value
		case "References":
			m.References = h.Value
		}
	}

	extractGmailBody(msg.Payload, m, 0)
	m.Attachments = extractGmailAttachments(msg.Payload, nil)
	return m
}

// extractGmailBody walks the MIME tree collecting text bodies. Depth is
// bounded against pathological nesting.
func extractGmailBody(part *gmail.MessagePart, m *domain.Message, depth int) {
	if part == nil || depth > 10 {
		return
	}
	if part.Body != nil && part.Body.Data != "" {
		if data, err := decodeB64URL(part.Body.Data); err == nil {
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain") && m.TextPlain == "":
				m.TextPlain = string(data)
			case strings.HasPrefix(part.MimeType, "text/html") && m.TextHTML == "":
				m.TextHTML = string(data)
			}
		}
	}
	for _, child := range part.Parts {
		extractGmailBody(child, m, depth+1)
	}
}

func extractGmailAttachments(part *gmail.MessagePart, acc []domain.Attachment) []domain.Attachment {
	if part == nil {
		return acc
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		acc = append(acc, domain.Attachment{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	}
	for _, child := range part.Parts {
		acc = extractGmailAttachments(child, acc)
	}
	return acc
}

func decodeB64URL(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

func parseAddress(s string) domain.Address {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return domain.Address{Email: strings.ToLower(strings.TrimSpace(s))}
	}
	return domain.Address{Name: addr.Name, Email: strings.ToLower(addr.Address)}
}

func parseAddresses(s string) []domain.Address {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	list, err := mail.ParseAddressList(s)
	if err != nil {
		var addrs []domain.Address
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				addrs = append(addrs, parseAddress(part))
			}
		}
		return addrs
	}
	addrs := make([]domain.Address, len(list))
	for i, a := range list {
		addrs[i] = domain.Address{Name: a.Name, Email: strings.ToLower(a.Address)}
	}
	return addrs
}

// buildRawMessage renders an RFC 822 message for the Gmail raw API.
func buildRawMessage(msg *out.OutgoingMessage) string {
	var buf strings.Builder

	if len(msg.To) > 0 {
		buf.WriteString(fmt.Sprintf("To: %s\r\n", formatAddresses(msg.To)))
	}
	if len(msg.CC) > 0 {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", formatAddresses(msg.CC)))
	}
	if len(msg.BCC) > 0 {
		buf.WriteString(fmt.Sprintf("Bcc: %s\r\n", formatAddresses(msg.BCC)))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	if msg.InReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", msg.InReplyTo))
	}
	if msg.References != "" {
		buf.WriteString(fmt.Sprintf("References: %s\r\n", msg.References))
	}

	if msg.HTML != "" {
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.HTML)
	} else {
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.Text)
	}
	return buf.String()
}

func formatAddresses(addrs []domain.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		if a.Name != "" {
			parts[i] = fmt.Sprintf("%s <%s>", a.Name, a.Email)
		} else {
			parts[i] = a.Email
		}
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.EmailProviderPort = (*GmailProvider)(nil)
