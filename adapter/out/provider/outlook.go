package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// graphSubscriptionTTL is bounded by Graph's ~3 day maximum for message
// subscriptions.
const graphSubscriptionTTL = 71 * time.Hour

// =============================================================================
// Outlook Provider
// =============================================================================

// OutlookProvider implements out.EmailProviderPort for one Outlook
// account over the Microsoft Graph REST API. For Outlook, label IDs are
// category display names: Graph applies categories by name.
type OutlookProvider struct {
	client *http.Client

	// Watch wiring.
	webhookURL     string
	clientState    string
	subscriptionID string

	// Well-known folder IDs, resolved lazily.
	foldersOnce sync.Once
	folders     map[string]string // folder id -> normalized label
	foldersErr  error
}

// OutlookOptions carries the non-auth wiring for an Outlook provider.
type OutlookOptions struct {
	WebhookURL     string
	ClientState    string
	SubscriptionID string
}

// NewOutlookProvider builds a provider over an OAuth-authenticated
// HTTP client.
func NewOutlookProvider(client *http.Client, opts OutlookOptions) *OutlookProvider {
	return &OutlookProvider{
		client:         client,
		webhookURL:     opts.WebhookURL,
		clientState:    opts.ClientState,
		subscriptionID: opts.SubscriptionID,
	}
}

// ProviderType returns the provider type.
func (p *OutlookProvider) ProviderType() domain.Provider {
	return domain.ProviderOutlook
}

// =============================================================================
// Graph wire types
// =============================================================================

type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversationId"`
	InternetMessageID string           `json:"internetMessageId"`
	Subject           string           `json:"subject"`
	BodyPreview       string           `json:"bodyPreview"`
	Body              graphBody        `json:"body"`
	From              graphRecipient   `json:"from"`
	ToRecipients      []graphRecipient `json:"toRecipients"`
	CcRecipients      []graphRecipient `json:"ccRecipients"`
	ReplyTo           []graphRecipient `json:"replyTo"`
	ReceivedDateTime  string           `json:"receivedDateTime"`
	IsRead            bool             `json:"isRead"`
	IsDraft           bool             `json:"isDraft"`
	Categories        []string         `json:"categories"`
	ParentFolderID    string           `json:"parentFolderId"`
	HasAttachments    bool             `json:"hasAttachments"`
}

const graphMessageSelect = "$select=id,conversationId,internetMessageId,subject,bodyPreview," +
	"body,from,toRecipients,ccRecipients,replyTo,receivedDateTime,isRead,isDraft," +
	"categories,parentFolderId,hasAttachments"

// =============================================================================
// Reading
// =============================================================================

// GetMessage fetches and normalizes one message.
func (p *OutlookProvider) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg graphMessage
	if err := p.doGet(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(messageID)+"?"+graphMessageSelect, &msg); err != nil {
		return nil, err
	}
	return p.convertMessage(ctx, &msg), nil
}

// GetThreadMessages fetches the conversation, oldest first.
func (p *OutlookProvider) GetThreadMessages(ctx context.Context, threadID string) ([]*domain.Message, error) {
	endpoint := graphBaseURL + "/me/messages?" + graphMessageSelect +
		"&$filter=" + url.QueryEscape(fmt.Sprintf("conversationId eq '%s'", threadID)) +
		"&$orderby=receivedDateTime asc&$top=50"

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	if err := p.doGet(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, len(resp.Value))
	for i := range resp.Value {
		messages[i] = p.convertMessage(ctx, &resp.Value[i])
	}
	return messages, nil
}

// GetMessagesBatch fetches several messages, skipping deleted ones.
func (p *OutlookProvider) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*domain.Message, error) {
	messages := make([]*domain.Message, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := p.GetMessage(ctx, id)
		if err != nil {
			if apperr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// =============================================================================
// Labels (Graph categories)
// =============================================================================

// GetOrCreateLabel resolves a master category by name, creating it on
// first use. The returned ID is the display name since Graph applies
// categories by name.
func (p *OutlookProvider) GetOrCreateLabel(ctx context.Context, name string) (*out.Label, error) {
	var resp struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	if err := p.doGet(ctx, graphBaseURL+"/me/outlook/masterCategories", &resp); err != nil {
		return nil, err
	}
	for _, c := range resp.Value {
		if strings.EqualFold(c.DisplayName, name) {
			return &out.Label{ID: c.DisplayName, Name: c.DisplayName}, nil
		}
	}

	body := map[string]string{"displayName": name, "color": "preset0"}
	var created struct {
		DisplayName string `json:"displayName"`
	}
	if err := p.doPost(ctx, graphBaseURL+"/me/outlook/masterCategories", body, &created); err != nil {
		return nil, err
	}
	return &out.Label{ID: created.DisplayName, Name: created.DisplayName}, nil
}

// DeleteLabel removes a master category by display name.
func (p *OutlookProvider) DeleteLabel(ctx context.Context, labelID string) error {
	var resp struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	if err := p.doGet(ctx, graphBaseURL+"/me/outlook/masterCategories", &resp); err != nil {
		return err
	}
	for _, c := range resp.Value {
		if strings.EqualFold(c.DisplayName, labelID) {
			return p.doDelete(ctx, graphBaseURL+"/me/outlook/masterCategories/"+url.PathEscape(c.ID))
		}
	}
	return apperr.NotFound("category")
}

// LabelMessage adds a category to the message.
func (p *OutlookProvider) LabelMessage(ctx context.Context, messageID, labelID string) error {
	return p.patchCategories(ctx, messageID, labelID, true)
}

// RemoveLabel removes a category from the message.
func (p *OutlookProvider) RemoveLabel(ctx context.Context, messageID, labelID string) error {
	return p.patchCategories(ctx, messageID, labelID, false)
}

func (p *OutlookProvider) patchCategories(ctx context.Context, messageID, category string, add bool) error {
	var msg struct {
		Categories []string `json:"categories"`
	}
	if err := p.doGet(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(messageID)+"?$select=categories", &msg); err != nil {
		return err
	}

	categories := make([]string, 0, len(msg.Categories)+1)
	present := false
	for _, c := range msg.Categories {
		if strings.EqualFold(c, category) {
			present = true
			if !add {
				continue
			}
		}
		categories = append(categories, c)
	}
	if add {
		if present {
			return nil
		}
		categories = append(categories, category)
	} else if !present {
		return nil
	}

	return p.doPatch(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(messageID),
		map[string]any{"categories": categories})
}

// =============================================================================
// State changes
// =============================================================================

// Archive moves the message to the archive folder.
func (p *OutlookProvider) Archive(ctx context.Context, messageID string) error {
	return p.doPost(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(messageID)+"/move",
		map[string]string{"destinationId": "archive"}, nil)
}

// MarkRead clears the unread flag.
func (p *OutlookProvider) MarkRead(ctx context.Context, messageID string) error {
	return p.doPatch(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(messageID),
		map[string]any{"isRead": true})
}

// MarkSpam moves the message to the junk folder.
func (p *OutlookProvider) MarkSpam(ctx context.Context, messageID string) error {
	return p.doPost(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(messageID)+"/move",
		map[string]string{"destinationId": "junkemail"}, nil)
}

// =============================================================================
// Composition
// =============================================================================

// SendEmail sends a message. Replies (InReplyTo set) go through the
// original message's /reply action so Graph threads the conversation;
// everything else uses sendMail.
func (p *OutlookProvider) SendEmail(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	if msg.InReplyTo != "" {
		if original := p.findByInternetMessageID(ctx, msg.InReplyTo); original != "" {
			body := map[string]any{
				"message": p.buildGraphMessage(msg),
				"comment": "",
			}
			if err := p.doPost(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(original)+"/reply", body, nil); err != nil {
				return nil, err
			}
			return &out.SendResult{ThreadID: msg.ThreadID}, nil
		}
	}

	body := map[string]any{
		"message":         p.buildGraphMessage(msg),
		"saveToSentItems": true,
	}
	if err := p.doPost(ctx, graphBaseURL+"/me/sendMail", body, nil); err != nil {
		return nil, err
	}
	return &out.SendResult{ThreadID: msg.ThreadID}, nil
}

// DraftEmail creates a draft. Replies use createReply so the draft
// lands in the right conversation.
func (p *OutlookProvider) DraftEmail(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	if msg.InReplyTo != "" {
		if original := p.findByInternetMessageID(ctx, msg.InReplyTo); original != "" {
			var draft graphMessage
			if err := p.doPost(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(original)+"/createReply", nil, &draft); err != nil {
				return nil, err
			}
			patch := map[string]any{
				"body": map[string]string{"contentType": contentTypeOf(msg), "content": contentOf(msg)},
			}
			if err := p.doPatch(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(draft.ID), patch); err != nil {
				return nil, err
			}
			return &out.SendResult{DraftID: draft.ID, MessageID: draft.ID, ThreadID: draft.ConversationID}, nil
		}
	}

	var created graphMessage
	if err := p.doPost(ctx, graphBaseURL+"/me/messages", p.buildGraphMessage(msg), &created); err != nil {
		return nil, err
	}
	return &out.SendResult{DraftID: created.ID, MessageID: created.ID, ThreadID: created.ConversationID}, nil
}

// ListThreadDrafts returns the drafts in a conversation.
func (p *OutlookProvider) ListThreadDrafts(ctx context.Context, threadID string) ([]*domain.Message, error) {
	endpoint := graphBaseURL + "/me/messages?" + graphMessageSelect +
		"&$filter=" + url.QueryEscape(fmt.Sprintf("conversationId eq '%s' and isDraft eq true", threadID))

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	if err := p.doGet(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	drafts := make([]*domain.Message, len(resp.Value))
	for i := range resp.Value {
		drafts[i] = p.convertMessage(ctx, &resp.Value[i])
	}
	return drafts, nil
}

// DeleteDraft discards a draft.
func (p *OutlookProvider) DeleteDraft(ctx context.Context, draftID string) error {
	return p.doDelete(ctx, graphBaseURL+"/me/messages/"+url.PathEscape(draftID))
}

// =============================================================================
// History
// =============================================================================

// HasPreviousCommunications checks both directions: received mail from
// the sender and sent mail to the sender.
func (p *OutlookProvider) HasPreviousCommunications(ctx context.Context, q *out.PreviousCommsQuery) (bool, error) {
	received := graphBaseURL + "/me/messages?$select=id,conversationId&$top=5&$filter=" +
		url.QueryEscape(fmt.Sprintf("from/emailAddress/address eq '%s'", q.Sender))

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	if err := p.doGet(ctx, received, &resp); err != nil {
		return false, err
	}
	for _, m := range resp.Value {
		if q.ExcludeThread != "" && m.ConversationID == q.ExcludeThread {
			continue
		}
		return true, nil
	}

	sent := graphBaseURL + "/me/mailFolders/sentitems/messages?$select=id&$top=1&$filter=" +
		url.QueryEscape(fmt.Sprintf("toRecipients/any(r: r/emailAddress/address eq '%s')", q.Sender))
	resp.Value = nil
	if err := p.doGet(ctx, sent, &resp); err != nil {
		return false, err
	}
	return len(resp.Value) > 0, nil
}

// ListHistory is not applicable to Graph; change notifications already
// carry the message ID.
func (p *OutlookProvider) ListHistory(ctx context.Context, sinceHistoryID uint64) ([]*out.HistoryRef, error) {
	return nil, apperr.InvalidInput("outlook notifications carry message ids, history listing is unsupported")
}

// =============================================================================
// Push notifications
// =============================================================================

// WatchEmails creates a Graph change subscription on the inbox.
func (p *OutlookProvider) WatchEmails(ctx context.Context) (*out.WatchResult, error) {
	if p.webhookURL == "" {
		return nil, apperr.InvalidInput("outlook watch requires a configured webhook URL")
	}
	expires := time.Now().Add(graphSubscriptionTTL).UTC()

	body := map[string]any{
		"changeType":         "created",
		"notificationUrl":    p.webhookURL,
		"resource":           "/me/mailFolders('inbox')/messages",
		"expirationDateTime": expires.Format(time.RFC3339),
		"clientState":        p.clientState,
	}

	var resp struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := p.doPost(ctx, graphBaseURL+"/subscriptions", body, &resp); err != nil {
		return nil, err
	}

	expiration := expires
	if t, err := time.Parse(time.RFC3339, resp.ExpirationDateTime); err == nil {
		expiration = t
	}
	p.subscriptionID = resp.ID
	return &out.WatchResult{SubscriptionID: resp.ID, Expiration: expiration}, nil
}

// UnwatchEmails deletes the account's Graph subscription.
func (p *OutlookProvider) UnwatchEmails(ctx context.Context) error {
	if p.subscriptionID == "" {
		return nil
	}
	err := p.doDelete(ctx, graphBaseURL+"/subscriptions/"+url.PathEscape(p.subscriptionID))
	if apperr.IsNotFound(err) {
		return nil
	}
	return err
}

// =============================================================================
// HTTP helpers
// =============================================================================

func (p *OutlookProvider) doGet(ctx context.Context, endpoint string, result any) error {
	return p.do(ctx, http.MethodGet, endpoint, nil, result)
}

func (p *OutlookProvider) doPost(ctx context.Context, endpoint string, body, result any) error {
	return p.do(ctx, http.MethodPost, endpoint, body, result)
}

func (p *OutlookProvider) doPatch(ctx context.Context, endpoint string, body any) error {
	return p.do(ctx, http.MethodPatch, endpoint, body, nil)
}

func (p *OutlookProvider) doDelete(ctx context.Context, endpoint string) error {
	return p.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (p *OutlookProvider) do(ctx context.Context, method, endpoint string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return apperr.ProviderError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return wrapGraphStatus(resp.StatusCode, string(data), method+" "+endpoint)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// findByInternetMessageID resolves a Graph message ID from an RFC
// Message-ID header. Best-effort; an empty return falls back to plain
// send.
func (p *OutlookProvider) findByInternetMessageID(ctx context.Context, rfcID string) string {
	endpoint := graphBaseURL + "/me/messages?$select=id&$top=1&$filter=" +
		url.QueryEscape(fmt.Sprintf("internetMessageId eq '%s'", rfcID))

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	if err := p.doGet(ctx, endpoint, &resp); err != nil || len(resp.Value) == 0 {
		return ""
	}
	return resp.Value[0].ID
}

// wellKnownFolders lazily resolves the folder IDs that map onto the
// normalized folder labels.
func (p *OutlookProvider) wellKnownFolders(ctx context.Context) map[string]string {
	p.foldersOnce.Do(func() {
		p.folders = make(map[string]string)
		for graphName, label := range map[string]string{
			"inbox":      domain.LabelInbox,
			"sentitems":  domain.LabelSent,
			"drafts":     domain.LabelDraft,
			"junkemail":  domain.LabelSpam,
		} {
			var f struct {
				ID string `json:"id"`
			}
			if err := p.doGet(ctx, graphBaseURL+"/me/mailFolders/"+graphName+"?$select=id", &f); err != nil {
				p.foldersErr = err
				continue
			}
			p.folders[f.ID] = label
		}
	})
	return p.folders
}

// =============================================================================
// Conversion
// =============================================================================

func (p *OutlookProvider) convertMessage(ctx context.Context, msg *graphMessage) *domain.Message {
	m := &domain.Message{
		ID:           msg.ID,
		ThreadID:     msg.ConversationID,
		Subject:      msg.Subject,
		Snippet:      msg.BodyPreview,
		Labels:       append([]string(nil), msg.Categories...),
		RFCMessageID: msg.InternetMessageID,
	}
	m.From = domain.Address{Name: msg.From.EmailAddress.Name, Email: strings.ToLower(msg.From.EmailAddress.Address)}
	for _, r := range msg.ToRecipients {
		m.To = append(m.To, domain.Address{Name: r.EmailAddress.Name, Email: strings.ToLower(r.EmailAddress.Address)})
	}
	for _, r := range msg.CcRecipients {
		m.CC = append(m.CC, domain.Address{Name: r.EmailAddress.Name, Email: strings.ToLower(r.EmailAddress.Address)})
	}
	if len(msg.ReplyTo) > 0 {
		m.ReplyTo = strings.ToLower(msg.ReplyTo[0].EmailAddress.Address)
	}

	if msg.Body.ContentType == "html" {
		m.TextHTML = msg.Body.Content
	} else {
		m.TextPlain = msg.Body.Content
	}
	if msg.ReceivedDateTime != "" {
		m.Date, _ = time.Parse(time.RFC3339, msg.ReceivedDateTime)
	}
	if !msg.IsRead {
		m.Labels = append(m.Labels, domain.LabelUnread)
	}

	switch {
	case msg.IsDraft:
		m.Folder = domain.LabelDraft
	default:
		if label, ok := p.wellKnownFolders(ctx)[msg.ParentFolderID]; ok {
			m.Folder = label
		}
	}
	if m.Folder != "" {
		m.Labels = append(m.Labels, m.Folder)
	}
	return m
}

func contentTypeOf(msg *out.OutgoingMessage) string {
	if msg.HTML != "" {
		return "html"
	}
	return "text"
}

func contentOf(msg *out.OutgoingMessage) string {
	if msg.HTML != "" {
		return msg.HTML
	}
	return msg.Text
}

func (p *OutlookProvider) buildGraphMessage(msg *out.OutgoingMessage) map[string]any {
	result := map[string]any{
		"subject": msg.Subject,
		"body": map[string]string{
			"contentType": contentTypeOf(msg),
			"content":     contentOf(msg),
		},
	}
	if len(msg.To) > 0 {
		result["toRecipients"] = graphRecipients(msg.To)
	}
	if len(msg.CC) > 0 {
		result["ccRecipients"] = graphRecipients(msg.CC)
	}
	if len(msg.BCC) > 0 {
		result["bccRecipients"] = graphRecipients(msg.BCC)
	}
	return result
}

func graphRecipients(addrs []domain.Address) []map[string]any {
	recipients := make([]map[string]any, len(addrs))
	for i, addr := range addrs {
		recipients[i] = map[string]any{
			"emailAddress": map[string]string{
				"name":    addr.Name,
				"address": addr.Email,
			},
		}
	}
	return recipients
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.EmailProviderPort = (*OutlookProvider)(nil)
