// Package digest batches low-urgency rule outcomes into periodic
// summary emails instead of individual notifications.
package digest

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// DefaultBatchSize bounds how many items one digest email carries.
const DefaultBatchSize = 50

// Service assembles and sends digests. Items are deleted only after a
// successful send; a crash in between re-sends the same digest, which
// is the acceptable failure mode for a summary email.
type Service struct {
	digests   out.DigestRepository
	accounts  out.AccountRepository
	providers out.ProviderFactory
	queue     out.JobQueue
	batchSize int
	log       *logger.Logger
	now       func() time.Time
}

// New builds a digest Service.
func New(
	digests out.DigestRepository,
	accounts out.AccountRepository,
	providers out.ProviderFactory,
	queue out.JobQueue,
	batchSize int,
	log *logger.Logger,
) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		digests:   digests,
		accounts:  accounts,
		providers: providers,
		queue:     queue,
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// EnqueueSendJobs fans one send job out per account with pending items.
// The job ID folds in the schedule window so the scheduler can fire
// twice without double-sending.
func (s *Service) EnqueueSendJobs(ctx context.Context) (int, error) {
	accountIDs, err := s.digests.AccountsWithPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(accountIDs) == 0 {
		return 0, nil
	}

	window := s.now().UTC().Format("2006-01-02T15")
	jobs := make([]*out.Job, 0, len(accountIDs))
	for _, id := range accountIDs {
		jobs = append(jobs, &out.Job{
			ID:        fmt.Sprintf("digest:%s:%s", id, window),
			Type:      "digest.send",
			Payload:   map[string]any{"account_id": id.String()},
			CreatedAt: s.now(),
		})
	}
	if _, err := s.queue.BulkEnqueue(ctx, out.QueueDigest, jobs); err != nil {
		return 0, err
	}
	s.log.Info("enqueued %d digest send job(s)", len(jobs))
	return len(jobs), nil
}

// Send assembles and delivers the pending digest for one account, then
// deletes the delivered items. No pending items is a no-op, which makes
// duplicate job deliveries harmless.
func (s *Service) Send(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}

	items, err := s.digests.ListPending(ctx, accountID, s.batchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	provider, err := s.providers.ForAccount(ctx, account)
	if err != nil {
		return err
	}

	text, html := render(items, s.now())
	_, err = provider.SendEmail(ctx, &out.OutgoingMessage{
		To:      []domain.Address{{Email: account.Email}},
		Subject: fmt.Sprintf("Your digest: %d item(s)", len(items)),
		Text:    text,
		HTML:    html,
	})
	if err != nil {
		return err
	}

	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := s.digests.Delete(ctx, ids); err != nil {
		// Send succeeded; leftover rows only risk a repeated digest.
		s.log.WithError(err).Error("failed to delete %d sent digest item(s): account=%s", len(ids), accountID)
		return err
	}
	s.log.Info("digest sent: account=%s items=%d", accountID, len(items))
	return nil
}

// render groups items by rule name and produces plain-text and HTML
// bodies.
func render(items []*domain.DigestItem, now time.Time) (string, string) {
	byRule := map[string][]*domain.DigestItem{}
	var order []string
	for _, it := range items {
		if _, seen := byRule[it.RuleName]; !seen {
			order = append(order, it.RuleName)
		}
		byRule[it.RuleName] = append(byRule[it.RuleName], it)
	}

	var text, markup strings.Builder
	title := "Digest for " + now.Format("Mon, 2 Jan 2006")
	text.WriteString(title + "\n\n")
	markup.WriteString("<h2>" + title + "</h2>")

	for _, rule := range order {
		text.WriteString(rule + "\n")
		markup.WriteString("<h3>" + html.EscapeString(rule) + "</h3><ul>")
		for _, it := range byRule[rule] {
			text.WriteString("  - " + it.Content + "\n")
			markup.WriteString("<li>" + html.EscapeString(it.Content) + "</li>")
		}
		text.WriteString("\n")
		markup.WriteString("</ul>")
	}
	return text.String(), markup.String()
}
