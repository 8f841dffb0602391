package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/core/service/rules"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// watchRenewHorizon renews subscriptions expiring within this window.
const watchRenewHorizon = 24 * time.Hour

// MaintenanceProcessor handles watch renewal and sender pattern
// analysis jobs.
type MaintenanceProcessor struct {
	accounts  out.AccountRepository
	providers out.ProviderFactory
	learner   *rules.PatternLearner
	log       *logger.Logger
	now       func() time.Time
}

func NewMaintenanceProcessor(
	accounts out.AccountRepository,
	providers out.ProviderFactory,
	learner *rules.PatternLearner,
	log *logger.Logger,
) *MaintenanceProcessor {
	if log == nil {
		log = logger.Default()
	}
	return &MaintenanceProcessor{
		accounts:  accounts,
		providers: providers,
		learner:   learner,
		log:       log,
		now:       time.Now,
	}
}

// ProcessWatchRenew re-arms push subscriptions. With RenewAll it sweeps
// every account whose subscription expires within the horizon; renewal
// failures are logged per account so one broken grant cannot stall the
// sweep.
func (p *MaintenanceProcessor) ProcessWatchRenew(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[WatchRenewPayload](msg)
	if err != nil {
		return apperr.InvalidInput("invalid watch renew payload: " + err.Error())
	}

	if !payload.RenewAll {
		accountID, err := uuid.Parse(payload.AccountID)
		if err != nil {
			return apperr.InvalidInput("invalid account id: " + payload.AccountID)
		}
		account, err := p.accounts.Get(ctx, accountID)
		if err != nil {
			return err
		}
		return p.renew(ctx, account)
	}

	accounts, err := p.accounts.ListWatchExpiring(ctx, p.now().Add(watchRenewHorizon))
	if err != nil {
		return err
	}

	var failed int
	for _, account := range accounts {
		if err := p.renew(ctx, account); err != nil {
			failed++
			p.log.WithError(err).Warn("watch renewal failed: account=%s", account.ID)
		}
	}

	p.log.Info("watch renewal sweep: total=%d failed=%d", len(accounts), failed)
	if failed == len(accounts) && failed > 0 {
		return apperr.ProviderError(nil).WithDetail("failed", failed)
	}
	return nil
}

func (p *MaintenanceProcessor) renew(ctx context.Context, account *domain.Account) error {
	provider, err := p.providers.ForAccount(ctx, account)
	if err != nil {
		return err
	}

	res, err := provider.WatchEmails(ctx)
	if err != nil {
		return err
	}

	return p.accounts.UpdateWatch(ctx, account.ID, res.SubscriptionID, res.Expiration)
}

// ProcessPatternAnalyze re-derives one sender's automation pattern.
func (p *MaintenanceProcessor) ProcessPatternAnalyze(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[PatternAnalyzePayload](msg)
	if err != nil {
		return apperr.InvalidInput("invalid pattern analyze payload: " + err.Error())
	}

	accountID, err := uuid.Parse(payload.AccountID)
	if err != nil {
		return apperr.InvalidInput("invalid account id: " + payload.AccountID)
	}
	if payload.Sender == "" {
		return apperr.MissingField("sender")
	}

	account, err := p.accounts.Get(ctx, accountID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}

	provider, err := p.providers.ForAccount(ctx, account)
	if err != nil {
		return err
	}

	return p.learner.AnalyzeSender(ctx, account, provider, payload.Sender)
}
