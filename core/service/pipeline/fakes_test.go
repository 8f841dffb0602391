package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

var errNotFound = apperr.NotFound("resource")

// ---- cache ----

type fakeCache struct {
	values map[string]string
	setErr error
	delErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.values, key)
	return nil
}

func (f *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.values[key]
	return ok, nil
}

func (f *fakeCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, held := f.values[key]; held {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

// ---- repositories ----

type fakeAccountRepo struct {
	accounts map[uuid.UUID]*domain.Account
	err      error
}

func (f *fakeAccountRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, errNotFound
	}
	return a, nil
}

func (f *fakeAccountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return nil, errNotFound
}

func (f *fakeAccountRepo) GetByWatchSubscription(ctx context.Context, subscriptionID string) (*domain.Account, error) {
	return nil, errNotFound
}

func (f *fakeAccountRepo) ListWatchExpiring(ctx context.Context, deadline time.Time) ([]*domain.Account, error) {
	return nil, nil
}

func (f *fakeAccountRepo) UpdateWatch(ctx context.Context, accountID uuid.UUID, subscriptionID string, expiration time.Time) error {
	return nil
}

func (f *fakeAccountRepo) UpdateHistoryID(ctx context.Context, accountID uuid.UUID, historyID uint64) error {
	return nil
}

type fakeExecutedRepo struct {
	records   []*domain.ExecutedRule
	createErr error
	exists    bool
	existsErr error
	nextID    int64
}

func (f *fakeExecutedRepo) Create(ctx context.Context, rec *domain.ExecutedRule) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	rec.ID = f.nextID
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeExecutedRepo) Finalize(ctx context.Context, id int64, status domain.ExecutedStatus, reason string) error {
	for _, r := range f.records {
		if r.ID == id {
			r.Status = status
		}
	}
	return nil
}

func (f *fakeExecutedRepo) Exists(ctx context.Context, accountID uuid.UUID, threadID, messageID string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeExecutedRepo) CountByRuleAndSender(ctx context.Context, accountID uuid.UUID, sender string) (map[uuid.UUID]int, error) {
	return nil, nil
}

type fakeSenderRepo struct {
	unsubscribed map[string]bool
	cold         map[string]bool
	unsubErr     error
}

func newFakeSenderRepo() *fakeSenderRepo {
	return &fakeSenderRepo{unsubscribed: map[string]bool{}, cold: map[string]bool{}}
}

func (f *fakeSenderRepo) IsUnsubscribed(ctx context.Context, accountID uuid.UUID, sender string) (bool, error) {
	return f.unsubscribed[sender], f.unsubErr
}

func (f *fakeSenderRepo) GetCategory(ctx context.Context, accountID uuid.UUID, sender string) (*domain.SenderCategory, error) {
	return nil, nil
}

func (f *fakeSenderRepo) SetCategory(ctx context.Context, c *domain.SenderCategory) error {
	return nil
}

func (f *fakeSenderRepo) GetPattern(ctx context.Context, accountID uuid.UUID, sender string) (*domain.SenderPattern, error) {
	return nil, nil
}

func (f *fakeSenderRepo) UpsertPattern(ctx context.Context, p *domain.SenderPattern) error {
	return nil
}

func (f *fakeSenderRepo) MarkCold(ctx context.Context, accountID uuid.UUID, sender string) error {
	f.cold[sender] = true
	return nil
}

func (f *fakeSenderRepo) IsCold(ctx context.Context, accountID uuid.UUID, sender string) (bool, error) {
	return f.cold[sender], nil
}

type fakeRuleRepo struct {
	rules []*domain.Rule
}

func (f *fakeRuleRepo) ListEnabled(ctx context.Context, accountID uuid.UUID) ([]*domain.Rule, error) {
	return f.rules, nil
}

func (f *fakeRuleRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Rule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errNotFound
}

type fakeGroupRepo struct{}

func (f *fakeGroupRepo) IsMember(ctx context.Context, groupID uuid.UUID, senderEmail, senderDomain string) (bool, error) {
	return false, nil
}

type fakeDigestRepo struct{}

func (f *fakeDigestRepo) Add(ctx context.Context, item *domain.DigestItem) error { return nil }

func (f *fakeDigestRepo) ListPending(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.DigestItem, error) {
	return nil, nil
}

func (f *fakeDigestRepo) Delete(ctx context.Context, ids []int64) error { return nil }

func (f *fakeDigestRepo) AccountsWithPending(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeTrackerRepo struct {
	created  []*domain.ThreadTracker
	resolved [][]domain.TrackerType
}

func (f *fakeTrackerRepo) Create(ctx context.Context, t *domain.ThreadTracker) error {
	f.created = append(f.created, t)
	return nil
}

func (f *fakeTrackerRepo) ResolveOpen(ctx context.Context, accountID uuid.UUID, threadID string, types []domain.TrackerType) (int64, error) {
	f.resolved = append(f.resolved, types)
	return 0, nil
}

func (f *fakeTrackerRepo) ListUnresolved(ctx context.Context, accountID uuid.UUID, q *out.TrackerQuery) ([]*domain.ThreadTracker, int, error) {
	return nil, 0, nil
}

// ---- AI ----

type fakeClassifier struct {
	verdict out.ColdEmailVerdict
	err     error
}

func (f *fakeClassifier) ClassifyColdEmail(ctx context.Context, account *domain.Account, msg *domain.Message) (*out.ColdEmailVerdict, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.verdict
	return &v, nil
}

type fakeCategorizerAI struct{}

func (f *fakeCategorizerAI) CategorizeSender(ctx context.Context, account *domain.Account, msg *domain.Message) (string, error) {
	return "", errors.New("not configured")
}

type fakeEvaluator struct{}

func (f *fakeEvaluator) MatchRule(ctx context.Context, req *out.CriteriaRequest) (*out.CriteriaResult, error) {
	return &out.CriteriaResult{}, nil
}

// ---- provider ----

type fakeProviderFactory struct {
	provider out.EmailProviderPort
	err      error
}

func (f *fakeProviderFactory) ForAccount(ctx context.Context, account *domain.Account) (out.EmailProviderPort, error) {
	return f.provider, f.err
}

type fakeProvider struct {
	message    *domain.Message
	messageErr error

	drafts       []*domain.Message
	deleted      []string
	hasPrevious  bool
	archived     []string
	read         []string
	labeled      []string
	labelCreated []string
}

func (f *fakeProvider) ProviderType() domain.Provider { return domain.ProviderGmail }

func (f *fakeProvider) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	if f.messageErr != nil {
		return nil, f.messageErr
	}
	return f.message, nil
}

func (f *fakeProvider) GetThreadMessages(ctx context.Context, threadID string) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeProvider) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeProvider) GetOrCreateLabel(ctx context.Context, name string) (*out.Label, error) {
	f.labelCreated = append(f.labelCreated, name)
	return &out.Label{ID: "lbl-" + name, Name: name}, nil
}

func (f *fakeProvider) DeleteLabel(ctx context.Context, labelID string) error { return nil }

func (f *fakeProvider) LabelMessage(ctx context.Context, messageID, labelID string) error {
	f.labeled = append(f.labeled, labelID)
	return nil
}

func (f *fakeProvider) RemoveLabel(ctx context.Context, messageID, labelID string) error {
	return nil
}

func (f *fakeProvider) Archive(ctx context.Context, messageID string) error {
	f.archived = append(f.archived, messageID)
	return nil
}

func (f *fakeProvider) MarkRead(ctx context.Context, messageID string) error {
	f.read = append(f.read, messageID)
	return nil
}

func (f *fakeProvider) MarkSpam(ctx context.Context, messageID string) error { return nil }

func (f *fakeProvider) SendEmail(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	return &out.SendResult{MessageID: "sent"}, nil
}

func (f *fakeProvider) DraftEmail(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	return &out.SendResult{DraftID: "draft"}, nil
}

func (f *fakeProvider) ListThreadDrafts(ctx context.Context, threadID string) ([]*domain.Message, error) {
	return f.drafts, nil
}

func (f *fakeProvider) DeleteDraft(ctx context.Context, draftID string) error {
	f.deleted = append(f.deleted, draftID)
	return nil
}

func (f *fakeProvider) HasPreviousCommunications(ctx context.Context, q *out.PreviousCommsQuery) (bool, error) {
	return f.hasPrevious, nil
}

func (f *fakeProvider) ListHistory(ctx context.Context, sinceHistoryID uint64) ([]*out.HistoryRef, error) {
	return nil, nil
}

func (f *fakeProvider) WatchEmails(ctx context.Context) (*out.WatchResult, error) {
	return &out.WatchResult{}, nil
}

func (f *fakeProvider) UnwatchEmails(ctx context.Context) error { return nil }
