package rules

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
)

// In-memory fakes shared by the matcher, executor and pattern tests.

type fakeRuleRepo struct {
	rules []*domain.Rule
	err   error
}

func (f *fakeRuleRepo) ListEnabled(ctx context.Context, accountID uuid.UUID) ([]*domain.Rule, error) {
	return f.rules, f.err
}

func (f *fakeRuleRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Rule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

type fakeSenderRepo struct {
	unsubscribed map[string]bool
	categories   map[string]*domain.SenderCategory
	patterns     map[string]*domain.SenderPattern
	cold         map[string]bool
	upserted     []*domain.SenderPattern
	patternErr   error
}

func newFakeSenderRepo() *fakeSenderRepo {
	return &fakeSenderRepo{
		unsubscribed: map[string]bool{},
		categories:   map[string]*domain.SenderCategory{},
		patterns:     map[string]*domain.SenderPattern{},
		cold:         map[string]bool{},
	}
}

func (f *fakeSenderRepo) IsUnsubscribed(ctx context.Context, accountID uuid.UUID, sender string) (bool, error) {
	return f.unsubscribed[sender], nil
}

func (f *fakeSenderRepo) GetCategory(ctx context.Context, accountID uuid.UUID, sender string) (*domain.SenderCategory, error) {
	return f.categories[sender], nil
}

func (f *fakeSenderRepo) SetCategory(ctx context.Context, c *domain.SenderCategory) error {
	f.categories[c.Sender] = c
	return nil
}

func (f *fakeSenderRepo) GetPattern(ctx context.Context, accountID uuid.UUID, sender string) (*domain.SenderPattern, error) {
	if f.patternErr != nil {
		return nil, f.patternErr
	}
	return f.patterns[sender], nil
}

func (f *fakeSenderRepo) UpsertPattern(ctx context.Context, p *domain.SenderPattern) error {
	f.patterns[p.Sender] = p
	f.upserted = append(f.upserted, p)
	return nil
}

func (f *fakeSenderRepo) MarkCold(ctx context.Context, accountID uuid.UUID, sender string) error {
	f.cold[sender] = true
	return nil
}

func (f *fakeSenderRepo) IsCold(ctx context.Context, accountID uuid.UUID, sender string) (bool, error) {
	return f.cold[sender], nil
}

type fakeGroupRepo struct {
	members map[uuid.UUID]map[string]bool
	err     error
}

func (f *fakeGroupRepo) IsMember(ctx context.Context, groupID uuid.UUID, senderEmail, senderDomain string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	g := f.members[groupID]
	return g[senderEmail] || g[senderDomain], nil
}

type fakeEvaluator struct {
	verdict *out.CriteriaResult
	err     error
	calls   int
}

func (f *fakeEvaluator) MatchRule(ctx context.Context, req *out.CriteriaRequest) (*out.CriteriaResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

type fakeExecutedRepo struct {
	records     []*domain.ExecutedRule
	createErr   error
	finalized   map[int64]domain.ExecutedStatus
	counts      map[uuid.UUID]int
	nextID      int64
	finalizeErr error
}

func newFakeExecutedRepo() *fakeExecutedRepo {
	return &fakeExecutedRepo{finalized: map[int64]domain.ExecutedStatus{}}
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
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized[id] = status
	return nil
}

func (f *fakeExecutedRepo) Exists(ctx context.Context, accountID uuid.UUID, threadID, messageID string) (bool, error) {
	for _, r := range f.records {
		if r.ThreadID == threadID && r.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeExecutedRepo) CountByRuleAndSender(ctx context.Context, accountID uuid.UUID, sender string) (map[uuid.UUID]int, error) {
	return f.counts, nil
}

type fakeDigestRepo struct {
	items []*domain.DigestItem
}

func (f *fakeDigestRepo) Add(ctx context.Context, item *domain.DigestItem) error {
	f.items = append(f.items, item)
	return nil
}

func (f *fakeDigestRepo) ListPending(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.DigestItem, error) {
	return f.items, nil
}

func (f *fakeDigestRepo) Delete(ctx context.Context, ids []int64) error { return nil }

func (f *fakeDigestRepo) AccountsWithPending(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

type enqueueCall struct {
	queue string
	job   *out.Job
	opts  *out.EnqueueOptions
}

type fakeQueue struct {
	enqueued   []enqueueCall
	enqueueErr error
}

func (f *fakeQueue) Enqueue(ctx context.Context, queue string, job *out.Job, opts *out.EnqueueOptions) (string, error) {
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.enqueued = append(f.enqueued, enqueueCall{queue, job, opts})
	return job.ID, nil
}

func (f *fakeQueue) BulkEnqueue(ctx context.Context, queue string, jobs []*out.Job) ([]string, error) {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		f.enqueued = append(f.enqueued, enqueueCall{queue, j, nil})
		ids = append(ids, j.ID)
	}
	return ids, nil
}

type trackCall struct {
	threadID  string
	messageID string
	typ       domain.TrackerType
}

type fakeTracking struct {
	calls []trackCall
}

func (f *fakeTracking) Track(ctx context.Context, accountID uuid.UUID, threadID, messageID string, typ domain.TrackerType, sentAt time.Time) error {
	f.calls = append(f.calls, trackCall{threadID, messageID, typ})
	return nil
}

// fakeProvider records mutations and compositions. Unset error fields
// make every call succeed.
type fakeProvider struct {
	archived []string
	read     []string
	spammed  []string
	labeled  map[string][]string // messageID -> label IDs
	sent     []*out.OutgoingMessage
	drafted  []*out.OutgoingMessage

	hasPrevious bool
	prevErr     error
	sendErr     error
	labelErr    error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{labeled: map[string][]string{}}
}

func (f *fakeProvider) ProviderType() domain.Provider { return domain.ProviderGmail }

func (f *fakeProvider) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	return nil, nil
}

func (f *fakeProvider) GetThreadMessages(ctx context.Context, threadID string) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeProvider) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeProvider) GetOrCreateLabel(ctx context.Context, name string) (*out.Label, error) {
	if f.labelErr != nil {
		return nil, f.labelErr
	}
	return &out.Label{ID: "label-" + name, Name: name}, nil
}

func (f *fakeProvider) DeleteLabel(ctx context.Context, labelID string) error { return nil }

func (f *fakeProvider) LabelMessage(ctx context.Context, messageID, labelID string) error {
	f.labeled[messageID] = append(f.labeled[messageID], labelID)
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

func (f *fakeProvider) MarkSpam(ctx context.Context, messageID string) error {
	f.spammed = append(f.spammed, messageID)
	return nil
}

func (f *fakeProvider) SendEmail(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, msg)
	return &out.SendResult{MessageID: "sent-1"}, nil
}

func (f *fakeProvider) DraftEmail(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	f.drafted = append(f.drafted, msg)
	return &out.SendResult{DraftID: "draft-1"}, nil
}

func (f *fakeProvider) ListThreadDrafts(ctx context.Context, threadID string) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeProvider) DeleteDraft(ctx context.Context, draftID string) error { return nil }

func (f *fakeProvider) HasPreviousCommunications(ctx context.Context, q *out.PreviousCommsQuery) (bool, error) {
	return f.hasPrevious, f.prevErr
}

func (f *fakeProvider) ListHistory(ctx context.Context, sinceHistoryID uint64) ([]*out.HistoryRef, error) {
	return nil, nil
}

func (f *fakeProvider) WatchEmails(ctx context.Context) (*out.WatchResult, error) {
	return &out.WatchResult{}, nil
}

func (f *fakeProvider) UnwatchEmails(ctx context.Context) error { return nil }
