package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"google.golang.org/api/gmail/v1"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/httputil"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// =============================================================================
// Provider Factory
// =============================================================================

// TokenStore loads and persists per-account OAuth tokens. Refreshed
// tokens are written back so the next worker starts from a live token.
type TokenStore interface {
	GetToken(ctx context.Context, accountID uuid.UUID) (*oauth2.Token, error)
	SaveToken(ctx context.Context, accountID uuid.UUID, token *oauth2.Token) error
}

// GoogleConfig holds the Gmail OAuth and push wiring.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	// PubSubTopic is the fully qualified Pub/Sub topic
	// (projects/{project}/topics/{topic}) receiving watch notifications.
	PubSubTopic string
}

// MicrosoftConfig holds the Outlook OAuth and webhook wiring.
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	WebhookURL   string
	ClientState  string
}

// FactoryConfig bundles both provider configurations.
type FactoryConfig struct {
	Google    GoogleConfig
	Microsoft MicrosoftConfig
}

// Factory implements out.ProviderFactory. One circuit breaker per
// provider kind is shared across accounts so a provider-wide outage
// trips once instead of per mailbox.
type Factory struct {
	google    *oauth2.Config
	microsoft *oauth2.Config
	tokens    TokenStore
	topic     string
	msOpts    MicrosoftConfig
	gmailCB   *gobreaker.CircuitBreaker
}

// NewFactory builds a Factory.
func NewFactory(cfg FactoryConfig, tokens TokenStore) *Factory {
	tenantID := cfg.Microsoft.TenantID
	if tenantID == "" {
		tenantID = "common"
	}

	return &Factory{
		google: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Scopes: []string{
				gmail.GmailReadonlyScope,
				gmail.GmailSendScope,
				gmail.GmailModifyScope,
				gmail.GmailLabelsScope,
			},
			Endpoint: google.Endpoint,
		},
		microsoft: &oauth2.Config{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			Scopes: []string{
				"https://graph.microsoft.com/Mail.ReadWrite",
				"https://graph.microsoft.com/Mail.Send",
				"https://graph.microsoft.com/User.Read",
				"offline_access",
			},
			Endpoint: microsoft.AzureADEndpoint(tenantID),
		},
		tokens:  tokens,
		topic:   cfg.Google.PubSubTopic,
		msOpts:  cfg.Microsoft,
		gmailCB: newProviderBreaker("gmail-api"),
	}
}

func newProviderBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
}

// ForAccount resolves the provider adapter for an account.
func (f *Factory) ForAccount(ctx context.Context, account *domain.Account) (out.EmailProviderPort, error) {
	token, err := f.tokens.GetToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	switch account.Provider {
	case domain.ProviderGmail:
		ts := f.savingSource(ctx, f.google, account.ID, token)
		return NewGmailProvider(ctx, ts, f.topic, f.gmailCB)

	case domain.ProviderOutlook:
		ts := f.savingSource(ctx, f.microsoft, account.ID, token)
		httpCtx := context.WithValue(ctx, oauth2.HTTPClient, httputil.NewClient(nil))
		client := oauth2.NewClient(httpCtx, ts)
		return NewOutlookProvider(client, OutlookOptions{
			WebhookURL:     f.msOpts.WebhookURL,
			ClientState:    f.msOpts.ClientState,
			SubscriptionID: account.WatchSubscriptionID,
		}), nil

	default:
		return nil, apperr.InvalidInput("unknown provider: " + string(account.Provider))
	}
}

// savingSource wraps the refresh source so refreshed tokens are
// persisted before use.
func (f *Factory) savingSource(ctx context.Context, cfg *oauth2.Config, accountID uuid.UUID, token *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(token, &persistingSource{
		inner:     cfg.TokenSource(ctx, token),
		store:     f.tokens,
		accountID: accountID,
		last:      token.AccessToken,
	})
}

type persistingSource struct {
	mu        sync.Mutex
	inner     oauth2.TokenSource
	store     TokenStore
	accountID uuid.UUID
	last      string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.inner.Token()
	if err != nil {
		return nil, apperr.ProviderError(err)
	}

	s.mu.Lock()
	changed := token.AccessToken != s.last
	if changed {
		s.last = token.AccessToken
	}
	s.mu.Unlock()

	if changed {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.SaveToken(ctx, s.accountID, token); err != nil {
			// A failed save costs one extra refresh later, never the call.
			logger.Warn("failed to persist refreshed token: account=%s err=%v", s.accountID, err)
		}
	}
	return token, nil
}

var _ out.ProviderFactory = (*Factory)(nil)
