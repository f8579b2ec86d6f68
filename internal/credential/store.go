package credential

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	userdomain "replypilot-backend/internal/user/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	// ErrNotConnected means the user has no stored refresh token; the job
	// cannot proceed and must not be retried.
	ErrNotConnected = errors.New("google account not connected")

	// ErrRefreshFailed means the provider rejected the refresh attempt
	// (revoked grant, network failure). Fatal for the current job.
	ErrRefreshFailed = errors.New("credential refresh failed")
)

// UserStore is the slice of the user repository the credential store needs.
type UserStore interface {
	FindByID(id string) (*userdomain.User, error)
	UpdateTokens(userID, accessToken, refreshToken string, expiry *time.Time) error
	SetAutomationEnabled(userID string, enabled bool) error
	RecordRefreshFailure(userID string) (int, error)
	ClearRefreshFailures(userID string) error
}

// Store builds authenticated HTTP clients from stored per-user OAuth tokens.
// Access tokens are refreshed on demand; a rotated token is persisted back to
// the user row before it is handed to the caller, and refresh-and-persist is
// serialized per user so concurrent jobs cannot race on the same credential.
type Store struct {
	users              UserStore
	oauth              *oauth2.Config
	maxRefreshFailures int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOAuthConfig builds the Google OAuth2 config used for token refresh.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
	}
}

func NewStore(users UserStore, oauth *oauth2.Config, maxRefreshFailures int) *Store {
	if maxRefreshFailures <= 0 {
		maxRefreshFailures = 3
	}
	return &Store{
		users:              users,
		oauth:              oauth,
		maxRefreshFailures: maxRefreshFailures,
		locks:              make(map[string]*sync.Mutex),
	}
}

// Client returns an HTTP client whose requests carry the user's access token,
// refreshing it transparently when expired.
func (s *Store) Client(ctx context.Context, userID string) (*http.Client, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.GoogleRefreshToken == "" {
		return nil, ErrNotConnected
	}

	seed := &oauth2.Token{
		AccessToken:  user.GoogleAccessToken,
		RefreshToken: user.GoogleRefreshToken,
		TokenType:    "Bearer",
	}
	if user.GoogleTokenExpiry != nil {
		seed.Expiry = *user.GoogleTokenExpiry
	} else {
		// Expiry unknown: force a refresh on first use so we learn it.
		seed.Expiry = time.Now()
	}

	src := &persistingTokenSource{
		store:   s,
		userID:  userID,
		mu:      s.userLock(userID),
		current: seed,
		base:    s.oauth.TokenSource(ctx, seed),
	}
	return oauth2.NewClient(ctx, src), nil
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[userID]; !ok {
		s.locks[userID] = &sync.Mutex{}
	}
	return s.locks[userID]
}

// noteRefreshFailure counts a consecutive refresh failure and disables
// automation for the user once the bound is crossed, so a revoked grant does
// not produce an endless retry storm across scheduler ticks.
func (s *Store) noteRefreshFailure(userID string) {
	count, err := s.users.RecordRefreshFailure(userID)
	if err != nil {
		log.Printf("[CredentialStore] Failed to record refresh failure for user %s: %v", userID, err)
		return
	}
	if count >= s.maxRefreshFailures {
		log.Printf("[CredentialStore] User %s hit %d consecutive refresh failures, disabling automation", userID, count)
		if err := s.users.SetAutomationEnabled(userID, false); err != nil {
			log.Printf("[CredentialStore] Failed to disable automation for user %s: %v", userID, err)
		}
	}
}

// persistingTokenSource wraps the oauth2 token source so that a rotated
// access token (and refresh token, if the provider issued a new one) is
// saved to storage before the request that triggered the refresh proceeds.
type persistingTokenSource struct {
	store   *Store
	userID  string
	mu      *sync.Mutex
	current *oauth2.Token
	base    oauth2.TokenSource
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.base.Token()
	if err != nil {
		p.store.noteRefreshFailure(p.userID)
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	if t.AccessToken != p.current.AccessToken {
		rotatedRefresh := ""
		if t.RefreshToken != "" && t.RefreshToken != p.current.RefreshToken {
			rotatedRefresh = t.RefreshToken
		}
		expiry := t.Expiry
		if err := p.store.users.UpdateTokens(p.userID, t.AccessToken, rotatedRefresh, &expiry); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
		if err := p.store.users.ClearRefreshFailures(p.userID); err != nil {
			log.Printf("[CredentialStore] Failed to clear refresh failures for user %s: %v", p.userID, err)
		}
		p.current = t
	}

	return t, nil
}
