package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	userdomain "replypilot-backend/internal/user/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*userdomain.User

	updateTokenCalls int
	disabledUsers    []string
}

func newFakeUserStore(users ...*userdomain.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*userdomain.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) FindByID(id string) (*userdomain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *fakeUserStore) UpdateTokens(userID, accessToken, refreshToken string, expiry *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.GoogleAccessToken = accessToken
	if refreshToken != "" {
		u.GoogleRefreshToken = refreshToken
	}
	u.GoogleTokenExpiry = expiry
	s.updateTokenCalls++
	return nil
}

func (s *fakeUserStore) SetAutomationEnabled(userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].IsAutomationEnabled = enabled
	if !enabled {
		s.disabledUsers = append(s.disabledUsers, userID)
	}
	return nil
}

func (s *fakeUserStore) RecordRefreshFailure(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].RefreshFailures++
	return s.users[userID].RefreshFailures, nil
}

func (s *fakeUserStore) ClearRefreshFailures(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].RefreshFailures = 0
	return nil
}

// newTokenServer returns a fake OAuth token endpoint and a counter of how
// many refresh requests it served.
func newTokenServer(t *testing.T, status int, body map[string]interface{}) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// newAPIServer returns a fake resource server that records the bearer
// token of the last request.
func newAPIServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var lastAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &lastAuth
}

func newTestStore(users *fakeUserStore, tokenURL string) *Store {
	oauthCfg := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	return NewStore(users, oauthCfg, 3)
}

func TestClientNotConnected(t *testing.T) {
	users := newFakeUserStore(&userdomain.User{ID: "u1"})
	store := newTestStore(users, "http://localhost/token")

	_, err := store.Client(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = store.Client(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientRefreshesAndPersistsToken(t *testing.T) {
	tokenSrv, hits := newTokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token": "fresh-access",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	apiSrv, lastAuth := newAPIServer(t)

	users := newFakeUserStore(&userdomain.User{
		ID:                 "u1",
		GoogleAccessToken:  "stale-access",
		GoogleRefreshToken: "refresh-1",
		// Expiry unknown, so the first use must refresh.
	})
	store := newTestStore(users, tokenSrv.URL)

	client, err := store.Client(context.Background(), "u1")
	require.NoError(t, err)

	resp, err := client.Get(apiSrv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1, *hits)
	assert.Equal(t, "Bearer fresh-access", *lastAuth)

	// The rotated token and its expiry were saved.
	u, _ := users.FindByID("u1")
	assert.Equal(t, "fresh-access", u.GoogleAccessToken)
	assert.Equal(t, "refresh-1", u.GoogleRefreshToken)
	require.NotNil(t, u.GoogleTokenExpiry)
	assert.True(t, u.GoogleTokenExpiry.After(time.Now()))
}

func TestClientSkipsRefreshWhileTokenValid(t *testing.T) {
	tokenSrv, hits := newTokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token": "should-not-be-used",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	apiSrv, lastAuth := newAPIServer(t)

	expiry := time.Now().Add(time.Hour)
	users := newFakeUserStore(&userdomain.User{
		ID:                 "u1",
		GoogleAccessToken:  "valid-access",
		GoogleRefreshToken: "refresh-1",
		GoogleTokenExpiry:  &expiry,
	})
	store := newTestStore(users, tokenSrv.URL)

	client, err := store.Client(context.Background(), "u1")
	require.NoError(t, err)

	resp, err := client.Get(apiSrv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 0, *hits)
	assert.Equal(t, "Bearer valid-access", *lastAuth)
	assert.Equal(t, 0, users.updateTokenCalls)
}

func TestRefreshFailureDisablesAutomationAfterBudget(t *testing.T) {
	tokenSrv, _ := newTokenServer(t, http.StatusBadRequest, map[string]interface{}{
		"error": "invalid_grant",
	})
	apiSrv, _ := newAPIServer(t)

	users := newFakeUserStore(&userdomain.User{
		ID:                  "u1",
		GoogleAccessToken:   "stale-access",
		GoogleRefreshToken:  "revoked-refresh",
		IsAutomationEnabled: true,
	})
	store := newTestStore(users, tokenSrv.URL)

	for i := 0; i < 3; i++ {
		client, err := store.Client(context.Background(), "u1")
		require.NoError(t, err)

		_, err = client.Get(apiSrv.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRefreshFailed)

		u, _ := users.FindByID("u1")
		assert.Equal(t, i+1, u.RefreshFailures)
	}

	u, _ := users.FindByID("u1")
	assert.False(t, u.IsAutomationEnabled)
	assert.Equal(t, []string{"u1"}, users.disabledUsers)
}

func TestSuccessfulRefreshClearsFailureCount(t *testing.T) {
	tokenSrv, _ := newTokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token": "fresh-access",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	apiSrv, _ := newAPIServer(t)

	users := newFakeUserStore(&userdomain.User{
		ID:                 "u1",
		GoogleAccessToken:  "stale-access",
		GoogleRefreshToken: "refresh-1",
		RefreshFailures:    2,
	})
	store := newTestStore(users, tokenSrv.URL)

	client, err := store.Client(context.Background(), "u1")
	require.NoError(t, err)

	resp, err := client.Get(apiSrv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	u, _ := users.FindByID("u1")
	assert.Equal(t, 0, u.RefreshFailures)
}
