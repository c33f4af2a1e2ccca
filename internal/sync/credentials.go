package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"teamsync/internal/auth"
)

// Supplier owns the access/refresh token pair. It hands out only validated,
// non-expired access tokens and refreshes proactively when expiry is closer
// than the configured lead, so a 401 round-trip is never the trigger.
type Supplier struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string

	refreshURL string
	lead       time.Duration
	client     *http.Client
	now        func() time.Time

	// onAuthRequired fires once credentials are wiped; the session is over.
	onAuthRequired func()
}

// NewSupplier constructs a Supplier. lead is how close to expiry a token may
// get before a refresh is forced.
func NewSupplier(refreshURL string, lead time.Duration, onAuthRequired func()) *Supplier {
	return &Supplier{
		refreshURL:     refreshURL,
		lead:           lead,
		client:         &http.Client{Timeout: 10 * time.Second},
		now:            time.Now,
		onAuthRequired: onAuthRequired,
	}
}

// SetTokens installs a freshly issued token pair (login, refresh response).
func (s *Supplier) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	s.refreshToken = refresh
}

// ValidToken returns a non-expired access token, refreshing first when the
// current one is missing or expires within the lead window.
func (s *Supplier) ValidToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.accessToken
	s.mu.Unlock()

	if token != "" {
		if exp, ok := auth.TokenExpiry(token); ok && exp.After(s.now().Add(s.lead)) {
			return token, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh exchanges the refresh token for a new pair. Failure is fatal: both
// tokens are wiped and the auth-required callback fires. It never retries
// silently.
func (s *Supplier) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	refresh := s.refreshToken
	s.mu.Unlock()

	if refresh == "" {
		s.wipe()
		return "", ErrCredential
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Transport failure is not a credential verdict; keep the tokens.
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.wipe()
		return "", fmt.Errorf("%w: refresh rejected with status %d", ErrCredential, resp.StatusCode)
	}

	var issued struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil || issued.AccessToken == "" {
		s.wipe()
		return "", fmt.Errorf("%w: malformed refresh response", ErrCredential)
	}

	s.mu.Lock()
	s.accessToken = issued.AccessToken
	if issued.RefreshToken != "" {
		s.refreshToken = issued.RefreshToken
	}
	s.mu.Unlock()
	return issued.AccessToken, nil
}

// Wipe discards both tokens and surfaces the auth-required state.
func (s *Supplier) Wipe() {
	s.wipe()
}

// StartPolling keeps an idle session's token fresh on a fixed interval,
// independent of any request. It stops when the session dies (credential
// failure) or ctx is cancelled.
func (s *Supplier) StartPolling(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ValidToken(ctx); err != nil {
					if isCredentialErr(err) {
						log.Printf("token polling stopped: %v", err)
						return
					}
					log.Printf("token poll refresh failed, will retry: %v", err)
				}
			}
		}
	}()
}

func (s *Supplier) wipe() {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.mu.Unlock()
	if s.onAuthRequired != nil {
		s.onAuthRequired()
	}
}
