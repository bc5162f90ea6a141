package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Refresher exchanges refresh tokens at the Supabase auth endpoint before
// the access token expires.
type Refresher struct {
	baseURL  string
	apiKey   string
	sessions *Sessions
	http     *http.Client
	skew     time.Duration
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a refresher for the project at baseURL.
func NewRefresher(baseURL, apiKey string, s *Sessions) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		sessions: s,
		http:     &http.Client{Timeout: 10 * time.Second},
		skew:     5 * time.Minute,
		interval: time.Minute,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start checks the session every minute and refreshes it when close to
// expiry.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				if err := r.RefreshIfNeeded(r.ctx); err != nil {
					log.Printf("Error refreshing session: %v", err)
				}
			}
		}
	}()
}

// Stop halts the refresh loop.
func (r *Refresher) Stop() {
	r.cancel()
	r.wg.Wait()
}

// RefreshIfNeeded refreshes the current session if it is about to expire.
func (r *Refresher) RefreshIfNeeded(ctx context.Context) error {
	cur := r.sessions.Current()
	if cur == nil || cur.RefreshToken == "" || !cur.Expired(time.Now(), r.skew) {
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh exchanges the refresh token and installs the new session.
func (r *Refresher) Refresh(ctx context.Context) error {
	cur := r.sessions.Current()
	if cur == nil || cur.RefreshToken == "" {
		return fmt.Errorf("no refresh token")
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": cur.RefreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/auth/v1/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", r.apiKey)

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			// The refresh token was revoked; the user has to sign in again.
			if err := r.sessions.SignOut(); err != nil {
				log.Printf("Error signing out: %v", err)
			}
		}
		return fmt.Errorf("refresh failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
		User         User   `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if out.User.ID == "" {
		out.User = cur.User
	}
	return r.sessions.SetSession(Session{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    out.ExpiresAt,
		User:         out.User,
	})
}
