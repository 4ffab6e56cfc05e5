package yahoo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/0xideahub/OpenStock/internal/cache"
	"github.com/0xideahub/OpenStock/internal/clientdata"
	"github.com/0xideahub/OpenStock/internal/domain"
)

const (
	sessionTTL     = clientdata.TTLYahooSession
	sessionKey     = "session"
	sessionTimeout = 10 * time.Second

	defaultBootstrapURL = "https://fc.yahoo.com"
)

// Session is one cookie+crumb pair. Immutable once issued; expired sessions
// are replaced, never mutated.
type Session struct {
	CookieHeader string    `json:"cookieHeader"`
	Crumb        string    `json:"crumb"`
	CreatedAt    time.Time `json:"createdAt"`
}

// fresh reports whether the session is still inside its TTL.
func (s *Session) fresh(now time.Time) bool {
	return s != nil && now.Sub(s.CreatedAt) < sessionTTL
}

// SessionManager acquires and caches Yahoo cookie+crumb sessions. Concurrent
// refreshes collapse into a single upstream bootstrap via singleflight.
type SessionManager struct {
	httpClient   *http.Client
	bootstrapURL string
	crumbURL     string
	cache        *cache.Layered
	log          zerolog.Logger
	now          func() time.Time

	mu      sync.RWMutex
	current *Session
	group   singleflight.Group
}

// NewSessionManager creates a session manager. baseURL is the query API host
// serving the crumb endpoint.
func NewSessionManager(baseURL string, cacheLayer *cache.Layered, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		httpClient:   &http.Client{Timeout: sessionTimeout},
		bootstrapURL: defaultBootstrapURL,
		crumbURL:     strings.TrimSuffix(baseURL, "/") + "/v1/test/getcrumb",
		cache:        cacheLayer,
		log:          log.With().Str("client", "yahoo_session").Logger(),
		now:          time.Now,
	}
}

// Acquire returns a fresh session, reusing the cached one when possible.
// With forceRefresh a new session is always bootstrapped (still deduplicated
// across concurrent callers).
func (m *SessionManager) Acquire(ctx context.Context, forceRefresh bool) (*Session, error) {
	if !forceRefresh {
		if s := m.cached(); s != nil {
			return s, nil
		}
	}

	result, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		// A racer may have refreshed while we waited for the flight slot.
		if !forceRefresh {
			if s := m.cached(); s != nil {
				return s, nil
			}
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// Invalidate drops the current session from memory and from the external
// cache. The next Acquire will bootstrap a new one.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Delete(clientdata.TableYahooSession, sessionKey)
	}
	m.log.Debug().Msg("Session invalidated")
}

// cached returns a fresh session from memory or the external cache, nil when
// neither has one.
func (m *SessionManager) cached() *Session {
	now := m.now()

	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()
	if s.fresh(now) {
		return s
	}

	if m.cache == nil {
		return nil
	}
	var stored Session
	found, err := m.cache.Get(clientdata.TableYahooSession, sessionKey, &stored)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to read cached session")
		return nil
	}
	if !found || !stored.fresh(now) {
		return nil
	}

	m.mu.Lock()
	m.current = &stored
	m.mu.Unlock()
	return &stored
}

// refresh runs the two-step bootstrap: collect cookies from the consent page,
// then exchange them for a crumb. On any failure nothing stale is left
// behind.
func (m *SessionManager) refresh(ctx context.Context) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	cookieHeader, err := m.bootstrap(ctx)
	if err != nil {
		m.Invalidate()
		return nil, domain.ErrSessionAcquisition{Reason: "cookie bootstrap", Err: domain.WrapTimeout("yahoo", err)}
	}

	crumb, err := m.fetchCrumb(ctx, cookieHeader)
	if err != nil {
		m.Invalidate()
		return nil, domain.ErrSessionAcquisition{Reason: "crumb fetch", Err: domain.WrapTimeout("yahoo", err)}
	}

	session := &Session{
		CookieHeader: cookieHeader,
		Crumb:        crumb,
		CreatedAt:    m.now(),
	}

	m.mu.Lock()
	m.current = session
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Set(clientdata.TableYahooSession, sessionKey, session, sessionTTL)
	}

	m.log.Debug().Msg("Acquired new session")
	return session, nil
}

// bootstrap hits the cookie-seeding page and collects every Set-Cookie pair.
// The page answers 404 for non-browser agents; only a missing cookie is an
// error.
func (m *SessionManager) bootstrap(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.bootstrapURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build bootstrap request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bootstrap request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	var pairs []string
	for _, raw := range resp.Header.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(raw, ";")
		if pair = strings.TrimSpace(pair); pair != "" {
			pairs = append(pairs, pair)
		}
	}
	if len(pairs) == 0 {
		return "", fmt.Errorf("bootstrap returned no cookies (status %d)", resp.StatusCode)
	}

	return strings.Join(pairs, "; "), nil
}

// fetchCrumb exchanges the cookies for the anti-forgery crumb.
func (m *SessionManager) fetchCrumb(ctx context.Context, cookieHeader string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.crumbURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build crumb request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", cookieHeader)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("crumb request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("crumb endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read crumb response: %w", err)
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" || strings.Contains(crumb, "<html") {
		return "", fmt.Errorf("crumb endpoint returned an unusable body")
	}

	return crumb, nil
}
