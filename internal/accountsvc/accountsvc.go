// Package accountsvc implements the gateway's client for the upstream
// account service: the one external dependency LoginHandshake round-trips
// through to turn a username into a session key.
package accountsvc

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/config"
)

// Status is the outcome of a locate_session call.
type Status int

const (
	StatusOK Status = iota
	StatusAlreadyLoggedIn
	StatusSessionNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAlreadyLoggedIn:
		return "already_logged_in"
	case StatusSessionNotFound:
		return "session_not_found"
	default:
		return "error"
	}
}

// LocateResult is the response to a locate_session call.
type LocateResult struct {
	Status     Status
	SessionKey []byte
}

// AccountService is the narrow contract LoginHandshake depends on. It is
// asynchronous at the call site (invoked from a goroutine, its result
// posted back through the connection's strand) but synchronous in its own
// signature — ctx cancellation is how a closed connection drops the
// result without dereferencing freed state.
type AccountService interface {
	LocateSession(ctx context.Context, username string) (LocateResult, error)
}

const (
	locateSessionPath = "/account/locate_session.php"
	userAgent         = "loginway-gateway/1.0"
)

// HTTPAccountService talks to the account service over HTTP, using the PHP
// serialization format the upstream PHP backend expects for both its
// request body and its response.
type HTTPAccountService struct {
	baseURL    string
	maxRetries int
	client     *http.Client
}

// New builds an HTTPAccountService from configuration.
func New(cfg config.AccountConfig) *HTTPAccountService {
	return &HTTPAccountService{
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutS) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// LocateSession calls the upstream locate_session endpoint, retrying
// transient failures up to maxRetries times with a short backoff. A
// non-nil error means the upstream could not be reached at all after
// retries; callers map that to AUTH_SYSTEM_ERROR the same as StatusError.
func (s *HTTPAccountService) LocateSession(ctx context.Context, username string) (LocateResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return LocateResult{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		result, err := s.locateSessionOnce(ctx, username)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("username", username).Int("attempt", attempt).Msg("locate_session attempt failed")
	}
	return LocateResult{}, fmt.Errorf("accountsvc: locate_session failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *HTTPAccountService) locateSessionOnce(ctx context.Context, username string) (LocateResult, error) {
	payload := map[string]interface{}{"username": username}
	serialized, err := phpSerialize(payload)
	if err != nil {
		return LocateResult{}, fmt.Errorf("accountsvc: serialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+locateSessionPath, bytes.NewBufferString(serialized))
	if err != nil {
		return LocateResult{}, fmt.Errorf("accountsvc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return LocateResult{}, fmt.Errorf("accountsvc: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return LocateResult{}, fmt.Errorf("accountsvc: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return LocateResult{}, fmt.Errorf("accountsvc: upstream status %d: %s", resp.StatusCode, string(body))
	}

	parsed, err := phpUnserialize(string(body))
	if err != nil {
		return LocateResult{}, fmt.Errorf("accountsvc: parse response: %w", err)
	}
	fields, ok := parsed.(map[string]interface{})
	if !ok {
		return LocateResult{}, fmt.Errorf("accountsvc: unexpected response shape")
	}

	return parseLocateResult(fields)
}

func parseLocateResult(fields map[string]interface{}) (LocateResult, error) {
	statusStr, _ := fields["status"].(string)

	switch statusStr {
	case "OK":
		keyHex, _ := fields["session_key"].(string)
		key, err := decodeSessionKey(keyHex)
		if err != nil {
			return LocateResult{}, fmt.Errorf("accountsvc: decode session key: %w", err)
		}
		return LocateResult{Status: StatusOK, SessionKey: key}, nil
	case "ALREADY_LOGGED_IN":
		return LocateResult{Status: StatusAlreadyLoggedIn}, nil
	case "SESSION_NOT_FOUND":
		return LocateResult{Status: StatusSessionNotFound}, nil
	default:
		return LocateResult{Status: StatusError}, nil
	}
}

func decodeSessionKey(hexStr string) ([]byte, error) {
	if hexStr == "" {
		return nil, fmt.Errorf("empty session key")
	}
	return hex.DecodeString(hexStr)
}
