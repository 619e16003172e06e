package accountsvc

import (
	"context"
	"crypto/sha1"

	"golang.org/x/crypto/pbkdf2"
)

// DeterministicSessionKey derives a stable 40-byte session key for a given
// username, for use by tests and the local fixture AccountService below —
// never by the real HTTP client, which always takes its key from the
// upstream response.
func DeterministicSessionKey(username string) []byte {
	return pbkdf2.Key([]byte(username), []byte("loginway-fixture-salt"), 4096, 40, sha1.New)
}

// FixtureAccountService is an in-memory AccountService double driven by a
// static username->Status table, for use in LoginHandshake tests that need
// an AccountService without standing up an HTTP server.
type FixtureAccountService struct {
	outcomes map[string]Status
}

// NewFixtureAccountService builds a FixtureAccountService from a
// username->Status table. Usernames absent from the table resolve to
// StatusSessionNotFound.
func NewFixtureAccountService(outcomes map[string]Status) *FixtureAccountService {
	return &FixtureAccountService{outcomes: outcomes}
}

// LocateSession looks up username in the fixture table and, for StatusOK,
// returns a deterministic session key derived from the username.
func (f *FixtureAccountService) LocateSession(_ context.Context, username string) (LocateResult, error) {
	status, ok := f.outcomes[username]
	if !ok {
		status = StatusSessionNotFound
	}
	if status != StatusOK {
		return LocateResult{Status: status}, nil
	}
	return LocateResult{Status: StatusOK, SessionKey: DeterministicSessionKey(username)}, nil
}
