// Package session tracks issued tokens, login failures and socket
// tickets in Redis. A token is valid while its key exists, so
// revocation is deletion and expiry needs no sweeper.
package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

const (
	// MaxLoginFailures locks an email out of login once reached.
	MaxLoginFailures = 5
	// LockoutWindow is both the failure-counting window and the
	// lockout duration; the counter key carries it as its TTL.
	LockoutWindow = 15 * time.Minute
	// TicketTTL bounds the gap between ticket issue and socket connect.
	TicketTTL = 30 * time.Second
)

// Store is the Redis session state shared by the auth handlers and
// middleware.
type Store struct {
	client goredis.UniversalClient
	logger logging.Logger
}

func New(client goredis.UniversalClient, logger logging.Logger) *Store {
	return &Store{client: client, logger: logger}
}

func accessKey(jti string) string  { return "access-token:" + jti }
func refreshKey(jti string) string { return "refresh-token:" + jti }

func userAccessKey(userID int64, jti string) string {
	return fmt.Sprintf("user-access:%d:%s", userID, jti)
}

func userRefreshKey(userID int64, jti string) string {
	return fmt.Sprintf("user-refresh:%d:%s", userID, jti)
}

func failuresKey(email string) string { return "login-failures:" + email }
func ticketKey(ticket string) string  { return "ws-ticket:" + ticket }

// StoreAccessToken records an issued access token plus its per-user
// index entry, both expiring with the token.
func (s *Store) StoreAccessToken(ctx context.Context, userID int64, jti string, ttl time.Duration) error {
	return s.storeToken(ctx, accessKey(jti), userAccessKey(userID, jti), userID, ttl)
}

// StoreRefreshToken records an issued refresh token plus its per-user
// index entry.
func (s *Store) StoreRefreshToken(ctx context.Context, userID int64, jti string, ttl time.Duration) error {
	return s.storeToken(ctx, refreshKey(jti), userRefreshKey(userID, jti), userID, ttl)
}

func (s *Store) storeToken(ctx context.Context, tokenKey, indexKey string, userID int64, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, tokenKey, strconv.FormatInt(userID, 10), ttl)
		pipe.Set(ctx, indexKey, "1", ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// AccessTokenUser resolves an access jti to its user. A missing key
// means the token was revoked or expired; an error means Redis is
// unreachable and the caller must treat the token as invalid.
func (s *Store) AccessTokenUser(ctx context.Context, jti string) (int64, bool, error) {
	return s.tokenUser(ctx, accessKey(jti))
}

// RefreshTokenUser resolves a refresh jti to its user.
func (s *Store) RefreshTokenUser(ctx context.Context, jti string) (int64, bool, error) {
	return s.tokenUser(ctx, refreshKey(jti))
}

func (s *Store) tokenUser(ctx context.Context, key string) (int64, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("token lookup: %w", err)
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt token entry %q: %w", val, err)
	}
	return userID, true, nil
}

// RevokeAccessToken deletes one access token and its index entry.
func (s *Store) RevokeAccessToken(ctx context.Context, userID int64, jti string) error {
	if err := s.client.Del(ctx, accessKey(jti), userAccessKey(userID, jti)).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// RevokeRefreshToken deletes one refresh token and its index entry.
func (s *Store) RevokeRefreshToken(ctx context.Context, userID int64, jti string) error {
	if err := s.client.Del(ctx, refreshKey(jti), userRefreshKey(userID, jti)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllAccessTokens revokes every live access token of a user by
// walking the per-user index. Returns how many tokens were revoked.
func (s *Store) RevokeAllAccessTokens(ctx context.Context, userID int64) (int, error) {
	return s.revokeAll(ctx, fmt.Sprintf("user-access:%d:", userID), accessKey)
}

// RevokeAllRefreshTokens revokes every live refresh token of a user.
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID int64) (int, error) {
	return s.revokeAll(ctx, fmt.Sprintf("user-refresh:%d:", userID), refreshKey)
}

func (s *Store) revokeAll(ctx context.Context, indexPrefix string, tokenKey func(string) string) (int, error) {
	iter := s.client.Scan(ctx, 0, indexPrefix+"*", 100).Iterator()

	keys := []string{}
	revoked := 0
	for iter.Next(ctx) {
		indexKey := iter.Val()
		jti := indexKey[len(indexPrefix):]
		keys = append(keys, indexKey, tokenKey(jti))
		revoked++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan tokens: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}
	return revoked, nil
}

// RecordLoginFailure bumps the failure counter for an email and
// returns the new count. The counter window restarts on every failure.
func (s *Store) RecordLoginFailure(ctx context.Context, email string) (int64, error) {
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, failuresKey(email))
		pipe.Expire(ctx, failuresKey(email), LockoutWindow)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	return incr.Val(), nil
}

// ClearLoginFailures resets the counter after a successful login.
func (s *Store) ClearLoginFailures(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, failuresKey(email)).Err(); err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	return nil
}

// IsLockedOut reports whether an email has exhausted its login
// attempts. Callers treat an error as not locked so a Redis outage
// cannot lock every account out.
func (s *Store) IsLockedOut(ctx context.Context, email string) (bool, error) {
	val, err := s.client.Get(ctx, failuresKey(email)).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lockout check: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, nil
	}
	return n >= MaxLoginFailures, nil
}

// CreateSocketTicket mints a single-use ticket a browser can pass on a
// socket URL, where the Authorization header is unavailable.
func (s *Store) CreateSocketTicket(ctx context.Context, userID int64) (string, error) {
	ticket := uuid.NewString()
	err := s.client.Set(ctx, ticketKey(ticket), strconv.FormatInt(userID, 10), TicketTTL).Err()
	if err != nil {
		return "", fmt.Errorf("create socket ticket: %w", err)
	}
	return ticket, nil
}

// ConsumeSocketTicket redeems a ticket exactly once. GETDEL makes the
// read and the burn one atomic step, so two racing connects cannot
// both win.
func (s *Store) ConsumeSocketTicket(ctx context.Context, ticket string) (int64, bool, error) {
	val, err := s.client.GetDel(ctx, ticketKey(ticket)).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("consume socket ticket: %w", err)
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt ticket entry %q: %w", val, err)
	}
	return userID, true, nil
}
