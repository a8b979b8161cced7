package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"crosspost/internal/services"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
    user_id INTEGER NOT NULL,
    provider TEXT NOT NULL,
    access_token TEXT NOT NULL,
    refresh_token TEXT,
    expiry TEXT,
    meta_json TEXT,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (user_id, provider)
);
`

// Refresher exchanges a refresh token for a new access token at the
// provider's token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, cred *Credential) (accessToken string, expiry time.Time, err error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, cred *Credential) (string, time.Time, error)

func (f RefresherFunc) Refresh(ctx context.Context, cred *Credential) (string, time.Time, error) {
	return f(ctx, cred)
}

// Store persists OAuth credentials and serves usable tokens, refreshing
// expired access tokens transparently. Refreshes for the same (user,
// provider) key are single-flighted so concurrent callers share one token
// exchange and observe the same refreshed credential.
type Store struct {
	db         *sql.DB
	refreshers map[string]Refresher
	group      singleflight.Group
	now        func() time.Time
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithNowFunc overrides the clock, used by tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore prepares the credentials table on the shared queue database and
// wires per-provider refreshers.
func NewStore(db *sql.DB, refreshers map[string]Refresher, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("credentials store requires a database")
	}
	if _, err := db.Exec(credentialsSchema); err != nil {
		return nil, fmt.Errorf("ensure credentials schema: %w", err)
	}
	store := &Store{
		db:         db,
		refreshers: refreshers,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Store upserts a credential for its (user, provider) key. Idempotent;
// called after the out-of-band OAuth grant flow and after each refresh.
func (s *Store) Store(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return errors.New("credential is nil")
	}
	provider := strings.ToLower(strings.TrimSpace(cred.Provider))
	if provider == "" {
		return services.Wrap(services.ErrValidation, "credentials", "store", "provider must not be empty", nil)
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return services.Wrap(services.ErrValidation, "credentials", "store", "access token must not be empty", nil)
	}

	now := s.now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO credentials (user_id, provider, access_token, refresh_token, expiry, meta_json, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (user_id, provider) DO UPDATE SET
             access_token = excluded.access_token,
             refresh_token = excluded.refresh_token,
             expiry = excluded.expiry,
             meta_json = excluded.meta_json,
             updated_at = excluded.updated_at`,
		cred.UserID,
		provider,
		cred.AccessToken,
		nullableString(cred.RefreshToken),
		nullableTimeValue(cred.Expiry),
		nullableString(cred.MetaJSON),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// Get returns the stored credential for the key, without refreshing.
func (s *Store) Get(ctx context.Context, userID int64, provider string) (*Credential, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	row := s.db.QueryRowContext(
		ctx,
		`SELECT user_id, provider, access_token, refresh_token, expiry, meta_json, updated_at
         FROM credentials WHERE user_id = ? AND provider = ?`,
		userID,
		provider,
	)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "credentials", "get",
			fmt.Sprintf("no %s credential for user %d", provider, userID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

// GetUsable returns a credential whose access token is valid at call time,
// performing and persisting a refresh when needed. A revoked or invalid
// refresh token surfaces as ErrCredentialExpired, which requires the user to
// re-authorize out of band.
func (s *Store) GetUsable(ctx context.Context, userID int64, provider string) (*Credential, error) {
	cred, err := s.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if !cred.Expired(s.now()) {
		return cred, nil
	}

	key := credentialKey(userID, cred.Provider)
	refreshed, err, _ := s.group.Do(key, func() (any, error) {
		// Re-read inside the flight: a concurrent winner may already have
		// persisted a fresh token.
		current, err := s.Get(ctx, userID, provider)
		if err != nil {
			return nil, err
		}
		if !current.Expired(s.now()) {
			return current, nil
		}
		return s.refresh(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	return refreshed.(*Credential), nil
}

// List returns all stored credentials ordered by user then provider.
func (s *Store) List(ctx context.Context) ([]*Credential, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT user_id, provider, access_token, refresh_token, expiry, meta_json, updated_at
         FROM credentials ORDER BY user_id, provider`,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (s *Store) refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if strings.TrimSpace(cred.RefreshToken) == "" {
		return nil, services.Wrap(services.ErrCredentialExpired, "credentials", "refresh",
			fmt.Sprintf("%s credential for user %d has no refresh token", cred.Provider, cred.UserID), nil)
	}
	refresher, ok := s.refreshers[cred.Provider]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "credentials", "refresh",
			fmt.Sprintf("no refresher configured for provider %s", cred.Provider), nil)
	}

	accessToken, expiry, err := refresher.Refresh(ctx, cred)
	if err != nil {
		return nil, err
	}

	cred.AccessToken = accessToken
	cred.Expiry = expiry.UTC()
	if err := s.Store(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}
	return cred, nil
}

func credentialKey(userID int64, provider string) string {
	return strconv.FormatInt(userID, 10) + "|" + provider
}

func scanCredential(scanner interface{ Scan(dest ...any) error }) (*Credential, error) {
	var (
		userID       int64
		provider     string
		accessToken  string
		refreshToken sql.NullString
		expiryRaw    sql.NullString
		metaJSON     sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(&userID, &provider, &accessToken, &refreshToken, &expiryRaw, &metaJSON, &updatedRaw); err != nil {
		return nil, err
	}

	cred := &Credential{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  accessToken,
		RefreshToken: refreshToken.String,
		MetaJSON:     metaJSON.String,
	}
	if expiryRaw.Valid && expiryRaw.String != "" {
		if expiry, err := time.Parse(time.RFC3339Nano, expiryRaw.String); err == nil {
			cred.Expiry = expiry
		}
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		cred.UpdatedAt = updated
	}
	return cred, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTimeValue(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
