// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/threeeyedemu/emu/internal/domain"
	"github.com/threeeyedemu/emu/internal/models"
	"github.com/threeeyedemu/emu/internal/ratelimit"
)

const (
	DefaultTTL          = 24 * time.Hour
	DefaultMaxDownloads = 5

	fallbackVersion = "1.0.0"
	tokenRandBytes  = 16
)

// AppStore resolves catalogue entries.
type AppStore interface {
	GetByIDOrSlug(ctx context.Context, idOrSlug string) (*models.App, error)
}

// VersionStore lists uploaded builds.
type VersionStore interface {
	Create(ctx context.Context, v *models.AppVersion) (*models.AppVersion, error)
	LatestActive(ctx context.Context, appID, platform string) (*models.AppVersion, error)
	ListActivePlatforms(ctx context.Context, appID string) ([]string, error)
}

// GrantStore persists download grants. Consume must increment the counter
// only while the grant is unexpired and below its ceiling, in one step, and
// return the updated grant or models.ErrGrantNotRedeemable.
type GrantStore interface {
	Create(ctx context.Context, g *models.DownloadGrant) (*models.DownloadGrant, error)
	GetByToken(ctx context.Context, token string) (*models.DownloadGrant, error)
	ListByUser(ctx context.Context, userID string) ([]*models.DownloadGrant, error)
	Consume(ctx context.Context, token string, now time.Time) (*models.DownloadGrant, error)
}

type Config struct {
	AssetBaseURL        string
	DownloadPageBaseURL string
	TTL                 time.Duration
	MaxDownloads        int
	// StrictPersistence turns a failed grant insert into ErrPersistence
	// instead of handing out an unsaved grant.
	StrictPersistence bool
}

// ConfigFromDomain maps the application config onto the service policy.
func ConfigFromDomain(cfg *domain.Config) Config {
	return Config{
		AssetBaseURL:        cfg.AssetBaseURL,
		DownloadPageBaseURL: cfg.DownloadPageBaseURL,
		TTL:                 cfg.DownloadTTL,
		MaxDownloads:        cfg.DownloadMaxCount,
		StrictPersistence:   cfg.StrictPersistence,
	}
}

type Dependencies struct {
	Apps     AppStore
	Versions VersionStore
	Grants   GrantStore
	// Limiter gates ProcessDownload.
	Limiter *ratelimit.Limiter
	Clock   func() time.Time
	Logger  *zerolog.Logger
}

// Service issues and redeems download grants.
type Service struct {
	cfg      Config
	apps     AppStore
	versions VersionStore
	grants   GrantStore
	limiter  *ratelimit.Limiter
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Apps == nil || deps.Versions == nil || deps.Grants == nil {
		return nil, errors.New("downloads: stores are required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("downloads: limiter is required")
	}
	if strings.TrimSpace(cfg.AssetBaseURL) == "" {
		return nil, errors.New("downloads: asset base url is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxDownloads <= 0 {
		cfg.MaxDownloads = DefaultMaxDownloads
	}
	cfg.AssetBaseURL = strings.TrimRight(cfg.AssetBaseURL, "/")
	cfg.DownloadPageBaseURL = strings.TrimRight(cfg.DownloadPageBaseURL, "/")

	s := &Service{
		cfg:      cfg,
		apps:     deps.Apps,
		versions: deps.Versions,
		grants:   deps.Grants,
		limiter:  deps.Limiter,
		now:      deps.Clock,
		log:      log.With().Str("component", "downloads").Logger(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if deps.Logger != nil {
		s.log = *deps.Logger
	}
	return s, nil
}

func (s *Service) Config() Config {
	return s.cfg
}

// CreateDownloadLink issues a grant for one purchased app on one platform.
// When the grant cannot be stored it is still returned, unsaved, unless
// strict persistence is configured.
func (s *Service) CreateDownloadLink(ctx context.Context, userID, appID, purchaseID, platform string) (*models.DownloadGrant, error) {
	app, err := s.apps.GetByIDOrSlug(ctx, appID)
	if err != nil {
		if errors.Is(err, models.ErrAppNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, errors.Wrap(err, "could not resolve app")
	}

	platform = strings.ToLower(strings.TrimSpace(platform))
	assetURL, err := s.assetURL(ctx, app, platform)
	if err != nil {
		return nil, err
	}

	now := s.now()
	token, err := generateToken(purchaseID, now)
	if err != nil {
		return nil, err
	}

	grant := &models.DownloadGrant{
		PurchaseID:    purchaseID,
		UserID:        userID,
		AppID:         app.ID,
		Platform:      platform,
		Token:         token,
		AssetURL:      assetURL,
		DownloadCount: 0,
		MaxDownloads:  s.cfg.MaxDownloads,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TTL),
	}

	stored, err := s.grants.Create(ctx, grant)
	if err != nil {
		s.log.Error().Err(err).
			Str("purchaseId", purchaseID).
			Str("appId", app.ID).
			Str("token", domain.MaskToken(token)).
			Bool("strict", s.cfg.StrictPersistence).
			Msg("failed to store download grant")

		if s.cfg.StrictPersistence {
			return nil, errors.Wrap(ErrPersistence, err.Error())
		}
		grant.Persisted = false
		return grant, nil
	}

	s.log.Info().
		Str("purchaseId", purchaseID).
		Str("appId", app.ID).
		Str("platform", platform).
		Str("token", domain.MaskToken(token)).
		Time("expiresAt", stored.ExpiresAt).
		Msg("download link created")

	return stored, nil
}

// GetDownloadByToken returns the grant for token without consuming it.
func (s *Service) GetDownloadByToken(ctx context.Context, token string) (*models.DownloadGrant, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotFound
	}

	grant, err := s.grants.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrGrantNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "could not load download grant")
	}
	return grant, nil
}

// ProcessDownload redeems one download of token and returns the asset URL.
// callerKey identifies the caller for rate limiting; when empty the token
// itself is used.
func (s *Service) ProcessDownload(ctx context.Context, token, callerKey string) (string, error) {
	if callerKey == "" {
		callerKey = "download_" + token
	}

	if d := s.limiter.Allow(ctx, callerKey); !d.Allowed {
		s.log.Warn().Str("caller", callerKey).Dur("retryAfter", d.RetryAfter).Msg("download throttled")
		return "", &ThrottleError{RetryAfter: d.RetryAfter}
	}

	if strings.TrimSpace(token) == "" {
		return "", ErrNotFound
	}

	now := s.now()
	grant, err := s.grants.Consume(ctx, token, now)
	if err != nil {
		if errors.Is(err, models.ErrGrantNotRedeemable) {
			return "", s.classifyUnredeemable(ctx, token, now)
		}
		return "", errors.Wrap(err, "could not redeem download")
	}

	s.log.Info().
		Str("token", domain.MaskToken(token)).
		Int("downloadCount", grant.DownloadCount).
		Int("maxDownloads", grant.MaxDownloads).
		Msg("download redeemed")

	return grant.AssetURL, nil
}

// classifyUnredeemable explains why a conditional consume matched no row.
func (s *Service) classifyUnredeemable(ctx context.Context, token string, now time.Time) error {
	grant, err := s.grants.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrGrantNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "could not load download grant")
	}

	if grant.Status(now) == models.GrantStatusExpired {
		return ErrExpired
	}
	return ErrExhausted
}

// ListUserDownloads returns the grants of the user's completed purchases,
// newest first.
func (s *Service) ListUserDownloads(ctx context.Context, userID string) ([]*models.DownloadGrant, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	grants, err := s.grants.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "could not list downloads")
	}
	if grants == nil {
		grants = []*models.DownloadGrant{}
	}
	return grants, nil
}

// AppPlatforms lists the platforms an app currently ships builds for.
func (s *Service) AppPlatforms(ctx context.Context, appID string) ([]string, error) {
	app, err := s.apps.GetByIDOrSlug(ctx, appID)
	if err != nil {
		if errors.Is(err, models.ErrAppNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, errors.Wrap(err, "could not resolve app")
	}
	return s.versions.ListActivePlatforms(ctx, app.ID)
}

// RegisterAppVersion records an uploaded build.
func (s *Service) RegisterAppVersion(ctx context.Context, v *models.AppVersion) (*models.AppVersion, error) {
	if v == nil {
		return nil, errors.New("app version is nil")
	}
	app, err := s.apps.GetByIDOrSlug(ctx, v.AppID)
	if err != nil {
		if errors.Is(err, models.ErrAppNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, errors.Wrap(err, "could not resolve app")
	}

	in := *v
	in.AppID = app.ID
	created, err := s.versions.Create(ctx, &in)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appId", app.ID).Str("platform", created.Platform).Str("version", created.Version).Msg("app version registered")
	return created, nil
}

// DownloadPageURL is the customer facing page for token.
func (s *Service) DownloadPageURL(token string) string {
	return s.cfg.DownloadPageBaseURL + "/download/" + token
}

// assetURL builds {base}/apps/{appId}/{platform}/{slug}-v{version}.{ext}
// from the newest active build for the platform.
func (s *Service) assetURL(ctx context.Context, app *models.App, platform string) (string, error) {
	version := fallbackVersion
	latest, err := s.versions.LatestActive(ctx, app.ID, platform)
	if err != nil {
		return "", errors.Wrap(err, "could not look up app version")
	}
	if latest != nil {
		version = latest.Version
	}

	return fmt.Sprintf("%s/apps/%s/%s/%s-v%s.%s",
		s.cfg.AssetBaseURL, app.ID, platform, app.Slug, version, fileExtension(platform)), nil
}

func fileExtension(platform string) string {
	switch platform {
	case models.PlatformAndroid:
		return "apk"
	case models.PlatformIOS:
		return "ipa"
	case models.PlatformWindows:
		return "exe"
	case models.PlatformMacOS:
		return "dmg"
	case models.PlatformLinux:
		return "AppImage"
	default:
		return "zip"
	}
}

// generateToken returns {purchaseID}_{unixMillis}_{32 hex chars}.
func generateToken(purchaseID string, now time.Time) (string, error) {
	var b [tokenRandBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "could not generate download token")
	}
	return purchaseID + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + hex.EncodeToString(b[:]), nil
}
