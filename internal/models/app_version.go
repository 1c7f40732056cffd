// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/threeeyedemu/emu/internal/dbinterface"
)

var (
	ErrAppVersionExists    = errors.New("app version already exists for platform")
	ErrInvalidVersion      = errors.New("version must be a semantic version")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Platforms a build can target.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWindows = "windows"
	PlatformMacOS   = "macos"
	PlatformLinux   = "linux"
	PlatformWeb     = "web"
)

var platforms = map[string]struct{}{
	PlatformAndroid: {},
	PlatformIOS:     {},
	PlatformWindows: {},
	PlatformMacOS:   {},
	PlatformLinux:   {},
	PlatformWeb:     {},
}

// NormalizePlatform lower-cases p and reports whether it is supported.
func NormalizePlatform(p string) (string, bool) {
	p = strings.ToLower(strings.TrimSpace(p))
	_, ok := platforms[p]
	return p, ok
}

// AppVersion is one uploaded build of an app for a platform.
type AppVersion struct {
	CreatedAt time.Time `json:"createdAt"`
	AppID     string    `json:"appId"`
	Version   string    `json:"version"`
	Platform  string    `json:"platform"`
	FileURL   string    `json:"fileUrl"`
	ID        int64     `json:"id"`
	FileSize  int64     `json:"fileSize"`
	Active    bool      `json:"active"`
}

type AppVersionStore struct {
	db dbinterface.Querier
}

func NewAppVersionStore(db dbinterface.Querier) *AppVersionStore {
	return &AppVersionStore{db: db}
}

func (s *AppVersionStore) Create(ctx context.Context, v *AppVersion) (*AppVersion, error) {
	if v == nil {
		return nil, errors.New("app version is nil")
	}

	platform, ok := NormalizePlatform(v.Platform)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedPlatform, "platform %q", v.Platform)
	}
	parsed, err := semver.NewVersion(strings.TrimSpace(v.Version))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidVersion, "version %q", v.Version)
	}
	if strings.TrimSpace(v.FileURL) == "" {
		return nil, errors.New("file url is required")
	}

	out := *v
	out.Platform = platform
	out.Version = parsed.String()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO app_versions (app_id, version, platform, file_url, file_size, active)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, out.AppID, out.Version, out.Platform, out.FileURL, out.FileSize, out.Active).Scan(&out.ID)
	if err != nil {
		switch {
		case isUniqueConstraintError(err):
			return nil, ErrAppVersionExists
		case isForeignKeyConstraintError(err):
			return nil, ErrAppNotFound
		}
		return nil, fmt.Errorf("insert app version: %w", err)
	}

	return s.get(ctx, out.ID)
}

func (s *AppVersionStore) get(ctx context.Context, id int64) (*AppVersion, error) {
	var v AppVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, version, platform, file_url, file_size, active, created_at
		FROM app_versions
		WHERE id = ?
	`, id).Scan(&v.ID, &v.AppID, &v.Version, &v.Platform, &v.FileURL, &v.FileSize, &v.Active, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get app version: %w", err)
	}
	return &v, nil
}

// ListActivePlatforms returns the distinct platforms with at least one active build.
func (s *AppVersionStore) ListActivePlatforms(ctx context.Context, appID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT platform
		FROM app_versions
		WHERE app_id = ? AND active = ?
		ORDER BY platform
	`, appID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	platforms := []string{}
	for rows.Next() {
		var platform string
		if err := rows.Scan(&platform); err != nil {
			return nil, err
		}
		platforms = append(platforms, platform)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return platforms, nil
}

// LatestActive returns the highest semantic version among active builds for
// the platform, or nil when there is none.
func (s *AppVersionStore) LatestActive(ctx context.Context, appID, platform string) (*AppVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, version, platform, file_url, file_size, active, created_at
		FROM app_versions
		WHERE app_id = ? AND platform = ? AND active = ?
	`, appID, platform, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type candidate struct {
		v      *AppVersion
		parsed *semver.Version
	}
	var candidates []candidate
	for rows.Next() {
		var v AppVersion
		if err := rows.Scan(&v.ID, &v.AppID, &v.Version, &v.Platform, &v.FileURL, &v.FileSize, &v.Active, &v.CreatedAt); err != nil {
			return nil, err
		}
		parsed, err := semver.NewVersion(v.Version)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{v: &v, parsed: parsed})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].parsed.GreaterThan(candidates[j].parsed)
	})
	return candidates[0].v, nil
}
