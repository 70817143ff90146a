package service

import (
	"context"
	"fmt"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var settingsTracer = otel.Tracer("service/settings")

const settingsKeyMemberLinksType = "member_links_type"

// settingsRow is the key/value shape of system_settings.
type settingsRow struct {
	Key       string    `json:"setting_key"`
	Value     string    `json:"setting_value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsService reads and writes the system settings row. Callers read
// the settings once per request and pass the value down explicitly.
type SettingsService struct {
	store  port.RecordStore
	logger *zap.Logger
}

// NewSettingsService creates a new settings service.
func NewSettingsService(store port.RecordStore, logger *zap.Logger) *SettingsService {
	return &SettingsService{store: store, logger: logger}
}

// Get returns the current settings. A missing row yields the defaults.
func (s *SettingsService) Get(ctx context.Context) (domain.SystemSettings, error) {
	ctx, span := settingsTracer.Start(ctx, "SettingsService.Get")
	defer span.End()

	settings := domain.SystemSettings{MemberLinksType: domain.LinkTypeMembers}

	var rows []settingsRow
	q := port.Where(port.Eq("setting_key", settingsKeyMemberLinksType)).WithLimit(1)
	if _, err := s.store.Select(ctx, port.TableSystemSettings, q, &rows); err != nil {
		return settings, fmt.Errorf("get settings: %w", err)
	}
	if len(rows) > 0 && ValidateLinkType(rows[0].Value) == nil {
		settings.MemberLinksType = rows[0].Value
	}
	return settings, nil
}

// Update stores a new member_links_type.
func (s *SettingsService) Update(ctx context.Context, in domain.SystemSettings) (domain.SystemSettings, error) {
	ctx, span := settingsTracer.Start(ctx, "SettingsService.Update")
	defer span.End()

	if err := ValidateLinkType(in.MemberLinksType); err != nil {
		return domain.SystemSettings{}, &domain.ErrValidation{Field: settingsKeyMemberLinksType, Message: "valor deve ser 'members' ou 'friends'"}
	}

	var rows []settingsRow
	q := port.Where(port.Eq("setting_key", settingsKeyMemberLinksType)).WithLimit(1)
	if _, err := s.store.Select(ctx, port.TableSystemSettings, q, &rows); err != nil {
		return domain.SystemSettings{}, fmt.Errorf("read settings: %w", err)
	}

	now := time.Now().UTC()
	if len(rows) == 0 {
		row := settingsRow{Key: settingsKeyMemberLinksType, Value: in.MemberLinksType, UpdatedAt: now}
		if err := s.store.Insert(ctx, port.TableSystemSettings, row, nil); err != nil {
			return domain.SystemSettings{}, fmt.Errorf("insert settings: %w", err)
		}
	} else {
		update := map[string]any{"setting_value": in.MemberLinksType, "updated_at": now.Format(time.RFC3339Nano)}
		if err := s.store.Update(ctx, port.TableSystemSettings, update, port.Eq("setting_key", settingsKeyMemberLinksType)); err != nil {
			return domain.SystemSettings{}, fmt.Errorf("update settings: %w", err)
		}
	}

	s.logger.Info("settings updated", zap.String(settingsKeyMemberLinksType, in.MemberLinksType))
	return in, nil
}
