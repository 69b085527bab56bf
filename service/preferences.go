package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
	"go.uber.org/zap"
)

// WidgetPreview is the last widget configuration shown in the preview
type WidgetPreview struct {
	Type    string            `json:"type"`
	Address string            `json:"address"`
	Theme   string            `json:"theme,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// Preferences holds dashboard preferences. Unreadable values fall back to defaults.
type Preferences struct {
	store  ports.Store
	logger *zap.Logger
}

// NewPreferences creates preferences over store
func NewPreferences(store ports.Store, logger *zap.Logger) *Preferences {
	return &Preferences{store: store, logger: logger}
}

// SidebarCollapsed reports the persisted sidebar flag, false by default
func (p *Preferences) SidebarCollapsed(ctx context.Context) bool {
	raw, err := p.store.Get(ctx, core.KeySidebarCollapsed)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			p.logger.Warn("failed to read sidebar preference", zap.Error(err))
		}
		return false
	}
	collapsed, err := strconv.ParseBool(raw)
	if err != nil {
		p.logger.Warn("stored sidebar preference is corrupt", zap.String("value", raw))
		return false
	}
	return collapsed
}

// SetSidebarCollapsed persists the sidebar flag
func (p *Preferences) SetSidebarCollapsed(ctx context.Context, collapsed bool) error {
	return p.store.Set(ctx, core.KeySidebarCollapsed, strconv.FormatBool(collapsed))
}

// WidgetPreview returns the cached widget preview, if any
func (p *Preferences) WidgetPreview(ctx context.Context) (WidgetPreview, bool) {
	raw, err := p.store.Get(ctx, core.KeyWidgetPreview)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			p.logger.Warn("failed to read widget preview", zap.Error(err))
		}
		return WidgetPreview{}, false
	}
	var preview WidgetPreview
	if err := json.Unmarshal([]byte(raw), &preview); err != nil {
		p.logger.Warn("stored widget preview is corrupt", zap.Error(err))
		return WidgetPreview{}, false
	}
	return preview, true
}

// SetWidgetPreview caches the widget preview
func (p *Preferences) SetWidgetPreview(ctx context.Context, preview WidgetPreview) error {
	payload, err := json.Marshal(preview)
	if err != nil {
		return fmt.Errorf("failed to marshal widget preview: %w", err)
	}
	return p.store.Set(ctx, core.KeyWidgetPreview, string(payload))
}
