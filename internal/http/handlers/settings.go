package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "datalens/internal/db"
)

type settingsView struct {
	TrackingEnabled    bool            `json:"tracking_enabled"`
	ForecastingEnabled bool            `json:"forecasting_enabled"`
	LastOrderSync      *time.Time      `json:"last_order_sync"`
	LastAutoSync       *time.Time      `json:"last_auto_sync"`
	Tables             map[string]bool `json:"tables"`
	TablesOK           bool            `json:"tables_ok"`
}

type settingsUpdate struct {
	TrackingEnabled    *bool `json:"tracking_enabled"`
	ForecastingEnabled *bool `json:"forecasting_enabled"`
}

func loadSettings(ctx context.Context, db *gorm.DB, options *dbpkg.Options, logger *slog.Logger) settingsView {
	v := settingsView{
		TrackingEnabled:    options.Bool(ctx, dbpkg.OptTrackingEnabled, true),
		ForecastingEnabled: options.Bool(ctx, dbpkg.OptForecastingEnabled, true),
		Tables:             dbpkg.TableStatus(db),
		TablesOK:           true,
	}
	for _, ok := range v.Tables {
		if !ok {
			v.TablesOK = false
		}
	}
	for name, dst := range map[string]**time.Time{
		dbpkg.OptLastOrderSync: &v.LastOrderSync,
		dbpkg.OptLastAutoSync:  &v.LastAutoSync,
	} {
		t, ok, err := options.Time(ctx, name)
		if err != nil {
			logger.Warn("reading option failed", "option", name, "error", err)
			continue
		}
		if ok {
			*dst = &t
		}
	}
	return v
}

// Settings shows the feature switches, sync timestamps and table status.
func Settings(db *gorm.DB, options *dbpkg.Options, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		jsonResponse(ctx, loadSettings(ctx, db, options, logger))
	}
}

// UpdateSettings changes the feature switches present in the body.
func UpdateSettings(db *gorm.DB, options *dbpkg.Options, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req settingsUpdate
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		if req.TrackingEnabled != nil {
			if err := options.SetBool(ctx, dbpkg.OptTrackingEnabled, *req.TrackingEnabled); err != nil {
				logger.Error("saving setting failed", "option", dbpkg.OptTrackingEnabled, "error", err)
				errResponse(ctx, fasthttp.StatusInternalServerError, "failed to save settings")
				return
			}
		}
		if req.ForecastingEnabled != nil {
			if err := options.SetBool(ctx, dbpkg.OptForecastingEnabled, *req.ForecastingEnabled); err != nil {
				logger.Error("saving setting failed", "option", dbpkg.OptForecastingEnabled, "error", err)
				errResponse(ctx, fasthttp.StatusInternalServerError, "failed to save settings")
				return
			}
		}

		jsonResponse(ctx, loadSettings(ctx, db, options, logger))
	}
}
