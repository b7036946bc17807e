package main

import (
	"context"
	"log/slog"

	"github.com/your-org/facekiosk/internal/models"
	"github.com/your-org/facekiosk/internal/vision"
)

// controllable is the part of the engine remote commands act on.
type controllable interface {
	Settings() vision.Settings
	Configure(ctx context.Context, s vision.Settings) error
	Clear()
}

// applyControl executes one kiosk.control command.
func applyControl(ctx context.Context, engine controllable, cmd models.ControlCommand) {
	switch cmd.Action {
	case models.ControlClear:
		engine.Clear()
		slog.Info("tracked faces cleared by control command")

	case models.ControlSettings:
		next, err := engine.Settings().Merge(cmd.InferenceMode, cmd.OnlyFrontFace, cmd.ModelVariant)
		if err != nil {
			slog.Warn("rejected control settings", "error", err)
			return
		}
		if err := engine.Configure(ctx, next); err != nil {
			slog.Error("apply control settings", "settings", next, "error", err)
			return
		}
		slog.Info("settings updated by control command",
			"mode", next.InferenceMode,
			"variant", next.ModelVariant,
			"only_front_face", next.OnlyFrontFace,
		)

	default:
		slog.Warn("unknown control action", "action", cmd.Action)
	}
}
