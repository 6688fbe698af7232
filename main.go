package main

import (
	"context"
	"database/sql"
	"time"

	"faithforge/pantheonix"

	"github.com/heroiclabs/nakama-common/runtime"
)

// noinspection GoUnusedExportedFunction
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	initStart := time.Now()

	logger.Info("Loading Faithforge Nakama plugin...")

	px, err := pantheonix.Init(ctx, logger, nk, initializer,
		pantheonix.WithDevotionSystem("definitions/devotion.yaml", true),
		pantheonix.WithReligionsSystem("definitions/religions.yaml", true),
		pantheonix.WithCivilizationsSystem("definitions/civilizations.yaml", true),
		pantheonix.WithBlessingsSystem("definitions/blessings.yaml", true),
		pantheonix.WithEffectsSystem("definitions/effects.yaml", true),
	)
	if err != nil {
		logger.Error("Failed to initialize pantheonix: %v", err)
		return err
	}

	// In-memory state is authoritative between write-behind persists, so a controlled
	// shutdown must flush it.
	if err := initializer.RegisterShutdown(func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) {
		if err := px.Flush(ctx, logger, nk); err != nil {
			logger.Error("Failed to flush gameplay state at shutdown: %v", err)
		}
	}); err != nil {
		logger.Error("Failed to register shutdown hook: %v", err)
		return err
	}

	logger.Info("Faithforge Nakama plugin loaded in '%d' msec.", time.Now().Sub(initStart).Milliseconds())
	return nil
}

func main() {}
