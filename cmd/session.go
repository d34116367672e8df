package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/speakcapture/internal/config"
	"github.com/audiolibrelab/speakcapture/internal/questions"
	"github.com/audiolibrelab/speakcapture/internal/service"
)

// newSessionService loads the question set and builds the service for it.
// A part named by the set applies unless --part was given.
func newSessionService(path string) (*service.SessionService, error) {
	set, err := questions.Load(path)
	if err != nil {
		return nil, err
	}
	set.WithAttempt(attemptID)
	if set.AttemptID == "" {
		slog.Warn("Question set has no attempt id; answers cannot be submitted", "file", path)
	}

	if part == "" && set.Part != "" && set.Part != cfg.Part {
		resolved, err := config.LoadWithPart(cfgFile, set.Part)
		if err != nil {
			return nil, fmt.Errorf("failed to load part '%s' from question set: %w", set.Part, err)
		}
		cfg = resolved
	}

	return service.New(cfg, set, service.Deps{})
}

// quietExit maps shutdown errors to a clean exit
func quietExit(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
