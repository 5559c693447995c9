package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New creates a logger tagged with the given namespace. Debug selects the
// human-readable development encoder.
func New(ns string, debug bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment(zap.Fields(zap.String("ns", ns)))
	} else {
		logger, err = zap.NewProduction(zap.Fields(zap.String("ns", ns)))
	}
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}
