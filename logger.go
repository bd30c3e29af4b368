package main

import (
	"strings"

	"go.uber.org/zap"
)

// newLogger builds a zap logger for the given mode. Anything other than
// "production" gets the human-readable development encoder.
func newLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
