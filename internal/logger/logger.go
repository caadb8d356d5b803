package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a zap logger for the given mode: "prod"/"production" uses the JSON
// production config, "test" discards everything, anything else is the console
// development config.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	case "test":
		return zap.NewNop(), nil
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
