package diag

import "go.uber.org/zap"

// NewLogger builds the structured logger used by cmd/flowaggbench.
// Grounded on iamNilotpal-ignite's Config.Logger *zap.SugaredLogger
// pattern. The core packages take no logger: uniq.Config has no logger
// field.
func NewLogger(debug bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Log is a nil-safe wrapper so code holding a possibly-nil
// *zap.SugaredLogger can call Log(l).Infow(...) without a nil check at
// every call site.
func Log(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
