// Package logger builds slog loggers with per-environment defaults, context
// attribute injection and a shared set of attribute helpers.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.AppEnv, cfg.AppService),
//		logger.WithRequestID(),
//	)
//	log.InfoContext(ctx, "entitlement updated", logger.UserID(id), logger.Provider("stripe"))
package logger
