// Package logger provides a leveled, thread-safe logging facade backed by zap.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional component tag, and message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Server started")
//	logger.Info("worker-1", "Job finished")
//	logger.Error("server", "Accept failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("conn-1a2b3c4d", "Request line read")
//	logger.SetDefault(l)
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// The level can be changed at runtime with SetLevel.
//
// # Thread Safety
//
// The output writer is wrapped with zapcore.Lock, so a Logger is safe for
// concurrent use.
package logger
