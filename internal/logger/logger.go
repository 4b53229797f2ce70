// Package logger provides structured logging for DecentDB
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with DecentDB-specific functionality.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "decentdb").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }
func (l *Logger) Fatal(msg string) *zerolog.Event { return l.zlog.Fatal().Str("msg", msg) }

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// WALLogger returns a component logger for the write-ahead log (spec.md §4.D).
func (l *Logger) WALLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "wal").Logger()}
}

// PagerLogger returns a component logger for the pager/page cache (spec.md §4.B).
func (l *Logger) PagerLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "pager").Logger()}
}

// TxnLogger returns a component logger for the transaction manager (spec.md §4.G).
func (l *Logger) TxnLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "txn").Logger()}
}

// TrigramLogger returns a component logger for the trigram index (spec.md §4.F).
func (l *Logger) TrigramLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "trigram").Logger()}
}

// GrpcLogger returns a logger for gRPC operations.
func (l *Logger) GrpcLogger(method string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "grpc").
			Str("method", method).
			Logger(),
	}
}

// LogCheckpoint logs a completed checkpoint run (spec.md §4.D "Checkpoint").
func (l *Logger) LogCheckpoint(mode string, upToLSN uint64, pagesFlushed int, duration time.Duration, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("event", "checkpoint").
		Str("mode", mode).
		Uint64("up_to_lsn", upToLSN).
		Int("pages_flushed", pagesFlushed).
		Dur("duration_ms", duration).
		Msg("checkpoint completed")
}

// LogRecovery logs the outcome of WAL recovery at Open (spec.md §4.D "Recovery").
func (l *Logger) LogRecovery(framesReplayed int, recoveredLSN uint64, truncatedAt int64, duration time.Duration) {
	l.zlog.Info().
		Str("event", "recovery").
		Int("frames_replayed", framesReplayed).
		Uint64("recovered_lsn", recoveredLSN).
		Int64("truncated_at_offset", truncatedAt).
		Dur("duration_ms", duration).
		Msg("WAL recovery completed")
}

// LogTxnCommit logs a write transaction's commit (spec.md §4.G "commit()").
func (l *Logger) LogTxnCommit(txnID string, lsn uint64, pagesWritten int, duration time.Duration, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("event", "txn_commit").
		Str("txn_id", txnID).
		Uint64("lsn", lsn).
		Int("pages_written", pagesWritten).
		Dur("duration_ms", duration).
		Msg("write transaction committed")
}

// LogSnapshotExpired logs a reader snapshot forced out by a checkpoint
// deadline (spec.md §7 "SnapshotExpired").
func (l *Logger) LogSnapshotExpired(readerID string, snapshotLSN, forcedFloor uint64) {
	l.zlog.Warn().
		Str("event", "snapshot_expired").
		Str("reader_id", readerID).
		Uint64("snapshot_lsn", snapshotLSN).
		Uint64("forced_floor", forcedFloor).
		Msg("reader snapshot expired by forced checkpoint")
}

// LogGrpcRequest logs one completed gRPC request, used by the
// GrpcMetricsInterceptor wrapper in internal/server.
func (l *Logger) LogGrpcRequest(method string, duration time.Duration, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("component", "grpc").
		Str("method", method).
		Dur("duration_ms", duration).
		Msg("gRPC request completed")
}

// LogServerStart logs server startup.
func (l *Logger) LogServerStart(port int, dbPath string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("port", port).
		Str("database", dbPath).
		Msg("DecentDB server starting")
}

// LogServerReady logs when server is ready.
func (l *Logger) LogServerReady(port int) {
	l.zlog.Info().
		Str("event", "server_ready").
		Int("port", port).
		Msg("DecentDB server ready to accept connections")
}

// LogServerShutdown logs server shutdown.
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("DecentDB server shutting down")
}

var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
