// Package obs carries the gateway's observability stack: structured
// logging, boot and periodic health checks, and MQTT telemetry
// publishing. None of it sits on the connection hot path; it wraps the
// core components from the outside.
package obs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/config"
)

// InitLogger installs the global zerolog logger with a JSON file sink and
// an optional console sink, and prunes log files beyond MaxBackups.
func InitLogger(cfg config.LoggingConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("obs: creating log directory %s: %w", cfg.Directory, err)
	}

	logFileName := fmt.Sprintf("loginway_%s.log", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("obs: opening log file %s: %w", logFilePath, err)
	}

	var writers []io.Writer
	writers = append(writers, logFile)
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "loginway").
		Caller().
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go pruneOldLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

func pruneOldLogs(directory string, maxBackups int) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var logFiles []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
			logFiles = append(logFiles, entry)
		}
	}
	sort.Slice(logFiles, func(i, j int) bool {
		return logFiles[i].Name() < logFiles[j].Name()
	})

	if len(logFiles) > maxBackups {
		for i := 0; i < len(logFiles)-maxBackups; i++ {
			path := filepath.Join(directory, logFiles[i].Name())
			os.Remove(path)
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger returns a sub-logger of the global logger tagged with a
// component name. Nothing in this tree calls it: internal/conn builds its
// tagged logger inline, and the other packages log through the global
// logger directly.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
