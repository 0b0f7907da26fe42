package logutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/openrouter-proxy/pkg/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	outputMu sync.Mutex
	fileSink io.WriteCloser
)

// Configure applies level, formatter and output of the process-wide logger.
// When a log file is configured, output goes to stderr and a rotated file.
func Configure(cfg config.LogConfig) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	formatter, err := parseFormatter(cfg.Format)
	if err != nil {
		return err
	}

	outputMu.Lock()
	defer outputMu.Unlock()
	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
	var out io.Writer = os.Stderr
	if path := strings.TrimSpace(cfg.File); path != "" {
		fileSink = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, fileSink)
	}

	log.SetOutput(out)
	log.SetLevel(level)
	log.SetFormatter(formatter)
	log.SetReportTimestamp(true)
	return nil
}

// Close flushes and releases the rotated log file, if any.
func Close() {
	outputMu.Lock()
	defer outputMu.Unlock()
	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
}

func ParseLevel(levelRaw string) (log.Level, error) {
	levelRaw = strings.TrimSpace(levelRaw)
	if levelRaw == "" {
		return log.InfoLevel, nil
	}
	switch strings.ToLower(levelRaw) {
	case "trace", "trac":
		// The logger has no native trace enum; map trace to most verbose mode.
		return log.DebugLevel, nil
	default:
		level, err := log.ParseLevel(levelRaw)
		if err != nil {
			return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
		}
		return level, nil
	}
}

func parseFormatter(raw string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("invalid log format %q", raw)
	}
}
