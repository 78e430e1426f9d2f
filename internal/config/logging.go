package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type LoggerConfig struct {
	Level          string `env:"LEVEL"         envDefault:"info"`   // trace|debug|info|warn|error
	Format         string `env:"FORMAT"        envDefault:"auto"`   // auto|json|text|pretty
	Output         string `env:"OUTPUT"        envDefault:"stdout"` // stdout|stderr|file|file:/path, comma separated
	FilePath       string `env:"FILE_PATH"`
	ExtraFieldsRaw string `env:"FIELDS"`                           // key1=val1,key2=val2
	OTELExporter   string `env:"OTEL_EXPORTER" envDefault:"none"` // none|otlp-http|otlp-grpc
	OTELEndpoint   string `env:"OTEL_ENDPOINT"`

	mu    sync.Mutex
	files map[string]*os.File
}

// Writers returns one writer per configured output.
// LOG_OUTPUT examples:
//
//	stdout
//	stderr,file             (file uses LOG_FILE_PATH)
//	stdout,file:/tmp/app.log
//
// Unknown tokens are ignored with a warning.
func (c *Config) Writers() []io.Writer {
	outputs := strings.TrimSpace(c.Logger.Output)
	if outputs == "" {
		return []io.Writer{os.Stdout}
	}
	parts := strings.Split(outputs, ",")
	writers := make([]io.Writer, 0, len(parts))
	seen := make(map[string]struct{})

	addWriter := func(key string, w io.Writer) {
		if w == nil {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		writers = append(writers, w)
	}

	for _, raw := range parts {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		lower := strings.ToLower(raw)
		if strings.HasPrefix(lower, "file:") {
			path := raw[len("file:"):]
			addWriter("file:"+path, c.Logger.openFile(path))
			continue
		}
		switch lower {
		case "stdout":
			addWriter("stdout", os.Stdout)
		case "stderr":
			addWriter("stderr", os.Stderr)
		case "file":
			if c.Logger.FilePath == "" {
				slog.Warn("LOG_OUTPUT includes 'file' but LOG_FILE_PATH not set; skipping")
				continue
			}
			addWriter("file:"+c.Logger.FilePath, c.Logger.openFile(c.Logger.FilePath))
		default:
			slog.Warn("unknown log output entry", "entry", raw)
		}
	}

	if len(writers) == 0 {
		return []io.Writer{os.Stdout}
	}
	return writers
}

// Writer returns a single writer fanning out to every configured output.
func (c *Config) Writer() io.Writer {
	writers := c.Writers()
	if len(writers) == 1 {
		return writers[0]
	}
	return io.MultiWriter(writers...)
}

func (lc *LoggerConfig) openFile(path string) io.Writer {
	if path == "" {
		return nil
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if f, ok := lc.files[path]; ok {
		return f
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("cannot open file for log output", "path", path, "error", err)
		return nil
	}
	if lc.files == nil {
		lc.files = make(map[string]*os.File)
	}
	lc.files[path] = f
	return f
}

// CloseLogFiles closes every file opened by Writers.
func (c *Config) CloseLogFiles() error {
	c.Logger.mu.Lock()
	defer c.Logger.mu.Unlock()
	var firstErr error
	for path, f := range c.Logger.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.Logger.files, path)
	}
	return firstErr
}

// ParseExtraFields parses ExtraFieldsRaw into a map.
func (lc *LoggerConfig) ParseExtraFields() map[string]string {
	res := make(map[string]string)
	if lc == nil || lc.ExtraFieldsRaw == "" {
		return res
	}
	for _, p := range strings.Split(lc.ExtraFieldsRaw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			res[k] = strings.TrimSpace(v)
		}
	}
	return res
}

func (lc *LoggerConfig) ParseLevel() string {
	if lc == nil {
		return "info"
	}
	lvl := strings.ToLower(strings.TrimSpace(lc.Level))
	switch lvl {
	case "trace", "debug", "info", "warn", "error":
		return lvl
	default:
		return "info"
	}
}

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.Level(-8)

func (c *Config) LogLevel() slog.Level {
	switch c.Logger.ParseLevel() {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat resolves "auto" from the mode.
func (c *Config) LogFormat() string {
	f := strings.ToLower(strings.TrimSpace(c.Logger.Format))
	switch f {
	case "json", "text", "pretty":
		return f
	}
	if c.Mode == ModeDebug {
		return "pretty"
	}
	return "json"
}

func (c *Config) OTELExporter() string           { return c.Logger.OTELExporter }
func (c *Config) OTELEndpoint() string           { return c.Logger.OTELEndpoint }
func (c *Config) ExtraFields() map[string]string { return c.Logger.ParseExtraFields() }
