package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const Prefix = "[manga-back] "

type Options struct {
	// File enables a rotating copy of every log line next to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Stdout     io.Writer
}

// New builds the process logger. The returned closer flushes and closes the
// rotating file, if any.
func New(opts Options) (*log.Logger, func() error) {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	file := strings.TrimSpace(opts.File)
	if file == "" {
		return log.New(stdout, Prefix, log.LstdFlags|log.LUTC|log.Lmicroseconds), func() error { return nil }
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 50
	}
	if opts.MaxBackups < 0 {
		opts.MaxBackups = 0
	}
	_ = os.MkdirAll(filepath.Dir(file), 0o755)

	rotating := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     28,
		Compress:   true,
	}
	writer := io.MultiWriter(stdout, rotating)
	return log.New(writer, Prefix, log.LstdFlags|log.LUTC|log.Lmicroseconds), rotating.Close
}
