package logger

import (
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var once sync.Once

var log zerolog.Logger

// GetLogLevel reads the numeric zerolog level from STEPSTREAM_LOG_LEVEL,
// defaulting to info.
func GetLogLevel() zerolog.Level {
	logLevel, err := strconv.Atoi(os.Getenv("STEPSTREAM_LOG_LEVEL"))
	if err != nil {
		logLevel = int(zerolog.InfoLevel)
	}
	return zerolog.Level(logLevel)
}

// Get returns the process-wide logger, building it on first use.
func Get() zerolog.Logger {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano

		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}

		goVersion := ""
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			goVersion = buildInfo.GoVersion
		}

		log = zerolog.New(output).
			Level(GetLogLevel()).
			With().
			Timestamp().
			Str("go_version", goVersion).
			Logger()
	})

	return log
}

