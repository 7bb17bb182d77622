package utils

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// logTimestampFormat matches the timestamps the server writes, so
// interleaved watcher and server logs line up.
const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var Logger *logrus.Logger

// InitLogger initializes the global logger. An empty level means info,
// and file output with an empty path goes to the module's data
// directory next to the event database.
func InitLogger(level, format, output, file string) error {
	logger := logrus.New()

	if level == "" {
		level = "info"
	}
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: logTimestampFormat,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: logTimestampFormat,
		})
	}

	if output == "file" {
		if file == "" {
			file, err = defaultLogFile()
			if err != nil {
				return err
			}
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	Logger = logger
	return nil
}

func defaultLogFile() (string, error) {
	dir, err := GetDataDir("sd-watcher-window")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sd-watcher-window.log"), nil
}

// GetLogger returns the global logger, initializing it with defaults
// when nothing configured it first.
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "text", "stdout", "")
	}
	return Logger
}
