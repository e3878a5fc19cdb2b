package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logrus logger writing to stdout and, when logDir is set, to a
// rotating file in logDir. Unknown levels fall back to info.
func New(logDir, level string, jsonFormat bool) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if jsonFormat {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if logDir == "" {
		log.SetOutput(os.Stdout)
		return log, io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		return nil, nil, err
	}
	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "vidread.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return log, logFile, nil
}
