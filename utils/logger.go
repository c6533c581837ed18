package utils

import (
	"io"
	"os"

	logger "github.com/sirupsen/logrus"
)

type LogWriter struct {
	logFile *os.File
}

// InitLogger configures the standard logrus logger from Config.Logging.
// The returned writer owns the optional log file and must be disposed on
// shutdown.
func InitLogger() *LogWriter {
	logWriter := &LogWriter{}

	if Config.Logging.OutputLevel != "" {
		level, err := logger.ParseLevel(Config.Logging.OutputLevel)
		if err != nil {
			logger.Errorf("invalid logging.outputLevel %v: %v", Config.Logging.OutputLevel, err)
		} else {
			logger.SetLevel(level)
		}
	}

	if Config.Logging.OutputStderr {
		logger.SetOutput(os.Stderr)
	}

	if Config.Logging.FilePath != "" {
		logFile, err := os.OpenFile(Config.Logging.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Errorf("error opening log file %v: %v", Config.Logging.FilePath, err)
		} else {
			logWriter.logFile = logFile
			logger.SetOutput(io.MultiWriter(logger.StandardLogger().Out, logFile))
		}
	}

	return logWriter
}

func (lw *LogWriter) Dispose() {
	if lw.logFile != nil {
		lw.logFile.Close()
	}
}
