package logger

import (
	"io"
	"os"
	"time"

	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/natefinch/lumberjack"
	logrus "github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// Setup initializes Logrus on a rotating file and returns the writer so
// other loggers can share it. An empty file or "stdout" logs to stdout.
func Setup(file, level string) (io.Writer, error) {
	var out io.Writer = os.Stdout
	if file != "" && file != "stdout" {
		out = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 7,
			MaxAge:     7, // days
			Compress:   true,
		}
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logrus.SetLevel(lvl)
	return out, nil
}

// GormLogger routes GORM's slow-query and error logs through Logrus.
func GormLogger() gormlogger.Interface {
	return gormlogger.New(logrus.StandardLogger(), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// AccessLog is the HTTP request logger. Scrapes of skip paths are not
// logged.
func AccessLog(out io.Writer, skip ...string) gin.HandlerFunc {
	return ginlog.SetLogger(
		ginlog.WithUTC(true),
		ginlog.WithSkipPath(skip),
		ginlog.WithWriter(out),
	)
}
