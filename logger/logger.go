// Package logger is the process wide structured logger.
package logger

import (
	"io"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

type Fields = logrus.Fields

// Settings configures Init. Format is "json" or "text". When Filename is set
// logs are also written to daily rotated files kept for RollingDays.
type Settings struct {
	Format      string
	Level       string
	Filename    string
	RollingDays uint
}

var std = logrus.New()

func Init(s Settings) error {
	var formatter logrus.Formatter
	if s.Format == "json" {
		formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	} else {
		formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339}
	}
	std.SetFormatter(formatter)
	std.SetOutput(os.Stdout)
	if s.Level != "" {
		lvl, err := logrus.ParseLevel(s.Level)
		if err != nil {
			return err
		}
		std.SetLevel(lvl)
	}
	if s.Filename == "" {
		return nil
	}
	if s.RollingDays == 0 {
		s.RollingDays = 7
	}
	writer, err := rotatelogs.New(
		s.Filename+".%Y%m%d",
		rotatelogs.WithLinkName(s.Filename),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(s.RollingDays)*24*time.Hour),
	)
	if err != nil {
		return err
	}
	std.AddHook(lfshook.NewHook(lfshook.WriterMap{
		logrus.TraceLevel: writer,
		logrus.DebugLevel: writer,
		logrus.InfoLevel:  writer,
		logrus.WarnLevel:  writer,
		logrus.ErrorLevel: writer,
		logrus.FatalLevel: writer,
		logrus.PanicLevel: writer,
	}, formatter))
	return nil
}

// SetOutput redirects the console output, tests use io.Discard.
func SetOutput(w io.Writer) { std.SetOutput(w) }

func GetLevel() logrus.Level { return std.GetLevel() }

func WithFields(fields Fields) *logrus.Entry { return std.WithFields(fields) }

func WithField(key string, value interface{}) *logrus.Entry { return std.WithField(key, value) }

func WithError(err error) *logrus.Entry { return std.WithError(err) }

func Debug(args ...interface{}) { std.Debug(args...) }
func Info(args ...interface{})  { std.Info(args...) }
func Warn(args ...interface{})  { std.Warn(args...) }
func Error(args ...interface{}) { std.Error(args...) }
func Fatal(args ...interface{}) { std.Fatal(args...) }

func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { std.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { std.Fatalf(format, args...) }
