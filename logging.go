package meshplane

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLoggerOnce sync.Once
	defaultLoggerInst *logrus.Logger
)

// defaultLogger returns the package-wide fallback logrus.Logger used when a
// NetworkPlaneConfig doesn't set one explicitly: text formatter, info
// level, stderr output.
func defaultLogger() *logrus.Logger {
	defaultLoggerOnce.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		defaultLoggerInst = l
	})
	return defaultLoggerInst
}
