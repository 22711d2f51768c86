package testutil

import (
	"bytes"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogCapture collects logrus output for assertions in tests.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogCapture returns a capture and a logger entry writing into it at
// debug level.
func NewLogCapture() (*LogCapture, *logrus.Entry) {
	lc := &LogCapture{}
	logger := logrus.New()
	logger.SetOutput(lc)
	logger.SetLevel(logrus.DebugLevel)
	return lc, logrus.NewEntry(logger)
}

// Write implements io.Writer for logrus.
func (lc *LogCapture) Write(p []byte) (int, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.Write(p)
}

// String returns all captured output.
func (lc *LogCapture) String() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.String()
}

// Contains reports whether the captured output contains substr.
func (lc *LogCapture) Contains(substr string) bool {
	return strings.Contains(lc.String(), substr)
}
