package logger

import (
	"bytes"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogger(t *testing.T) {
	out := &syncBuffer{}
	log.SetOutput(out)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	SetPrefix("test")

	t.Run("should drop debug lines at info level", func(t *testing.T) {
		req := require.New(t)
		SetLevel("info")

		Debugf("hidden %d", 1)
		Infof("shown %d", 2)
		Flush(time.Second)

		req.NotContains(out.String(), "hidden 1")
		req.Contains(out.String(), "[test] shown 2")
	})

	t.Run("should write debug and duration lines at debug level", func(t *testing.T) {
		req := require.New(t)
		SetLevel(" DEBUG ")

		Debugf("visible")
		DeferLogDuration("repo.Get", time.Now())()
		Errorf("bad %s", "thing")
		Flush(time.Second)

		req.Contains(out.String(), "[test] DEBUG: visible")
		req.Contains(out.String(), "fn=repo.Get duration_ms=")
		req.Contains(out.String(), "[test] ERROR: bad thing")
		req.Zero(pending.Load())
	})
}
