// Package logger: логирование с префиксом сервиса и асинхронной записью,
// чтобы обработчики событий не ждали stdout. Поддерживается логирование времени выполнения.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	asyncBufferSize = 8192
	slowThreshold   = 100 * time.Millisecond
)

var (
	prefix   atomic.Value
	debugOn  atomic.Bool
	levelSet atomic.Bool
	ch       chan string
	pending  atomic.Int64
	initOnce sync.Once
)

func initWorker() {
	if !levelSet.Load() {
		SetLevel(os.Getenv("LOG_LEVEL"))
	}
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
			pending.Add(-1)
		}
	}()
}

func enqueue(msg string) {
	initOnce.Do(initWorker)
	pending.Add(1)
	select {
	case ch <- msg:
	default:
		pending.Add(-1)
		// Буфер полон: не блокируем, теряем лог
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "api").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel включает debug для "debug" и "trace"; остальное включает info.
func SetLevel(level string) {
	levelSet.Store(true)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		debugOn.Store(true)
	default:
		debugOn.Store(false)
	}
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	if !debugOn.Load() {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На info логируются только вызовы дольше 100ms; на debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if debugOn.Load() || elapsed >= slowThreshold {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// Flush ждёт, пока очередь не опустеет, но не дольше timeout. Вызывать перед выходом из процесса.
func Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for pending.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("ws.handleSend", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
