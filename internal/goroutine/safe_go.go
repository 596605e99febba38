// Package goroutine запускает фоновые задачи с перехватом паники и ожиданием завершения при остановке.
package goroutine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/timemarket-backend/internal/logger"
)

// Runner запускает задачи и ведёт учёт незавершённых.
type Runner struct {
	log func() logrus.FieldLogger
	wg  sync.WaitGroup
}

func NewRunner(log logrus.FieldLogger) *Runner {
	return &Runner{log: func() logrus.FieldLogger { return log }}
}

// Go запускает fn в отдельной горутине. Паника логируется и не роняет процесс.
func (r *Runner) Go(name string, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.recover(name)
		fn()
	}()
}

// GoWithContext: то же, что Go, с передачей контекста в fn.
func (r *Runner) GoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	r.Go(name, func() { fn(ctx) })
}

// Wait ждёт завершения всех запущенных задач либо отмены ctx.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) recover(name string) {
	if p := recover(); p != nil {
		r.log().WithFields(logrus.Fields{
			"task":  name,
			"panic": p,
			"stack": string(debug.Stack()),
		}).Error("goroutine: паника перехвачена")
	}
}

// Default пишет в текущий logger.Log, даже если он был переинициализирован.
var Default = &Runner{log: func() logrus.FieldLogger { return logger.Log }}

func SafeGo(name string, fn func()) {
	Default.Go(name, fn)
}

func SafeGoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	Default.GoWithContext(ctx, name, fn)
}

// Wait ждёт фоновые задачи Default. Вызывается при остановке сервера.
func Wait(ctx context.Context) error {
	return Default.Wait(ctx)
}
