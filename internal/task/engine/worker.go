package engine

import (
	"context"
	"fmt"
	"time"

	"promptclock/internal/eventbus"
	logx "promptclock/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	defer qt.state.release()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	s.log.Debug("task started", logx.Task(qt.task.Name, qt.task.ID), logx.Duration("queue_delay", queueDelay))

	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}

	var err error
	// A panicking task becomes an error so it cannot kill the worker.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task panic", logx.Task(qt.task.Name, qt.task.ID), logx.Any("panic", r), logx.Stack())
			}
		}()
		err = qt.task.Run(runCtx)
	}()
	if err == nil && runCtx.Err() == context.DeadlineExceeded {
		err = runCtx.Err()
	}

	dur := time.Since(start)
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	s.record(qt, start, dur, errStr)

	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Error: errStr}
	if err != nil {
		s.failed.Add(1)
		s.publish(eventbus.TypeTaskFailed, ev)
		s.log.Warn("task failed", logx.Task(qt.task.Name, qt.task.ID), logx.Duration("took", dur), logx.Err(err))
		return
	}
	s.done.Add(1)
	s.publish(eventbus.TypeTaskDone, ev)
	s.log.Debug("task done", logx.Task(qt.task.Name, qt.task.ID), logx.Duration("took", dur))
}

func (s *Service) record(qt queuedTask, start time.Time, dur time.Duration, errStr string) {
	item := HistoryItem{
		ID:         qt.task.ID,
		Name:       qt.task.Name,
		Started:    start,
		QueueDelay: max(start.Sub(qt.enqueuedAt), 0),
		Duration:   dur,
		Error:      errStr,
	}
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
