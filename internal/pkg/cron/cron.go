// Package cron runs the periodic housekeeping of the server.
package cron

import (
	"log/slog"
	"sync"
	"time"
)

// SessionSweeper 关闭空闲的观察会话
type SessionSweeper interface {
	SweepIdle(maxIdle time.Duration) int
}

type Service struct {
	sweeper  SessionSweeper
	interval time.Duration
	maxIdle  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(sweeper SessionSweeper, interval, maxIdle time.Duration) *Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	return &Service{
		sweeper:  sweeper,
		interval: interval,
		maxIdle:  maxIdle,
		stopChan: make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	s.wg.Add(1)
	go s.runSessionSweep()
	slog.Info("cron service started", "sweepInterval", s.interval, "sessionIdleTimeout", s.maxIdle)
}

// Stop 停止定时任务并等待正在执行的清理结束，可重复调用
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// runSessionSweep 按固定间隔清理空闲会话
func (s *Service) runSessionSweep() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() int {
	if s.sweeper == nil {
		return 0
	}
	closed := s.sweeper.SweepIdle(s.maxIdle)
	if closed > 0 {
		slog.Info("idle watch sessions closed", "count", closed)
	}
	return closed
}
