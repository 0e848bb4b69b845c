package service

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweepable 清理空闲超过 TTL 的条目
type Sweepable interface {
	Sweep(now time.Time) int
}

// SessionSweeper 按 cron 计划执行 Sweep
type SessionSweeper struct {
	cron   *cron.Cron
	target Sweepable
	log    *zap.Logger
}

func NewSessionSweeper(spec string, target Sweepable, log *zap.Logger) (*SessionSweeper, error) {
	s := &SessionSweeper{
		cron:   cron.New(),
		target: target,
		log:    log,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *SessionSweeper) run() {
	if n := s.target.Sweep(time.Now()); n > 0 {
		s.log.Debug("session sweep", zap.Int("removed", n))
	}
}

func (s *SessionSweeper) Start() {
	s.cron.Start()
}

// Stop 等待正在执行的清理结束
func (s *SessionSweeper) Stop() {
	<-s.cron.Stop().Done()
}
