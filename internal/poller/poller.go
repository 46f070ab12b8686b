// Package poller turns a start-and-poll generation job into a single awaited
// result.
package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/pkg/clock"
)

var (
	ErrNoVideosGenerated = errors.New("no videos generated")
	ErrNoVideosFound     = errors.New("no videos found")
	ErrTimeout           = errors.New("video generation timed out")
)

// MinBaseInterval is the lowest allowed base poll interval.
const MinBaseInterval = 2 * time.Second

// Operation is the handle of an in-flight generation job.
type Operation struct {
	Name    string
	Done    bool
	Results []string
	// Err is a terminal failure reported by the service for a done operation.
	Err error
	// Raw carries the vendor handle needed to refresh the operation.
	Raw any
}

// RefreshFunc fetches the latest state of op.
type RefreshFunc func(ctx context.Context, op *Operation) (*Operation, error)

type Policy struct {
	BaseInterval         time.Duration
	Factor               float64
	ChecksPerStep        int
	MaxInterval          time.Duration
	MaxJitter            time.Duration
	MaxConsecutiveErrors int
	MaxRateLimitBackoff  time.Duration
	Timeout              time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		BaseInterval:         5 * time.Second,
		Factor:               1.5,
		ChecksPerStep:        5,
		MaxInterval:          30 * time.Second,
		MaxJitter:            time.Second,
		MaxConsecutiveErrors: 5,
		MaxRateLimitBackoff:  60 * time.Second,
		Timeout:              15 * time.Minute,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.BaseInterval < MinBaseInterval {
		p.BaseInterval = MinBaseInterval
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.ChecksPerStep <= 0 {
		p.ChecksPerStep = d.ChecksPerStep
	}
	if p.MaxInterval < p.BaseInterval {
		p.MaxInterval = p.BaseInterval
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	if p.MaxConsecutiveErrors <= 0 {
		p.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if p.MaxRateLimitBackoff <= 0 {
		p.MaxRateLimitBackoff = d.MaxRateLimitBackoff
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// Interval is the delay before check number checks, without jitter.
func (p Policy) Interval(checks int) time.Duration {
	step := checks / p.ChecksPerStep
	d := float64(p.BaseInterval) * math.Pow(p.Factor, float64(step))
	if d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// ErrorBackoff is base * 2^consecutive, capped to avoid overflow.
func (p Policy) ErrorBackoff(consecutive int) time.Duration {
	if consecutive > 16 {
		consecutive = 16
	}
	return p.BaseInterval * time.Duration(1<<consecutive)
}

type Poller struct {
	policy Policy
	clock  clock.Clock
	jitter func(max time.Duration) time.Duration
	logger *zap.Logger
}

func New(policy Policy, clk clock.Clock, logger *zap.Logger) *Poller {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		policy: policy.normalized(),
		clock:  clk,
		jitter: randomJitter,
		logger: logger,
	}
}

// WithJitter replaces the jitter source; tests use it to get fixed delays.
func (p *Poller) WithJitter(fn func(max time.Duration) time.Duration) *Poller {
	p.jitter = fn
	return p
}

func (p *Poller) Policy() Policy { return p.policy }

// Wait polls op until it is done and returns the generated asset references.
func (p *Poller) Wait(ctx context.Context, op *Operation, refresh RefreshFunc) ([]string, error) {
	if op == nil {
		return nil, errors.New("operation handle is nil")
	}
	if op.Done {
		return results(op, ErrNoVideosGenerated)
	}

	log := p.logger.With(zap.String("operation", op.Name))
	start := p.clock.Now()
	checks := 0
	consecutive := 0

	for {
		elapsed := p.clock.Now().Sub(start)
		if elapsed >= p.policy.Timeout {
			log.Error("polling timed out", zap.Duration("elapsed", elapsed), zap.Int("checks", checks))
			return nil, fmt.Errorf("%w after %s (operation %s, %d checks)", ErrTimeout, elapsed.Round(time.Second), op.Name, checks)
		}

		delay := p.policy.Interval(checks)
		if p.policy.MaxJitter > 0 {
			delay += p.jitter(p.policy.MaxJitter)
		}
		if err := p.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
		checks++

		next, err := refresh(ctx, op)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			consecutive++
			if consecutive > p.policy.MaxConsecutiveErrors {
				log.Error("polling failed",
					zap.Int("consecutive_errors", consecutive),
					zap.Duration("elapsed", p.clock.Now().Sub(start)),
					zap.Error(err))
				return nil, fmt.Errorf("polling operation %s failed after %d consecutive errors: %w", op.Name, consecutive, err)
			}

			backoff := p.policy.ErrorBackoff(consecutive)
			rateLimited := IsRateLimited(err)
			if rateLimited && backoff > p.policy.MaxRateLimitBackoff {
				backoff = p.policy.MaxRateLimitBackoff
			}
			log.Warn("poll attempt failed",
				zap.Bool("rate_limited", rateLimited),
				zap.Int("consecutive_errors", consecutive),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			if err := p.clock.Sleep(ctx, backoff); err != nil {
				return nil, err
			}
			if rateLimited {
				// throttling is the service pacing us, not a failing operation
				consecutive--
			}
			continue
		}

		consecutive = 0
		if next != nil {
			op = next
		}
		if checks%10 == 0 {
			log.Info("still waiting for operation", zap.Int("checks", checks), zap.Duration("elapsed", p.clock.Now().Sub(start)))
		}
		if op.Done {
			log.Info("operation finished", zap.Int("checks", checks), zap.Duration("elapsed", p.clock.Now().Sub(start)))
			return results(op, ErrNoVideosFound)
		}
	}
}

func results(op *Operation, emptyErr error) ([]string, error) {
	if op.Err != nil {
		return nil, fmt.Errorf("operation %s failed: %w", op.Name, op.Err)
	}
	if len(op.Results) == 0 {
		return nil, emptyErr
	}
	out := make([]string, len(op.Results))
	copy(out, op.Results)
	return out, nil
}

// IsRateLimited reports whether err looks like upstream throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	hints := []string{
		"429",
		"too many requests",
		"resource_exhausted",
		"resource exhausted",
		"rate limit",
		"quota",
	}
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
