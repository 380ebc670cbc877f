package sbv2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getcharzp/sbv2-speech"
	"github.com/getcharzp/sbv2-speech/internal/logger"
	"github.com/getcharzp/sbv2-speech/ttserr"
	"golang.org/x/sync/errgroup"
)

// Session 一个已加载的合成模型实例，同一时刻只允许一次前向推理
type Session interface {
	Run(in *Inputs) ([]float32, error)
	Close() error
}

// SessionFactory 按执行后端创建会话
type SessionFactory interface {
	Open(p speech.Provider) (Session, error)
}

// PoolObserver 会话池指标回调
type PoolObserver interface {
	ObservePoolWait(d time.Duration)
	SetPoolInUse(n int)
	PoolExhausted()
}

// PoolConfig 会话池参数
type PoolConfig struct {
	Providers []speech.Provider // 后端优先级
	Size      int               // 会话数量
	Wait      time.Duration     // 借出等待上限
	Observer  PoolObserver
}

type slot struct {
	id   int
	sess Session
}

// Pool 固定大小的会话池，后端在创建时选定且之后不再变化
type Pool struct {
	idle     chan *slot
	slots    []*slot
	provider speech.Provider
	wait     time.Duration
	obs      PoolObserver
	inUse    atomic.Int32
	closed   atomic.Bool
}

// NewPool 依次尝试各执行后端，第一个成功的后端用于所有会话
func NewPool(ctx context.Context, factory SessionFactory, cfg PoolConfig) (*Pool, error) {
	const op = "sbv2.NewPool"
	if cfg.Size <= 0 {
		return nil, ttserr.New(ttserr.ModelLoadError, op, "会话池大小必须大于 0: %d", cfg.Size)
	}
	providers := cfg.Providers
	if len(providers) == 0 {
		providers = speech.DefaultProviders
	}

	var (
		first    Session
		provider speech.Provider
		errs     []error
	)
	for _, p := range providers {
		s, err := factory.Open(p)
		if err != nil {
			logger.Warnf("[pool] 执行后端 %s 不可用: %v", p, err)
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		first, provider = s, p
		break
	}
	if first == nil {
		return nil, ttserr.Wrap(ttserr.ModelLoadError, op, fmt.Errorf("没有可用的执行后端: %w", errors.Join(errs...)))
	}

	sessions := make([]Session, cfg.Size)
	sessions[0] = first
	g, _ := errgroup.WithContext(ctx)
	for i := 1; i < cfg.Size; i++ {
		g.Go(func() error {
			s, err := factory.Open(provider)
			if err != nil {
				return fmt.Errorf("创建第 %d 个会话失败: %w", i, err)
			}
			sessions[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range sessions {
			if s != nil {
				_ = s.Close()
			}
		}
		return nil, ttserr.Wrap(ttserr.ModelLoadError, op, err)
	}

	p := &Pool{
		idle:     make(chan *slot, cfg.Size),
		provider: provider,
		wait:     cfg.Wait,
		obs:      cfg.Observer,
	}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	for i, s := range sessions {
		sl := &slot{id: i, sess: s}
		p.slots = append(p.slots, sl)
		p.idle <- sl
	}
	logger.Infof("[pool] 使用执行后端 %s 创建 %d 个会话", provider, cfg.Size)
	return p, nil
}

// Provider 选定的执行后端
func (p *Pool) Provider() speech.Provider { return p.provider }

// Size 会话总数
func (p *Pool) Size() int { return len(p.slots) }

// InUse 已借出的会话数
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Checkout 借出一个空闲会话
//
// 等待超过 Wait 或 ctx 到期时返回 PoolExhausted，ctx 被取消时直接返回 ctx 的错误。
// 拿到的 Lease 必须调用 Release 归还。
func (p *Pool) Checkout(ctx context.Context) (*Lease, error) {
	const op = "sbv2.Checkout"
	if p.closed.Load() {
		return nil, ttserr.New(ttserr.PoolExhausted, op, "会话池已关闭")
	}
	start := time.Now()

	select {
	case sl := <-p.idle:
		return p.lease(sl, start), nil
	default:
	}

	var timeout <-chan time.Time
	if p.wait > 0 {
		timer := time.NewTimer(p.wait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case sl := <-p.idle:
		return p.lease(sl, start), nil
	case <-timeout:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
	}
	p.obs.ObservePoolWait(time.Since(start))
	p.obs.PoolExhausted()
	return nil, ttserr.New(ttserr.PoolExhausted, op, "等待空闲会话超时 (%s)", time.Since(start).Round(time.Millisecond))
}

func (p *Pool) lease(sl *slot, start time.Time) *Lease {
	p.obs.ObservePoolWait(time.Since(start))
	p.obs.SetPoolInUse(int(p.inUse.Add(1)))
	return &Lease{pool: p, slot: sl, acquired: time.Now()}
}

// With 借出会话执行 fn，返回前保证归还
func (p *Pool) With(ctx context.Context, fn func(Session) error) error {
	l, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(l.Session())
}

// Close 等待所有会话归还后释放，ctx 到期时放弃等待
func (p *Pool) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for range p.slots {
		select {
		case sl := <-p.idle:
			if err := sl.sess.Close(); err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("仍有 %d 个会话未归还: %w", p.InUse(), ctx.Err()))
			return errors.Join(errs...)
		}
	}
	return errors.Join(errs...)
}

// Lease 一次会话借用
type Lease struct {
	pool     *Pool
	slot     *slot
	acquired time.Time
	once     sync.Once
}

// Session 借到的会话
func (l *Lease) Session() Session { return l.slot.sess }

// ID 会话编号
func (l *Lease) ID() int { return l.slot.id }

// Acquired 借出时间
func (l *Lease) Acquired() time.Time { return l.acquired }

// Release 归还会话，重复调用无副作用
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.obs.SetPoolInUse(int(l.pool.inUse.Add(-1)))
		l.pool.idle <- l.slot
	})
}

type nopObserver struct{}

func (nopObserver) ObservePoolWait(time.Duration) {}
func (nopObserver) SetPoolInUse(int) {}
func (nopObserver) PoolExhausted() {}
func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObservePhonemes(int) {}
