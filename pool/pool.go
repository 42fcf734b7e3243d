// Package pool 提供带租约语义的连接池。调用方通过 Acquire 租用连接，
// 用完必须 Release 归还或 Discard 丢弃；归还后的租约不可再使用。
// 池满时 Acquire 排队等待，超过获取超时返回 ErrAcquireTimeout。
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/log"
)

var (
	// ErrAcquireTimeout 池满且等待超时
	ErrAcquireTimeout = errors.New("acquire connection timeout")
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("pool is closed")
	// ErrLeaseReleased 租约已经归还，连接不可再使用
	ErrLeaseReleased = errors.New("lease already released")
)

// Conn 池管理的连接。生产环境是数据库会话，测试可以用假实现。
type Conn interface {
	PingContext(ctx context.Context) error
	Close() error
}

// Factory 创建新连接
type Factory func(ctx context.Context) (Conn, error)

// PoolOptions 连接池配置
type PoolOptions struct {
	// MinSize 池维持的最小连接数，空闲回收不会低于它
	MinSize int `cfg:"minSize" def:"1" validate:"gte=0"`
	// MaxSize 池的最大连接数，租出 + 空闲不会超过它
	MaxSize int `cfg:"maxSize" def:"10" validate:"gt=0"`
	// AcquireTimeout 池满时等待租约的最长时间
	AcquireTimeout time.Duration `cfg:"acquireTimeout" def:"5s"`
	// MaxIdleTime 空闲连接超过该时长被回收
	MaxIdleTime time.Duration `cfg:"maxIdleTime" def:"10m"`
	// SweepInterval 空闲回收的巡检周期
	SweepInterval time.Duration `cfg:"sweepInterval" def:"30s"`
}

// Stats 池的瞬时状态
type Stats struct {
	Open     int   // 已打开的连接数（租出 + 空闲）
	Idle     int   // 空闲连接数
	InUse    int   // 租出的连接数
	Waiting  int   // 正在等待租约的调用方数
	Acquired int64 // 累计租约次数
	Timeouts int64 // 累计获取超时次数
}

type idleConn struct {
	conn      Conn
	idleSince time.Time
}

// Pool 固定上限的连接池
type Pool struct {
	opts    *PoolOptions
	factory Factory
	logger  log.Logger

	mu      sync.Mutex
	idle    []idleConn
	open    int
	waiting int
	closed  bool

	// slots 限制在租连接数：每个未归还的租约持有一个令牌，
	// put/discard 归还令牌。空闲连接不占令牌。
	slots chan struct{}
	stop  chan struct{}
	done  sync.WaitGroup

	acquired atomic.Int64
	timeouts atomic.Int64
}

// NewPoolWithOptions 创建连接池并预热到最小连接数
func NewPoolWithOptions(factory Factory, options *PoolOptions) (*Pool, error) {
	return NewPoolWithLogger(factory, options, nil)
}

// NewPoolWithLogger 创建连接池，logger 为 nil 时不输出日志
func NewPoolWithLogger(factory Factory, options *PoolOptions, logger log.Logger) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("factory is nil")
	}
	if options.MaxSize <= 0 {
		return nil, errors.New("max size must be positive")
	}
	if options.MinSize > options.MaxSize {
		return nil, errors.Errorf("min size %d exceeds max size %d", options.MinSize, options.MaxSize)
	}
	if logger == nil {
		logger = log.Nop()
	}

	p := &Pool{
		opts:    options,
		factory: factory,
		logger:  logger,
		slots:   make(chan struct{}, options.MaxSize),
		stop:    make(chan struct{}),
	}

	// 预热最小连接数，失败时整体回滚
	ctx, cancel := context.WithTimeout(context.Background(), options.AcquireTimeout)
	defer cancel()
	for i := 0; i < options.MinSize; i++ {
		conn, err := factory(ctx)
		if err != nil {
			_ = p.Close()
			return nil, errors.WithMessage(err, "warm up pool failed")
		}
		p.mu.Lock()
		p.open++
		p.idle = append(p.idle, idleConn{conn: conn, idleSince: time.Now()})
		p.mu.Unlock()
	}

	sweepInterval := options.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	p.done.Add(1)
	go p.sweep(sweepInterval)

	return p, nil
}

// Lease 一次连接租用。Release 归还连接，Discard 在连接可能损坏时丢弃。
type Lease struct {
	pool     *Pool
	conn     Conn
	released atomic.Bool
}

// Conn 返回租用的连接，租约归还后返回 nil
func (l *Lease) Conn() Conn {
	if l.released.Load() {
		return nil
	}
	return l.conn
}

// Release 将连接归还给池。重复归还是无害的空操作。
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.pool.put(l.conn)
}

// Discard 关闭连接并释放额度，用于连接出错后
func (l *Lease) Discard() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.pool.discard(l.conn)
}

// Acquire 租用一个连接。优先复用空闲连接，没有空闲且未达上限时新建，
// 达到上限时排队等待，等待超过 AcquireTimeout 返回 ErrAcquireTimeout。
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.waiting++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()
	}()

	timeout := p.opts.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.WithMessage(ctx.Err(), "acquire canceled")
	case <-p.stop:
		return nil, ErrPoolClosed
	case <-timer.C:
		p.timeouts.Add(1)
		return nil, ErrAcquireTimeout
	}

	// 拿到额度后优先复用空闲连接
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		ic := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.acquired.Add(1)
		return &Lease{pool: p, conn: ic.conn}, nil
	}
	p.open++
	p.mu.Unlock()

	conn, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		<-p.slots
		return nil, errors.WithMessage(err, "open connection failed")
	}
	p.acquired.Add(1)
	return &Lease{pool: p, conn: conn}, nil
}

// releasePingTimeout 归还时存活探测的超时
const releasePingTimeout = time.Second

// put 归还连接：探测存活，坏连接直接淘汰，健康连接回到空闲栈
func (p *Pool) put(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), releasePingTimeout)
	err := conn.PingContext(ctx)
	cancel()
	if err != nil {
		p.logger.Warn("evict broken connection on release", "error", err.Error())
		p.discard(conn)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.open--
		p.mu.Unlock()
		_ = conn.Close()
		<-p.slots
		return
	}
	p.idle = append(p.idle, idleConn{conn: conn, idleSince: time.Now()})
	p.mu.Unlock()
	<-p.slots
}

func (p *Pool) discard(conn Conn) {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	_ = conn.Close()
	<-p.slots
}

// sweep 周期性回收超过 MaxIdleTime 的空闲连接，保留最小连接数
func (p *Pool) sweep(interval time.Duration) {
	defer p.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		if p.opts.MaxIdleTime <= 0 {
			continue
		}

		var expired []Conn
		now := time.Now()
		p.mu.Lock()
		kept := p.idle[:0]
		for _, ic := range p.idle {
			if p.open-len(expired) > p.opts.MinSize && now.Sub(ic.idleSince) > p.opts.MaxIdleTime {
				expired = append(expired, ic.conn)
				continue
			}
			kept = append(kept, ic)
		}
		p.idle = kept
		p.open -= len(expired)
		p.mu.Unlock()

		for _, conn := range expired {
			_ = conn.Close()
		}
		if len(expired) > 0 {
			p.logger.Debug("swept idle connections", "count", len(expired))
		}
	}
}

// Stats 返回池的瞬时状态
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Open:     p.open,
		Idle:     len(p.idle),
		InUse:    p.open - len(p.idle),
		Waiting:  p.waiting,
		Acquired: p.acquired.Load(),
		Timeouts: p.timeouts.Load(),
	}
}

// Close 关闭池和所有空闲连接。租出的连接在归还时关闭。
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()

	close(p.stop)
	// 空闲连接不占令牌，直接关闭；租出的连接在归还时关闭并归还自己的令牌
	for _, ic := range idle {
		_ = ic.conn.Close()
	}
	p.done.Wait()
	return nil
}
