package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeConn struct {
	id      int
	closed  atomic.Bool
	pingErr atomic.Value // error
}

func (c *fakeConn) PingContext(ctx context.Context) error {
	if err, ok := c.pingErr.Load().(error); ok {
		return err
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func newFakeFactory() (Factory, *atomic.Int32) {
	var n atomic.Int32
	return func(ctx context.Context) (Conn, error) {
		return &fakeConn{id: int(n.Add(1))}, nil
	}, &n
}

func TestPoolAcquireRelease(t *testing.T) {
	Convey("测试租约的获取和归还", t, func() {
		factory, created := newFakeFactory()
		p, err := NewPoolWithOptions(factory, &PoolOptions{
			MinSize: 0, MaxSize: 2,
			AcquireTimeout: time.Second,
			MaxIdleTime:    time.Minute,
			SweepInterval:  time.Minute,
		})
		So(err, ShouldBeNil)
		defer p.Close()

		Convey("归还后的连接被复用", func() {
			l1, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)
			So(l1.Conn(), ShouldNotBeNil)
			l1.Release()

			l2, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)
			defer l2.Release()

			So(created.Load(), ShouldEqual, 1)
		})

		Convey("归还后租约不可再用", func() {
			l, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)
			l.Release()
			So(l.Conn(), ShouldBeNil)

			// 重复归还是空操作
			l.Release()
			So(p.Stats().Open, ShouldEqual, 1)
		})

		Convey("Discard 关闭连接并腾出额度", func() {
			l, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)
			conn := l.Conn().(*fakeConn)
			l.Discard()

			So(conn.closed.Load(), ShouldBeTrue)
			So(p.Stats().Open, ShouldEqual, 0)
		})

		Convey("归还时探测失败的连接被淘汰", func() {
			l, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)
			conn := l.Conn().(*fakeConn)
			conn.pingErr.Store(errors.New("connection reset"))
			l.Release()

			So(conn.closed.Load(), ShouldBeTrue)
			stats := p.Stats()
			So(stats.Open, ShouldEqual, 0)
			So(stats.Idle, ShouldEqual, 0)

			// 后续租约拿到新连接
			l2, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)
			defer l2.Release()
			So(l2.Conn().(*fakeConn).id, ShouldNotEqual, conn.id)
			So(created.Load(), ShouldEqual, 2)
		})
	})
}

func TestPoolWarmFullCapacity(t *testing.T) {
	Convey("预热到上限后空闲连接仍可租用", t, func() {
		factory, created := newFakeFactory()
		p, err := NewPoolWithOptions(factory, &PoolOptions{
			MinSize: 2, MaxSize: 2,
			AcquireTimeout: 200 * time.Millisecond,
			MaxIdleTime:    time.Minute,
			SweepInterval:  time.Minute,
		})
		So(err, ShouldBeNil)
		defer p.Close()

		l1, err := p.Acquire(context.Background())
		So(err, ShouldBeNil)
		l2, err := p.Acquire(context.Background())
		So(err, ShouldBeNil)

		// 两个租约都复用预热连接，没有新建
		So(created.Load(), ShouldEqual, 2)
		So(p.Stats().InUse, ShouldEqual, 2)

		l1.Release()
		l2.Release()
	})
}

func TestPoolCloseAfterUse(t *testing.T) {
	Convey("按需建连归还后关闭不阻塞", t, func() {
		factory, _ := newFakeFactory()
		p, err := NewPoolWithOptions(factory, &PoolOptions{
			MinSize: 0, MaxSize: 2,
			AcquireTimeout: time.Second,
			MaxIdleTime:    time.Minute,
			SweepInterval:  time.Minute,
		})
		So(err, ShouldBeNil)

		l, err := p.Acquire(context.Background())
		So(err, ShouldBeNil)
		l.Release()

		done := make(chan error, 1)
		go func() { done <- p.Close() }()
		select {
		case err := <-done:
			So(err, ShouldBeNil)
		case <-time.After(time.Second):
			So("close blocked", ShouldBeEmpty)
		}
	})
}

func TestPoolLimit(t *testing.T) {
	Convey("测试池上限", t, func() {
		factory, _ := newFakeFactory()
		p, err := NewPoolWithOptions(factory, &PoolOptions{
			MaxSize:        1,
			AcquireTimeout: 50 * time.Millisecond,
			SweepInterval:  time.Minute,
		})
		So(err, ShouldBeNil)
		defer p.Close()

		Convey("池满时等待超时返回类型化错误", func() {
			l, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)
			defer l.Release()

			_, err = p.Acquire(context.Background())
			So(errors.Is(err, ErrAcquireTimeout), ShouldBeTrue)
			So(p.Stats().Timeouts, ShouldEqual, 1)
		})

		Convey("归还后等待者拿到连接", func() {
			l, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)

			var wg sync.WaitGroup
			var got atomic.Bool
			wg.Add(1)
			go func() {
				defer wg.Done()
				l2, err := p.Acquire(context.Background())
				if err == nil {
					got.Store(true)
					l2.Release()
				}
			}()

			time.Sleep(10 * time.Millisecond)
			l.Release()
			wg.Wait()
			So(got.Load(), ShouldBeTrue)
		})

		Convey("上下文取消立即返回", func() {
			l, err := p.Acquire(context.Background())
			So(err, ShouldBeNil)
			defer l.Release()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = p.Acquire(ctx)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestPoolWarmUpAndSweep(t *testing.T) {
	Convey("测试预热和空闲回收", t, func() {
		Convey("预热到最小连接数", func() {
			factory, created := newFakeFactory()
			p, err := NewPoolWithOptions(factory, &PoolOptions{
				MinSize: 2, MaxSize: 4,
				AcquireTimeout: time.Second,
				SweepInterval:  time.Minute,
			})
			So(err, ShouldBeNil)
			defer p.Close()

			So(created.Load(), ShouldEqual, 2)
			So(p.Stats().Idle, ShouldEqual, 2)
		})

		Convey("空闲超时的连接被回收但保留最小数", func() {
			factory, _ := newFakeFactory()
			p, err := NewPoolWithOptions(factory, &PoolOptions{
				MinSize: 1, MaxSize: 4,
				AcquireTimeout: time.Second,
				MaxIdleTime:    time.Millisecond,
				SweepInterval:  10 * time.Millisecond,
			})
			So(err, ShouldBeNil)
			defer p.Close()

			// 租出三个再全部归还，制造空闲连接
			var leases []*Lease
			for i := 0; i < 3; i++ {
				l, err := p.Acquire(context.Background())
				So(err, ShouldBeNil)
				leases = append(leases, l)
			}
			for _, l := range leases {
				l.Release()
			}
			So(p.Stats().Idle, ShouldEqual, 3)

			time.Sleep(100 * time.Millisecond)
			stats := p.Stats()
			So(stats.Idle, ShouldEqual, 1)
			So(stats.Open, ShouldEqual, 1)
		})
	})
}

func TestPoolClose(t *testing.T) {
	Convey("测试池关闭", t, func() {
		factory, _ := newFakeFactory()
		p, err := NewPoolWithOptions(factory, &PoolOptions{
			MinSize: 1, MaxSize: 2,
			AcquireTimeout: time.Second,
			SweepInterval:  time.Minute,
		})
		So(err, ShouldBeNil)

		l, err := p.Acquire(context.Background())
		So(err, ShouldBeNil)
		conn := l.Conn().(*fakeConn)

		So(p.Close(), ShouldBeNil)

		Convey("关闭后拒绝新租约", func() {
			_, err := p.Acquire(context.Background())
			So(errors.Is(err, ErrPoolClosed), ShouldBeTrue)
		})

		Convey("租出的连接在归还时关闭", func() {
			l.Release()
			So(conn.closed.Load(), ShouldBeTrue)
		})

		Convey("重复关闭无害", func() {
			So(p.Close(), ShouldBeNil)
		})
	})
}

func TestManager(t *testing.T) {
	Convey("测试池管理器", t, func() {
		m := NewManager()
		factory, _ := newFakeFactory()
		create := func() (*Pool, error) {
			return NewPoolWithOptions(factory, &PoolOptions{
				MaxSize: 2, AcquireTimeout: time.Second, SweepInterval: time.Minute,
			})
		}

		Convey("同一标识返回同一个池", func() {
			p1, err := m.Get("db1", create)
			So(err, ShouldBeNil)
			p2, err := m.Get("db1", create)
			So(err, ShouldBeNil)
			So(p1, ShouldEqual, p2)
			So(m.Close(), ShouldBeNil)
		})

		Convey("移除后重新创建", func() {
			p1, err := m.Get("db1", create)
			So(err, ShouldBeNil)
			So(m.Remove("db1"), ShouldBeNil)

			p2, err := m.Get("db1", create)
			So(err, ShouldBeNil)
			So(p1, ShouldNotEqual, p2)
			So(m.Close(), ShouldBeNil)
		})
	})
}
