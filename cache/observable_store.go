package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatlonely/dbx/log"
)

// ObservableStoreOptions 观测装饰器配置
type ObservableStoreOptions struct {
	// Name 组件名称标识，用于所有观测维度
	// - Metrics: 作为指标名前缀
	// - Logging: 作为 component 字段值
	// - Tracing: 作为 span 的 component 属性
	Name string `cfg:"name" def:"cache"`

	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics" def:"true"`

	// EnableLogging 是否启用日志记录
	EnableLogging bool `cfg:"enableLogging" def:"false"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing" def:"false"`
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	hitCounter        *prometheus.CounterVec
}

// NewObservableMetrics 创建指标收集器并注册到默认 registry
func NewObservableMetrics(name string) *ObservableMetrics {
	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of cache operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of cache operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"operation"},
		),
		hitCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_lookups_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
	}

	prometheus.MustRegister(
		metrics.operationCounter,
		metrics.operationDuration,
		metrics.hitCounter,
	)

	return metrics
}

// ObservableStore 装饰器，为任何 Store 添加指标、日志和追踪
type ObservableStore[K comparable, V any] struct {
	store Store[K, V]

	logger        log.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

// NewObservableStore 包装底层存储，logger 为 nil 时不输出日志
func NewObservableStore[K comparable, V any](store Store[K, V], logger log.Logger, options *ObservableStoreOptions) *ObservableStore[K, V] {
	obs := &ObservableStore[K, V]{
		store:         store,
		name:          options.Name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}
	if obs.name == "" {
		obs.name = "cache"
	}
	if options.EnableLogging && logger != nil {
		obs.logger = logger.WithGroup("observableStore")
	} else {
		obs.enableLogging = false
	}
	if options.EnableMetrics {
		obs.metrics = NewObservableMetrics(obs.name)
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("cache.%s", obs.name))
	}
	return obs
}

// observeOperation 统一的操作观测逻辑
func (obs *ObservableStore[K, V]) observeOperation(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("cache.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
			),
		)
		defer span.End()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if obs.enableTracing && span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil && !isMiss(err) {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		status := "success"
		if err != nil && !isMiss(err) {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if obs.enableLogging && err != nil && !isMiss(err) {
		obs.logger.ErrorContext(ctx, "cache operation failed",
			"component", obs.name,
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
	}

	return err
}

// isMiss 缓存未命中是正常路径，不算错误
func isMiss(err error) bool {
	return err == ErrKeyNotFound || err == ErrConditionFailed
}

func (obs *ObservableStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	return obs.observeOperation(ctx, "set", func(ctx context.Context) error {
		return obs.store.Set(ctx, key, value, opts...)
	})
}

func (obs *ObservableStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var value V
	err := obs.observeOperation(ctx, "get", func(ctx context.Context) error {
		var err error
		value, err = obs.store.Get(ctx, key)
		return err
	})

	if obs.enableMetrics && obs.metrics != nil {
		if err == nil {
			obs.metrics.hitCounter.WithLabelValues("hit").Inc()
		} else if isMiss(err) {
			obs.metrics.hitCounter.WithLabelValues("miss").Inc()
		}
	}
	return value, err
}

func (obs *ObservableStore[K, V]) Del(ctx context.Context, key K) error {
	return obs.observeOperation(ctx, "del", func(ctx context.Context) error {
		return obs.store.Del(ctx, key)
	})
}

func (obs *ObservableStore[K, V]) Close() error {
	return obs.store.Close()
}
