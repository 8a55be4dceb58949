package schemax

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// observer 公开操作的指标与追踪装饰器
type observer struct {
	name string

	counter   *prometheus.CounterVec
	durations *prometheus.HistogramVec

	tracer oteltrace.Tracer
}

func newObserver(name string, enableMetrics bool, enableTracing bool) *observer {
	o := &observer{name: name}

	if enableMetrics {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "schemax",
			Name:        "operation_total",
			Help:        "Total number of schema manager operations",
			ConstLabels: prometheus.Labels{"name": name},
		}, []string{"operation", "status"})
		// 同名实例重复构建时复用已注册的采集器
		if err := prometheus.Register(counter); err != nil {
			var registered prometheus.AlreadyRegisteredError
			if errors.As(err, &registered) {
				counter = registered.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		o.counter = counter

		durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "schemax",
			Name:        "operation_duration_seconds",
			Help:        "Schema manager operation latency",
			ConstLabels: prometheus.Labels{"name": name},
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation", "status"})
		if err := prometheus.Register(durations); err != nil {
			var registered prometheus.AlreadyRegisteredError
			if errors.As(err, &registered) {
				durations = registered.ExistingCollector.(*prometheus.HistogramVec)
			}
		}
		o.durations = durations
	}

	if enableTracing {
		o.tracer = otel.Tracer("github.com/hatlonely/schemax")
	}

	return o
}

// Observe 包裹一次操作，上报计数、耗时和 span 状态
func (o *observer) Observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var span oteltrace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, operation,
			oteltrace.WithAttributes(attribute.String("schemax.name", o.name)))
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}
	if o.counter != nil {
		o.counter.WithLabelValues(operation, status).Inc()
		o.durations.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	}
	if span != nil {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	return err
}

// observe 观测开关关闭时直通
func (m *Manager) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if m.observer == nil {
		return fn(ctx)
	}
	return m.observer.Observe(ctx, operation, fn)
}
