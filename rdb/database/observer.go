package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/sedentary/log/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObserverOptions struct {
	// EnableMetrics 是否启用指标收集，默认启用
	EnableMetrics *bool `cfg:"enableMetrics" def:"true"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing"`

	// Name 作为指标名前缀和 tracer 名称
	Name string `cfg:"name" def:"sedentary"`

	// Registerer 指标注册位置，为空时使用 prometheus.DefaultRegisterer
	Registerer prometheus.Registerer `cfg:"-"`

	// Logger 操作失败时记录错误，为空不记录
	Logger logger.Logger `cfg:"-"`
}

// Metrics 后端操作的 prometheus 指标
type Metrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	rowsHistogram     *prometheus.HistogramVec
}

// NewMetrics 创建并注册指标，同名指标已注册时复用已有的
func NewMetrics(name string, registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	operationCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: name + "_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "table", "status"},
	)
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    name + "_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)
	rowsHistogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    name + "_rows",
			Help:    "Number of rows loaded or affected by database operations",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"operation"},
	)

	metrics := &Metrics{}
	var err error
	if metrics.operationCounter, err = register(registerer, operationCounter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = register(registerer, operationDuration); err != nil {
		return nil, err
	}
	if metrics.rowsHistogram, err = register(registerer, rowsHistogram); err != nil {
		return nil, err
	}
	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, error) {
	if err := registerer.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, errors.Wrap(err, "failed to register metrics")
	}
	return collector, nil
}

// observer 为后端操作添加指标、追踪和错误日志
type observer struct {
	name    string
	metrics *Metrics
	tracer  trace.Tracer
	logger  logger.Logger
}

func newObserver(options *ObserverOptions) (*observer, error) {
	obs := &observer{name: options.Name, logger: options.Logger}
	if obs.name == "" {
		obs.name = "sedentary"
	}

	if options.EnableMetrics == nil || *options.EnableMetrics {
		metrics, err := NewMetrics(obs.name, options.Registerer)
		if err != nil {
			return nil, err
		}
		obs.metrics = metrics
	}

	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("%s.postgres", obs.name))
	}

	return obs, nil
}

// observe fn 返回影响或读取的行数，小于 0 表示不记录
func (obs *observer) observe(ctx context.Context, operation string, table string, fn func(context.Context) (int64, error)) error {
	if obs == nil {
		_, err := fn(ctx)
		return err
	}

	start := time.Now()

	var span trace.Span
	if obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("postgres.%s", operation),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", "postgresql"),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", table),
			),
		)
		defer span.End()
	}

	rows, err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if rows >= 0 {
			span.SetAttributes(attribute.Int64("db.rows", rows))
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, table, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
		if err == nil && rows >= 0 {
			obs.metrics.rowsHistogram.WithLabelValues(operation).Observe(float64(rows))
		}
	}

	if err != nil && obs.logger != nil {
		obs.logger.ErrorContext(ctx, "database operation failed",
			"component", obs.name,
			"operation", operation,
			"table", table,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
	}

	return err
}
