// Package tracking records OpenTelemetry metrics for request execution and
// for the configuration manager.
package tracking

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gaborage/restbricks/apierr"
)

const (
	// MeterName is the instrumentation scope of every restbricks metric.
	MeterName = "restbricks"

	metricRequestDuration = "restbricks.client.request.duration" // Histogram in seconds
	metricAttempts        = "restbricks.client.attempts"         // Counter
	metricRetries         = "restbricks.client.retries"          // Counter

	metricManagerActiveScopes = "restbricks.manager.active_scopes" // UpDownCounter
	metricManagerBuilds       = "restbricks.manager.scope_builds"  // Counter
	metricManagerBuildErrors  = "restbricks.manager.build_errors"  // Counter

	attrConsumer   = "restbricks.consumer"
	attrMethod     = "http.request.method"
	attrStatusCode = "http.response.status_code"
	attrErrorType  = "error.type"
)

var (
	meter         metric.Meter
	meterOnce     sync.Once
	meterInitMu   sync.Mutex
	metricsInited bool

	requestDuration metric.Float64Histogram
	attemptCounter  metric.Int64Counter
	retryCounter    metric.Int64Counter
)

func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize restbricks metric %s: %v\n", metricName, err)
	}
}

func initMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if meter != nil {
		return
	}

	meter = otel.Meter(MeterName)

	var err error
	requestDuration, err = meter.Float64Histogram(
		metricRequestDuration,
		metric.WithDescription("Duration of consumer calls including retries"),
		metric.WithUnit("s"),
	)
	logMetricError(metricRequestDuration, err)

	attemptCounter, err = meter.Int64Counter(
		metricAttempts,
		metric.WithDescription("Number of transport attempts"),
		metric.WithUnit("{attempt}"),
	)
	logMetricError(metricAttempts, err)

	retryCounter, err = meter.Int64Counter(
		metricRetries,
		metric.WithDescription("Number of retries after an attempt timed out"),
		metric.WithUnit("{retry}"),
	)
	logMetricError(metricRetries, err)

	metricsInited = true
}

func ensureMeterInitialized() {
	meterOnce.Do(initMeter)
}

// Call describes one finished consumer call.
type Call struct {
	Consumer   string
	Method     string
	StatusCode int // 0 when no response was received
	Attempts   int
	Duration   time.Duration
	Err        error
}

// RecordCall records duration, attempts and retries of a finished call.
func RecordCall(ctx context.Context, c Call) {
	ensureMeterInitialized()

	attrs := []attribute.KeyValue{
		attribute.String(attrConsumer, c.Consumer),
		attribute.String(attrMethod, c.Method),
	}
	if c.StatusCode > 0 {
		attrs = append(attrs, attribute.Int(attrStatusCode, c.StatusCode))
	}
	if c.Err != nil {
		attrs = append(attrs, attribute.String(attrErrorType, classifyError(c.Err, c.StatusCode)))
	} else if c.StatusCode >= 400 {
		attrs = append(attrs, attribute.String(attrErrorType, strconv.Itoa(c.StatusCode)))
	}
	opt := metric.WithAttributes(attrs...)

	if requestDuration != nil {
		requestDuration.Record(ctx, c.Duration.Seconds(), opt)
	}
	if attemptCounter != nil && c.Attempts > 0 {
		attemptCounter.Add(ctx, int64(c.Attempts), opt)
	}
	if retryCounter != nil && c.Attempts > 1 {
		retryCounter.Add(ctx, int64(c.Attempts-1), opt)
	}
}

func classifyError(err error, statusCode int) string {
	if kind := apierr.KindOf(err); kind != "" {
		return string(kind)
	}
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return "error"
}

// ManagerStats holds the configuration manager counters.
type ManagerStats struct {
	ActiveScopes int
	Builds       int
	BuildErrors  int
}

type managerRegistration struct {
	statsProvider func() ManagerStats

	activeScopes metric.Int64ObservableUpDownCounter
	builds       metric.Int64ObservableCounter
	buildErrors  metric.Int64ObservableCounter
}

func (r *managerRegistration) observe(_ context.Context, observer metric.Observer) error {
	stats := r.statsProvider()
	if r.activeScopes != nil {
		observer.ObserveInt64(r.activeScopes, int64(stats.ActiveScopes))
	}
	if r.builds != nil {
		observer.ObserveInt64(r.builds, int64(stats.Builds))
	}
	if r.buildErrors != nil {
		observer.ObserveInt64(r.buildErrors, int64(stats.BuildErrors))
	}
	return nil
}

func collectObservables(instruments ...metric.Observable) []metric.Observable {
	var result []metric.Observable
	for _, inst := range instruments {
		if inst != nil {
			result = append(result, inst)
		}
	}
	return result
}

func noOpCleanup() func() {
	return func() { /** no-op **/ }
}

// RegisterManagerMetrics registers observable metrics for a configuration
// manager. statsProvider is called on every collection cycle. The returned
// function unregisters the callback.
func RegisterManagerMetrics(statsProvider func() ManagerStats) func() {
	ensureMeterInitialized()

	if meter == nil {
		return noOpCleanup()
	}

	reg := &managerRegistration{statsProvider: statsProvider}

	var err error
	reg.activeScopes, err = meter.Int64ObservableUpDownCounter(metricManagerActiveScopes,
		metric.WithDescription("Current number of built consumer scopes"))
	logMetricError(metricManagerActiveScopes, err)
	reg.builds, err = meter.Int64ObservableCounter(metricManagerBuilds,
		metric.WithDescription("Consumer scopes built since manager start"))
	logMetricError(metricManagerBuilds, err)
	reg.buildErrors, err = meter.Int64ObservableCounter(metricManagerBuildErrors,
		metric.WithDescription("Consumer scope builds that failed"))
	logMetricError(metricManagerBuildErrors, err)

	instruments := collectObservables(reg.activeScopes, reg.builds, reg.buildErrors)
	if len(instruments) == 0 {
		return noOpCleanup()
	}

	registration, err := meter.RegisterCallback(reg.observe, instruments...)
	if err != nil {
		logMetricError("manager_metrics_callback", err)
		return noOpCleanup()
	}

	return func() {
		if err := registration.Unregister(); err != nil {
			logMetricError("manager_metrics_unregister", err)
		}
	}
}

// IsInitialized returns true if metrics have been initialized.
func IsInitialized() bool {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()
	return metricsInited
}

// ResetForTesting drops the cached meter so a test can install its own
// MeterProvider.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	meter = nil
	requestDuration = nil
	attemptCounter = nil
	retryCounter = nil
	metricsInited = false
	meterOnce = sync.Once{}
}
