package metricsource

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/sitewatch-dev/sitewatch-backend-go/internal/alerting"
)

// SystemSource samples live host metrics for rule evaluation. It backs
// the condition evaluator when no external metrics pipeline is wired.
type SystemSource struct {
	logger   *logrus.Logger
	diskPath string
}

// NewSystemSource creates a metrics source reading host statistics
func NewSystemSource(logger *logrus.Logger) *SystemSource {
	return &SystemSource{
		logger:   logger,
		diskPath: "/",
	}
}

// Sample returns the current aggregated value for a named metric. The
// time window is advisory here; host gauges are instantaneous reads.
func (s *SystemSource) Sample(ctx context.Context, metric string, window time.Duration) (alerting.MetricSample, error) {
	switch metric {
	case "cpu_usage":
		percentages, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return alerting.MetricSample{}, fmt.Errorf("reading cpu usage: %w", err)
		}
		if len(percentages) == 0 {
			return alerting.MetricSample{}, fmt.Errorf("no cpu usage data available")
		}
		return sample(percentages[0]), nil

	case "memory_usage":
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return alerting.MetricSample{}, fmt.Errorf("reading memory usage: %w", err)
		}
		return sample(vm.UsedPercent), nil

	case "disk_usage":
		usage, err := disk.UsageWithContext(ctx, s.diskPath)
		if err != nil {
			return alerting.MetricSample{}, fmt.Errorf("reading disk usage: %w", err)
		}
		return sample(usage.UsedPercent), nil

	case "load_1":
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return alerting.MetricSample{}, fmt.Errorf("reading load average: %w", err)
		}
		return sample(avg.Load1), nil

	case "goroutines":
		return sample(float64(runtime.NumGoroutine())), nil

	default:
		return alerting.MetricSample{}, fmt.Errorf("unknown metric %q", metric)
	}
}

func sample(value float64) alerting.MetricSample {
	return alerting.MetricSample{
		Value: value,
		Raw:   strconv.FormatFloat(value, 'f', -1, 64),
	}
}
