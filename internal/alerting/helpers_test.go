package alerting

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeClock is a manually advanced clock for deterministic tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeHandler records payloads and can be told to fail a number of sends
type fakeHandler struct {
	mu          sync.Mutex
	channelType ChannelType
	failures    int
	alwaysFail  bool
	payloads    []Payload
}

func newFakeHandler(channelType ChannelType) *fakeHandler {
	return &fakeHandler{channelType: channelType}
}

func (h *fakeHandler) Type() ChannelType { return h.channelType }

func (h *fakeHandler) Send(ctx context.Context, payload *Payload, config *ChannelConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.payloads = append(h.payloads, *payload)
	if h.alwaysFail {
		return fmt.Errorf("transport down")
	}
	if h.failures > 0 {
		h.failures--
		return fmt.Errorf("transport down")
	}
	return nil
}

func (h *fakeHandler) sendCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

func (h *fakeHandler) lastPayload() (Payload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.payloads) == 0 {
		return Payload{}, false
	}
	return h.payloads[len(h.payloads)-1], true
}

// fakeSource serves canned metric samples and errors
type fakeSource struct {
	mu      sync.Mutex
	samples map[string]MetricSample
	errs    map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		samples: make(map[string]MetricSample),
		errs:    make(map[string]error),
	}
}

func (s *fakeSource) set(metric string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[metric] = MetricSample{Value: value, Raw: fmt.Sprintf("%g", value)}
}

func (s *fakeSource) setRaw(metric string, value float64, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[metric] = MetricSample{Value: value, Raw: raw}
}

func (s *fakeSource) fail(metric string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[metric] = err
}

func (s *fakeSource) Sample(ctx context.Context, metric string, window time.Duration) (MetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.errs[metric]; ok {
		return MetricSample{}, err
	}
	sample, ok := s.samples[metric]
	if !ok {
		return MetricSample{}, fmt.Errorf("metric %q not found", metric)
	}
	return sample, nil
}

// recordingSink captures alerts emitted by the evaluator
type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *recordingSink) CreateAlert(title, message string, severity Severity, source string, tags []string, metadata map[string]interface{}) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, Alert{
		Title:    title,
		Message:  message,
		Severity: severity,
		Source:   source,
		Tags:     tags,
		Metadata: metadata,
	})
	return fmt.Sprintf("sink-%d", len(s.alerts))
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func (s *recordingSink) last() (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.alerts) == 0 {
		return Alert{}, false
	}
	return s.alerts[len(s.alerts)-1], true
}

func enabledChannel(channelType ChannelType) ChannelConfig {
	return ChannelConfig{
		Type:    channelType,
		Enabled: true,
		Retry: RetryPolicy{
			MaxRetries:        3,
			RetryDelay:        10 * time.Millisecond,
			BackoffMultiplier: 1.0,
		},
	}
}
