package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "eventharvest/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "queue": {"workers": 4, "backoff_base": "500ms", "backoff_max": "10s", "health": {"max_pending": 20}},
  "registry": {"max_sources": 200, "validate_on_add": true, "probe_timeout": "5s"},
  "collector": {"collect_schedule": "*/10 * * * *", "validate_schedule": "off"},
  "metrics": {"enabled": true},
  "sources": {"seed_file": "sources.json"}
}`

const sampleYAML = `
logging:
  level: info
queue:
  workers: 2
  job_timeout: 1m
registry:
  batch_size: 3
collector:
  collect_schedule: 30m
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", sampleJSON), logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	qc, err := cfg.Queue.Queue()
	require.NoError(t, err)
	assert.Equal(t, 4, qc.Workers)
	assert.Equal(t, 500*time.Millisecond, qc.BackoffBase)
	assert.Equal(t, 10*time.Second, qc.BackoffMax)
	assert.Equal(t, 20, qc.MaxPending)

	rc, err := cfg.Registry.Registry()
	require.NoError(t, err)
	assert.Equal(t, 200, rc.MaxSources)
	assert.True(t, rc.ValidateOnAdd)
	assert.Equal(t, 5*time.Second, rc.ProbeTimeout)

	addr, path := cfg.Metrics.Endpoint()
	assert.Equal(t, DefaultMetricsAddr, addr)
	assert.Equal(t, DefaultMetricsPath, path)
	assert.Equal(t, "debug", cfg.Logging.Logx().Level)
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML), logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)

	qc, err := cfg.Queue.Queue()
	require.NoError(t, err)
	assert.Equal(t, 2, qc.Workers)
	assert.Equal(t, time.Minute, qc.JobTimeout)

	cc, err := cfg.Collector.Collector()
	require.NoError(t, err)
	assert.Equal(t, "30m", cc.CollectSchedule)
	assert.Empty(t, cc.ValidateSchedule)
	assert.Equal(t, 3, cfg.Registry.BatchSize)
}

func TestDecodeIsStrict(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"queue": {"workerz": 1}}`))
	assert.ErrorContains(t, err, "workerz")

	_, err = Decode("c.json", []byte(`{} {}`))
	assert.ErrorContains(t, err, "trailing data")

	_, err = Decode("c.yml", []byte("queue:\n  bogus: true\n"))
	assert.ErrorContains(t, err, "bogus")

	cfg, err := Decode("c.yaml", []byte(""))
	require.NoError(t, err)
	assert.Equal(t, Config{}, *cfg)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&Config{}))
	assert.Error(t, Validate(nil))

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"level", Config{Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
		{"workers", Config{Queue: QueueConfig{Workers: -1}}, "queue.workers"},
		{"duration", Config{Queue: QueueConfig{BackoffBase: "soon"}}, "queue.backoff_base"},
		{"negative", Config{Registry: RegistryConfig{BatchPause: "-1s"}}, "registry.batch_pause"},
		{"batch too large", Config{Registry: RegistryConfig{BatchSize: 20}}, "registry.batch_size"},
		{"batch pause too short", Config{Registry: RegistryConfig{BatchPause: "1ms"}}, "registry.batch_pause"},
		{"ratio", Config{Queue: QueueConfig{Health: HealthConfig{MaxFailureRatio: 1.5}}}, "max_failure_ratio"},
		{"schedule", Config{Collector: CollectorConfig{CollectSchedule: "61 * * * *"}}, "collector.collect_schedule"},
		{"metrics path", Config{Metrics: MetricsConfig{Path: "metrics"}}, "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, Validate(&tt.cfg), tt.want)
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"queue": {"job_timeout": "forever"}}`), logx.Nop())
	_, err := m.Load()
	assert.ErrorContains(t, err, "queue.job_timeout")
	assert.Nil(t, m.Get())
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Queue: QueueConfig{Workers: 2}}
	newCfg := &Config{
		Queue:     QueueConfig{Workers: 3},
		Collector: CollectorConfig{CollectSchedule: "5m"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"collector", "queue"}, changed)
	assert.NotEmpty(t, attrs)

	changed, attrs = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, attrs)
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("unused.json", logx.Nop())
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	m.publish(a)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"queue": {"workers": 1}}`)
	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"queue": {"workers": "x"}}`), 0o600))
	require.NoError(t, os.WriteFile(path, []byte(`{"queue": {"workers": 5}}`), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, 5, cfg.Queue.Workers)
		assert.Same(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestWatchBackoff(t *testing.T) {
	b := &watchBackoff{base: 100 * time.Millisecond, max: 300 * time.Millisecond}
	first := b.next()
	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.LessOrEqual(t, first, 150*time.Millisecond)
	b.next()
	third := b.next()
	assert.GreaterOrEqual(t, third, 300*time.Millisecond)
	assert.LessOrEqual(t, third, 450*time.Millisecond)
	b.reset()
	assert.Equal(t, 100*time.Millisecond, b.cur)
}
