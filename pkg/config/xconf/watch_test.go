package xconf

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlockkit/pkg/reactive/xref"
)

func TestWatch_Unsupported(t *testing.T) {
	cfg, err := NewFromBytes([]byte(testYAML), FormatYAML)
	require.NoError(t, err)
	_, err = Watch(cfg, nil)
	assert.ErrorIs(t, err, ErrWatchUnsupported)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "config.yaml", testYAML)
	cfg, err := New(path)
	require.NoError(t, err)

	var mu sync.Mutex
	var calls int
	var lastErr error
	w, err := Watch(cfg, func(_ Config, err error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		lastErr = err
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	w.Start()
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("lock: {name: v2}"), 0o600))
	require.Eventually(t, func() bool {
		return cfg.Client().String("lock.name") == "v2"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.GreaterOrEqual(t, calls, 1)
	assert.NoError(t, lastErr)
	mu.Unlock()
}

func TestWatch_AtomicRename(t *testing.T) {
	path := writeFile(t, "config.yaml", testYAML)
	cfg, err := New(path)
	require.NoError(t, err)
	w, err := Watch(cfg, nil, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	defer func() { _ = w.Stop() }()

	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("lock: {name: renamed}"), 0o600))
	require.NoError(t, os.Rename(tmp, path))
	require.Eventually(t, func() bool {
		return cfg.Client().String("lock.name") == "renamed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_BindPushesIntoRef(t *testing.T) {
	path := writeFile(t, "config.yaml", testYAML)
	cfg, err := New(path)
	require.NoError(t, err)

	name := xref.New(cfg.Client().String("lock.name"))
	var seen []string
	var mu sync.Mutex
	stop := name.Watch(func(v, _ string) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	defer stop()

	lockName := func(c Config) string { return c.Client().String("lock.name") }
	w, err := Watch(cfg, Chain(Bind(name, lockName), nil), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	defer func() { _ = w.Stop() }()

	// 解析失败不改变 ref
	require.NoError(t, os.WriteFile(path, []byte("lock: [broken"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "jobs-leader", name.Get())

	require.NoError(t, os.WriteFile(path, []byte("lock: {name: leader-v2}"), 0o600))
	require.Eventually(t, func() bool { return name.Get() == "leader-v2" }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"leader-v2"}, seen)
	mu.Unlock()
}

func TestWatch_StopIdempotentAndInCallback(t *testing.T) {
	path := writeFile(t, "config.yaml", testYAML)
	cfg, err := New(path)
	require.NoError(t, err)

	stopped := make(chan struct{})
	var once sync.Once
	var w *Watcher
	w, err = Watch(cfg, func(Config, error) {
		assert.NoError(t, w.Stop())
		once.Do(func() { close(stopped) })
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	w.Start()

	require.NoError(t, os.WriteFile(path, []byte("lock: {name: x}"), 0o600))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
	assert.NoError(t, w.Stop())
	w.Start()
}

func TestWatch_StopBeforeStart(t *testing.T) {
	cfg, err := New(writeFile(t, "config.yaml", testYAML))
	require.NoError(t, err)
	w, err := Watch(cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}

func TestBind_NilSafe(t *testing.T) {
	cfg, err := NewFromBytes([]byte(testYAML), FormatYAML)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		Bind[string](nil, nil)(cfg, nil)
		Chain()(cfg, nil)
	})
}
