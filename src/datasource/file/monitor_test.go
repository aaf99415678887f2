package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFileMonitorFiresOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("Churn\nYes\n"), 0o644))

	monitor, err := NewFileMonitor(path, 20*time.Millisecond)
	require.NoError(t, err)
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- monitor.Watch(ctx, func(p string) { fired <- p })
	}()

	// 其他文件的变化不触发
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.csv"), []byte("x"), 0o644))

	require.NoError(t, os.WriteFile(path, []byte("Churn\nNo\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case got := <-fired:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
	assert.Empty(t, fired)
}

func TestFileMonitorMissingDir(t *testing.T) {
	_, err := NewFileMonitor(filepath.Join(t.TempDir(), "nope", "data.csv"), time.Millisecond)
	assert.Error(t, err)
}
