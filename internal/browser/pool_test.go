package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	return NewPool(zaptest.NewLogger(t), config.BrowserConfig{Headless: true}, 45*time.Second, nil)
}

// addFakeHandle registers a handle backed by counting cancel funcs instead
// of a live browser process.
func addFakeHandle(p *Pool, id string, tabCancels, allocCancels *int) *Handle {
	h := &Handle{
		id:          id,
		tabCancel:   func() { *tabCancels++ },
		allocCancel: func() { *allocCancels++ },
	}
	p.mu.Lock()
	p.handles[id] = h
	p.mu.Unlock()
	return h
}

func TestReleaseExactlyOnce(t *testing.T) {
	p := newTestPool(t)

	var tabCancels, allocCancels int
	h := addFakeHandle(p, "h1", &tabCancels, &allocCancels)
	assert.Equal(t, 1, p.Outstanding())

	p.Release(h)
	p.Release(h)
	p.Release(h)

	assert.Equal(t, 1, tabCancels, "tab teardown must run exactly once")
	assert.Equal(t, 1, allocCancels, "process teardown must run exactly once")
	assert.Equal(t, 0, p.Outstanding())
}

func TestReleaseSurvivesTeardownPanic(t *testing.T) {
	p := newTestPool(t)

	var allocCancels int
	h := &Handle{
		id:          "h2",
		tabCancel:   func() { panic("tab already gone") },
		allocCancel: func() { allocCancels++ },
	}
	p.mu.Lock()
	p.handles[h.id] = h
	p.mu.Unlock()

	assert.NotPanics(t, func() { p.Release(h) })
	assert.Equal(t, 1, allocCancels, "process teardown still runs after tab teardown panics")
	assert.Equal(t, 0, p.Outstanding())
}

func TestReleaseNilAndForeignHandles(t *testing.T) {
	p := newTestPool(t)

	assert.NotPanics(t, func() { p.Release(nil) })
	assert.NotPanics(t, func() { p.Release(foreignHandle{}) })
}

type foreignHandle struct{}

func (foreignHandle) ID() string               { return "foreign" }
func (foreignHandle) Page() schemas.PageDriver { return nil }

func TestCleanupReleasesAllOutstanding(t *testing.T) {
	p := newTestPool(t)

	var tabCancels, allocCancels int
	for i := 0; i < 5; i++ {
		addFakeHandle(p, fmt.Sprintf("h%d", i), &tabCancels, &allocCancels)
	}
	assert.Equal(t, 5, p.Outstanding())

	p.Cleanup()

	assert.Equal(t, 5, tabCancels)
	assert.Equal(t, 5, allocCancels)
	assert.Equal(t, 0, p.Outstanding())
}

func TestClassifyNavError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want error
	}{
		{"nil error", nil, nil},
		{"proxy tunnel failure", errors.New(`page load error net::ERR_TUNNEL_CONNECTION_FAILED`), schemas.ErrProxyDead},
		{"dns failure", errors.New(`page load error net::ERR_NAME_NOT_RESOLVED`), schemas.ErrProxyDead},
		{"connection reset", errors.New(`page load error net::ERR_CONNECTION_RESET`), schemas.ErrProxyDead},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNavError(tc.err)
			if tc.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.want)
		})
	}
}

func TestClassifyNavErrorTimeoutIsInfra(t *testing.T) {
	got := classifyNavError(fmt.Errorf("run: %w", context.DeadlineExceeded))
	assert.Equal(t, schemas.ClassInfra, schemas.Classify(got))
}

func TestClassifyNavErrorPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("element not found")
	got := classifyNavError(boom)
	assert.ErrorIs(t, got, boom)
	assert.Equal(t, schemas.ClassUnknown, schemas.Classify(got))
}
