package vk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/browser/pacing"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
)

// fakePage is a scriptable PageDriver standing in for a live browser.
type fakePage struct {
	html        string
	bodyText    string
	currentURL  string
	visible     map[string]bool
	clickHits   []string
	typed       map[string]string
	clickByText bool
}

func newFakePage() *fakePage {
	return &fakePage{
		visible: make(map[string]bool),
		typed:   make(map[string]string),
	}
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.currentURL = url
	return nil
}
func (f *fakePage) CurrentURL(context.Context) (string, error) { return f.currentURL, nil }
func (f *fakePage) FindVisible(_ context.Context, sel string) (bool, error) {
	return f.visible[sel], nil
}
func (f *fakePage) Click(_ context.Context, sel string) error {
	f.clickHits = append(f.clickHits, sel)
	return nil
}
func (f *fakePage) Type(_ context.Context, sel, text string) error {
	f.typed[sel] = text
	return nil
}
func (f *fakePage) Evaluate(_ context.Context, script string, out any) error {
	switch {
	case strings.Contains(script, "outerHTML"):
		*(out.(*string)) = f.html
	case strings.Contains(script, "innerText"):
		*(out.(*string)) = f.bodyText
	case strings.Contains(script, "el.click()"):
		*(out.(*bool)) = f.clickByText
	case strings.Contains(script, "scrollBy"):
		// no-op
	case strings.Contains(script, "toDataURL"):
		*(out.(*string)) = "ZmFrZS1pbWFnZQ=="
	}
	return nil
}
func (f *fakePage) ReadCookies(context.Context) ([]schemas.Cookie, error)   { return nil, nil }
func (f *fakePage) SetCookies(context.Context, []schemas.Cookie) error      { return nil }
func (f *fakePage) SnapshotStorage(context.Context) (schemas.StorageSnapshot, error) {
	return schemas.StorageSnapshot{}, nil
}
func (f *fakePage) RestoreStorage(context.Context, schemas.StorageSnapshot) error { return nil }

func newTestAdapter(t *testing.T, page schemas.PageDriver) *Adapter {
	t.Helper()
	pace := pacing.NewProfile(config.PacingConfig{
		MinDwell: time.Millisecond,
		MaxDwell: 2 * time.Millisecond,
	})
	return New(page, zaptest.NewLogger(t), pace)
}

func TestAuthIndicatorPresent(t *testing.T) {
	page := newFakePage()
	adapter := newTestAdapter(t, page)

	present, err := adapter.AuthIndicatorPresent(context.Background())
	require.NoError(t, err)
	assert.False(t, present)

	page.visible["#top_profile_link"] = true
	present, err = adapter.AuthIndicatorPresent(context.Background())
	require.NoError(t, err)
	assert.True(t, present)
}

// The DOM indicator must be idempotent: two checks on an unchanged page
// agree.
func TestAuthIndicatorIdempotent(t *testing.T) {
	page := newFakePage()
	page.visible[".TopNavBtn__profileImg"] = true
	adapter := newTestAdapter(t, page)

	first, err := adapter.AuthIndicatorPresent(context.Background())
	require.NoError(t, err)
	second, err := adapter.AuthIndicatorPresent(context.Background())
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, first, second)
}

func TestOnAuthenticatedPath(t *testing.T) {
	testCases := []struct {
		url  string
		want bool
	}{
		{"https://vk.com/feed", true},
		{"https://vk.com/im", true},
		{"https://vk.com/id123456", true},
		{"https://vk.com/login", false},
		{"https://id.vk.com/auth", false},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			page := newFakePage()
			page.currentURL = tc.url
			adapter := newTestAdapter(t, page)

			got, err := adapter.OnAuthenticatedPath(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEnterIdentifierKnownSelector(t *testing.T) {
	page := newFakePage()
	page.visible["input[name='login']"] = true
	adapter := newTestAdapter(t, page)

	require.NoError(t, adapter.EnterIdentifier(context.Background(), "user@example.com"))
	assert.Equal(t, "user@example.com", page.typed["input[name='login']"])
}

func TestEnterIdentifierFallsBackToDiscovery(t *testing.T) {
	page := newFakePage()
	page.html = `<html><body><form>
		<input name="csrf" type="hidden">
		<input name="user_login" type="text" placeholder="Phone or email">
	</form></body></html>`
	adapter := newTestAdapter(t, page)

	require.NoError(t, adapter.EnterIdentifier(context.Background(), "79261234567"))
	assert.Equal(t, "79261234567", page.typed[`input[name="user_login"]`])
}

func TestEnterIdentifierNoFieldAnywhere(t *testing.T) {
	page := newFakePage()
	page.html = `<html><body><p>maintenance</p></body></html>`
	adapter := newTestAdapter(t, page)

	err := adapter.EnterIdentifier(context.Background(), "x")
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestErrorTextExtraction(t *testing.T) {
	page := newFakePage()
	page.html = `<html><body>
		<div class="box_error"> Неправильный логин или пароль </div>
	</body></html>`
	adapter := newTestAdapter(t, page)

	text, err := adapter.ErrorText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Неправильный логин или пароль", text)
}

func TestBlockedNotice(t *testing.T) {
	page := newFakePage()
	page.bodyText = "Ваша страница заблокирована за подозрительную активность"
	adapter := newTestAdapter(t, page)

	blocked, err := adapter.BlockedNoticePresent(context.Background())
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestSelectPasswordFallbackRequiresAffordance(t *testing.T) {
	page := newFakePage()
	page.clickByText = false
	adapter := newTestAdapter(t, page)

	err := adapter.SelectPasswordFallback(context.Background())
	assert.ErrorIs(t, err, ErrFieldNotFound)

	page.clickByText = true
	assert.NoError(t, adapter.SelectPasswordFallback(context.Background()))
}

func TestOpenVideoDirectURL(t *testing.T) {
	page := newFakePage()
	adapter := newTestAdapter(t, page)

	target := schemas.VideoTarget{URL: "https://vk.com/video-123_456"}
	require.NoError(t, adapter.OpenVideo(context.Background(), target))
	assert.Equal(t, "https://vk.com/video-123_456", page.currentURL)
}

func TestOpenVideoSearch(t *testing.T) {
	page := newFakePage()
	page.visible["a[href*='/video-']"] = true
	adapter := newTestAdapter(t, page)

	target := schemas.VideoTarget{SearchQuery: "cat video"}
	require.NoError(t, adapter.OpenVideo(context.Background(), target))
	assert.Contains(t, page.currentURL, "q=cat+video")
	assert.Equal(t, []string{"a[href*='/video-']"}, page.clickHits)
}

func TestOpenVideoEmptyTarget(t *testing.T) {
	adapter := newTestAdapter(t, newFakePage())
	err := adapter.OpenVideo(context.Background(), schemas.VideoTarget{})
	assert.Error(t, err)
}

func TestWatchHonorsCancellation(t *testing.T) {
	page := newFakePage()
	adapter := New(page, zaptest.NewLogger(t), pacing.NewProfile(config.PacingConfig{
		MinDwell: time.Hour,
		MaxDwell: time.Hour,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := adapter.Watch(ctx, schemas.WatchOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLikeRequiresControl(t *testing.T) {
	page := newFakePage()
	adapter := newTestAdapter(t, page)

	err := adapter.Like(context.Background())
	assert.ErrorIs(t, err, ErrFieldNotFound)

	page.visible[".like_btn.like"] = true
	require.NoError(t, adapter.Like(context.Background()))
	assert.Equal(t, []string{".like_btn.like"}, page.clickHits)
}

func TestCommentFlow(t *testing.T) {
	page := newFakePage()
	page.visible[".reply_field"] = true
	page.clickByText = true
	adapter := newTestAdapter(t, page)

	require.NoError(t, adapter.Comment(context.Background(), "great video"))
	assert.Equal(t, "great video", page.typed[".reply_field"])
}

func TestChallengeImage(t *testing.T) {
	page := newFakePage()
	adapter := newTestAdapter(t, page)

	image, err := adapter.ChallengeImage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ZmFrZS1pbWFnZQ==", image)
}
