// Package vk is the site adapter: it implements the login-page and
// site-flow capability surfaces for vk.com. Every selector and piece of
// on-page text knowledge is confined to this package.
package vk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/browser/pacing"
)

const (
	// BaseURL is the authenticated landing surface.
	BaseURL = "https://vk.com"
	// LoginURL is the entry point of the auth flow.
	LoginURL = "https://vk.com/login"
	// FeedURL is the warm-up surface.
	FeedURL = "https://vk.com/feed"
)

// authIndicatorSelectors mark an authenticated page: the top-bar profile
// affordance survives redesigns better than any URL shape.
var authIndicatorSelectors = []string{
	"#top_profile_link",
	"[data-testid='top_profile_link']",
	".TopNavBtn__profileImg",
	"#l_pr a",
}

// authenticatedPaths is the URL-based success heuristic. It is a fallback
// only: on a half-hydrated single-page app the URL can flip before the
// page is actually usable.
var authenticatedPaths = []string{"/feed", "/im", "/id", "/video"}

// Adapter drives vk.com through a PageDriver.
type Adapter struct {
	page   schemas.PageDriver
	logger *zap.Logger
	pace   *pacing.Profile
}

var _ schemas.SiteFlow = (*Adapter)(nil)

// New builds the adapter around one page.
func New(page schemas.PageDriver, logger *zap.Logger, pace *pacing.Profile) *Adapter {
	return &Adapter{
		page:   page,
		logger: logger.Named("vk"),
		pace:   pace,
	}
}

func (a *Adapter) Navigate(ctx context.Context, url string) error {
	return a.page.Navigate(ctx, url)
}

func (a *Adapter) CurrentURL(ctx context.Context) (string, error) {
	return a.page.CurrentURL(ctx)
}

// AuthIndicatorPresent checks the DOM-based logged-in signal.
func (a *Adapter) AuthIndicatorPresent(ctx context.Context) (bool, error) {
	sel, err := firstVisible(ctx, a.page, authIndicatorSelectors...)
	if err != nil {
		return false, err
	}
	return sel != "", nil
}

// OnAuthenticatedPath checks the URL-based heuristic.
func (a *Adapter) OnAuthenticatedPath(ctx context.Context) (bool, error) {
	loc, err := a.page.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	u, err := url.Parse(loc)
	if err != nil {
		return false, nil
	}
	for _, p := range authenticatedPaths {
		if len(u.Path) >= len(p) && u.Path[:len(p)] == p {
			return true, nil
		}
	}
	return false, nil
}

// -- Challenge handling --

var challengeSelectors = []string{
	".vk_captcha",
	"img.captcha_img",
	"[data-testid='captcha']",
	"#captcha",
}

func (a *Adapter) ChallengePresent(ctx context.Context) (bool, error) {
	sel, err := firstVisible(ctx, a.page, challengeSelectors...)
	if err != nil {
		return false, err
	}
	if sel != "" {
		return true, nil
	}
	return bodyContainsAny(ctx, a.page,
		"подтвердите, что вы не робот",
		"confirm that you are not a robot",
	)
}

// DismissChallenge clicks the challenge's continue affordance when one is
// offered without requiring an answer.
func (a *Adapter) DismissChallenge(ctx context.Context) error {
	clicked, err := clickByText(ctx, a.page, "continue", "продолжить", "я не робот")
	if err != nil {
		return err
	}
	if !clicked {
		return errors.New("no challenge continue affordance found")
	}
	return nil
}

// ChallengeImage renders the captcha image into a canvas and returns its
// base64 payload for the solver.
func (a *Adapter) ChallengeImage(ctx context.Context) (string, error) {
	const script = `(function() {
		const img = document.querySelector('img.captcha_img, .vk_captcha img, #captcha img');
		if (!img) return '';
		const canvas = document.createElement('canvas');
		canvas.width = img.naturalWidth;
		canvas.height = img.naturalHeight;
		canvas.getContext('2d').drawImage(img, 0, 0);
		return canvas.toDataURL('image/png').split(',')[1] || '';
	})()`

	var image string
	if err := a.page.Evaluate(ctx, script, &image); err != nil {
		return "", err
	}
	if image == "" {
		return "", errors.New("challenge image not found")
	}
	return image, nil
}

func (a *Adapter) SubmitChallengeAnswer(ctx context.Context, answer string) error {
	sel, err := firstVisible(ctx, a.page, "input[name='captcha_key']", "input.captcha_key")
	if err != nil {
		return err
	}
	if sel == "" {
		return fmt.Errorf("%w: captcha answer input", ErrFieldNotFound)
	}
	if err := a.page.Type(ctx, sel, answer); err != nil {
		return err
	}
	clicked, err := clickByText(ctx, a.page, "send", "отправить", "continue", "продолжить")
	if err != nil {
		return err
	}
	if !clicked {
		return errors.New("no captcha submit affordance found")
	}
	return nil
}

// -- Identifier step --

var identifierSelectors = []string{
	"input[name='login']",
	"input[type='tel']",
	"input[name='email']",
	"#index_email",
}

func (a *Adapter) EnterIdentifier(ctx context.Context, identifier string) error {
	sel, err := firstVisible(ctx, a.page, identifierSelectors...)
	if err != nil {
		return err
	}
	if sel == "" {
		// Known selectors missed; fall back to attribute discovery.
		sel, err = discoverInput(ctx, a.page, "login", "email", "tel", "phone")
		if err != nil {
			return err
		}
	}
	return a.page.Type(ctx, sel, identifier)
}

func (a *Adapter) SubmitIdentifier(ctx context.Context) error {
	clicked, err := clickByText(ctx, a.page, "sign in", "log in", "continue", "войти", "продолжить")
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%w: identifier submit affordance", ErrFieldNotFound)
	}
	return nil
}

// ErrorText returns the visible login error banner, or "".
func (a *Adapter) ErrorText(ctx context.Context) (string, error) {
	return visibleText(ctx, a.page,
		".vkc__EnterLogin__error",
		".vkuiFormField__error",
		".box_error",
		"[data-testid='login-error']",
	)
}

// -- Secondary verification --

func (a *Adapter) SecondFactorPromptPresent(ctx context.Context) (bool, error) {
	sel, err := firstVisible(ctx, a.page,
		"[data-testid='verification_method']",
		".vkc__ConfirmPhone__container",
		"input[autocomplete='one-time-code']",
	)
	if err != nil {
		return false, err
	}
	if sel != "" {
		return true, nil
	}
	return bodyContainsAny(ctx, a.page,
		"подтвердите вход",
		"confirm your identity",
		"verification code",
		"код подтверждения",
	)
}

// SelectPasswordFallback drives the verification chooser onto the password
// path: first dismiss any blocking overlay, then pick "use password". The
// password field underneath is not interactable until both happen.
func (a *Adapter) SelectPasswordFallback(ctx context.Context) error {
	// Overlay dismissal is best-effort; the chooser may render inline.
	if _, err := clickByText(ctx, a.page, "other ways", "другим способом", "выбрать другой способ"); err != nil {
		return err
	}

	clicked, err := clickByText(ctx, a.page, "password", "паролем", "по паролю")
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%w: password fallback option", ErrFieldNotFound)
	}
	return nil
}

var passwordSelectors = []string{
	"input[name='password']",
	"input[type='password']",
	"#index_pass",
}

func (a *Adapter) PasswordFieldPresent(ctx context.Context) (bool, error) {
	sel, err := firstVisible(ctx, a.page, passwordSelectors...)
	if err != nil {
		return false, err
	}
	return sel != "", nil
}

func (a *Adapter) OneTimeCodePresent(ctx context.Context) (bool, error) {
	sel, err := firstVisible(ctx, a.page,
		"input[autocomplete='one-time-code']",
		"input[name='otp']",
		"input[name='code']",
	)
	if err != nil {
		return false, err
	}
	return sel != "", nil
}

func (a *Adapter) EnterPassword(ctx context.Context, secret string) error {
	sel, err := firstVisible(ctx, a.page, passwordSelectors...)
	if err != nil {
		return err
	}
	if sel == "" {
		sel, err = discoverInput(ctx, a.page, "password", "pass")
		if err != nil {
			return err
		}
	}
	return a.page.Type(ctx, sel, secret)
}

func (a *Adapter) SubmitPassword(ctx context.Context) error {
	clicked, err := clickByText(ctx, a.page, "sign in", "log in", "continue", "войти", "продолжить")
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%w: password submit affordance", ErrFieldNotFound)
	}
	return nil
}

func (a *Adapter) BlockedNoticePresent(ctx context.Context) (bool, error) {
	return bodyContainsAny(ctx, a.page,
		"страница заблокирована",
		"аккаунт заблокирован",
		"account is blocked",
		"account has been suspended",
		"временно заблокирован",
	)
}

func (a *Adapter) WrongPasswordNoticePresent(ctx context.Context) (bool, error) {
	return bodyContainsAny(ctx, a.page,
		"неверный пароль",
		"неправильный логин или пароль",
		"incorrect password",
		"wrong password",
	)
}

// -- Site flow --

// WarmUp browses the feed with light scrolling before touching the target,
// so the session's first action is not a direct jump to a video.
func (a *Adapter) WarmUp(ctx context.Context) error {
	if err := a.page.Navigate(ctx, FeedURL); err != nil {
		return err
	}
	for _, offset := range a.pace.ScrollOffsets(6) {
		script := fmt.Sprintf("window.scrollBy(0, %.0f)", offset)
		if err := a.page.Evaluate(ctx, script, nil); err != nil {
			return err
		}
		if err := pacing.Hesitate(ctx, time.Duration(800+int(offset)%400)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// OpenVideo brings the player for the target video on screen, either by
// direct URL or through on-site search.
func (a *Adapter) OpenVideo(ctx context.Context, target schemas.VideoTarget) error {
	if target.URL != "" {
		return a.page.Navigate(ctx, target.URL)
	}
	if target.SearchQuery == "" {
		return errors.New("video target has neither url nor search query")
	}

	searchURL := BaseURL + "/video?q=" + url.QueryEscape(target.SearchQuery)
	if err := a.page.Navigate(ctx, searchURL); err != nil {
		return err
	}

	sel, err := firstVisible(ctx, a.page,
		"a[href*='/video-']",
		"a[href*='z=video']",
		".VideoCard a",
	)
	if err != nil {
		return err
	}
	if sel == "" {
		return fmt.Errorf("%w: no search result for %q", ErrFieldNotFound, target.SearchQuery)
	}
	return a.page.Click(ctx, sel)
}

// Watch dwells on the playing video for a randomized window, producing
// low-key scroll activity so the tab does not look parked.
func (a *Adapter) Watch(ctx context.Context, opts schemas.WatchOptions) error {
	dwell := a.pace.DwellWindow(opts.Slow)
	if opts.MinDwell > 0 && dwell < opts.MinDwell {
		dwell = opts.MinDwell
	}
	if opts.MaxDwell > 0 && dwell > opts.MaxDwell {
		dwell = opts.MaxDwell
	}
	a.logger.Debug("Watching", zap.Duration("dwell", dwell))

	const step = 5 * time.Second
	offsets := a.pace.ScrollOffsets(int(dwell/step) + 1)
	deadline := time.Now().Add(dwell)

	for i := 0; time.Now().Before(deadline); i++ {
		remaining := time.Until(deadline)
		pause := step
		if remaining < pause {
			pause = remaining
		}
		if err := pacing.Hesitate(ctx, pause); err != nil {
			return err
		}
		if i < len(offsets) {
			script := fmt.Sprintf("window.scrollBy(0, %.0f)", offsets[i]/4)
			if err := a.page.Evaluate(ctx, script, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Like presses the like control under the player.
func (a *Adapter) Like(ctx context.Context) error {
	sel, err := firstVisible(ctx, a.page,
		"[data-testid='video_like_button']",
		".like_btn.like",
		".PostButtonReactions__icon",
	)
	if err != nil {
		return err
	}
	if sel == "" {
		return fmt.Errorf("%w: like control", ErrFieldNotFound)
	}
	return a.page.Click(ctx, sel)
}

// Comment writes text into the comment box and sends it, with typing
// pacing applied by the driver.
func (a *Adapter) Comment(ctx context.Context, text string) error {
	sel, err := firstVisible(ctx, a.page,
		"[data-testid='comment_input']",
		".reply_field",
		"#reply_field",
	)
	if err != nil {
		return err
	}
	if sel == "" {
		return fmt.Errorf("%w: comment input", ErrFieldNotFound)
	}
	if err := a.page.Type(ctx, sel, text); err != nil {
		return err
	}

	clicked, err := clickByText(ctx, a.page, "send", "отправить")
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%w: comment send affordance", ErrFieldNotFound)
	}
	return nil
}
