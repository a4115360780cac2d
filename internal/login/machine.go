// Package login drives one account through the authentication flow as an
// explicit state machine over the site's login-page capability surface.
// It never retries the whole flow itself: that decision belongs to the
// executor, which owns proxy failover and the credential fallback.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/retry"
)

// State is one node of the login flow.
type State string

const (
	StateStart                State = "start"
	StateNavigatedHome        State = "navigated_home"
	StateChallengeCheck       State = "challenge_check"
	StateIdentifierEntered    State = "identifier_entered"
	StateSubmitted            State = "submitted"
	StateAwaitingSecondFactor State = "awaiting_second_factor"
	StateAltLoginSelected     State = "alt_login_selected"
	StatePasswordVisible      State = "password_visible"
	StatePasswordSubmitted    State = "password_submitted"
	StatePostSubmitChecks     State = "post_submit_checks"
	StateLoggedIn             State = "logged_in"
	StateFailed               State = "failed"
)

// Machine runs the login flow for one account on one page.
type Machine struct {
	page   schemas.LoginPage
	driver schemas.PageDriver
	solver schemas.CaptchaSolver
	logger *zap.Logger

	entryURL string
	state    State

	// Loop budgets; fixed defaults, narrowed only by tests.
	challengePasses    int
	challengeInterval  time.Duration
	postSubmitPasses   int
	postSubmitInterval time.Duration
}

// NewMachine builds a login machine. solver may be nil, in which case
// challenges that need an answer terminate in the captcha failure state.
func NewMachine(page schemas.LoginPage, driver schemas.PageDriver, solver schemas.CaptchaSolver, entryURL string, logger *zap.Logger) *Machine {
	return &Machine{
		page:     page,
		driver:   driver,
		solver:   solver,
		entryURL: entryURL,
		logger:   logger.Named("login"),
		state:    StateStart,

		challengePasses:    3,
		challengeInterval:  time.Second,
		postSubmitPasses:   6,
		postSubmitInterval: 2 * time.Second,
	}
}

func (m *Machine) transition(next State) {
	m.logger.Debug("Login state transition", zap.String("from", string(m.state)), zap.String("to", string(next)))
	m.state = next
}

func (m *Machine) fail(tag schemas.LoginFailure, details string) schemas.LoginResult {
	m.transition(StateFailed)
	m.logger.Info("Login failed",
		zap.String("failure", string(tag)),
		zap.String("details", details),
	)
	return schemas.LoginResult{Failure: tag, Details: details}
}

// Run executes the whole flow once and returns a tagged terminal result.
func (m *Machine) Run(ctx context.Context, account schemas.Account) schemas.LoginResult {
	if !account.HasCredentials() {
		return m.fail(schemas.FailureUnknown, "account has no usable credentials")
	}

	// Start → NavigatedHome.
	if err := m.page.Navigate(ctx, m.entryURL); err != nil {
		return m.fail(schemas.FailureUnknown, fmt.Sprintf("entry navigation failed: %v", err))
	}
	m.transition(StateNavigatedHome)

	// A live cached cookie set may mean the page is already authenticated.
	if ok, _ := m.confirmedLoggedIn(ctx, false); ok {
		return m.succeed(ctx, account)
	}

	// ChallengeCheck.
	m.transition(StateChallengeCheck)
	if result, terminal := m.resolveChallenges(ctx); terminal {
		return result
	}

	// IdentifierEntered.
	identifier, isPhone := ClassifyIdentifier(account.Login)
	m.logger.Debug("Identifier classified", zap.Bool("phone", isPhone))
	if err := m.page.EnterIdentifier(ctx, identifier); err != nil {
		return m.fail(schemas.FailureNoField, fmt.Sprintf("identifier field: %v", err))
	}
	m.transition(StateIdentifierEntered)

	if err := m.page.SubmitIdentifier(ctx); err != nil {
		return m.fail(schemas.FailureNoField, fmt.Sprintf("identifier submit: %v", err))
	}
	m.transition(StateSubmitted)

	// The three post-identifier branches, checked in priority order:
	// already authenticated, explicit error text, secondary verification.
	if ok, err := m.confirmedLoggedIn(ctx, false); err == nil && ok {
		return m.succeed(ctx, account)
	}

	if text, err := m.page.ErrorText(ctx); err == nil && text != "" {
		return m.fail(schemas.FailureWrongCredential, text)
	}

	secondFactor, err := m.page.SecondFactorPromptPresent(ctx)
	if err != nil {
		return m.fail(schemas.FailureUnknown, fmt.Sprintf("second-factor check: %v", err))
	}
	if secondFactor {
		m.transition(StateAwaitingSecondFactor)
		if result, terminal := m.selectPasswordPath(ctx); terminal {
			return result
		}
	}

	// PasswordVisible.
	visible, err := m.page.PasswordFieldPresent(ctx)
	if err != nil {
		return m.fail(schemas.FailureUnknown, fmt.Sprintf("password field check: %v", err))
	}
	if !visible {
		if otc, _ := m.page.OneTimeCodePresent(ctx); otc {
			return m.fail(schemas.FailureSmsOnly, "only a one-time-code widget is offered")
		}
		return m.fail(schemas.FailureNoField, "password field never became visible")
	}
	m.transition(StatePasswordVisible)

	if err := m.page.EnterPassword(ctx, account.Secret); err != nil {
		return m.fail(schemas.FailureNoField, fmt.Sprintf("password entry: %v", err))
	}
	if err := m.page.SubmitPassword(ctx); err != nil {
		return m.fail(schemas.FailureNoField, fmt.Sprintf("password submit: %v", err))
	}
	m.transition(StatePasswordSubmitted)

	return m.settle(ctx, account)
}

// resolveChallenges clears the robot-check interstitial with a bounded
// number of passes: dismiss, then solve, then re-check. Returns a terminal
// Blocked result when attempts are exhausted.
func (m *Machine) resolveChallenges(ctx context.Context) (schemas.LoginResult, bool) {
	present, err := m.page.ChallengePresent(ctx)
	if err != nil {
		return m.fail(schemas.FailureUnknown, fmt.Sprintf("challenge check: %v", err)), true
	}
	if !present {
		return schemas.LoginResult{}, false
	}

	var solveErr error
	err = retry.Poll(ctx, m.challengePasses, m.challengeInterval, func(ctx context.Context) (bool, error) {
		if err := m.page.DismissChallenge(ctx); err == nil {
			if present, err := m.page.ChallengePresent(ctx); err == nil && !present {
				return true, nil
			}
		}
		if solveErr = m.solveChallengeOnce(ctx); solveErr == nil {
			if present, err := m.page.ChallengePresent(ctx); err == nil && !present {
				return true, nil
			}
		}
		return false, nil
	})

	if err == nil {
		return schemas.LoginResult{}, false
	}
	if errors.Is(err, retry.ErrConditionNotMet) {
		if solveErr != nil {
			return m.fail(schemas.FailureCaptcha, fmt.Sprintf("challenge unresolved: %v", solveErr)), true
		}
		return m.fail(schemas.FailureBlocked, "challenge persisted after all resolution passes"), true
	}
	return m.fail(schemas.FailureUnknown, fmt.Sprintf("challenge resolution: %v", err)), true
}

func (m *Machine) solveChallengeOnce(ctx context.Context) error {
	if m.solver == nil {
		return errors.New("no solver configured")
	}
	image, err := m.page.ChallengeImage(ctx)
	if err != nil {
		return err
	}
	answer, err := m.solver.Solve(ctx, image)
	if err != nil {
		return err
	}
	return m.page.SubmitChallengeAnswer(ctx, answer)
}

// selectPasswordPath forces the verification chooser onto the password
// branch. Accepting a code-only path without exhausting the password
// option first is the one mistake this flow must not make.
func (m *Machine) selectPasswordPath(ctx context.Context) (schemas.LoginResult, bool) {
	if err := m.page.SelectPasswordFallback(ctx); err != nil {
		otc, otcErr := m.page.OneTimeCodePresent(ctx)
		if otcErr == nil && otc {
			return m.fail(schemas.FailureSmsOnly, "verification offers only a one-time code"), true
		}
		return m.fail(schemas.FailureTwoFactor, fmt.Sprintf("no password fallback available: %v", err)), true
	}
	m.transition(StateAltLoginSelected)
	return schemas.LoginResult{}, false
}

// settle runs the bounded post-submit loop: blocked, success and
// wrong-password checks in that order, then one challenge pass, until a
// terminal signal or the attempt budget runs out. A final explicit
// re-check with the URL fallback enabled runs before UnknownFailure.
func (m *Machine) settle(ctx context.Context, account schemas.Account) schemas.LoginResult {
	m.transition(StatePostSubmitChecks)

	var terminal *schemas.LoginResult
	var success bool

	err := retry.Poll(ctx, m.postSubmitPasses, m.postSubmitInterval, func(ctx context.Context) (bool, error) {
		if blocked, err := m.page.BlockedNoticePresent(ctx); err == nil && blocked {
			r := m.fail(schemas.FailureBlocked, "blocked notice after password submit")
			terminal = &r
			return true, nil
		}
		if ok, err := m.confirmedLoggedIn(ctx, false); err == nil && ok {
			success = true
			return true, nil
		}
		if wrong, err := m.page.WrongPasswordNoticePresent(ctx); err == nil && wrong {
			r := m.fail(schemas.FailureWrongCredential, "wrong-password notice after submit")
			terminal = &r
			return true, nil
		}
		if present, err := m.page.ChallengePresent(ctx); err == nil && present {
			if err := m.solveChallengeOnce(ctx); err != nil {
				m.logger.Debug("Post-submit challenge pass failed", zap.Error(err))
			}
		}
		return false, nil
	})

	switch {
	case terminal != nil:
		return *terminal
	case success:
		return m.succeed(ctx, account)
	case err != nil && !errors.Is(err, retry.ErrConditionNotMet):
		return m.fail(schemas.FailureUnknown, fmt.Sprintf("post-submit loop: %v", err))
	}

	// Budget exhausted: one last explicit pass before giving up.
	if blocked, err := m.page.BlockedNoticePresent(ctx); err == nil && blocked {
		return m.fail(schemas.FailureBlocked, "blocked notice on final re-check")
	}
	if ok, err := m.confirmedLoggedIn(ctx, true); err == nil && ok {
		return m.succeed(ctx, account)
	}
	if wrong, err := m.page.WrongPasswordNoticePresent(ctx); err == nil && wrong {
		return m.fail(schemas.FailureWrongCredential, "wrong-password notice on final re-check")
	}
	return m.fail(schemas.FailureUnknown, "no terminal signal after post-submit budget")
}

// confirmedLoggedIn is the double confirmation: the DOM indicator and the
// URL heuristic must agree. With allowURLFallback the URL alone is
// accepted, logged loudly, because on a half-hydrated page the indicator
// may genuinely not have rendered yet.
func (m *Machine) confirmedLoggedIn(ctx context.Context, allowURLFallback bool) (bool, error) {
	dom, err := m.page.AuthIndicatorPresent(ctx)
	if err != nil {
		return false, err
	}
	urlOK, err := m.page.OnAuthenticatedPath(ctx)
	if err != nil {
		return false, err
	}

	if dom && urlOK {
		return true, nil
	}
	if !dom && urlOK && allowURLFallback {
		m.logger.Warn("Accepting login on URL heuristic alone; DOM indicator absent")
		return true, nil
	}
	return false, nil
}

// succeed captures the session and returns the success terminal state.
// The session blob is built here and nowhere else, preserving the
// only-written-after-success invariant.
func (m *Machine) succeed(ctx context.Context, account schemas.Account) schemas.LoginResult {
	m.transition(StateLoggedIn)

	result := schemas.LoginResult{OK: true}
	cookies, err := m.driver.ReadCookies(ctx)
	if err != nil {
		m.logger.Warn("Logged in but cookie capture failed", zap.Error(err))
		result.Details = fmt.Sprintf("session capture failed: %v", err)
		return result
	}
	storage, err := m.driver.SnapshotStorage(ctx)
	if err != nil {
		m.logger.Warn("Logged in but storage capture failed", zap.Error(err))
		result.Details = fmt.Sprintf("session capture failed: %v", err)
		return result
	}

	result.Session = &schemas.Session{
		AccountID:  account.ID,
		Cookies:    cookies,
		Storage:    storage,
		CapturedAt: time.Now().UTC(),
	}
	m.logger.Info("Login succeeded", zap.String("account_id", account.ID))
	return result
}
