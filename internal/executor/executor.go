// Package executor runs one planned operation end to end: context
// acquisition with proxy failover, session fast-path or credential login,
// and the interaction sequence. Infra failures rotate the candidate queue;
// account failures terminate the operation and update the account record.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
)

// LoginRunner executes one full login flow for an account.
type LoginRunner interface {
	Run(ctx context.Context, account schemas.Account) schemas.LoginResult
}

// FlowFactory builds the site-interaction surface over a freshly acquired
// page.
type FlowFactory func(page schemas.PageDriver) schemas.SiteFlow

// LoginFactory builds a login runner bound to a page and its flow surface.
type LoginFactory func(flow schemas.SiteFlow, page schemas.PageDriver) LoginRunner

// loginFailedError carries the machine-readable login failure tag so the
// operation boundary can persist the account status it maps to.
type loginFailedError struct {
	failure schemas.LoginFailure
	details string
}

func (e *loginFailedError) Error() string {
	return fmt.Sprintf("login failed: %s: %s", e.failure, e.details)
}

// Executor runs operations against the browser pool.
type Executor struct {
	pool     schemas.BrowserPool
	accounts schemas.AccountRepository
	proxies  schemas.ProxyRepository
	sessions schemas.SessionRepository
	newFlow  FlowFactory
	newLogin LoginFactory
	logger   *zap.Logger

	// landingURL is the surface used for the session liveness check.
	landingURL string
	watch      schemas.WatchOptions
}

// New builds an executor over the given collaborators.
func New(
	pool schemas.BrowserPool,
	accounts schemas.AccountRepository,
	proxies schemas.ProxyRepository,
	sessions schemas.SessionRepository,
	newFlow FlowFactory,
	newLogin LoginFactory,
	landingURL string,
	watch schemas.WatchOptions,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		pool:       pool,
		accounts:   accounts,
		proxies:    proxies,
		sessions:   sessions,
		newFlow:    newFlow,
		newLogin:   newLogin,
		landingURL: landingURL,
		watch:      watch,
		logger:     logger.Named("executor"),
	}
}

// candidateQueue orders the network paths to try: the operation's own
// candidates first, then the task's remaining proxies, then a direct entry
// when the task allows one. The empty string is the direct connection.
func candidateQueue(op schemas.Operation, task schemas.Task) []string {
	seen := make(map[string]bool, len(op.ProxyCandidates)+len(task.ProxyIDs))
	queue := make([]string, 0, len(op.ProxyCandidates)+len(task.ProxyIDs)+1)

	for _, id := range op.ProxyCandidates {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, id)
	}
	for _, id := range task.ProxyIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, id)
	}
	if task.AllowDirect {
		queue = append(queue, "")
	}
	return queue
}

// Run executes one operation, trying each proxy candidate in order until
// the interaction sequence completes or a terminal failure occurs.
func (e *Executor) Run(ctx context.Context, op schemas.Operation, task schemas.Task) schemas.OperationResult {
	result := schemas.OperationResult{OperationID: op.ID, AccountID: op.AccountID}
	log := e.logger.With(zap.String("operation_id", op.ID), zap.String("account_id", op.AccountID))

	var account schemas.Account
	if !op.Anonymous() {
		var err error
		account, err = e.accounts.Get(ctx, op.AccountID)
		if err != nil {
			result.Error = fmt.Sprintf("account lookup: %v", err)
			return result
		}
	}

	var lastErr error
	for _, candidateID := range candidateQueue(op, task) {
		if err := ctx.Err(); err != nil {
			result.Error = fmt.Sprintf("cancelled: %v", err)
			return result
		}

		proxy, err := e.resolveProxy(ctx, candidateID)
		if err != nil {
			log.Warn("Skipping unresolvable proxy candidate", zap.String("proxy_id", candidateID), zap.Error(err))
			lastErr = err
			continue
		}

		attempt, err := e.runOnCandidate(ctx, op, task, account, proxy)
		if err == nil {
			return attempt
		}
		lastErr = err

		switch schemas.Classify(err) {
		case schemas.ClassInfra:
			e.markProxyError(ctx, proxy)
			log.Info("Infra failure, rotating proxy candidate",
				zap.String("proxy_id", candidateID), zap.Error(err))
			continue
		case schemas.ClassAccount:
			e.persistLoginFailure(ctx, account, err)
			result.Error = err.Error()
			return result
		default:
			result.Error = err.Error()
			return result
		}
	}

	if lastErr != nil {
		result.Error = fmt.Sprintf("all proxy candidates failed: %v", lastErr)
	} else {
		result.Error = "no proxy candidates available"
	}
	return result
}

// resolveProxy maps a candidate id to its record; the empty id is a direct
// connection and resolves to nil.
func (e *Executor) resolveProxy(ctx context.Context, id string) (*schemas.Proxy, error) {
	if id == "" {
		return nil, nil
	}
	proxy, err := e.proxies.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", id, err)
	}
	return &proxy, nil
}

// runOnCandidate owns exactly one acquire/release pair. The release runs
// on every exit path, a panic in the interaction sequence included.
func (e *Executor) runOnCandidate(
	ctx context.Context,
	op schemas.Operation,
	task schemas.Task,
	account schemas.Account,
	proxy *schemas.Proxy,
) (result schemas.OperationResult, err error) {
	handle, err := e.pool.Acquire(ctx, proxy)
	if err != nil {
		return result, err
	}
	defer e.pool.Release(handle)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Operation panicked", zap.String("operation_id", op.ID), zap.Any("panic", r))
			err = fmt.Errorf("operation panic: %v", r)
		}
	}()

	result = schemas.OperationResult{OperationID: op.ID, AccountID: op.AccountID}
	flow := e.newFlow(handle.Page())

	if !op.Anonymous() {
		if err := e.authenticate(ctx, flow, handle.Page(), account); err != nil {
			return result, err
		}
	}

	return e.interact(ctx, flow, op, task, result)
}

// authenticate tries the cached session first and falls back to exactly
// one credential login when the session is absent or rejected.
func (e *Executor) authenticate(ctx context.Context, flow schemas.SiteFlow, page schemas.PageDriver, account schemas.Account) error {
	if ok, err := e.trySessionFastPath(ctx, flow, page, account); err != nil {
		return err
	} else if ok {
		return nil
	}

	if !account.HasCredentials() {
		return schemas.AccountError(&loginFailedError{
			failure: schemas.FailureUnknown,
			details: "no live session and no credentials to fall back on",
		})
	}

	lr := e.newLogin(flow, page).Run(ctx, account)
	if !lr.OK {
		return schemas.AccountError(&loginFailedError{failure: lr.Failure, details: lr.Details})
	}

	if lr.Session != nil {
		if err := e.sessions.Save(ctx, lr.Session); err != nil {
			e.logger.Warn("Session persist failed", zap.String("account_id", account.ID), zap.Error(err))
		} else {
			account.HasSession = true
		}
	}
	account.Status = schemas.AccountValid
	account.LastVerifiedAt = time.Now().UTC()
	if err := e.accounts.Save(ctx, account); err != nil {
		e.logger.Warn("Account update failed", zap.String("account_id", account.ID), zap.Error(err))
	}
	return nil
}

// trySessionFastPath restores a stored session and verifies it is still
// authenticated on the landing surface. A dead network path surfaces as an
// infra error; a rejected session is deleted and reported as not-ok so the
// caller falls back to credentials.
func (e *Executor) trySessionFastPath(ctx context.Context, flow schemas.SiteFlow, page schemas.PageDriver, account schemas.Account) (bool, error) {
	session, err := e.sessions.Load(ctx, account.ID)
	if err != nil {
		if !errors.Is(err, schemas.ErrNotFound) {
			e.logger.Warn("Session load failed", zap.String("account_id", account.ID), zap.Error(err))
		}
		return false, nil
	}

	if err := page.SetCookies(ctx, session.Cookies); err != nil {
		return false, err
	}
	if err := flow.Navigate(ctx, e.landingURL); err != nil {
		return false, err
	}
	if err := page.RestoreStorage(ctx, session.Storage); err != nil {
		e.logger.Debug("Storage restore failed, continuing on cookies alone", zap.Error(err))
	}

	live, err := flow.AuthIndicatorPresent(ctx)
	if err != nil {
		return false, err
	}
	if live {
		e.logger.Debug("Session fast-path accepted", zap.String("account_id", account.ID))
		return true, nil
	}

	e.logger.Info("Stored session rejected, falling back to credentials",
		zap.String("account_id", account.ID))
	if err := e.sessions.Delete(ctx, account.ID); err != nil && !errors.Is(err, schemas.ErrNotFound) {
		e.logger.Warn("Stale session delete failed", zap.Error(err))
	}
	return false, nil
}

// interact performs the ordered engagement sequence. Like and comment are
// independent sub-steps: their failures are recorded, not fatal.
func (e *Executor) interact(
	ctx context.Context,
	flow schemas.SiteFlow,
	op schemas.Operation,
	task schemas.Task,
	result schemas.OperationResult,
) (schemas.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := flow.WarmUp(ctx); err != nil {
		if schemas.Classify(err) == schemas.ClassInfra {
			return result, err
		}
		result.SubStepErrors = append(result.SubStepErrors, fmt.Sprintf("warm-up: %v", err))
	}

	if err := flow.OpenVideo(ctx, task.VideoTarget); err != nil {
		return result, err
	}

	opts := e.watch
	opts.Slow = task.SlowPlayback
	if err := flow.Watch(ctx, opts); err != nil {
		return result, err
	}
	result.Viewed = true

	if op.ShouldLike {
		if err := flow.Like(ctx); err != nil {
			result.SubStepErrors = append(result.SubStepErrors, fmt.Sprintf("like: %v", err))
		} else {
			result.Liked = true
		}
	}

	if op.ShouldComment && op.CommentText != "" {
		if err := flow.Comment(ctx, op.CommentText); err != nil {
			result.SubStepErrors = append(result.SubStepErrors, fmt.Sprintf("comment: %v", err))
		} else {
			result.Commented = true
		}
	}

	return result, nil
}

// markProxyError records a dead network path. The direct entry has no
// record to mark.
func (e *Executor) markProxyError(ctx context.Context, proxy *schemas.Proxy) {
	if proxy == nil {
		return
	}
	proxy.Status = schemas.ProxyError
	if err := e.proxies.Save(ctx, *proxy); err != nil {
		e.logger.Warn("Proxy status update failed", zap.String("proxy_id", proxy.ID), zap.Error(err))
	}
}

// persistLoginFailure maps a terminal login failure onto the account's
// stored status for future scheduling decisions.
func (e *Executor) persistLoginFailure(ctx context.Context, account schemas.Account, err error) {
	if account.ID == "" {
		return
	}
	var lf *loginFailedError
	if !errors.As(err, &lf) {
		return
	}
	account.Status = schemas.AccountStatusFor(lf.failure)
	if saveErr := e.accounts.Save(ctx, account); saveErr != nil {
		e.logger.Warn("Account status persist failed", zap.String("account_id", account.ID), zap.Error(saveErr))
	}
}
