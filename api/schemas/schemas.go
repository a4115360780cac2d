// Package schemas defines the shared data model and the interfaces that
// decouple the orchestrator from the browser engine, the persistence layer
// and the captcha provider.
package schemas

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// -- Accounts --

// AccountStatus tracks scheduling eligibility of an account.
type AccountStatus string

const (
	AccountUnverified AccountStatus = "unverified"
	AccountValid      AccountStatus = "valid"
	AccountInvalid    AccountStatus = "invalid"
	AccountBlocked    AccountStatus = "blocked"
)

// AuthType describes how an account can authenticate.
type AuthType string

const (
	AuthCredentials AuthType = "credentials"
	AuthSessionOnly AuthType = "session-only"
)

// Account is one imported identity. The orchestrator mutates Status,
// HasSession and LastVerifiedAt; it never deletes accounts.
type Account struct {
	ID              string        `json:"id"`
	AuthType        AuthType      `json:"auth_type"`
	Login           string        `json:"login,omitempty"`
	Secret          string        `json:"secret,omitempty"`
	AssignedProxyID string        `json:"assigned_proxy_id,omitempty"`
	Status          AccountStatus `json:"status"`
	HasSession      bool          `json:"has_session"`
	LastVerifiedAt  time.Time     `json:"last_verified_at,omitempty"`
}

// HasCredentials reports whether a full login flow can be attempted.
func (a Account) HasCredentials() bool {
	return a.AuthType == AuthCredentials && a.Login != "" && a.Secret != ""
}

// -- Proxies --

// ProxyStatus tracks connection health of a proxy record.
type ProxyStatus string

const (
	ProxyActive   ProxyStatus = "active"
	ProxyError    ProxyStatus = "error"
	ProxyUntested ProxyStatus = "untested"
)

// Proxy is one upstream network path. Failover marks it ProxyError on a
// failed connection attempt; the core never mutates it otherwise.
type Proxy struct {
	ID       string      `json:"id"`
	Scheme   string      `json:"scheme"`
	Host     string      `json:"host"`
	Port     int         `json:"port"`
	Username string      `json:"username,omitempty"`
	Password string      `json:"password,omitempty"`
	Status   ProxyStatus `json:"status"`
}

// URL renders the proxy in the form the browser launcher expects.
func (p Proxy) URL() string {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, p.Host, p.Port)
}

// -- Sessions --

// Cookie is the persisted subset of a browser cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
}

// StorageSnapshot captures web storage for one origin.
type StorageSnapshot struct {
	Local   map[string]string `json:"local,omitempty"`
	Session map[string]string `json:"session,omitempty"`
}

// Session is the persisted authentication state of exactly one account.
// It is only ever written after a login flow reaches its success state.
type Session struct {
	AccountID  string          `json:"account_id"`
	Cookies    []Cookie        `json:"cookies"`
	Storage    StorageSnapshot `json:"storage"`
	CapturedAt time.Time       `json:"captured_at"`
}

// -- Tasks and operations --

// VideoTarget identifies the resource to engage with, either directly or
// through an on-site search.
type VideoTarget struct {
	URL         string `json:"url,omitempty"`
	SearchQuery string `json:"search_query,omitempty"`
}

// Task is one user-submitted engagement request. It is immutable once an
// operation plan has been derived from it.
type Task struct {
	VideoTarget       VideoTarget `json:"video_target"`
	Views             int         `json:"views"`
	Likes             int         `json:"likes"`
	Comments          int         `json:"comments"`
	AccountIDs        []string    `json:"account_ids"`
	ProxyIDs          []string    `json:"proxy_ids"`
	CommentTexts      []string    `json:"comment_texts,omitempty"`
	AllowDirect       bool        `json:"allow_direct"`
	SlowPlayback      bool        `json:"slow_playback"`
	AnonymousWatchers int         `json:"anonymous_watchers"`
	MaxConcurrency    int         `json:"max_concurrency"`
}

// Operation is one planned unit of work: one account (or none, for an
// anonymous watcher) engaging the target through an ordered list of proxy
// candidates. The empty candidate string means a direct connection.
type Operation struct {
	ID              string   `json:"id"`
	AccountID       string   `json:"account_id,omitempty"`
	ProxyCandidates []string `json:"proxy_candidates"`
	ShouldLike      bool     `json:"should_like"`
	ShouldComment   bool     `json:"should_comment"`
	CommentText     string   `json:"comment_text,omitempty"`
}

// Anonymous reports whether the operation runs without any account.
func (o Operation) Anonymous() bool { return o.AccountID == "" }

// OperationResult records the independent outcomes of one operation's
// sub-steps. A failed like or comment is recorded in SubStepErrors without
// failing the operation.
type OperationResult struct {
	OperationID   string   `json:"operation_id"`
	AccountID     string   `json:"account_id,omitempty"`
	Viewed        bool     `json:"viewed"`
	Liked         bool     `json:"liked"`
	Commented     bool     `json:"commented"`
	Error         string   `json:"error,omitempty"`
	SubStepErrors []string `json:"sub_step_errors,omitempty"`
}

// AggregateResult is the task-level rollup emitted by the scheduler.
type AggregateResult struct {
	Views     int               `json:"views"`
	Likes     int               `json:"likes"`
	Comments  int               `json:"comments"`
	Errors    int               `json:"errors"`
	Cancelled bool              `json:"cancelled"`
	Results   []OperationResult `json:"results"`
}

// Progress is one tick of the task-level progress stream.
type Progress struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Views    int    `json:"views"`
	Likes    int    `json:"likes"`
	Comments int    `json:"comments"`
	Errors   int    `json:"errors"`
}

// ProgressFunc receives progress ticks. Implementations must be fast; the
// scheduler calls it inline from the aggregation path.
type ProgressFunc func(Progress)

// -- Error taxonomy --

// ErrorClass partitions failures for retry decisions: infra errors rotate
// the proxy-candidate queue, account errors terminate the operation, and
// partial errors are recorded without failing it.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassInfra
	ClassAccount
	ClassPartial
)

// ErrLaunch marks a browser process that could not be started. It is an
// infra error: callers retry on another network path, never against the
// account.
var ErrLaunch = errors.New("browser launch failed")

// ErrProxyDead marks a network path that could not reach the target site.
var ErrProxyDead = errors.New("proxy unreachable")

// ClassifiedError wraps an error with its retry class.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// InfraError wraps err as a retryable infrastructure failure.
func InfraError(err error) error {
	return &ClassifiedError{Class: ClassInfra, Err: err}
}

// AccountError wraps err as a terminal account-attributed failure.
func AccountError(err error) error {
	return &ClassifiedError{Class: ClassAccount, Err: err}
}

// Classify returns the retry class of err. Launch and proxy sentinels are
// infra even when unwrapped.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, ErrLaunch) || errors.Is(err, ErrProxyDead) {
		return ClassInfra
	}
	return ClassUnknown
}

// -- Login outcome --

// LoginFailure is the machine-readable tag of a terminal login failure.
type LoginFailure string

const (
	FailureBlocked         LoginFailure = "blocked"
	FailureWrongCredential LoginFailure = "wrong_credential"
	FailureSmsOnly         LoginFailure = "sms_only"
	FailureTwoFactor       LoginFailure = "two_factor_required"
	FailureCaptcha         LoginFailure = "captcha_unresolved"
	FailureNoField         LoginFailure = "no_such_field"
	FailureUnknown         LoginFailure = "unknown"
)

// LoginResult is the tagged outcome of one full login flow. Session is set
// only when OK is true.
type LoginResult struct {
	OK      bool
	Failure LoginFailure
	Details string
	Session *Session
}

// AccountStatusFor maps a login failure onto the account status persisted
// for future scheduling decisions.
func AccountStatusFor(f LoginFailure) AccountStatus {
	switch f {
	case FailureBlocked:
		return AccountBlocked
	case FailureWrongCredential:
		return AccountInvalid
	default:
		return AccountUnverified
	}
}

// -- Repository interfaces --

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// AccountRepository persists accounts. Implementations must tolerate
// concurrent Save calls for distinct IDs (last writer wins per ID).
type AccountRepository interface {
	Get(ctx context.Context, id string) (Account, error)
	Save(ctx context.Context, account Account) error
	List(ctx context.Context) ([]Account, error)
}

// ProxyRepository persists proxy records.
type ProxyRepository interface {
	Get(ctx context.Context, id string) (Proxy, error)
	Save(ctx context.Context, proxy Proxy) error
	List(ctx context.Context) ([]Proxy, error)
}

// SessionRepository persists per-account session blobs.
type SessionRepository interface {
	Load(ctx context.Context, accountID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, accountID string) error
}

// -- Browser capability surface --

// PageDriver is the capability interface over one isolated browser page.
// The orchestrator depends only on this surface, never on a concrete
// automation engine.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	FindVisible(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Evaluate(ctx context.Context, script string, out any) error
	ReadCookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	SnapshotStorage(ctx context.Context) (StorageSnapshot, error)
	RestoreStorage(ctx context.Context, snapshot StorageSnapshot) error
}

// ContextHandle wraps one exclusive browser context acquired from the pool.
type ContextHandle interface {
	ID() string
	Page() PageDriver
}

// BrowserPool acquires and releases isolated browser contexts. Acquire
// never returns a context shared across accounts; Release tears down both
// the page and the underlying process best-effort.
type BrowserPool interface {
	Acquire(ctx context.Context, proxy *Proxy) (ContextHandle, error)
	Release(handle ContextHandle)
	Cleanup()
}

// -- Site adapter surface --

// LoginPage is the capability surface the login flow drives. How each
// affordance is located on the page is an implementation detail of the
// site adapter.
type LoginPage interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	AuthIndicatorPresent(ctx context.Context) (bool, error)
	OnAuthenticatedPath(ctx context.Context) (bool, error)
	ChallengePresent(ctx context.Context) (bool, error)
	DismissChallenge(ctx context.Context) error
	ChallengeImage(ctx context.Context) (string, error)
	SubmitChallengeAnswer(ctx context.Context, answer string) error
	EnterIdentifier(ctx context.Context, identifier string) error
	SubmitIdentifier(ctx context.Context) error
	ErrorText(ctx context.Context) (string, error)
	SecondFactorPromptPresent(ctx context.Context) (bool, error)
	SelectPasswordFallback(ctx context.Context) error
	PasswordFieldPresent(ctx context.Context) (bool, error)
	OneTimeCodePresent(ctx context.Context) (bool, error)
	EnterPassword(ctx context.Context, secret string) error
	SubmitPassword(ctx context.Context) error
	BlockedNoticePresent(ctx context.Context) (bool, error)
	WrongPasswordNoticePresent(ctx context.Context) (bool, error)
}

// WatchOptions tunes the dwell simulation for one view.
type WatchOptions struct {
	Slow     bool
	MinDwell time.Duration
	MaxDwell time.Duration
}

// SiteFlow is the site-interaction surface used by the executor after
// authentication is confirmed.
type SiteFlow interface {
	LoginPage
	WarmUp(ctx context.Context) error
	OpenVideo(ctx context.Context, target VideoTarget) error
	Watch(ctx context.Context, opts WatchOptions) error
	Like(ctx context.Context) error
	Comment(ctx context.Context, text string) error
}

// -- Captcha --

// CaptchaSolver resolves an image challenge to its answer text. The submit
// and poll mechanics are the provider client's concern.
type CaptchaSolver interface {
	Solve(ctx context.Context, imageBase64 string) (string, error)
}
