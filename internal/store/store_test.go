package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestAccountStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save upserts all columns", func(t *testing.T) {
		s, mockPool := newMockStore(t)

		account := schemas.Account{
			ID:       "user@example.com",
			AuthType: schemas.AuthCredentials,
			Login:    "user@example.com",
			Secret:   "hunter2",
			Status:   schemas.AccountValid,
		}
		mockPool.ExpectExec("INSERT INTO accounts").
			WithArgs(account.ID, "credentials", account.Login, account.Secret,
				"", "valid", false, account.LastVerifiedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Accounts().Save(ctx, account))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("get maps row onto the account", func(t *testing.T) {
		s, mockPool := newMockStore(t)

		verified := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		rows := pgxmock.NewRows([]string{
			"id", "auth_type", "login", "secret", "assigned_proxy",
			"status", "has_session", "last_verified_at",
		}).AddRow("acc-1", "credentials", "user@example.com", "hunter2", "p1",
			"blocked", true, verified)
		mockPool.ExpectQuery("FROM accounts WHERE id").
			WithArgs("acc-1").WillReturnRows(rows)

		account, err := s.Accounts().Get(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, schemas.AccountBlocked, account.Status)
		assert.Equal(t, schemas.AuthCredentials, account.AuthType)
		assert.Equal(t, "p1", account.AssignedProxyID)
		assert.True(t, account.HasSession)
		assert.Equal(t, verified, account.LastVerifiedAt)
	})

	t.Run("get reports missing accounts", func(t *testing.T) {
		s, mockPool := newMockStore(t)

		mockPool.ExpectQuery("FROM accounts WHERE id").
			WithArgs("ghost").
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		_, err := s.Accounts().Get(ctx, "ghost")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestProxyStore(t *testing.T) {
	ctx := context.Background()

	t.Run("status round-trips through save", func(t *testing.T) {
		s, mockPool := newMockStore(t)

		proxy := schemas.Proxy{
			ID: "10.0.0.1:8080", Scheme: "socks5", Host: "10.0.0.1",
			Port: 8080, Status: schemas.ProxyError,
		}
		mockPool.ExpectExec("INSERT INTO proxies").
			WithArgs(proxy.ID, "socks5", "10.0.0.1", 8080, "", "", "error").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Proxies().Save(ctx, proxy))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("load decodes the stored blob", func(t *testing.T) {
		s, mockPool := newMockStore(t)

		session := schemas.Session{
			AccountID:  "acc-1",
			Cookies:    []schemas.Cookie{{Name: "remixsid", Value: "v"}},
			CapturedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}
		blob, err := json.Marshal(session)
		require.NoError(t, err)

		mockPool.ExpectQuery("SELECT blob FROM sessions").
			WithArgs("acc-1").
			WillReturnRows(pgxmock.NewRows([]string{"blob"}).AddRow(blob))

		got, err := s.Sessions().Load(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, session, *got)
	})

	t.Run("delete of a missing session reports not found", func(t *testing.T) {
		s, mockPool := newMockStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions")).
			WithArgs("ghost").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := s.Sessions().Delete(ctx, "ghost")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}
