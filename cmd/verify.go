package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/login"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/observability"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/vk"
)

var verifyAccountsFile string

// verifyCmd logs every account in without interacting, refreshing stored
// statuses and sessions so later runs can schedule around dead accounts.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify accounts by running the login flow without interacting.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.Get()
		logger := observability.GetLogger()

		components, err := NewComponents(ctx, cfg)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		if err := importInventory(ctx, components, verifyAccountsFile, ""); err != nil {
			return err
		}

		accounts, err := components.Accounts.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		if len(accounts) == 0 {
			return fmt.Errorf("no accounts to verify")
		}

		valid, failed := 0, 0
		for _, account := range accounts {
			if ctx.Err() != nil {
				logger.Info("Verification cancelled", zap.Int("remaining", len(accounts)-valid-failed))
				break
			}
			if !account.HasCredentials() {
				logger.Debug("Skipping account without credentials", zap.String("account_id", account.ID))
				continue
			}

			if err := verifyAccount(ctx, components, account); err != nil {
				failed++
				logger.Warn("Account verification failed",
					zap.String("account_id", account.ID), zap.Error(err))
				continue
			}
			valid++
			logger.Info("Account verified", zap.String("account_id", account.ID))
		}

		logger.Info("Verification finished", zap.Int("valid", valid), zap.Int("failed", failed))
		if valid == 0 {
			return fmt.Errorf("no account passed verification")
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyAccountsFile, "accounts", "", "account import file (login:password per line)")
}

// verifyAccount runs one login flow on the account's assigned proxy, or
// directly when it has none, and persists the outcome.
func verifyAccount(ctx context.Context, c *Components, account schemas.Account) error {
	logger := observability.GetLogger()

	var proxy *schemas.Proxy
	if account.AssignedProxyID != "" {
		if p, err := c.Proxies.Get(ctx, account.AssignedProxyID); err == nil {
			proxy = &p
		} else {
			logger.Warn("Assigned proxy unavailable, verifying directly",
				zap.String("account_id", account.ID), zap.String("proxy_id", account.AssignedProxyID))
		}
	}

	handle, err := c.Pool.Acquire(ctx, proxy)
	if err != nil {
		return fmt.Errorf("failed to acquire browser context: %w", err)
	}
	defer c.Pool.Release(handle)

	flow := vk.New(handle.Page(), logger, c.Pace)
	machine := login.NewMachine(flow, handle.Page(), c.Solver, vk.LoginURL, logger)
	lr := machine.Run(ctx, account)

	account.LastVerifiedAt = time.Now().UTC()
	if lr.OK {
		account.Status = schemas.AccountValid
		if lr.Session != nil {
			if err := c.Sessions.Save(ctx, lr.Session); err != nil {
				logger.Warn("Session persist failed", zap.String("account_id", account.ID), zap.Error(err))
			} else {
				account.HasSession = true
			}
		}
	} else {
		account.Status = schemas.AccountStatusFor(lr.Failure)
		account.HasSession = false
	}

	if err := c.Accounts.Save(ctx, account); err != nil {
		return fmt.Errorf("failed to persist account status: %w", err)
	}
	if !lr.OK {
		return fmt.Errorf("%s: %s", lr.Failure, lr.Details)
	}
	return nil
}
