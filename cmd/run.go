package cmd

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/observability"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/store"
)

var (
	runTaskFile     string
	runAccountsFile string
	runProxiesFile  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute an engagement task from a task file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.Get()
		logger := observability.GetLogger()

		task, err := loadTask(runTaskFile)
		if err != nil {
			return err
		}
		if task.Views <= 0 && task.AnonymousWatchers <= 0 {
			return fmt.Errorf("task requests no work: views and anonymous_watchers are both zero")
		}

		components, err := NewComponents(ctx, cfg)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		if err := importInventory(ctx, components, runAccountsFile, runProxiesFile); err != nil {
			return err
		}
		if err := fillTaskPools(ctx, components, &task); err != nil {
			return err
		}

		result := components.Scheduler.Run(ctx, task, func(p schemas.Progress) {
			logger.Info("Progress",
				zap.Int("current", p.Current),
				zap.Int("total", p.Total),
				zap.String("status", p.Status),
				zap.Int("views", p.Views),
				zap.Int("likes", p.Likes),
				zap.Int("comments", p.Comments),
				zap.Int("errors", p.Errors),
			)
		})

		logger.Info("Task finished",
			zap.Int("views", result.Views),
			zap.Int("likes", result.Likes),
			zap.Int("comments", result.Comments),
			zap.Int("errors", result.Errors),
			zap.Bool("cancelled", result.Cancelled),
		)

		if result.Views == 0 && result.Errors > 0 {
			return fmt.Errorf("task produced no views across %d operations", result.Errors)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTaskFile, "task", "t", "", "task file (YAML)")
	runCmd.Flags().StringVar(&runAccountsFile, "accounts", "", "account import file (login:password per line)")
	runCmd.Flags().StringVar(&runProxiesFile, "proxies", "", "proxy import file (host:port[:user:pass] per line)")
	_ = runCmd.MarkFlagRequired("task")
}

// loadTask reads a task file. The task keys follow the same snake_case
// naming as the wire format.
func loadTask(path string) (schemas.Task, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return schemas.Task{}, fmt.Errorf("failed to read task file: %w", err)
	}

	var task schemas.Task
	decodeJSONTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "json" }
	if err := v.Unmarshal(&task, decodeJSONTags); err != nil {
		return schemas.Task{}, fmt.Errorf("failed to decode task file: %w", err)
	}
	return task, nil
}

// importInventory loads account and proxy files into the repositories.
func importInventory(ctx context.Context, c *Components, accountsPath, proxiesPath string) error {
	logger := observability.GetLogger()

	if accountsPath != "" {
		accounts, err := store.LoadAccounts(accountsPath)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			if err := c.Accounts.Save(ctx, account); err != nil {
				return fmt.Errorf("failed to import account %s: %w", account.ID, err)
			}
		}
		logger.Info("Accounts imported", zap.Int("count", len(accounts)))
	}

	if proxiesPath != "" {
		proxies, err := store.LoadProxies(proxiesPath)
		if err != nil {
			return err
		}
		for _, proxy := range proxies {
			if err := c.Proxies.Save(ctx, proxy); err != nil {
				return fmt.Errorf("failed to import proxy %s: %w", proxy.ID, err)
			}
		}
		logger.Info("Proxies imported", zap.Int("count", len(proxies)))
	}

	return nil
}

// fillTaskPools defaults the task's account and proxy pools to every
// eligible record in the repositories when the task names none.
func fillTaskPools(ctx context.Context, c *Components, task *schemas.Task) error {
	if len(task.AccountIDs) == 0 {
		accounts, err := c.Accounts.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		for _, account := range accounts {
			if account.Status == schemas.AccountBlocked || account.Status == schemas.AccountInvalid {
				continue
			}
			task.AccountIDs = append(task.AccountIDs, account.ID)
		}
	}

	if len(task.ProxyIDs) == 0 {
		proxies, err := c.Proxies.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list proxies: %w", err)
		}
		for _, proxy := range proxies {
			if proxy.Status == schemas.ProxyError {
				continue
			}
			task.ProxyIDs = append(task.ProxyIDs, proxy.ID)
		}
	}

	if len(task.AccountIDs) == 0 && task.Views > 0 {
		return fmt.Errorf("task requests %d views but no usable accounts are available", task.Views)
	}
	if len(task.ProxyIDs) == 0 && !task.AllowDirect {
		return fmt.Errorf("no usable proxies available and the task does not allow direct connections")
	}
	return nil
}
