package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kmfx/internal/ledger"
	"kmfx/internal/store/sqlite"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Local commands keep a private ledger in a SQLite file for bookkeeping
// without a server. They share the posting rules with the API.

func openLocal(ctx context.Context, path string) (*ledger.Service, *sqlite.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, err
	}
	store, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewService(store, store, store, zerolog.Nop()), store, nil
}

func withLocal(cmd *cobra.Command, dbPath *string, fn func(context.Context, *ledger.Service) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	svc, store, err := openLocal(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, svc)
}

func newLocalCmd(dbPath *string) *cobra.Command {
	local := &cobra.Command{
		Use:   "local",
		Short: "Offline ledger kept on this machine",
	}
	local.PersistentFlags().StringVar(dbPath, "db", *dbPath, "local ledger file")

	local.AddCommand(&cobra.Command{
		Use:   "accounts",
		Short: "List local accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd, dbPath, func(ctx context.Context, svc *ledger.Service) error {
				out, err := svc.ListAccounts(ctx, ledger.AccountFilter{})
				if err != nil {
					return err
				}
				renderAccounts(out)
				return nil
			})
		},
	})

	local.AddCommand(&cobra.Command{
		Use:   "add",
		Short: "Register a local account",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := promptNewAccount()
			if err != nil {
				return err
			}
			in, err := newAccountFromBody(body)
			if err != nil {
				return err
			}
			return withLocal(cmd, dbPath, func(ctx context.Context, svc *ledger.Service) error {
				acc, err := svc.CreateAccount(ctx, in)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Created local account #%d %s.", acc.ID, acc.Name))
				return nil
			})
		},
	})

	var date string
	post := &cobra.Command{
		Use:   "post [account-id] [amount]",
		Short: "Post a profit to the local ledger",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			raw := ""
			if len(args) > 1 {
				raw = args[1]
			} else if raw, err = promptAmount("Profit amount (negative for loss)"); err != nil {
				return err
			}
			amount, err := ledger.ParseUSD(raw)
			if err != nil {
				return err
			}
			postedOn := time.Now().UTC()
			if date != "" {
				if postedOn, err = time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("invalid date: %w", err)
				}
			}
			return withLocal(cmd, dbPath, func(ctx context.Context, svc *ledger.Service) error {
				res, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: id, AmountMicros: amount, Date: postedOn})
				if err != nil {
					return err
				}
				renderPosting(res)
				return nil
			})
		},
	}
	post.Flags().StringVar(&date, "date", "", "posting date YYYY-MM-DD (default today)")
	local.AddCommand(post)

	local.AddCommand(&cobra.Command{
		Use:   "history [account-id]",
		Short: "Show local profit history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) > 0 {
				var err error
				if id, err = int64FromArgOrPrompt(args, 0, "Account ID"); err != nil {
					return err
				}
			}
			return withLocal(cmd, dbPath, func(ctx context.Context, svc *ledger.Service) error {
				out, err := svc.ProfitHistory(ctx, ledger.ProfitFilter{AccountID: id, Limit: 100})
				if err != nil {
					return err
				}
				renderProfits(out)
				return nil
			})
		},
	})

	local.AddCommand(&cobra.Command{
		Use:   "tree [account-id]",
		Short: "Show a local referral downline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			return withLocal(cmd, dbPath, func(ctx context.Context, svc *ledger.Service) error {
				tree, err := svc.Downline(ctx, id, ledger.MaxReferralDepth)
				if err != nil {
					return err
				}
				renderDownline(tree, "")
				return nil
			})
		},
	})
	return local
}

func newAccountFromBody(body map[string]any) (ledger.NewAccount, error) {
	var in ledger.NewAccount
	kind, err := ledger.ParseAccountKind(fmt.Sprint(body["kind"]))
	if err != nil {
		return in, err
	}
	start, err := ledger.ParseUSD(fmt.Sprint(body["start_balance"]))
	if err != nil {
		return in, err
	}
	in = ledger.NewAccount{
		Name:               fmt.Sprint(body["name"]),
		Kind:               kind,
		TradingAccounts:    fmt.Sprint(body["trading_accounts"]),
		StartBalanceMicros: start,
		Phone:              fmt.Sprint(body["phone"]),
	}
	if id, ok := body["referred_by"].(int64); ok {
		in.ReferredBy = &id
	}
	return in, nil
}
