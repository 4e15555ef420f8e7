package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cl "kmfx/internal/cli"
	"kmfx/internal/config"
	"kmfx/internal/syncq"

	"github.com/spf13/cobra"
)

func main() {
	_ = config.Load()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "kmfx",
		Short:        "KMFX EA management console",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newDashCmd(&apiBase),
		newAccountsCmd(&apiBase),
		newProfitCmd(&apiBase),
		newWithdrawCmd(&apiBase),
		newLicenseCmd(&apiBase),
		newReportCmd(&apiBase),
		newSyncCmd(&apiBase),
		newWatchCmd(&apiBase),
		newLocalCmd(&cfg.LocalDBPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func requireStaff() (cl.Session, error) {
	sess, err := requireSession()
	if err != nil {
		return sess, err
	}
	if !sess.Role.Staff() {
		return sess, errors.New("this command needs an owner or admin login")
	}
	return sess, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var asClient bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login as staff, or as a client with --client",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := promptRequired("Username")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			var sess cl.Session
			if asClient {
				sess, err = client.ClientLogin(ctx, username, password)
			} else {
				sess, err = client.StaffLogin(ctx, username, password)
			}
			if err != nil {
				return err
			}
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s (%s).", sess.Username, sess.Role))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asClient, "client", false, "login with a client portal account")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show the business dashboard, or your account overview as a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			if !sess.Role.Staff() {
				out, err := client.Overview(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderOverview(out)
				return nil
			}
			out, err := client.Dashboard(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderSummary(out)
			return nil
		},
	}
}

func newAccountsCmd(apiBase *string) *cobra.Command {
	accounts := &cobra.Command{
		Use:     "accounts",
		Short:   "Client account commands",
		Aliases: []string{"account", "clients"},
	}

	accounts.AddCommand(&cobra.Command{
		Use:   "list [search]",
		Short: "List client accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			search := ""
			if len(args) > 0 {
				search = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Accounts(ctx, sess.AccessToken, search)
			if err != nil {
				return err
			}
			renderAccounts(out)
			return nil
		},
	})

	accounts.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Register a new client account",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			body, err := promptNewAccount()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			acc, err := newClient(apiBase).CreateAccount(ctx, sess.AccessToken, body)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Created account #%d %s (referral code %s).", acc.ID, acc.Name, acc.ReferralCode))
			return nil
		},
	})

	accounts.AddCommand(&cobra.Command{
		Use:   "tree [account-id]",
		Short: "Show the referral downline of an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			var id int64
			if sess.Role.Staff() {
				if id, err = int64FromArgOrPrompt(args, 0, "Account ID"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tree, err := newClient(apiBase).Downline(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderDownline(tree, "")
			return nil
		},
	})
	return accounts
}

func promptNewAccount() (map[string]any, error) {
	name, err := promptRequired("Client name")
	if err != nil {
		return nil, err
	}
	kind, err := promptChoice("Account type", []string{"regular", "pioneer"}, "regular")
	if err != nil {
		return nil, err
	}
	start, err := promptAmount("Starting balance")
	if err != nil {
		return nil, err
	}
	trading, err := promptOptional("Trading account numbers (optional)")
	if err != nil {
		return nil, err
	}
	phone, err := promptOptional("WhatsApp number (optional)")
	if err != nil {
		return nil, err
	}
	sponsor, err := promptOptional("Sponsor account ID (optional)")
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"name":             name,
		"kind":             kind,
		"start_balance":    start,
		"trading_accounts": trading,
		"phone":            phone,
	}
	if sponsor != "" {
		id, err := strconv.ParseInt(sponsor, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid sponsor id")
		}
		body["referred_by"] = id
	}
	return body, nil
}

func newProfitCmd(apiBase *string) *cobra.Command {
	profit := &cobra.Command{
		Use:     "profit",
		Short:   "Profit posting commands",
		Aliases: []string{"profits"},
	}

	var date string
	post := &cobra.Command{
		Use:   "post [account-id] [amount]",
		Short: "Post a profit or loss and distribute referral bonuses",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			amount := ""
			if len(args) > 1 {
				amount = args[1]
			} else if amount, err = promptAmount("Profit amount (negative for loss)"); err != nil {
				return err
			}
			queued := syncq.NewCommand(http.MethodPost, "/v1/profits", cl.ProfitBody(id, amount, date))

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := newClient(apiBase).PostProfit(ctx, sess.AccessToken, id, amount, date, queued.IdempotencyKey)
			if err != nil {
				return queueOnNetworkError(err, queued)
			}
			renderPosting(res)
			return nil
		},
	}
	post.Flags().StringVar(&date, "date", "", "posting date YYYY-MM-DD (default today)")
	profit.AddCommand(post)

	var limit int
	history := &cobra.Command{
		Use:   "history [account-id]",
		Short: "Show profit history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			var id int64
			if sess.Role.Staff() && len(args) > 0 {
				if id, err = int64FromArgOrPrompt(args, 0, "Account ID"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Profits(ctx, sess.AccessToken, id, limit)
			if err != nil {
				return err
			}
			renderProfits(out)
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	profit.AddCommand(history)
	return profit
}

func newWithdrawCmd(apiBase *string) *cobra.Command {
	withdraw := &cobra.Command{
		Use:     "withdraw",
		Short:   "Withdrawal commands",
		Aliases: []string{"withdrawals"},
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List withdrawal requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Withdrawals(ctx, sess.AccessToken, sess.Role.Staff(), status)
			if err != nil {
				return err
			}
			renderWithdrawals(out)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending, approved or rejected")
	withdraw.AddCommand(list)

	var method, details string
	request := &cobra.Command{
		Use:   "request [amount]",
		Short: "Request a payout of your withdrawable balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if sess.Role.Staff() {
				return errors.New("withdrawal requests are made from a client login")
			}
			amount := ""
			if len(args) > 0 {
				amount = args[0]
			} else if amount, err = promptAmount("Amount"); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			w, err := newClient(apiBase).RequestWithdrawal(ctx, sess.AccessToken, amount, method, details)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Withdrawal #%d for $%s submitted.", w.ID, formatMicros(w.AmountMicros)))
			return nil
		},
	}
	request.Flags().StringVar(&method, "method", "Bank Transfer", "payout method")
	request.Flags().StringVar(&details, "details", "", "payout details")
	withdraw.AddCommand(request)

	withdraw.AddCommand(&cobra.Command{
		Use:   "approve [withdrawal-id]",
		Short: "Approve a pending withdrawal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Withdrawal ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			w, err := newClient(apiBase).ApproveWithdrawal(ctx, sess.AccessToken, id)
			if err != nil {
				return queueOnNetworkError(err, syncq.NewCommand(http.MethodPost, fmt.Sprintf("/v1/withdrawals/%d/approve", id), nil))
			}
			printSuccess(fmt.Sprintf("Withdrawal #%d approved.", w.ID))
			return nil
		},
	})

	var reason string
	reject := &cobra.Command{
		Use:   "reject [withdrawal-id]",
		Short: "Reject a pending withdrawal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Withdrawal ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			w, err := newClient(apiBase).RejectWithdrawal(ctx, sess.AccessToken, id, reason)
			if err != nil {
				return queueOnNetworkError(err, syncq.NewCommand(http.MethodPost, fmt.Sprintf("/v1/withdrawals/%d/reject", id), map[string]any{"reason": reason}))
			}
			printWarn(fmt.Sprintf("Withdrawal #%d rejected.", w.ID))
			return nil
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "note shown to the client")
	withdraw.AddCommand(reject)
	return withdraw
}

func newLicenseCmd(apiBase *string) *cobra.Command {
	license := &cobra.Command{
		Use:     "license",
		Short:   "EA license commands",
		Aliases: []string{"licenses"},
	}

	var expiry string
	var demoOnly bool
	issue := &cobra.Command{
		Use:   "issue [account-id]",
		Short: "Generate a license and save its file in the current directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			lic, _, err := client.IssueLicense(ctx, sess.AccessToken, id, expiry, !demoOnly)
			if err != nil {
				return err
			}
			tmp, err := os.CreateTemp(".", "license-*.txt")
			if err != nil {
				return err
			}
			name, err := client.Download(ctx, sess.AccessToken, fmt.Sprintf("/v1/licenses/%d/file", lic.ID), tmp)
			closeErr := tmp.Close()
			if err != nil {
				_ = os.Remove(tmp.Name())
				return err
			}
			if closeErr != nil {
				return closeErr
			}
			if name == "" {
				name = fmt.Sprintf("license-%d.txt", lic.ID)
			}
			if err := os.Rename(tmp.Name(), filepath.Base(name)); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("License %s issued, expires %s. Saved %s", lic.Key, lic.Expiry.Format("2006-01-02"), filepath.Base(name)))
			return nil
		},
	}
	issue.Flags().StringVar(&expiry, "expiry", "", "expiry date YYYY-MM-DD (default one year)")
	issue.Flags().BoolVar(&demoOnly, "demo-only", false, "disallow live trading")
	license.AddCommand(issue)

	license.AddCommand(&cobra.Command{
		Use:   "list [account-id]",
		Short: "List issued licenses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			var id int64
			if sess.Role.Staff() {
				if id, err = int64FromArgOrPrompt(args, 0, "Account ID"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Licenses(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderLicenses(out)
			return nil
		},
	})
	return license
}

func newReportCmd(apiBase *string) *cobra.Command {
	var from, to, status, out string
	cmd := &cobra.Command{
		Use:       "report <profits|withdrawals|clients|audit>",
		Short:     "Download a CSV report",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"profits", "withdrawals", "clients", "audit"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			kind := strings.ToLower(args[0])
			q := url.Values{}
			if from != "" {
				q.Set("from", from)
			}
			if to != "" {
				q.Set("to", to)
			}
			if status != "" {
				q.Set("status", status)
			}
			path := "/v1/reports/" + url.PathEscape(kind) + ".csv"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			if out == "-" {
				_, err := newClient(apiBase).Download(ctx, sess.AccessToken, path, os.Stdout)
				return err
			}
			tmp, err := os.CreateTemp(".", "report-*.csv")
			if err != nil {
				return err
			}
			name, err := newClient(apiBase).Download(ctx, sess.AccessToken, path, tmp)
			closeErr := tmp.Close()
			if err != nil {
				_ = os.Remove(tmp.Name())
				return err
			}
			if closeErr != nil {
				return closeErr
			}
			target := out
			if target == "" {
				target = filepath.Base(name)
			}
			if target == "" || target == "." {
				target = kind + ".csv"
			}
			if err := os.Rename(tmp.Name(), target); err != nil {
				return err
			}
			printSuccess("Saved " + target)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD")
	cmd.Flags().StringVar(&status, "status", "", "withdrawal status filter")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout")
	return cmd
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			queue, err := openQueue()
			if err != nil {
				return err
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			res, err := queue.Drain(ctx, func(ctx context.Context, c syncq.Command) error {
				_, err := client.Do(ctx, c.Method, c.Path, sess.AccessToken, c.Body, c.IdempotencyKey)
				if cl.IsConflict(err) {
					return syncq.ErrAlreadyApplied
				}
				return err
			})
			if err != nil {
				printError(fmt.Sprintf("Sync stopped: %v", err))
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d already_applied=%d remaining=%d", res.Applied, res.Skipped, res.Remaining))
			return nil
		},
	}
}

func openQueue() (*syncq.Queue, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return syncq.Open(dir)
}

// queueOnNetworkError saves cmd for `kmfx sync` when the API could not be
// reached. Errors the API answered are returned as-is.
func queueOnNetworkError(err error, cmd syncq.Command) error {
	if err == nil {
		return nil
	}
	if !cl.IsUnreachable(err) {
		return err
	}
	queue, qerr := openQueue()
	if qerr != nil {
		return fmt.Errorf("%w (queue unavailable: %v)", err, qerr)
	}
	if qerr := queue.Push(cmd); qerr != nil {
		return fmt.Errorf("%w (queue failed: %v)", err, qerr)
	}
	printWarn(fmt.Sprintf("API unreachable, queued %s %s. Run `kmfx sync` when back online.", cmd.Method, cmd.Path))
	return nil
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
