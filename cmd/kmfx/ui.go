package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"kmfx/internal/ledger"
	"kmfx/internal/portal"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if s := strings.TrimSpace(string(raw)); s != "" {
			return s, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptAmount(label string) (string, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		if _, err := ledger.ParseUSD(text); err != nil {
			printWarn("Enter a dollar amount such as 1250.50")
			continue
		}
		return text, nil
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderSummary(s portal.Summary) {
	accent.Println("\n== KMFX DASHBOARD ==")
	fmt.Printf("Clients:              %d (%d pioneers)\n", s.Clients, s.Pioneers)
	fmt.Printf("Total Equity:         $%s\n", formatMicros(s.TotalEquityMicros))
	fmt.Printf("Total Withdrawable:   $%s\n", formatMicros(s.TotalWithdrawableMicros))
	fmt.Printf("Owner Revenue:        %s\n", colorizeMicros(s.OwnerRevenueMicros))
	fmt.Printf("Referral Bonuses:     $%s\n", formatMicros(s.ReferralPaidMicros))
	pending := fmt.Sprintf("%d ($%s)", s.PendingWithdrawals, formatMicros(s.PendingWithdrawalMicros))
	if s.PendingWithdrawals > 0 {
		pending = warn.Sprint(pending)
	}
	fmt.Printf("Pending Withdrawals:  %s\n\n", pending)
}

func renderOverview(o portal.ClientOverview) {
	a := o.Account
	accent.Printf("\n== %s (%s) ==\n", a.Name, a.Kind)
	fmt.Printf("Equity:               $%s\n", formatMicros(a.EquityMicros))
	fmt.Printf("Withdrawable:         $%s\n", formatMicros(a.WithdrawableMicros))
	fmt.Printf("Total Profit:         %s\n", colorizeMicros(o.TotalProfitMicros))
	fmt.Printf("Referral Earnings:    $%s\n", formatMicros(o.ReferralMicros))
	fmt.Printf("Referral Code:        %s\n", a.ReferralCode)
	fmt.Printf("Pending Withdrawals:  %d\n", o.PendingWithdrawals)
	fmt.Printf("Unread Notifications: %d\n", o.UnreadNotifications)
	if o.LatestLicense != nil {
		fmt.Printf("License Expiry:       %s\n", o.LatestLicense.Expiry.Format("2006-01-02"))
	}
	fmt.Println()
}

func renderAccounts(accounts []ledger.Account) {
	if len(accounts) == 0 {
		printInfo("No accounts found.")
		return
	}
	fmt.Printf("%-6s %-24s %-8s %14s %14s %-10s %-10s\n", "ID", "NAME", "KIND", "EQUITY", "WITHDRAWABLE", "SPONSOR", "CODE")
	for _, a := range accounts {
		sponsor := "-"
		if a.ReferredBy != nil {
			sponsor = strconv.FormatInt(*a.ReferredBy, 10)
		}
		fmt.Printf("%-6d %-24s %-8s %14s %14s %-10s %-10s\n",
			a.ID, truncate(a.Name, 24), a.Kind,
			formatMicros(a.EquityMicros), formatMicros(a.WithdrawableMicros),
			sponsor, a.ReferralCode)
	}
}

func renderPosting(res ledger.PostingResult) {
	success.Printf("Posted %s for account %d (record %d)\n", signedMicros(res.AmountMicros), res.AccountID, res.PrimaryID)
	fmt.Printf("Client share:    %s\n", colorizeMicros(res.ClientShareMicros))
	fmt.Printf("Owner share:     %s\n", colorizeMicros(res.OwnerShareMicros))
	fmt.Printf("Referral total:  $%s\n", formatMicros(res.ReferralTotalMicros))
	for _, b := range res.Bonuses {
		fmt.Printf("  tier %d -> account %d: $%s\n", b.Tier, b.AccountID, formatMicros(b.BonusMicros))
	}
	fmt.Printf("New equity:      $%s\n", formatMicros(res.EquityMicros))
	fmt.Printf("Withdrawable:    $%s\n", formatMicros(res.WithdrawableMicros))
}

func renderProfits(records []ledger.ProfitRecord) {
	if len(records) == 0 {
		printInfo("No profit records.")
		return
	}
	fmt.Printf("%-6s %-10s %-7s %8s %14s %14s %14s %12s\n", "ID", "DATE", "KIND", "ACCOUNT", "AMOUNT", "CLIENT", "OWNER", "REFERRAL")
	for _, r := range records {
		kind := string(r.Kind)
		if r.Kind == ledger.RecordBonus {
			kind = fmt.Sprintf("bonus%d", r.Tier)
		}
		fmt.Printf("%-6d %-10s %-7s %8d %14s %14s %14s %12s\n",
			r.ID, r.Date.Format("2006-01-02"), kind, r.AccountID,
			colorizeMicros(r.AmountMicros), formatMicros(r.ClientShareMicros),
			formatMicros(r.OwnerShareMicros), formatMicros(r.ReferralBonusMicros))
	}
}

func renderWithdrawals(list []ledger.Withdrawal) {
	if len(list) == 0 {
		printInfo("No withdrawals.")
		return
	}
	fmt.Printf("%-6s %8s %12s %-14s %-9s %-16s %s\n", "ID", "ACCOUNT", "AMOUNT", "METHOD", "STATUS", "REQUESTED", "NOTES")
	for _, w := range list {
		fmt.Printf("%-6d %8d %12s %-14s %-9s %-16s %s\n",
			w.ID, w.AccountID, formatMicros(w.AmountMicros), truncate(w.Method, 14),
			colorizeStatus(w.Status), w.RequestedAt.Format("2006-01-02 15:04"), truncate(w.Notes, 30))
	}
}

func renderDownline(node ledger.DownlineNode, indent string) {
	label := fmt.Sprintf("%s%s #%d (%s) $%s", indent, node.Account.Name, node.Account.ID, node.Account.Kind, formatMicros(node.Account.EquityMicros))
	if node.Level == 0 {
		accent.Println(label)
	} else {
		fmt.Println(label)
	}
	for _, child := range node.Children {
		renderDownline(child, indent+"  ")
	}
}

func renderLicenses(list []portal.License) {
	if len(list) == 0 {
		printInfo("No licenses issued.")
		return
	}
	fmt.Printf("%-6s %-10s %-10s %-5s %s\n", "ID", "ISSUED", "EXPIRY", "LIVE", "KEY")
	for _, l := range list {
		live := "no"
		if l.AllowLive {
			live = "yes"
		}
		fmt.Printf("%-6d %-10s %-10s %-5s %s\n", l.ID, l.GeneratedAt.Format("2006-01-02"), l.Expiry.Format("2006-01-02"), live, l.Key)
	}
}

func colorizeStatus(s ledger.WithdrawalStatus) string {
	switch s {
	case ledger.WithdrawalApproved:
		return success.Sprint(s)
	case ledger.WithdrawalRejected:
		return danger.Sprint(s)
	default:
		return warn.Sprint(s)
	}
}

func colorizeMicros(v int64) string {
	text := signedMicros(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatMicros(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / ledger.MicrosPerUSD
	frac := (v % ledger.MicrosPerUSD) / 10_000
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func signedMicros(v int64) string {
	if v > 0 {
		return "+" + formatMicros(v)
	}
	return formatMicros(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
