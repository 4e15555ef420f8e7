package portal

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"

	"kmfx/internal/ledger"

	"github.com/jackc/pgx/v5"
	"gonum.org/v1/gonum/stat"
)

type ProfitRow struct {
	Date                time.Time          `json:"date"`
	AccountID           int64              `json:"account_id"`
	ClientName          string             `json:"client_name"`
	ClientKind          ledger.AccountKind `json:"client_kind"`
	Kind                ledger.RecordKind  `json:"kind"`
	Tier                int                `json:"tier,omitempty"`
	AmountMicros        int64              `json:"amount_micros"`
	ClientShareMicros   int64              `json:"client_share_micros"`
	OwnerShareMicros    int64              `json:"owner_share_micros"`
	ReferralBonusMicros int64              `json:"referral_bonus_micros"`
}

type WithdrawalRow struct {
	ledger.Withdrawal
	ClientName string `json:"client_name"`
}

type MonthRevenue struct {
	Month          string `json:"month"` // 2006-01
	OwnerMicros    int64  `json:"owner_micros"`
	ClientMicros   int64  `json:"client_micros"`
	ReferralMicros int64  `json:"referral_micros"`
	Postings       int64  `json:"postings"`
}

type RevenueStats struct {
	Months       int    `json:"months"`
	TotalMicros  int64  `json:"total_micros"`
	MeanMicros   int64  `json:"mean_micros"`
	StdDevMicros int64  `json:"stddev_micros"`
	BestMonth    string `json:"best_month,omitempty"`
	WorstMonth   string `json:"worst_month,omitempty"`
}

type DateRange struct {
	From *time.Time
	To   *time.Time
}

func (s *Service) ProfitReport(ctx context.Context, r DateRange) ([]ProfitRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.posted_on, p.account_id, a.name, a.kind, p.kind, p.tier, p.amount_micros,
			p.client_share_micros, p.owner_share_micros, p.referral_bonus_micros
		FROM kmfx.profits p
		JOIN kmfx.accounts a ON a.id = p.account_id
		WHERE ($1::date IS NULL OR p.posted_on >= $1) AND ($2::date IS NULL OR p.posted_on <= $2)
		ORDER BY p.posted_on DESC, p.id DESC
	`, r.From, r.To)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProfitRow, error) {
		var (
			p                 ProfitRow
			clientKind, rKind string
		)
		err := row.Scan(&p.Date, &p.AccountID, &p.ClientName, &clientKind, &rKind, &p.Tier, &p.AmountMicros,
			&p.ClientShareMicros, &p.OwnerShareMicros, &p.ReferralBonusMicros)
		p.ClientKind = ledger.AccountKind(clientKind)
		p.Kind = ledger.RecordKind(rKind)
		return p, err
	})
}

func (s *Service) WithdrawalReport(ctx context.Context, status ledger.WithdrawalStatus) ([]WithdrawalRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT w.id, w.account_id, w.amount_micros, w.method, w.details, w.status, w.requested_at,
			w.processed_at, w.processed_by, w.notes, a.name
		FROM kmfx.withdrawals w
		JOIN kmfx.accounts a ON a.id = w.account_id
		WHERE ($1 = '' OR w.status = $1)
		ORDER BY w.requested_at DESC, w.id DESC
	`, string(status))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (WithdrawalRow, error) {
		var (
			w  WithdrawalRow
			st string
		)
		err := row.Scan(&w.ID, &w.AccountID, &w.AmountMicros, &w.Method, &w.Details, &st, &w.RequestedAt,
			&w.ProcessedAt, &w.ProcessedBy, &w.Notes, &w.ClientName)
		w.Status = ledger.WithdrawalStatus(st)
		return w, err
	})
}

// MonthlyRevenue sums primary postings per calendar month, oldest first.
func (s *Service) MonthlyRevenue(ctx context.Context, r DateRange) ([]MonthRevenue, error) {
	rows, err := s.db.Query(ctx, `
		SELECT to_char(date_trunc('month', posted_on), 'YYYY-MM'),
			sum(owner_share_micros), sum(client_share_micros), sum(referral_bonus_micros), count(*)
		FROM kmfx.profits
		WHERE kind = 'primary'
			AND ($1::date IS NULL OR posted_on >= $1) AND ($2::date IS NULL OR posted_on <= $2)
		GROUP BY 1
		ORDER BY 1
	`, r.From, r.To)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MonthRevenue, error) {
		var m MonthRevenue
		err := row.Scan(&m.Month, &m.OwnerMicros, &m.ClientMicros, &m.ReferralMicros, &m.Postings)
		return m, err
	})
}

// SummarizeRevenue computes owner revenue statistics over months. The
// standard deviation is the sample deviation and is zero for fewer than two
// months.
func SummarizeRevenue(months []MonthRevenue) RevenueStats {
	out := RevenueStats{Months: len(months)}
	if len(months) == 0 {
		return out
	}
	values := make([]float64, len(months))
	best, worst := 0, 0
	for i, m := range months {
		out.TotalMicros += m.OwnerMicros
		values[i] = float64(m.OwnerMicros)
		if m.OwnerMicros > months[best].OwnerMicros {
			best = i
		}
		if m.OwnerMicros < months[worst].OwnerMicros {
			worst = i
		}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(months) < 2 || math.IsNaN(std) {
		std = 0
	}
	out.MeanMicros = int64(math.Round(mean))
	out.StdDevMicros = int64(math.Round(std))
	out.BestMonth = months[best].Month
	out.WorstMonth = months[worst].Month
	return out
}

func WriteProfitsCSV(w io.Writer, rows []ProfitRow) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"date", "client", "type", "record", "tier", "amount_usd", "client_share_usd", "owner_share_usd", "referral_bonus_usd"})
	for _, r := range rows {
		_ = cw.Write([]string{
			r.Date.Format("2006-01-02"),
			r.ClientName,
			string(r.ClientKind),
			string(r.Kind),
			strconv.Itoa(r.Tier),
			ledger.FormatUSD(r.AmountMicros),
			ledger.FormatUSD(r.ClientShareMicros),
			ledger.FormatUSD(r.OwnerShareMicros),
			ledger.FormatUSD(r.ReferralBonusMicros),
		})
	}
	cw.Flush()
	return cw.Error()
}

func WriteWithdrawalsCSV(w io.Writer, rows []WithdrawalRow) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "requested_at", "client", "amount_usd", "method", "details", "status", "processed_at", "processed_by", "notes"})
	for _, r := range rows {
		processed := ""
		if r.ProcessedAt != nil {
			processed = r.ProcessedAt.UTC().Format(time.RFC3339)
		}
		_ = cw.Write([]string{
			strconv.FormatInt(r.ID, 10),
			r.RequestedAt.UTC().Format(time.RFC3339),
			r.ClientName,
			ledger.FormatUSD(r.AmountMicros),
			r.Method,
			r.Details,
			string(r.Status),
			processed,
			r.ProcessedBy,
			r.Notes,
		})
	}
	cw.Flush()
	return cw.Error()
}

func WriteClientsCSV(w io.Writer, accounts []ledger.Account) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "name", "type", "accounts", "start_balance_usd", "equity_usd", "withdrawable_usd", "referred_by", "referral_code", "expiry"})
	for _, a := range accounts {
		sponsor, expiry := "", ""
		if a.ReferredBy != nil {
			sponsor = strconv.FormatInt(*a.ReferredBy, 10)
		}
		if a.Expiry != nil {
			expiry = a.Expiry.Format("2006-01-02")
		}
		_ = cw.Write([]string{
			strconv.FormatInt(a.ID, 10),
			a.Name,
			string(a.Kind),
			a.TradingAccounts,
			ledger.FormatUSD(a.StartBalanceMicros),
			ledger.FormatUSD(a.EquityMicros),
			ledger.FormatUSD(a.WithdrawableMicros),
			sponsor,
			a.ReferralCode,
			expiry,
		})
	}
	cw.Flush()
	return cw.Error()
}

func WriteAuditCSV(w io.Writer, entries []AuditEntry) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"timestamp", "action", "details", "actor_type", "actor_id"})
	for _, e := range entries {
		_ = cw.Write([]string{e.OccurredAt.UTC().Format(time.RFC3339), e.Action, e.Details, e.ActorType, e.ActorID})
	}
	cw.Flush()
	return cw.Error()
}
