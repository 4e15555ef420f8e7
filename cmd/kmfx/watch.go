package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	cl "kmfx/internal/cli"
	"kmfx/internal/ledger"
	"kmfx/internal/portal"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const watchRefresh = 15 * time.Second

type watchKeys struct {
	Quit    key.Binding
	Refresh key.Binding
	Approve key.Binding
	Reject  key.Binding
}

var wkeys = watchKeys{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Approve: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
	Reject:  key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reject")),
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
)

type summaryMsg struct {
	summary portal.Summary
	err     error
}

type pendingMsg struct {
	pending []ledger.Withdrawal
	err     error
}

type actionMsg struct {
	text string
	err  error
}

type refreshMsg struct{}

type watchModel struct {
	client  *cl.Client
	token   string
	summary *portal.Summary
	table   table.Model
	status  string
	err     error
	updated time.Time
}

func newWatchModel(client *cl.Client, token string) watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 6},
			{Title: "Account", Width: 8},
			{Title: "Amount", Width: 12},
			{Title: "Method", Width: 16},
			{Title: "Requested", Width: 16},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("14"))
	t.SetStyles(s)
	return watchModel{client: client, token: token, table: t}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetchSummary(), m.fetchPending(), scheduleRefresh())
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(watchRefresh, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m watchModel) fetchSummary() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := m.client.Dashboard(ctx, m.token)
		return summaryMsg{summary: s, err: err}
	}
}

func (m watchModel) fetchPending() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := m.client.Withdrawals(ctx, m.token, true, "pending")
		return pendingMsg{pending: out, err: err}
	}
}

func (m watchModel) decide(approve bool) tea.Cmd {
	row := m.table.SelectedRow()
	if row == nil {
		return nil
	}
	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if approve {
			_, err := m.client.ApproveWithdrawal(ctx, m.token, id)
			return actionMsg{text: fmt.Sprintf("withdrawal #%d approved", id), err: err}
		}
		_, err := m.client.RejectWithdrawal(ctx, m.token, id, "Rejected from console")
		return actionMsg{text: fmt.Sprintf("withdrawal #%d rejected", id), err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, wkeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, wkeys.Refresh):
			return m, tea.Batch(m.fetchSummary(), m.fetchPending())
		case key.Matches(msg, wkeys.Approve):
			return m, m.decide(true)
		case key.Matches(msg, wkeys.Reject):
			return m, m.decide(false)
		}
	case refreshMsg:
		return m, tea.Batch(m.fetchSummary(), m.fetchPending(), scheduleRefresh())
	case summaryMsg:
		m.err = msg.err
		if msg.err == nil {
			m.summary = &msg.summary
			m.updated = time.Now()
		}
		return m, nil
	case pendingMsg:
		m.err = msg.err
		if msg.err == nil {
			m.table.SetRows(pendingRows(msg.pending))
		}
		return m, nil
	case actionMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.text
		}
		return m, tea.Batch(m.fetchSummary(), m.fetchPending())
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func pendingRows(list []ledger.Withdrawal) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, w := range list {
		rows = append(rows, table.Row{
			strconv.FormatInt(w.ID, 10),
			strconv.FormatInt(w.AccountID, 10),
			"$" + formatMicros(w.AmountMicros),
			truncate(w.Method, 16),
			w.RequestedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func (m watchModel) View() string {
	out := titleStyle.Render("KMFX LIVE") + "\n\n"
	if m.summary != nil {
		s := m.summary
		out += boxStyle.Render(fmt.Sprintf(
			"Clients %d (%d pioneers)   Equity $%s   Withdrawable $%s\nOwner revenue $%s   Referral paid $%s   Pending %d ($%s)",
			s.Clients, s.Pioneers, formatMicros(s.TotalEquityMicros), formatMicros(s.TotalWithdrawableMicros),
			formatMicros(s.OwnerRevenueMicros), formatMicros(s.ReferralPaidMicros),
			s.PendingWithdrawals, formatMicros(s.PendingWithdrawalMicros),
		)) + "\n\n"
	}
	out += titleStyle.Render("Pending withdrawals") + "\n"
	out += m.table.View() + "\n\n"
	if m.err != nil {
		out += errStyle.Render(m.err.Error()) + "\n"
	} else if m.status != "" {
		out += statusStyle.Render(m.status) + "\n"
	}
	updated := "never"
	if !m.updated.IsZero() {
		updated = m.updated.Format("15:04:05")
	}
	out += mutedStyle.Render(fmt.Sprintf("updated %s   a approve   x reject   r refresh   q quit", updated))
	return out
}

func newWatchCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard with the pending withdrawal queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireStaff()
			if err != nil {
				return err
			}
			p := tea.NewProgram(newWatchModel(newClient(apiBase), sess.AccessToken), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}
