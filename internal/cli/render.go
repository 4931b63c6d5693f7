package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/models"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	tableBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
}

// renderBreakdown draws one grouping as a key / volume / share table
func renderBreakdown(label string, entries []defi.BreakdownEntry) string {
	t := newTable(label, "Volume", "Share")
	for _, e := range entries {
		t.Row(e.Key, formatUSD(e.VolumeUSD), formatPercent(e.Percentage))
	}
	return t.Render()
}

func renderTokenBreakdown(tokens defi.TokenBreakdown) string {
	if tokens.NoData {
		return "Token: no token data in this report"
	}
	return renderBreakdown("Token", tokens.Entries)
}

func renderSummary(s defi.Summary) string {
	t := newTable("Transactions", "Volume", "Net gain/loss", "Fees")
	t.Row(
		strconv.Itoa(s.TotalTransactions),
		formatUSD(s.TotalVolumeUSD),
		formatUSD(s.NetGainLossUSD),
		formatUSD(s.TotalFeesUSD),
	)
	return t.Render()
}

func renderHistory(records []models.AuditRecord) string {
	t := newTable("ID", "Wallet", "Chains", "Status", "Period", "Created")
	for _, r := range records {
		t.Row(
			r.ID,
			shortWallet(r.WalletAddress),
			strings.Join(r.ChainList(), ","),
			r.Status,
			formatPeriod(r.StartDate, r.EndDate),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return t.Render()
}

func formatPeriod(start, end string) string {
	if start == "" && end == "" {
		return "all time"
	}
	return firstNonEmpty(start, "…") + ".." + firstNonEmpty(end, "now")
}

func shortWallet(addr string) string {
	if len(addr) <= 13 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// formatUSD renders a dollar amount with thousands separators and cents
func formatUSD(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	raw := strconv.FormatFloat(v, 'f', 2, 64)
	whole, cents := raw[:len(raw)-3], raw[len(raw)-2:]

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s$%s.%s", sign, b.String(), cents)
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}
