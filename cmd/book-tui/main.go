package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/risk"
	"github.com/betbot/execbot/internal/scheduler"
	sdkhttp "github.com/betbot/execbot/pkg/sdk/http"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	bidStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // 绿色
	askStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // 红色
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type statusView struct {
	Mode        risk.Mode                `json:"mode"`
	DryRun      bool                     `json:"dry_run"`
	Uptime      string                   `json:"uptime"`
	Symbols     []string                 `json:"symbols"`
	Connections []domain.ConnectionState `json:"connections"`
	OpenTrades  []domain.Trade           `json:"open_trades"`
	Scheduler   scheduler.Stats          `json:"scheduler"`
	RiskState   domain.RiskState         `json:"risk_state"`
}

type booksView struct {
	Symbol    string                 `json:"symbol"`
	Snapshots []domain.VenueSnapshot `json:"snapshots"`
	Micro     struct {
		Imbalance float64 `json:"imbalance"`
		MsgRate   float64 `json:"msg_rate"`
		Venues    int     `json:"venues"`
	} `json:"micro"`
}

type pollResult struct {
	status statusView
	books  []booksView
	err    error
	at     time.Time
}

type tickMsg time.Time

type model struct {
	client   *sdkhttp.Client
	interval time.Duration

	last pollResult
}

func (m model) Init() tea.Cmd {
	return pollCmd(m.client)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, pollCmd(m.client)
		}
	case pollResult:
		m.last = msg
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
	case tickMsg:
		return m, pollCmd(m.client)
	}
	return m, nil
}

func pollCmd(c *sdkhttp.Client) tea.Cmd {
	return func() tea.Msg {
		return poll(context.Background(), c)
	}
}

func poll(ctx context.Context, c *sdkhttp.Client) pollResult {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res := pollResult{at: time.Now()}
	if err := sdkhttp.CheckResponse(c.DoRequest(ctx, "GET", "/api/status", nil, &res.status)); err != nil {
		res.err = err
		return res
	}
	for _, sym := range res.status.Symbols {
		var b booksView
		path := "/api/books/" + strings.ReplaceAll(sym, "/", "-")
		if err := sdkhttp.CheckResponse(c.DoRequest(ctx, "GET", path, nil, &b)); err != nil {
			res.err = err
			return res
		}
		res.books = append(res.books, b)
	}
	return res
}

func (m model) View() string {
	if m.last.at.IsZero() {
		return "正在连接控制面...\n\n按 q 退出"
	}
	if m.last.err != nil {
		return fmt.Sprintf("错误: %v\n\n按 r 重试，按 q 退出", m.last.err)
	}
	st := m.last.status

	var s strings.Builder
	mode := string(st.Mode)
	if st.DryRun {
		mode += " (paper)"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("execbot | 模式: %s | 运行: %s | 更新: %s",
		mode, st.Uptime, m.last.at.Format("15:04:05"))))
	s.WriteString("\n\n")

	s.WriteString(renderConnections(st.Connections))
	s.WriteString("\n")

	var boxes []string
	for _, b := range m.last.books {
		boxes = append(boxes, renderBooks(b))
	}
	if len(boxes) > 0 {
		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
		s.WriteString("\n")
	}

	s.WriteString(renderRisk(st))
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("按 r 刷新，按 q 退出"))
	return s.String()
}

func renderConnections(conns []domain.ConnectionState) string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("连接"))
	s.WriteString("\n")
	sort.Slice(conns, func(i, j int) bool { return conns[i].Venue < conns[j].Venue })
	for _, c := range conns {
		state := string(c.State)
		switch c.State {
		case domain.ConnConnected:
			state = bidStyle.Render(state)
		case domain.ConnConnecting:
			state = warnStyle.Render(state)
		default:
			state = askStyle.Render(state)
		}
		s.WriteString(fmt.Sprintf("  %-8s %s  延迟 %.0fms  重连 %d  心跳 %s\n",
			c.Venue, state, c.LatencyMs, c.Reconnects, ago(c.LastHeartbeat)))
	}
	return s.String()
}

func renderBooks(b booksView) string {
	var s strings.Builder
	s.WriteString(titleStyle.Render(b.Symbol))
	s.WriteString(dimStyle.Render(fmt.Sprintf("  失衡 %+.2f  %.0f msg/s", b.Micro.Imbalance, b.Micro.MsgRate)))
	s.WriteString("\n")
	if len(b.Snapshots) == 0 {
		s.WriteString(warnStyle.Render("无新鲜快照"))
		return borderStyle.Render(s.String())
	}
	s.WriteString(fmt.Sprintf("%-8s %12s %12s %7s %10s %10s\n", "venue", "bid", "ask", "bps", "bid$", "ask$"))
	for _, snap := range b.Snapshots {
		s.WriteString(fmt.Sprintf("%-8s %s %s %7.2f %10.0f %10.0f\n",
			snap.Venue,
			bidStyle.Render(fmt.Sprintf("%12.4f", snap.BestBid)),
			askStyle.Render(fmt.Sprintf("%12.4f", snap.BestAsk)),
			snap.SpreadBps(), snap.BidDepthUSD, snap.AskDepthUSD))
	}
	return borderStyle.Render(s.String())
}

func renderRisk(st statusView) string {
	rs := st.RiskState
	sc := st.Scheduler
	var s strings.Builder
	s.WriteString(titleStyle.Render("风控"))
	s.WriteString("\n")
	pnl := fmt.Sprintf("%+.2f", rs.RealizedPnL)
	if rs.RealizedPnL < 0 {
		pnl = askStyle.Render(pnl)
	} else {
		pnl = bidStyle.Render(pnl)
	}
	s.WriteString(fmt.Sprintf("  %s  已实现 %s  交易 %d（胜 %d / 负 %d）  连亏 %d\n",
		rs.DayKey, pnl, rs.TradesToday, rs.Wins, rs.Losses, rs.ConsecutiveLosses))
	if time.Now().Before(rs.GlobalCooldownUntil) {
		s.WriteString(warnStyle.Render(fmt.Sprintf("  熔断中，至 %s\n", rs.GlobalCooldownUntil.Local().Format("15:04:05"))))
	}
	s.WriteString(fmt.Sprintf("  队列 %d  执行中 %d  已执行 %d  拒绝 %d  风控拒绝 %d  持仓 %d",
		sc.InQueue, sc.InFlight, sc.Executed, sc.Rejected, sc.Denied, len(st.OpenTrades)))
	return s.String()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(100*time.Millisecond).String() + "前"
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8088", "控制面地址")
	interval := flag.Duration("interval", time.Second, "刷新间隔")
	flag.Parse()

	m := model{
		client:   sdkhttp.NewClient(*addr, sdkhttp.Options{Timeout: 3 * time.Second, RetryCount: -1}),
		interval: *interval,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "运行程序失败: %v\n", err)
		os.Exit(1)
	}
}
