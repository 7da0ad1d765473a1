package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stockpicks/internal/game"
	"stockpicks/internal/quotes"

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

type quotePayload struct {
	Symbol        string              `json:"symbol"`
	CurrentPrice  float64             `json:"current_price"`
	PreviousClose *float64            `json:"previous_close"`
	ChangePercent *float64            `json:"change_percent"`
	Volume        *int64              `json:"volume"`
	Fundamentals  quotes.Fundamentals `json:"fundamentals"`
	Daily         quotes.DailySeries  `json:"daily_prices"`
	LastUpdated   time.Time           `json:"last_updated"`
	Stale         bool                `json:"stale"`
}

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
		text := strings.TrimSpace(string(raw))
		if len(text) >= 6 {
			return text, nil
		}
		printWarn(label + " must be at least 6 characters.")
	}
}

func promptSymbol(label string) (string, error) {
	for {
		raw, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		symbol, err := game.ValidateSymbol(raw)
		if err != nil {
			printWarn(err.Error())
			continue
		}
		return symbol, nil
	}
}

func renderWeek(d game.WeekDetail) {
	accent.Printf("\n== WEEK %d ==\n", d.WeekNumber)
	fmt.Printf("%s to %s\n", d.StartDate.Local().Format("Mon Jan 2"), d.EndDate.Local().Format("Mon Jan 2"))
	switch {
	case d.WinnerUsername != nil:
		success.Printf("Winner: %s\n", *d.WinnerUsername)
	case d.Ended(time.Now()):
		warn.Println("Finished, winner not decided yet")
	default:
		fmt.Println("In progress")
	}
	fmt.Println()
	renderPicks(d.Picks)
}

func renderWeeks(weeks []game.Week) {
	accent.Println("\n== WEEKS ==")
	if len(weeks) == 0 {
		printInfo("No weeks yet.")
		return
	}
	fmt.Printf("%-6s %-6s %-12s %-12s %-18s\n", "ID", "WEEK", "START", "END", "WINNER")
	for _, w := range weeks {
		winner := "-"
		if w.WinnerUsername != nil {
			winner = *w.WinnerUsername
		}
		fmt.Printf("%-6d %-6d %-12s %-12s %-18s\n",
			w.ID,
			w.WeekNumber,
			w.StartDate.Local().Format("2006-01-02"),
			w.EndDate.Local().Format("2006-01-02"),
			truncate(winner, 18),
		)
	}
	fmt.Println()
}

func renderPicks(picks []game.Pick) {
	if len(picks) == 0 {
		printInfo("No picks yet.")
		return
	}
	fmt.Printf("%-18s %-8s %12s %12s %12s\n", "PLAYER", "SYMBOL", "ENTRY", "CURRENT", "RETURN")
	for _, p := range picks {
		fmt.Printf("%-18s %-8s %12s %12s %12s\n",
			truncate(p.Username, 18),
			p.Symbol,
			formatPrice(p.EntryPrice),
			formatPrice(p.CurrentValue),
			formatReturn(p.ReturnPercentage),
		)
	}
	fmt.Println()
}

func renderPickResult(p game.Pick) {
	printSuccess(fmt.Sprintf("Picked %s for week %d.", p.Symbol, p.WeekID))
	if p.SubmittedPrice == nil {
		printWarn("No price available yet; it will be filled in on the next refresh.")
		return
	}
	fmt.Printf("Submitted price: %s\n", formatPrice(p.SubmittedPrice))
}

func renderScoreboard(rows []game.ScoreboardRow) {
	accent.Println("\n== SCOREBOARD ==")
	if len(rows) == 0 {
		printInfo("No players yet.")
		return
	}
	fmt.Printf("%-6s %-18s %6s %6s %12s %12s\n", "RANK", "PLAYER", "WINS", "PICKS", "AVG", "BEST")
	for _, row := range rows {
		fmt.Printf("%-6d %-18s %6d %6d %12s %12s\n",
			row.Rank,
			truncate(row.Username, 18),
			row.Wins,
			row.Picks,
			formatReturn(row.AverageReturn),
			formatReturn(row.BestReturn),
		)
	}
	fmt.Println()
}

func renderStats(s game.Stats) {
	accent.Println("\n== LEAGUE STATS ==")
	fmt.Printf("Players: %s\n", comma(int64(s.TotalUsers)))
	fmt.Printf("Weeks:   %d (%d decided)\n", s.TotalWeeks, s.DecidedWeeks)
	fmt.Printf("Picks:   %s\n", comma(int64(s.TotalPicks)))
	if s.BestPick != nil {
		fmt.Printf("Best pick: %s with %s in week %d (%s)\n",
			s.BestPick.Username, s.BestPick.Symbol, s.BestPick.WeekNumber, colorizePercent(s.BestPick.ReturnPercentage))
	}
	if len(s.TopSymbols) > 0 {
		fmt.Println()
		accent.Println("Most picked")
		for _, sym := range s.TopSymbols {
			fmt.Printf("  %-8s %d\n", sym.Symbol, sym.Count)
		}
	}
	fmt.Println()
}

func renderQuote(raw map[string]any) error {
	q, err := decodeInto[quotePayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", q.Symbol)
	fmt.Printf("Price:      %.2f\n", q.CurrentPrice)
	if q.PreviousClose != nil {
		fmt.Printf("Prev close: %.2f\n", *q.PreviousClose)
	}
	if q.ChangePercent != nil {
		fmt.Printf("Change:     %s\n", colorizePercent(*q.ChangePercent))
	}
	if q.Volume != nil {
		fmt.Printf("Volume:     %s\n", comma(*q.Volume))
	}
	if q.Fundamentals.MarketCap != nil {
		fmt.Printf("Market cap: %s\n", comma(int64(*q.Fundamentals.MarketCap)))
	}
	if q.Fundamentals.PERatio != nil {
		fmt.Printf("P/E:        %.2f\n", *q.Fundamentals.PERatio)
	}
	updated := q.LastUpdated.Local().Format("2006-01-02 15:04")
	if q.Stale {
		warn.Printf("Updated %s (stale)\n", updated)
	} else {
		fmt.Printf("Updated %s\n", updated)
	}

	if days := q.Daily.Latest(5).Days(); len(days) > 0 {
		fmt.Println()
		accent.Println("Recent Sessions")
		fmt.Printf("%-12s %-10s %10s %10s\n", "DATE", "DAY", "OPEN", "CLOSE")
		for _, d := range days {
			fmt.Printf("%-12s %-10s %10.2f %10.2f\n", d.Date, d.Weekday, d.Open, d.Close)
		}
	}
	fmt.Println()
	return nil
}

func renderRecompute(s game.RecomputeSummary) {
	printSuccess(fmt.Sprintf("Week %d refreshed: updated=%d failed=%d rejected=%d picks=%d",
		s.WeekID, s.Updated, s.Failed, s.Rejected, s.Picks))
	for _, e := range s.Errors {
		printWarn("  " + e)
	}
}

func renderWinnerSummary(s game.WinnerSummary) {
	printSuccess(fmt.Sprintf("Winners: decided=%d skipped=%d failed=%d", s.Decided, s.Skipped, s.Failed))
	for _, e := range s.Errors {
		printError("  " + e)
	}
}

func renderDecision(raw map[string]any) error {
	out, err := decodeInto[struct {
		WeekID  int64      `json:"week_id"`
		Decided bool       `json:"decided"`
		Winner  *game.Pick `json:"winner"`
	}](raw)
	if err != nil {
		return err
	}
	if !out.Decided || out.Winner == nil {
		printInfo(fmt.Sprintf("Week %d: no winner decided.", out.WeekID))
		return nil
	}
	printSuccess(fmt.Sprintf("Week %d winner: %s with %s (%s)",
		out.WeekID, out.Winner.Username, out.Winner.Symbol, formatReturn(out.Winner.ReturnPercentage)))
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatReturn(v *float64) string {
	if v == nil {
		return "-"
	}
	return colorizePercent(*v)
}

func formatPrice(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
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
