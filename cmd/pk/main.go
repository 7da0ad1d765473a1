package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cl "stockpicks/internal/cli"
	"stockpicks/internal/config"
	"stockpicks/internal/game"
	"stockpicks/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "pk",
		Short:        "Weekly stock picks terminal client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(&apiBase),
		newWeekCmd(&apiBase),
		newPickCmd(&apiBase),
		newPicksCmd(&apiBase),
		newScoreboardCmd(&apiBase),
		newStatsCmd(&apiBase),
		newQuoteCmd(&apiBase),
		newRefreshCmd(&apiBase),
		newWinnersCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func credentials() (string, string, error) {
	username, err := promptRequired("Username")
	if err != nil {
		return "", "", err
	}
	username, err = game.ValidateUsername(username)
	if err != nil {
		return "", "", err
	}
	password, err := promptPassword("Password")
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account or claim a seeded username",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password, err := credentials()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, username, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.SessionFrom(session)); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Welcome, %s. Session saved.", session.Username))
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login and store a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password, err := credentials()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, username, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.SessionFrom(session)); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear the local token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sess, err := cl.LoadSession(); err == nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				if err := newClient(apiBase).Logout(ctx, sess.AccessToken); err != nil {
					printWarn(fmt.Sprintf("Server logout failed: %v", err))
				}
			}
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newWeekCmd(apiBase *string) *cobra.Command {
	week := &cobra.Command{
		Use:   "week [ID]",
		Short: "Show the current week or a past week with its picks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			weekID, err := optionalID(args, 0)
			if err != nil {
				return err
			}
			if weekID == 0 {
				current, err := client.CurrentWeek(ctx)
				if err != nil {
					return err
				}
				weekID = current.ID
			}
			detail, err := client.Week(ctx, weekID)
			if err != nil {
				return err
			}
			renderWeek(detail)
			return nil
		},
	}
	week.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every week",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			weeks, err := newClient(apiBase).Weeks(ctx)
			if err != nil {
				return err
			}
			renderWeeks(weeks)
			return nil
		},
	})
	return week
}

func newPickCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pick [SYMBOL]",
		Short: "Submit this week's pick",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			idem := uuid.NewString()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pick, err := newClient(apiBase).SubmitPick(ctx, sess.AccessToken, symbol, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/api/picks",
					Body:           map[string]any{"symbol": symbol},
					IdempotencyKey: idem,
				})
			}
			renderPickResult(pick)
			return nil
		},
	}
}

func newPicksCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "picks [WEEK_ID]",
		Short: "List picks for the current or given week",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			weekID, err := optionalID(args, 0)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			picks, err := newClient(apiBase).Picks(ctx, weekID)
			if err != nil {
				return err
			}
			renderPicks(picks)
			return nil
		},
	}
}

func newScoreboardCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "scoreboard",
		Short:   "Season standings by weekly wins",
		Aliases: []string{"leaderboard"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := newClient(apiBase).Scoreboard(ctx)
			if err != nil {
				return err
			}
			renderScoreboard(rows)
			return nil
		},
	}
}

func newStatsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "League-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			stats, err := newClient(apiBase).Stats(ctx)
			if err != nil {
				return err
			}
			renderStats(stats)
			return nil
		},
	}
}

func newQuoteCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "quote [SYMBOL]",
		Short:   "Look up the cached price for a symbol",
		Aliases: []string{"stock"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Stock(ctx, symbol)
			if err != nil {
				return err
			}
			return renderQuote(out)
		},
	}
}

func newRefreshCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [WEEK_ID]",
		Short: "Re-fetch prices and recompute returns for a week",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			weekID, err := optionalID(args, 0)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 90*time.Second)
			defer cancel()
			sum, err := newClient(apiBase).UpdatePrices(ctx, sess.AccessToken, weekID)
			if err != nil {
				return err
			}
			renderRecompute(sum)
			return nil
		},
	}
}

func newWinnersCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "winners [WEEK_ID]",
		Short: "Decide the winner of one week, or of every finished week",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			weekID, err := optionalID(args, 0)
			if err != nil {
				return err
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 90*time.Second)
			defer cancel()
			if weekID > 0 {
				out, err := client.DecideWinner(ctx, sess.AccessToken, weekID)
				if err != nil {
					return err
				}
				return renderDecision(out)
			}
			sum, err := client.CalculateWinners(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderWinnerSummary(sum)
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay picks queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining, replayed, dropped := replayQueue(ctx, client, sess.AccessToken, queue)
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d", replayed, dropped, len(remaining)))
			return nil
		},
	}
}

type replayer interface {
	Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error)
}

// replayQueue sends each queued command. Commands the API rejects are
// dropped; a 409 means the write already landed. Network failures stay queued.
func replayQueue(ctx context.Context, client replayer, token string, queue []syncq.Command) ([]syncq.Command, int, int) {
	remaining := make([]syncq.Command, 0, len(queue))
	replayed, dropped := 0, 0
	for _, q := range queue {
		_, err := client.Do(ctx, q.Method, q.Path, token, q.Body, q.IdempotencyKey)
		switch {
		case err == nil:
			replayed++
		case cl.StatusCode(err) == http.StatusConflict:
			printInfo(fmt.Sprintf("Already applied: %s %s (%v)", q.Method, q.Path, err))
			dropped++
		case cl.IsAPIError(err) && cl.StatusCode(err) < 500:
			printError(fmt.Sprintf("Rejected %s %s: %v", q.Method, q.Path, err))
			dropped++
		default:
			printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
			remaining = append(remaining, q)
		}
	}
	return remaining, replayed, dropped
}

func queueOnNetworkError(err error, cmd syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	if qerr := syncq.Push(cmd); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", errors.Join(err, qerr))
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Queued; run `pk sync` later.", err))
	return nil
}

func symbolFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return game.ValidateSymbol(args[0])
	}
	return promptSymbol("Symbol")
}

func optionalID(args []string, idx int) (int64, error) {
	if len(args) <= idx {
		return 0, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid week id %q", args[idx])
	}
	return v, nil
}
