package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
	"github.com/MikeSquared-Agency/catalogqa/internal/processor"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the command line",
	Long: `Answers a single question, or with no argument reads one question per line
from stdin and answers each within the same session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().Bool("json", false, "print the full answer as JSON")
	askCmd.Flags().String("session", "", "session id to continue")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	sessionID, _ := cmd.Flags().GetString("session")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	answer := func(q string) error {
		ans, err := a.proc.Ask(ctx, processor.Request{Question: q, SessionID: sessionID})
		if err != nil {
			e := apperr.From(err)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s)\n", e.PublicMessage(), e.Kind)
			return err
		}
		sessionID = ans.SessionID
		return printAnswer(out, ans, jsonOutput)
	}

	if len(args) == 1 {
		return answer(args[0])
	}

	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			continue
		}
		// Keep the session going after a failed question.
		_ = answer(q)
	}
	return sc.Err()
}

func printAnswer(w io.Writer, ans *processor.Answer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(ans)
	}
	fmt.Fprintln(w, ans.Answer)
	fmt.Fprintf(w, "\n[session %s, %d ms", ans.SessionID, ans.QueryTime)
	if ans.FromCache {
		fmt.Fprint(w, ", cached")
	}
	fmt.Fprintln(w, "]")
	return nil
}
