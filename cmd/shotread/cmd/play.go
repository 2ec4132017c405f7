package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/psantana5/shotread/internal/report"
	"github.com/psantana5/shotread/internal/session"
	"github.com/psantana5/shotread/pkg/models"
)

var (
	playLevel   string
	reportPath  string
	eventsPath  string
	dumpMetrics bool
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run an interactive practice session in the terminal",
	Long: `Starts a session and reads commands from stdin.

Answer with the number or the name of a shot. Other commands:
  n  next clip      r  replay clip      R  restart session
  l  toggle level   s <id>  jump to clip   h  help   q  quit

Example:
  shotread play --level advanced
  shotread play --driver mpv --report ~/.shotread/last.json`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVar(&playLevel, "level", "", "starting level: standard or advanced (default from config)")
	playCmd.Flags().StringVar(&reportPath, "report", "", "write the session report to this file on exit (.json for JSON)")
	playCmd.Flags().StringVar(&eventsPath, "events", "", "write the player lifecycle history as JSON on exit")
	playCmd.Flags().BoolVar(&dumpMetrics, "metrics", false, "print prometheus metrics on exit")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, "play")
	if err != nil {
		return err
	}
	defer logger.Close()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	level := cfg.Level()
	if playLevel != "" {
		if level, err = models.ParseLevel(playLevel); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	recent := report.NewRecent(20)
	p := &printer{out: out}
	cancel := a.session.Subscribe(func(s session.Snapshot) {
		p.print(s)
		if s.Phase == models.PhaseComplete {
			recent.Add(report.Summarize(a.session.Result()))
		}
	})
	defer cancel()

	printHelp(out)
	if err := a.session.StartSession(level); err != nil {
		return err
	}

	if err := readCommands(cmd.InOrStdin(), out, a.session, recent); err != nil {
		return err
	}

	a.session.Leave()
	a.session.Flush()
	return finishPlay(out, a, recent)
}

// readCommands dispatches stdin lines until q or EOF. A pass that is left
// unfinished is recorded when a new one starts.
func readCommands(in io.Reader, out io.Writer, s *session.Orchestrator, recent *report.Recent) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var err error
		switch {
		case line == "q":
			recordPass(s, recent)
			return nil
		case line == "h" || line == "?":
			printHelp(out)
		case line == "n":
			err = s.Advance()
		case line == "r":
			err = s.Replay()
		case line == "R":
			recordPass(s, recent)
			err = s.Restart()
		case line == "l":
			level := models.LevelAdvanced
			if s.Snapshot().Level == models.LevelAdvanced {
				level = models.LevelStandard
			}
			s.SetLevel(level)
			fmt.Fprintf(out, "Level: %s\n", level)
		case strings.HasPrefix(line, "s "):
			err = s.SelectItem(strings.TrimSpace(strings.TrimPrefix(line, "s ")))
		default:
			err = submit(s, line)
		}
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	recordPass(s, recent)
	return nil
}

// submit scores line as an answer. A number picks from the answer list.
func submit(s *session.Orchestrator, line string) error {
	answer := line
	if n, err := strconv.Atoi(line); err == nil {
		if n < 1 || n > len(models.Answers) {
			return fmt.Errorf("pick an answer between 1 and %d", len(models.Answers))
		}
		answer = models.Answers[n-1]
	}
	_, err := s.SubmitAnswer(answer)
	if errors.Is(err, session.ErrPlayerNotReady) {
		// feedback already tells the learner to wait
		return nil
	}
	return err
}

func recordPass(s *session.Orchestrator, recent *report.Recent) {
	result := s.Result()
	if result.SessionID == "" || result.Attempts == 0 {
		return
	}
	recent.Add(report.Summarize(result))
}

func finishPlay(out io.Writer, a *app, recent *report.Recent) error {
	summaries := recent.List(0)
	if len(summaries) > 0 {
		fmt.Fprintln(out)
		if IsJSONOutput() {
			if err := report.WriteJSON(out, summaries); err != nil {
				return err
			}
		} else {
			report.WriteTable(out, summaries)
			report.WriteMisses(out, summaries[0])
		}
		for _, s := range summaries {
			s.Log(a.logger)
		}
	}
	if reportPath != "" && len(summaries) > 0 {
		if err := report.WriteFile(reportPath, summaries); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report written to %s\n", reportPath)
	}
	if eventsPath != "" {
		if err := a.manager.WriteEvents(eventsPath); err != nil {
			return err
		}
	}
	if dumpMetrics {
		return writeMetrics(out, a)
	}
	return nil
}

func writeMetrics(out io.Writer, a *app) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return err
		}
	}
	return nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Call the shot:")
	for i, a := range models.Answers {
		fmt.Fprintf(out, "  %d) %s\n", i+1, a)
	}
	fmt.Fprintln(out, "n next | r replay | R restart | l level | s <id> select | q quit")
}

// printer renders snapshots, only writing what changed
type printer struct {
	out  io.Writer
	last session.Snapshot
}

func (p *printer) print(s session.Snapshot) {
	prev := p.last
	p.last = s

	if s.CurrentItem != nil && (prev.CurrentItem == nil || prev.CurrentItem.ID != s.CurrentItem.ID || prev.SessionID != s.SessionID) {
		fmt.Fprintf(p.out, "\n[%d/%d] %s (%s)\n", s.Score.AttemptsCounted+1, s.SessionLength, s.CurrentItem.Description, s.CurrentItem.ID)
	}
	if s.PlayerReady && !prev.PlayerReady && s.Phase == models.PhasePlaying {
		fmt.Fprintln(p.out, "Watch the hitter...")
	}
	if s.BlackoutCountdown != nil && (prev.BlackoutCountdown == nil || *prev.BlackoutCountdown != *s.BlackoutCountdown) {
		fmt.Fprintf(p.out, "  ** blackout ** %d\n", *s.BlackoutCountdown)
	}
	if s.Feedback.Message != "" && s.Feedback != prev.Feedback {
		fmt.Fprintf(p.out, "%s  (score %d/%d)\n", s.Feedback.Message, s.Score.CorrectCount, s.Score.AttemptsCounted)
	}
	if s.LastError != "" && s.LastError != prev.LastError {
		fmt.Fprintf(p.out, "! %s\n", s.LastError)
	}
	if s.Phase == models.PhaseComplete && prev.Phase != models.PhaseComplete {
		fmt.Fprintf(p.out, "\nSession complete: %d/%d. Press R to go again or q to quit.\n", s.Score.CorrectCount, s.Score.AttemptsCounted)
	}
}
