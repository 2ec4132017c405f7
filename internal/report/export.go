package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// WriteTable renders summaries as a score table, one row per pass
func WriteTable(w io.Writer, summaries []Summary) {
	table := tablewriter.NewWriter(w)
	table.Header("Session", "Level", "Score", "Accuracy", "Retries", "Status")
	for _, s := range summaries {
		table.Append([]string{
			shortID(s.SessionID),
			string(s.Level),
			fmt.Sprintf("%d/%d", s.Correct, s.Attempts),
			fmt.Sprintf("%.0f%%", s.Accuracy*100),
			fmt.Sprintf("%d", s.Retries),
			s.Status(),
		})
	}
	table.Render()
}

// WriteMisses lists the items read wrong in one pass
func WriteMisses(w io.Writer, s Summary) {
	if len(s.Misses) == 0 {
		fmt.Fprintln(w, "No misses.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Item", "Expected", "Answered")
	for _, m := range s.Misses {
		answered := m.Candidate
		if m.TimedOut {
			answered = "(time's up)"
		}
		table.Append([]string{m.ItemID, m.Expected, answered})
	}
	table.Render()
}

// WriteJSON encodes summaries as indented JSON
func WriteJSON(w io.Writer, summaries []Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}

// WriteFile exports summaries to path. A .json extension selects JSON,
// anything else the text table.
func WriteFile(path string, summaries []Summary) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return WriteJSON(f, summaries)
	}
	WriteTable(f, summaries)
	for _, s := range summaries {
		fmt.Fprintf(f, "\n%s\n", s.Line())
		WriteMisses(f, s)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
