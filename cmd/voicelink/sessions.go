package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ent0n29/voicelink/internal/journal"
)

var (
	sessionsLimit int
	sessionsJSON  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent voice sessions from the journal",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()
		store, err := journal.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("journal store init failed: %w", err)
		}
		defer store.Close()

		records, err := store.Recent(ctx, sessionsLimit)
		if err != nil {
			return err
		}
		if sessionsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}
		printSessions(records)
		return nil
	},
}

func printSessions(records []journal.Record) {
	if len(records) == 0 {
		fmt.Println(headerStyle.Render("No voice sessions recorded"))
		return
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("%d recent session(s)", len(records))))
	fmt.Println()

	w := tabwriter.NewWriter(lipgloss.DefaultRenderer().Output(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Session")+"\t"+titleStyle.Render("Thread")+"\t"+
		titleStyle.Render("Started")+"\t"+titleStyle.Render("Length")+"\t"+
		titleStyle.Render("Sent/Dropped")+"\t"+titleStyle.Render("End")+"\t")
	for _, r := range records {
		length := r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		blocks := strconv.FormatInt(r.BlocksSent, 10) + "/" + strconv.FormatInt(r.BlocksDropped, 10)
		end := okStyle.Render(string(r.EndReason))
		if r.Error != "" {
			end = errorStyle.Render(string(r.EndReason))
		}
		_, _ = fmt.Fprintln(w, idStyle.Render(shortID(r.SessionID))+"\t"+r.DocumentID+"/"+r.ThreadID+"\t"+
			dateStyle.Render(r.StartedAt.Local().Format("Jan 02 15:04"))+"\t"+length+"\t"+blocks+"\t"+end+"\t")
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Number of sessions to show")
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print records as JSON")
}
