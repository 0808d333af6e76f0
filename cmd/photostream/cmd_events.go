package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/photostream/internal/render"
	"github.com/user/photostream/internal/state"
	"github.com/user/photostream/internal/types"
	"github.com/user/photostream/pkg/photostream"
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsSessionsCmd, eventsTailCmd)
	eventsTailCmd.Flags().IntP("limit", "n", 50, "number of events to show (0 for all)")
	eventsTailCmd.Flags().Bool("json", false, "print raw journal lines")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the event journal",
}

var eventsSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List journaled sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		journal := state.NewJournal(loadConfig().DataDir)
		sessions, err := journal.Sessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tEVENTS\tSIZE\tUPDATED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
				s.SessionID,
				s.Events,
				s.Size,
				s.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail <session>",
	Short: "Show the last events of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		raw, _ := cmd.Flags().GetBool("json")

		journal := state.NewJournal(loadConfig().DataDir)
		events, err := journal.Tail(cmd.Context(), types.SessionID(args[0]), limit)
		if err != nil {
			return fmt.Errorf("tail journal: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No events found.")
			return nil
		}

		if raw {
			enc := json.NewEncoder(os.Stdout)
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tPHOTO\tCOMMENT\tDETAIL")
		for _, ev := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				ev.Seq,
				ev.At.Local().Format("15:04:05"),
				ev.Type,
				optionalID(ev.PhotoID),
				optionalID(ev.CommentID),
				eventDetail(ev),
			)
		}
		return w.Flush()
	},
}

func optionalID(id int) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}

func eventDetail(ev *types.Event) string {
	if ev.Error != "" {
		return ev.Error
	}
	switch ev.Type {
	case types.EventPhotoAdded:
		var p photostream.Photo
		if json.Unmarshal(ev.Payload, &p) == nil {
			return render.PhotoLine(p)
		}
	case types.EventCommentAdded:
		var c photostream.Comment
		if json.Unmarshal(ev.Payload, &c) == nil {
			return render.CommentLine(c)
		}
	}
	return render.Truncate(string(ev.Payload), 80)
}
