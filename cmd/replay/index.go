package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"coopsim.io/internal/persistence/indexdb"
)

type indexOptions struct {
	*rootOptions
	Database string
}

func newIndexCommand(root *rootOptions) *cobra.Command {
	opts := &indexOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Query the sqlite message index",
		Long: `Query the relay's sqlite message index. The index may miss messages the
relay dropped under load; the journal is authoritative.

Examples:
  replay index sessions --db ./data/index/coopsim.sqlite
  replay index messages lobby --db ./data/index/coopsim.sqlite --limit 20
  replay index types lobby --db ./data/index/coopsim.sqlite --format json`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the index database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newIndexSessionsCommand(opts))
	cmd.AddCommand(newIndexMessagesCommand(opts))
	cmd.AddCommand(newIndexTypesCommand(opts))
	return cmd
}

func openIndex(opts *indexOptions) (*indexdb.SQLiteIndex, error) {
	// OpenSQLite creates missing databases; a typo should not.
	if _, err := os.Stat(opts.Database); err != nil {
		return nil, wrapExit(exitCommandError, "open index", err)
	}
	idx, err := indexdb.OpenSQLite(opts.Database)
	if err != nil {
		return nil, wrapExit(exitCommandError, "open index", err)
	}
	return idx, nil
}

func newIndexSessionsCommand(opts *indexOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List indexed sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(opts)
			if err != nil {
				return err
			}
			defer idx.Close()

			sessions, err := idx.Sessions(cmd.Context())
			if err != nil {
				return wrapExit(exitCommandError, "query sessions", err)
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				if sessions == nil {
					sessions = []indexdb.SessionSummary{}
				}
				return writeJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions indexed.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s messages=%d participants=%d first=%s last=%s\n",
					s.SessionID, s.Messages, s.Participants, s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newIndexMessagesCommand(opts *indexOptions) *cobra.Command {
	var (
		after int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "messages <session>",
		Short: "Print a session's messages in relay order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(opts)
			if err != nil {
				return err
			}
			defer idx.Close()

			rows, err := idx.Messages(cmd.Context(), args[0], after, limit)
			if err != nil {
				return wrapExit(exitCommandError, "query messages", err)
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				type row struct {
					Seq           int64           `json:"seq"`
					At            time.Time       `json:"at"`
					ParticipantID string          `json:"participant_id"`
					Type          string          `json:"type"`
					Fanout        int             `json:"fanout"`
					Msg           json.RawMessage `json:"msg"`
				}
				list := make([]row, 0, len(rows))
				for _, r := range rows {
					list = append(list, row{r.Seq, r.At, r.ParticipantID, r.Type, r.Fanout, json.RawMessage(r.RawJSON)})
				}
				return writeJSON(out, list)
			}
			for _, r := range rows {
				fmt.Fprintf(out, "%d %s %s %s fanout=%d\n", r.Seq, r.At.Format(time.RFC3339Nano), r.ParticipantID, r.Type, r.Fanout)
				if opts.Verbose {
					fmt.Fprintf(out, "  %s\n", r.RawJSON)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only messages with seq greater than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum messages (0 for all)")
	return cmd
}

func newIndexTypesCommand(opts *indexOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types <session>",
		Short: "Count a session's messages per type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(opts)
			if err != nil {
				return err
			}
			defer idx.Close()

			counts, err := idx.TypeCounts(cmd.Context(), args[0])
			if err != nil {
				return wrapExit(exitCommandError, "query types", err)
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, counts)
			}
			for _, k := range sortedKeys(counts) {
				fmt.Fprintf(out, "%s %d\n", k, counts[k])
			}
			return nil
		},
	}
}
