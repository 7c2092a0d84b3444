package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hkevin01/wifi-radar/internal/recorder"
)

func newSessionsCommand(_ *commandContext) *cobra.Command {
	var dbPath string

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage recorded capture sessions",
	}
	sessionsCmd.PersistentFlags().StringVar(&dbPath, "db", "recordings.db", "Recording database")

	withStore := func(fn func(*recorder.Store) error) error {
		store, err := recorder.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(store)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *recorder.Store) error {
				sessions, err := store.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded")
					return nil
				}
				rows := make([][]string, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, []string{
						s.ID.String(),
						s.StartedAt.Local().Format(time.DateTime),
						s.Source,
						s.Shape.String(),
						strconv.Itoa(s.Frames),
						strconv.Itoa(s.Events),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Started", "Source", "Shape", "Frames", "Events"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session's track lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			return withStore(func(store *recorder.Store) error {
				sess, err := store.Session(cmd.Context(), id)
				if err != nil {
					return err
				}
				events, err := store.TrackEvents(cmd.Context(), id)
				if err != nil {
					return err
				}
				poses, err := store.PoseCount(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s: %s, shape %s at %g Hz, %d frames\n",
					sess.ID, sess.Source, sess.Shape, sess.SampleRateHz, sess.Frames)

				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, []string{
						ev.Timestamp.Local().Format("15:04:05.000"),
						strconv.FormatUint(uint64(ev.TrackID), 10),
						ev.Event.String(),
					})
				}
				if len(rows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Time", "Track", "Event"}, rows,
						[]columnAlignment{alignLeft, alignRight, alignLeft}))
				}
				for _, track := range sortedKeys(poses) {
					fmt.Fprintf(out, "track %d: %d poses\n", track, poses[track])
				}
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and everything recorded in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			return withStore(func(store *recorder.Store) error {
				if err := store.DeleteSession(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", id)
				return nil
			})
		},
	}

	sessionsCmd.AddCommand(listCmd, showCmd, deleteCmd)
	return sessionsCmd
}
