package main

import (
	"time"

	"github.com/spf13/cobra"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/report"
	"f1telemetryhub/pkg/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var lapsCmd = &cobra.Command{
	Use:   "laps <sessionId>",
	Short: "Show the laps completed in a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLaps,
}

func openStore() (*store.Manager, func(), error) {
	cfg, lm, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL, store.Options{
		PageSize: cfg.QueryPageSize,
		MaxLimit: cfg.QueryMaxLimit,
		Logger:   logger,
	})
	if err != nil {
		lm.Close()
		return nil, nil, err
	}
	return st, func() {
		st.Close()
		lm.Close()
	}, nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	st, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	sessions, err := st.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	report.Sessions(cmd.OutOrStdout(), sessions, time.Now())
	return nil
}

func runLaps(cmd *cobra.Command, args []string) error {
	st, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	var events []model.SessionEvent
	q := store.EventQuery{SessionID: args[0], EventType: model.EventLapComplete}
	err = st.EachEvent(cmd.Context(), q, func(e model.SessionEvent) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		return err
	}
	report.Laps(cmd.OutOrStdout(), report.LapsFromEvents(events))
	return nil
}
