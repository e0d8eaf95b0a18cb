package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/recruit-intake/internal/model"
)

var (
	processFile    string
	processID      string
	processSubject string
	processBody    string
	processSource  string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a single intake event",
	Long:  "Runs one event through dedupe, extraction, and the CRM write. The event comes from --file (JSON) or from the --id/--subject/--body flags.",
	RunE: func(cmd *cobra.Command, args []string) error {
		event, err := loadEvent()
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Coordinator.Process(cmd.Context(), event)
		if err != nil {
			// A partial outcome is still worth printing: the result is
			// durably recorded and the reconciler will finish the write.
			if result != nil {
				if out, mErr := json.MarshalIndent(result, "", "  "); mErr == nil {
					fmt.Println(string(out))
				}
			}
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal result")
		}
		fmt.Println(string(out))
		return nil
	},
}

func loadEvent() (*model.IntakeEvent, error) {
	if processFile != "" {
		data, err := os.ReadFile(processFile)
		if err != nil {
			return nil, eris.Wrapf(err, "read event file %s", processFile)
		}
		var event model.IntakeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, eris.Wrap(err, "parse event file")
		}
		return &event, nil
	}

	if processID == "" {
		return nil, eris.New("either --file or --id is required")
	}
	return &model.IntakeEvent{
		ExternalID: processID,
		Source:     model.EventSource(processSource),
		Subject:    processSubject,
		RawBody:    processBody,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

func init() {
	processCmd.Flags().StringVar(&processFile, "file", "", "path to an event JSON file")
	processCmd.Flags().StringVar(&processID, "id", "", "external id (idempotency key)")
	processCmd.Flags().StringVar(&processSubject, "subject", "", "event subject line")
	processCmd.Flags().StringVar(&processBody, "body", "", "raw event body")
	processCmd.Flags().StringVar(&processSource, "source", "manual", "event source (email, webhook, manual)")
	rootCmd.AddCommand(processCmd)
}
