package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/store"

	"github.com/spf13/cobra"
)

// ingestLine is the JSONL wire shape. The event id is assigned by the log,
// never taken from the input.
type ingestLine struct {
	Project    string              `json:"project"`
	Type       event.Type          `json:"event_type"`
	OccurredAt string              `json:"event_ts"`
	Payload    json.RawMessage     `json:"payload"`
	Evidence   []event.EvidenceRef `json:"evidence_refs"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl>",
	Short: "Append events from a JSONL file to the event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		account := accountFlag(cmd)
		ctx := context.Background()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

		appended, lineNo := 0, 0
		for scanner.Scan() {
			lineNo++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			var line ingestLine
			if err := json.Unmarshal([]byte(text), &line); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			ev, err := line.toEvent(account)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			if _, err := st.AppendEvent(ctx, ev); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			appended++
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		slog.Info("Ingest finished", "file", args[0], "events", appended)
		return nil
	},
}

func (l ingestLine) toEvent(account string) (event.Event, error) {
	ts, err := parseEventTime(l.OccurredAt)
	if err != nil {
		return event.Event{}, err
	}
	return event.Event{
		Account:    account,
		Project:    l.Project,
		Type:       l.Type,
		OccurredAt: ts,
		Payload:    l.Payload,
		Evidence:   l.Evidence,
	}, nil
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
