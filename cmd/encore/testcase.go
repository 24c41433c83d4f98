package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vaayujeet/encore/pkg/types"
)

// scenarioStep is one event posted to a running correlator, followed by
// an optional wait so the correlation timers can fire.
type scenarioStep struct {
	AssetUniqueID string `json:"asset_unique_id"`
	EventTitle    string `json:"event_title"`
	EventType     string `json:"event_type"`
	EventLevel    string `json:"event_level"`
	EventDesc     string `json:"event_desc"`
	WaitSeconds   int    `json:"wait_seconds"`
}

type scenario struct {
	Description string         `json:"description"`
	Steps       []scenarioStep `json:"steps"`
}

var testCaseURL string

var testCaseCmd = &cobra.Command{
	Use:   "test-case FILE CASE",
	Short: "Replay a test scenario against a running dev correlator",
	Long: `Reads a scenario file (a JSON object mapping case names to event
sequences) and posts the named case's events to the ingress API,
pausing between events so suppression and ticket timers can fire.
Refuses to run outside the dev environment.`,
	Args: cobra.ExactArgs(2),
	RunE: runTestCase,
}

func init() {
	testCaseCmd.Flags().StringVar(&testCaseURL, "url", "http://localhost:8000",
		"Base URL of the correlator ingress API")
}

func runTestCase(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if cfg.Environment != "dev" {
		return fmt.Errorf("cannot run test cases in environment %q", cfg.Environment)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var cases map[string]scenario
	if err := json.Unmarshal(data, &cases); err != nil {
		return fmt.Errorf("parsing scenario file: %w", err)
	}

	name := args[1]
	sc, ok := cases[name]
	if !ok {
		return fmt.Errorf("unknown test case %q", name)
	}

	fmt.Printf("Test case %s - %s\n", name, sc.Description)
	client := &http.Client{Timeout: 5 * time.Minute}
	for i, step := range sc.Steps {
		payload := map[string]string{
			types.FieldAssetUniqueID: step.AssetUniqueID,
			types.FieldEventTitle:    step.EventTitle,
			types.FieldEventType:     step.EventType,
			types.FieldEventLevel:    step.EventLevel,
			types.FieldEventDesc:     step.EventDesc,
		}
		if err := postEvent(client, payload); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		fmt.Printf("  [%d/%d] %s %s on %s\n", i+1, len(sc.Steps),
			step.EventType, step.EventTitle, step.AssetUniqueID)
		if step.WaitSeconds > 0 {
			fmt.Printf("  waiting %d seconds\n", step.WaitSeconds)
			time.Sleep(time.Duration(step.WaitSeconds) * time.Second)
		}
	}
	fmt.Printf("Test case %s - complete\n", name)
	return nil
}

func postEvent(client *http.Client, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(testCaseURL+"/event/", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("event rejected with status %d", resp.StatusCode)
	}
	return nil
}
