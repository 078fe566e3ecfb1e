package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "submit":
		runSubmit()
	case "status":
		runStatus()
	case "steps":
		runSteps()
	case "cancel":
		runCancel()
	case "version":
		printVersion()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("IntelliQA CLI - Resilient test run client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  intelliqa-cli submit <plan-file> [options]")
	fmt.Println("  intelliqa-cli status <run-id> [options]")
	fmt.Println("  intelliqa-cli steps <run-id> [options]")
	fmt.Println("  intelliqa-cli cancel <run-id> [options]")
	fmt.Println("  intelliqa-cli version")
	fmt.Println("  intelliqa-cli help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --api-url=URL            IntelliQA API URL (default: http://localhost:8080)")
	fmt.Println("  --api-token=TOKEN        API authentication token")
	fmt.Println("  --wait                   Wait for the submitted run to finish")
	fmt.Println("  --timeout=DURATION       How long to wait for completion (default: 30m)")
	fmt.Println("  --poll-interval=DURATION Polling interval while waiting (default: 3s)")
	fmt.Println("  --output-file=FILE       Write the final run and step results to a file")
	fmt.Println("  --verbose                Enable verbose output")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  INTELLIQA_API_URL        API URL")
	fmt.Println("  INTELLIQA_API_TOKEN      API token")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  intelliqa-cli submit order-flow.json --wait")
	fmt.Println("  intelliqa-cli status 5f0c9a3e-... --api-url=https://qa.internal:8443")
	fmt.Println("  intelliqa-cli steps 5f0c9a3e-... --output-file=steps.json")
}

func printVersion() {
	fmt.Println("IntelliQA CLI v1.0.0")
}

// ClientOptions holds the options shared by all commands
type ClientOptions struct {
	APIUrl       string
	APIToken     string
	Wait         bool
	Timeout      time.Duration
	PollInterval time.Duration
	OutputFile   string
	Verbose      bool
}

func parseClientOptions(args []string) *ClientOptions {
	options := &ClientOptions{
		APIUrl:       getEnvOrDefault("INTELLIQA_API_URL", "http://localhost:8080"),
		APIToken:     os.Getenv("INTELLIQA_API_TOKEN"),
		Timeout:      30 * time.Minute,
		PollInterval: 3 * time.Second,
	}

	// Parse command line arguments
	for _, arg := range args {
		if strings.HasPrefix(arg, "--api-url=") {
			options.APIUrl = strings.TrimPrefix(arg, "--api-url=")
		} else if strings.HasPrefix(arg, "--api-token=") {
			options.APIToken = strings.TrimPrefix(arg, "--api-token=")
		} else if strings.HasPrefix(arg, "--timeout=") {
			timeoutStr := strings.TrimPrefix(arg, "--timeout=")
			if timeout, err := time.ParseDuration(timeoutStr); err == nil {
				options.Timeout = timeout
			}
		} else if strings.HasPrefix(arg, "--poll-interval=") {
			intervalStr := strings.TrimPrefix(arg, "--poll-interval=")
			if interval, err := time.ParseDuration(intervalStr); err == nil {
				options.PollInterval = interval
			}
		} else if strings.HasPrefix(arg, "--output-file=") {
			options.OutputFile = strings.TrimPrefix(arg, "--output-file=")
		} else if arg == "--wait" {
			options.Wait = true
		} else if arg == "--verbose" {
			options.Verbose = true
		}
	}

	return options
}

// positionalArg returns the first non-flag argument after the command
func positionalArg(args []string) string {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			return arg
		}
	}
	return ""
}

func runSubmit() {
	args := os.Args[2:]
	options := parseClientOptions(args)

	planFile := positionalArg(args)
	if planFile == "" {
		fmt.Fprintln(os.Stderr, "Submit command requires a plan file argument")
		os.Exit(2)
	}

	plan, err := os.ReadFile(planFile)
	if err != nil {
		log.Fatalf("Failed to read plan file: %v", err)
	}
	if !json.Valid(plan) {
		log.Fatalf("Plan file %s is not valid JSON", planFile)
	}

	client := newAPIClient(options)

	var run RunView
	if err := client.do(http.MethodPost, "/api/v1/runs", plan, &run); err != nil {
		log.Fatalf("Failed to submit run: %v", err)
	}

	fmt.Printf("Run accepted: %s (test %s, %d steps)\n", run.ID, run.TestID, run.TotalSteps)

	if !options.Wait {
		return
	}

	final, err := waitForRun(client, run.ID, options)
	if err != nil {
		log.Fatalf("Failed waiting for run: %v", err)
	}

	var steps []StepView
	if err := client.do(http.MethodGet, "/api/v1/runs/"+final.ID+"/steps", nil, &steps); err != nil {
		log.Fatalf("Failed to fetch step results: %v", err)
	}

	printRunSummary(final, steps)

	if options.OutputFile != "" {
		if err := writeResults(final, steps, options.OutputFile); err != nil {
			log.Fatalf("Failed to write results: %v", err)
		}
		fmt.Printf("\nResults written to: %s\n", options.OutputFile)
	}

	os.Exit(determineExitCode(final.Status))
}

func runStatus() {
	args := os.Args[2:]
	options := parseClientOptions(args)

	runID := positionalArg(args)
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Status command requires a run ID argument")
		os.Exit(2)
	}

	client := newAPIClient(options)

	var run RunView
	if err := client.do(http.MethodGet, "/api/v1/runs/"+runID, nil, &run); err != nil {
		log.Fatalf("Failed to fetch run: %v", err)
	}

	printRunSummary(&run, nil)
}

func runSteps() {
	args := os.Args[2:]
	options := parseClientOptions(args)

	runID := positionalArg(args)
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Steps command requires a run ID argument")
		os.Exit(2)
	}

	client := newAPIClient(options)

	var steps []StepView
	if err := client.do(http.MethodGet, "/api/v1/runs/"+runID+"/steps", nil, &steps); err != nil {
		log.Fatalf("Failed to fetch step results: %v", err)
	}

	if options.OutputFile != "" {
		data, err := json.MarshalIndent(steps, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal step results: %v", err)
		}
		if err := os.WriteFile(options.OutputFile, data, 0644); err != nil {
			log.Fatalf("Failed to write step results: %v", err)
		}
		fmt.Printf("Step results written to: %s\n", options.OutputFile)
		return
	}

	printStepTable(steps)
}

func runCancel() {
	args := os.Args[2:]
	options := parseClientOptions(args)

	runID := positionalArg(args)
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Cancel command requires a run ID argument")
		os.Exit(2)
	}

	client := newAPIClient(options)

	if err := client.do(http.MethodPost, "/api/v1/runs/"+runID+"/cancel", nil, nil); err != nil {
		log.Fatalf("Failed to cancel run: %v", err)
	}

	fmt.Printf("Run %s cancelled\n", runID)
}

// waitForRun polls the run until it reaches a terminal status or the
// configured timeout elapses
func waitForRun(client *apiClient, runID string, options *ClientOptions) (*RunView, error) {
	deadline := time.Now().Add(options.Timeout)

	for {
		var run RunView
		if err := client.do(http.MethodGet, "/api/v1/runs/"+runID, nil, &run); err != nil {
			return nil, err
		}

		if isTerminalStatus(run.Status) {
			return &run, nil
		}

		if options.Verbose {
			log.Printf("Run %s is %s (%d/%d steps done)", runID, run.Status,
				run.SuccessfulSteps+run.FailedSteps+run.SkippedSteps, run.TotalSteps)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("run %s did not finish within %v (last status %s)", runID, options.Timeout, run.Status)
		}

		time.Sleep(options.PollInterval)
	}
}

func isTerminalStatus(status string) bool {
	switch status {
	case "PASSED", "FAILED", "PARTIAL_SUCCESS", "CANCELLED":
		return true
	}
	return false
}

func determineExitCode(status string) int {
	if status == "PASSED" {
		return 0
	}
	return 1
}

func printRunSummary(run *RunView, steps []StepView) {
	fmt.Println()
	fmt.Println("IntelliQA Test Run")
	fmt.Println(strings.Repeat("=", 30))
	fmt.Printf("Run ID:      %s\n", run.ID)
	fmt.Printf("Test:        %s\n", run.TestID)
	fmt.Printf("Environment: %s\n", run.Environment)
	fmt.Printf("Status:      %s\n", run.Status)
	fmt.Printf("Steps:       %d passed, %d failed, %d skipped of %d\n",
		run.SuccessfulSteps, run.FailedSteps, run.SkippedSteps, run.TotalSteps)

	if run.DurationMS > 0 {
		fmt.Printf("Duration:    %v\n", (time.Duration(run.DurationMS) * time.Millisecond).Round(time.Millisecond))
	}
	if run.FailureReason != "" {
		fmt.Printf("Failure:     %s\n", run.FailureReason)
	}
	if run.RecoveryApplied {
		fmt.Println("Recovery was applied during this run")
	}
	if run.RollbackPerformed {
		fmt.Println("Rollback was performed for this run")
	}

	if len(steps) > 0 {
		fmt.Println()
		printStepTable(steps)
	}
}

func printStepTable(steps []StepView) {
	fmt.Println("Steps:")
	for _, step := range steps {
		line := fmt.Sprintf("  [%s] %s (%s, %d attempts, %v)",
			step.Status, step.StepID, step.Type, step.Attempts,
			(time.Duration(step.DurationMS) * time.Millisecond).Round(time.Millisecond))
		fmt.Println(line)
		if step.ErrorMessage != "" {
			fmt.Printf("      %s\n", step.ErrorMessage)
		}
	}
}

func writeResults(run *RunView, steps []StepView, filename string) error {
	out := map[string]interface{}{
		"run":   run,
		"steps": steps,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	return os.WriteFile(filename, data, 0644)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// RunView is the client-side view of a run resource
type RunView struct {
	ID                string     `json:"id"`
	TestID            string     `json:"test_id"`
	Name              string     `json:"name"`
	Environment       string     `json:"environment"`
	Status            string     `json:"status"`
	TotalSteps        int        `json:"total_steps"`
	SuccessfulSteps   int        `json:"successful_steps"`
	FailedSteps       int        `json:"failed_steps"`
	SkippedSteps      int        `json:"skipped_steps"`
	FailureReason     string     `json:"failure_reason"`
	RecoveryApplied   bool       `json:"recovery_applied"`
	RollbackPerformed bool       `json:"rollback_performed"`
	StartedAt         *time.Time `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	DurationMS        int64      `json:"duration_ms"`
}

// StepView is the client-side view of a step result
type StepView struct {
	StepID       string `json:"step_id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	ServiceID    string `json:"service_id"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message"`
	DurationMS   int64  `json:"duration_ms"`
}

// apiEnvelope mirrors the API's standard response wrapper
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
	verbose bool
}

func newAPIClient(options *ClientOptions) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(options.APIUrl, "/"),
		token:   options.APIToken,
		client:  &http.Client{Timeout: 30 * time.Second},
		verbose: options.Verbose,
	}
}

// do issues one API request and decodes the enveloped response into out
func (c *apiClient) do(method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.verbose {
		log.Printf("%s %s", method, c.baseURL+path)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unexpected response from API (status %d)", resp.StatusCode)
	}

	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}
