package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	userID    string
)

func main() {
	root := &cobra.Command{
		Use:   "scriptflow",
		Short: "CLI client for the scriptflow platform",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&userID, "user", os.Getenv("SCRIPTFLOW_USER"), "User identity sent as X-User-ID")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Run the validation gates on a script without deploying it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
	root.AddCommand(validateCmd)

	var (
		deployName         string
		deployIntegrations []string
		deployTriggers     []string
	)
	deployCmd := &cobra.Command{
		Use:   "deploy [file]",
		Short: "Validate and deploy a script",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(args, deployName, deployIntegrations, deployTriggers)
		},
	}
	deployCmd.Flags().StringVar(&deployName, "name", "", "Deployment name (generated when absent)")
	deployCmd.Flags().StringSliceVar(&deployIntegrations, "integration", nil, "Declare an integration the script uses (checked against the script)")
	deployCmd.Flags().StringSliceVar(&deployTriggers, "trigger", nil, "Declare a trigger target function (checked against the script)")
	root.AddCommand(deployCmd)

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List deployments",
		RunE: func(*cobra.Command, []string) error {
			return getJSON("/v1/deployments")
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "get [id]",
		Short: "Show one deployment including its script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/v1/deployments/" + args[0])
		},
	})

	for _, op := range []string{"pause", "resume"} {
		op := op
		root.AddCommand(&cobra.Command{
			Use:   op + " [id]",
			Short: strings.ToUpper(op[:1]) + op[1:] + " a deployment",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return doJSON(http.MethodPost, "/v1/deployments/"+args[0]+"/"+op, nil)
			},
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doJSON(http.MethodDelete, "/v1/deployments/"+args[0], nil)
		},
	})

	var fireFunction string
	fireCmd := &cobra.Command{
		Use:   "fire [id]",
		Short: "Manually queue a run of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if fireFunction != "" {
				body["function"] = fireFunction
			}
			return doJSON(http.MethodPost, "/v1/deployments/"+args[0]+"/fire", body)
		},
	}
	fireCmd.Flags().StringVar(&fireFunction, "function", "", "Trigger target to run (defaults to the first)")
	root.AddCommand(fireCmd)

	root.AddCommand(&cobra.Command{
		Use:   "runs [deployment-id]",
		Short: "List runs of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/v1/deployments/" + args[0] + "/runs")
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "logs [run-id]",
		Short: "Print the captured output of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	})

	credsCmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage integration credentials",
	}
	credsCmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List configured integrations (values are never shown)",
		RunE: func(*cobra.Command, []string) error {
			return getJSON("/v1/credentials")
		},
	})
	credsCmd.AddCommand(&cobra.Command{
		Use:   "set [integration] [key=value]...",
		Short: "Store credential fields for an integration",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCredsSet,
	})
	credsCmd.AddCommand(&cobra.Command{
		Use:   "rm [integration]",
		Short: "Remove stored credentials for an integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doJSON(http.MethodDelete, "/v1/credentials/"+args[0], nil)
		},
	})
	root.AddCommand(credsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(*cobra.Command, []string) error {
			return getJSON("/health")
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// readScript returns the script from the named file, or stdin when no file
// argument was given.
func readScript(args []string) (string, error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0]) // #nosec G304 -- user-supplied CLI argument
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	script, err := readScript(args)
	if err != nil {
		return err
	}
	return doJSON(http.MethodPost, "/v1/scripts/validate", map[string]string{"script": script})
}

func runDeploy(args []string, name string, integrations, triggers []string) error {
	script, err := readScript(args)
	if err != nil {
		return err
	}
	body := map[string]any{"script": script}
	if name != "" {
		body["name"] = name
	}
	if len(integrations) > 0 || len(triggers) > 0 {
		body["metadata"] = map[string]any{
			"integrations": integrations,
			"triggers":     triggers,
		}
	}
	return doJSON(http.MethodPost, "/v1/scripts/deploy", body)
}

func runLogs(cmd *cobra.Command, args []string) error {
	resp, err := request(http.MethodGet, "/v1/runs/"+args[0]+"/logs", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func runCredsSet(cmd *cobra.Command, args []string) error {
	fields := map[string]string{}
	for _, pair := range args[1:] {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("expected key=value, got %q", pair)
		}
		fields[key] = value
	}
	return doJSON(http.MethodPut, "/v1/credentials/"+args[0], map[string]any{"fields": fields})
}

func getJSON(path string) error {
	return doJSON(http.MethodGet, path, nil)
}

// doJSON sends the request and pretty-prints the JSON response. Non-2xx
// responses set a non-zero exit code after printing the error body.
func doJSON(method, path string, body any) error {
	resp, err := request(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		fmt.Println("ok")
		return nil
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
	return nil
}

func request(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
