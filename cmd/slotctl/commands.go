package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quincybrooks/siteslot/internal/token"
)

var (
	serverURL  string
	actorID    string
	writeToken string

	rootCmd = &cobra.Command{
		Use:   "slotctl",
		Short: "Manage siteslot locations, history, and files",
	}

	contentCmd = &cobra.Command{
		Use:   "content",
		Short: "Read and write location content",
	}
	contentGetCmd = &cobra.Command{
		Use:   "get <location>",
		Short: "Print the stored configuration for a location",
		Args:  cobra.ExactArgs(1),
		RunE:  runContentGet,
	}
	contentSetCmd = &cobra.Command{
		Use:   "set <location>",
		Short: "Write content for a location (reads stdin unless -f is given)",
		Args:  cobra.ExactArgs(1),
		RunE:  runContentSet,
	}

	itemsCmd = &cobra.Command{
		Use:   "items",
		Short: "Read and write linked item lists",
	}
	itemsGetCmd = &cobra.Command{
		Use:   "get <location>",
		Short: "Print the linked item list for a location",
		Args:  cobra.ExactArgs(1),
		RunE:  runItemsGet,
	}
	itemsSetCmd = &cobra.Command{
		Use:   "set <location>",
		Short: "Write the linked item list as JSON (reads stdin unless -f is given)",
		Args:  cobra.ExactArgs(1),
		RunE:  runItemsSet,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List snapshot journal entries, newest first",
		RunE:  runHistory,
	}
	restoreCmd = &cobra.Command{
		Use:   "restore <kind> <snapshot-id>",
		Short: "Re-apply a journaled state (kind: content, items, or file)",
		Args:  cobra.ExactArgs(2),
		RunE:  runRestore,
	}

	fileCmd = &cobra.Command{
		Use:   "file",
		Short: "Manage standalone files",
	}
	fileListCmd = &cobra.Command{
		Use:   "ls",
		Short: "List managed files",
		RunE:  runFileList,
	}
	fileGetCmd = &cobra.Command{
		Use:   "get <id>",
		Short: "Print a managed file",
		Args:  cobra.ExactArgs(1),
		RunE:  runFileGet,
	}
	filePutCmd = &cobra.Command{
		Use:   "put <id> <path>",
		Short: "Upload a managed file",
		Args:  cobra.ExactArgs(2),
		RunE:  runFilePut,
	}
	fileRmCmd = &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a managed file",
		Args:  cobra.ExactArgs(1),
		RunE:  runFileRm,
	}

	retentionCmd = &cobra.Command{
		Use:   "retention [cap]",
		Short: "Show or set the journal retention cap",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRetention,
	}

	tokenCmd = &cobra.Command{
		Use:   "token <scope>",
		Short: "Issue a write token for a scope (requires the server secret)",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}

	contentFile     string
	itemsFile       string
	historyLocation string
	historySubject  string
	historyLimit    int
	fileContentType string
	tokenSecret     string
	tokenIssuer     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "siteslot API base URL")
	rootCmd.PersistentFlags().StringVarP(&actorID, "actor", "a", os.Getenv("SITESLOT_ACTOR"), "acting operator ID")
	rootCmd.PersistentFlags().StringVarP(&writeToken, "token", "t", os.Getenv("SITESLOT_WRITE_TOKEN"), "write token")

	contentSetCmd.Flags().StringVarP(&contentFile, "file", "f", "", "read content from a file instead of stdin")
	itemsSetCmd.Flags().StringVarP(&itemsFile, "file", "f", "", "read the item list from a file instead of stdin")
	historyCmd.Flags().StringVar(&historyLocation, "location", "", "filter by location")
	historyCmd.Flags().StringVar(&historySubject, "subject", "", "filter by subject key")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum entries to list")
	filePutCmd.Flags().StringVar(&fileContentType, "content-type", "text/plain", "file content type")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("SITESLOT_TOKEN_SECRET"), "token signing secret")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "siteslot", "token issuer")

	contentCmd.AddCommand(contentGetCmd, contentSetCmd)
	itemsCmd.AddCommand(itemsGetCmd, itemsSetCmd)
	fileCmd.AddCommand(fileListCmd, fileGetCmd, filePutCmd, fileRmCmd)
	rootCmd.AddCommand(contentCmd, itemsCmd, historyCmd, restoreCmd, fileCmd, retentionCmd, tokenCmd)
}

func client() *apiClient {
	return newAPIClient(serverURL, actorID, writeToken)
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func readInput(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(os.Stdin)
}

func runContentGet(cmd *cobra.Command, args []string) error {
	var config json.RawMessage
	if err := client().do("GET", "/v1/locations/"+args[0]+"/content", nil, &config); err != nil {
		return err
	}
	return printJSON(config)
}

func runContentSet(cmd *cobra.Command, args []string) error {
	content, err := readInput(contentFile)
	if err != nil {
		return err
	}
	var result json.RawMessage
	body := map[string]string{"content": string(content)}
	if err := client().do("PUT", "/v1/locations/"+args[0]+"/content", body, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func runItemsGet(cmd *cobra.Command, args []string) error {
	var items json.RawMessage
	if err := client().do("GET", "/v1/locations/"+args[0]+"/items", nil, &items); err != nil {
		return err
	}
	return printJSON(items)
}

func runItemsSet(cmd *cobra.Command, args []string) error {
	items, err := readInput(itemsFile)
	if err != nil {
		return err
	}
	var result json.RawMessage
	body := map[string]json.RawMessage{"items": json.RawMessage(items)}
	if err := client().do("PUT", "/v1/locations/"+args[0]+"/items", body, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := "/v1/history?limit=" + strconv.Itoa(historyLimit)
	if historyLocation != "" {
		path += "&location=" + historyLocation
	}
	if historySubject != "" {
		path += "&subject=" + historySubject
	}
	var entries json.RawMessage
	if err := client().do("GET", path, nil, &entries); err != nil {
		return err
	}
	return printJSON(entries)
}

func runRestore(cmd *cobra.Command, args []string) error {
	kind := args[0]
	switch kind {
	case "content", "items", "file":
	default:
		return fmt.Errorf("kind must be content, items, or file")
	}
	if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
		return fmt.Errorf("snapshot id must be numeric: %w", err)
	}
	var entry json.RawMessage
	body := map[string]string{"kind": kind}
	if err := client().do("POST", "/v1/snapshots/"+args[1]+"/restore", body, &entry); err != nil {
		return err
	}
	return printJSON(entry)
}

func runFileList(cmd *cobra.Command, args []string) error {
	var files json.RawMessage
	if err := client().do("GET", "/v1/files", nil, &files); err != nil {
		return err
	}
	return printJSON(files)
}

func runFileGet(cmd *cobra.Command, args []string) error {
	var file json.RawMessage
	if err := client().do("GET", "/v1/files/"+args[0], nil, &file); err != nil {
		return err
	}
	return printJSON(file)
}

func runFilePut(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	body := map[string]any{
		"name":         args[1],
		"content_type": fileContentType,
		"content":      content,
	}
	var result json.RawMessage
	if err := client().do("PUT", "/v1/files/"+args[0], body, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func runFileRm(cmd *cobra.Command, args []string) error {
	var result json.RawMessage
	if err := client().do("DELETE", "/v1/files/"+args[0], nil, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func runRetention(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		var result json.RawMessage
		if err := client().do("GET", "/v1/settings/retention", nil, &result); err != nil {
			return err
		}
		return printJSON(result)
	}
	cap, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("retention cap must be numeric: %w", err)
	}
	var result json.RawMessage
	if err := client().do("PUT", "/v1/settings/retention", map[string]int{"retention": cap}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenSecret == "" {
		return fmt.Errorf("a signing secret is required (--secret or SITESLOT_TOKEN_SECRET)")
	}
	verifier, err := token.NewVerifier([]byte(tokenSecret), tokenIssuer, token.DefaultValidity)
	if err != nil {
		return err
	}
	issued, err := verifier.Issue(args[0])
	if err != nil {
		return err
	}
	fmt.Println(issued)
	return nil
}
