package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/siherrmann/knowledge"
	"github.com/siherrmann/knowledge/core/dispatch"
	"github.com/siherrmann/knowledge/core/pipeline"
	"github.com/siherrmann/knowledge/core/tools"
	"github.com/siherrmann/knowledge/model"
	"github.com/spf13/cobra"
)

var (
	importFormat    string
	importRole      string
	importEntryType string
	importDryRun    bool
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Parse markdown files and bulk import their entries",
		Long: `Parse markdown files and bulk import their entries through kb_bulk_import.

The lessons format turns every bullet of a lessons-learned file into a lesson,
the paragraphs format turns every paragraph into an entry of --role and --type.

Examples:
  knowledge import docs/LESSONS-LEARNED.md
  knowledge import --format paragraphs --role qa --type runbook docs/runbook.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().StringVarP(&importFormat, "format", "f", "lessons", "file format (lessons, paragraphs)")
	cmd.Flags().StringVarP(&importRole, "role", "r", "all", "role of paragraph entries")
	cmd.Flags().StringVarP(&importEntryType, "type", "t", string(model.EntryTypeNote), "entry type of paragraph entries")
	cmd.Flags().BoolVar(&importDryRun, "dry-run", false, "validate without writing")

	return cmd
}

func parser() (pipeline.ParseFunc, error) {
	switch importFormat {
	case "lessons":
		return pipeline.LessonsLearnedParser(), nil
	case "paragraphs":
		role, err := model.ParseRole(importRole)
		if err != nil {
			return nil, err
		}
		entryType := model.EntryType(importEntryType)
		if !entryType.Valid() {
			return nil, fmt.Errorf("unknown entry type %q", importEntryType)
		}
		return pipeline.ParagraphParser(role, entryType), nil
	default:
		return nil, fmt.Errorf("unknown format %q, expected lessons or paragraphs", importFormat)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	parse, err := parser()
	if err != nil {
		return err
	}

	var entries []model.ImportEntry
	for _, path := range args {
		source, err := model.NewImportSourceFromFile(path)
		if err != nil {
			return err
		}
		result, err := parse(source)
		if err != nil {
			return err
		}
		for _, warning := range result.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", path, warning)
		}
		entries = append(entries, result.Entries...)
	}

	k, _, err := open()
	if err != nil {
		return err
	}
	defer k.Close()

	summary, err := importBatches(cmd, k, entries)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d entries failed", summary.Failed, summary.Total)
	}
	return nil
}

// importBatches calls kb_bulk_import once per MaxImportEntries entries and
// sums up the results. Error indexes refer to the combined entry list.
func importBatches(cmd *cobra.Command, k *knowledge.Knowledge, entries []model.ImportEntry) (*tools.ImportResult, error) {
	summary := &tools.ImportResult{Total: len(entries), Errors: []tools.ImportError{}, DryRun: importDryRun}

	for offset := 0; offset < len(entries); offset += tools.MaxImportEntries {
		batch := entries[offset:min(offset+tools.MaxImportEntries, len(entries))]

		ctx, cancel := context.WithTimeout(cmd.Context(), defaultCallTimeout)
		result := k.CallTool(ctx, tools.NameBulkImport, map[string]any{"entries": batch, "dry_run": importDryRun})
		cancel()
		if code, message, ok := dispatch.DecodeError(result); ok {
			return nil, fmt.Errorf("%s failed with %s: %s", tools.NameBulkImport, code, message)
		}

		var batchResult tools.ImportResult
		if err := json.Unmarshal([]byte(result.Content[0].Text), &batchResult); err != nil {
			return nil, fmt.Errorf("error decoding import result: %w", err)
		}
		summary.Succeeded += batchResult.Succeeded
		summary.Failed += batchResult.Failed
		summary.DurationMs += batchResult.DurationMs
		for _, importErr := range batchResult.Errors {
			importErr.Index += offset
			summary.Errors = append(summary.Errors, importErr)
		}
	}

	return summary, nil
}
