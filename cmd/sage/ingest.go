package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source-id>",
	Short: "Chunk, embed and index one source now",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage knowledge sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a source from a file and index it",
	RunE:  runSourceAdd,
}

var (
	sourceTenant string
	sourceType   string
	sourceTitle  string
	sourceFile   string
)

func init() {
	sourceAddCmd.Flags().StringVar(&sourceTenant, "tenant", "", "tenant id (required)")
	sourceAddCmd.Flags().StringVar(&sourceType, "type", string(domain.SourceText), "source type: url, pdf, faq or text")
	sourceAddCmd.Flags().StringVar(&sourceTitle, "title", "", "title shown in answer attribution")
	sourceAddCmd.Flags().StringVar(&sourceFile, "file", "", "file holding the source content (required)")
	_ = sourceAddCmd.MarkFlagRequired("tenant")
	_ = sourceAddCmd.MarkFlagRequired("file")

	sourceCmd.AddCommand(sourceAddCmd)
	rootCmd.AddCommand(ingestCmd, sourceCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	id, err := parseUUIDArg("source id", args[0])
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{requireDB: true, events: true})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.pipeline.Ingest(cmd.Context(), id)
	if err != nil {
		return err
	}
	src, err := a.store.GetSource(cmd.Context(), id)
	if err != nil {
		return err
	}
	cmd.Printf("source %s: %s, %d chunks\n", id, src.Status, n)
	if src.LastError != "" {
		cmd.Printf("reason: %s\n", src.LastError)
	}
	return nil
}

func runSourceAdd(cmd *cobra.Command, _ []string) error {
	tenantID, err := parseUUIDArg("tenant", sourceTenant)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(sourceFile)
	if err != nil {
		return fmt.Errorf("read %s: %w", sourceFile, err)
	}
	title := sourceTitle
	if title == "" {
		title = sourceFile
	}

	a, err := newApp(cmd.Context(), cfg, appOptions{requireDB: true, events: true})
	if err != nil {
		return err
	}
	defer a.Close()

	src := &domain.Source{
		TenantID: tenantID,
		Title:    title,
		Type:     domain.SourceType(sourceType),
		Content:  string(content),
		Status:   domain.SourcePending,
	}
	if err := a.store.CreateSource(cmd.Context(), src); err != nil {
		return err
	}
	cmd.Printf("created source %s\n", src.ID)

	n, err := a.pipeline.Ingest(cmd.Context(), src.ID)
	if err != nil {
		return err
	}
	cmd.Printf("indexed %d chunks\n", n)
	return nil
}
