package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/ingest"
	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
)

// extractCmd runs the extractor against one .eml file without touching the
// database. Repeating it (--times) shows how stable the model's answer is.
func extractCmd() *cobra.Command {
	var times int
	cmd := &cobra.Command{
		Use:   "extract <file.eml>",
		Short: "Dry-run receipt extraction for one email file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log)
			if cfg.LLM.APIKey == "" {
				return common.NewAppError(common.CodeConfig, "OPENAI_API_KEY is required", common.ErrInvalidInput)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			msg, err := ingest.ParseEML(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			content := strings.TrimSpace(msg.BodyPlain)
			if content == "" {
				content = llm.SanitizeContent(msg.BodyHTML, cfg.Extract.MaxChars)
			}

			a := &app{cfg: cfg, logger: logger}
			ex := a.extractor(a.generator())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for i := 1; i <= max(times, 1); i++ {
				start := time.Now()
				receipt, err := ex.Extract(cmd.Context(), content)
				if err != nil {
					logger.Error("extract.run.error", "iter", i, "error", err)
					continue
				}
				logger.Info("extract.run.ok", "iter", i, "items", len(receipt.Items), "elapsed_ms", time.Since(start).Milliseconds())
				if err := enc.Encode(receipt); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&times, "times", "n", 1, "run the extraction this many times")
	return cmd
}
