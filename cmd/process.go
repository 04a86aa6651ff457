package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/pipeline"
)

var (
	processFile  string
	processOwner string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one document through the intake pipeline",
	Long:  "Reads a document from disk and runs the full pipeline: transcription, client classification, schema extraction and normalization. Errors surface synchronously.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		document, err := os.ReadFile(processFile)
		if err != nil {
			return eris.Wrap(err, "read document")
		}

		ord, err := env.Runner.Run(ctx, pipeline.RunInput{
			OwnerID:      processOwner,
			Document:     document,
			DocumentName: filepath.Base(processFile),
		})
		if err != nil {
			return err
		}

		zap.L().Info("document processed",
			zap.String("order_id", ord.ID),
			zap.String("profile_id", ord.ProfileID),
			zap.String("state", string(ord.State)),
		)

		fmt.Printf("order %s (%s)\n", ord.ID, ord.State)
		fmt.Print(ord.Normalized)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processFile, "file", "", "path to the document (required)")
	processCmd.Flags().StringVar(&processOwner, "owner", "", "owner id the document belongs to (required)")
	processCmd.MarkFlagRequired("file")
	processCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(processCmd)
}
