package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dyluth/gateway/internal/blob"
	"github.com/dyluth/gateway/internal/printer"
	"github.com/spf13/cobra"
)

var blobOutputFormat string

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Work with the content-addressed upload store",
	Long: `Blob reads and writes the upload store directly, using the same storage
directory and hash algorithm as the HTTP server.`,
}

var blobPutCmd = &cobra.Command{
	Use:   "put <file>...",
	Short: "Store files and print their references",
	Example: `  gateway blob put report.pdf
  gateway blob put -o json a.txt b.txt | jq -r '.[].hash'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBlobPut,
}

var blobStatCmd = &cobra.Command{
	Use:   "stat <hash>",
	Short: "Show whether a blob is stored and its size",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlobStat,
}

func init() {
	blobCmd.PersistentFlags().StringVarP(&blobOutputFormat, "output", "o", "default", "Output format: default or json")
	blobCmd.AddCommand(blobPutCmd, blobStatCmd)
	rootCmd.AddCommand(blobCmd)
}

func openBlobStore() (*blob.Store, error) {
	if err := checkOutputFormat(blobOutputFormat); err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := blob.NewStore(cfg.StorageDirectory(), cfg.Request.Files.HashAlgorithm)
	if err != nil {
		return nil, printer.Error("Upload storage unavailable", err.Error(), nil)
	}
	return store, nil
}

func runBlobPut(cmd *cobra.Command, args []string) error {
	store, err := openBlobStore()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	refs := make([]blob.FileRef, 0, len(args))
	for _, path := range args {
		ref, err := store.Ingest(ctx, blob.Upload{
			Name: filepath.Base(path),
			Open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
		if err != nil {
			return printer.ErrorWithContext("Cannot store file", err.Error(),
				[]printer.Field{{Label: "File", Value: path}}, nil)
		}
		refs = append(refs, ref)
	}

	if blobOutputFormat == "json" {
		return printer.JSON(refs)
	}
	for _, ref := range refs {
		printer.Fields(ref.Name, []printer.Field{
			{Label: "Hash", Value: ref.Hash},
			{Label: "MIME", Value: ref.MIME},
			{Label: "Size", Value: ref.Size},
		})
	}
	printer.Success("Stored %d %s in %s (%s)\n", len(refs), plural(len(refs), "file", "files"), store.Root(), store.Algorithm())
	return nil
}

func runBlobStat(cmd *cobra.Command, args []string) error {
	store, err := openBlobStore()
	if err != nil {
		return err
	}

	ref, err := store.Stat(args[0])
	if err != nil {
		if blob.IsNotFound(err) {
			return printer.ErrorWithContext("Blob not found", "",
				[]printer.Field{{Label: "Hash", Value: args[0]}, {Label: "Store", Value: store.Root()}}, nil)
		}
		return printer.Error("Cannot read blob", err.Error(), nil)
	}

	if blobOutputFormat == "json" {
		return printer.JSON(ref)
	}
	printer.Fields("Blob", []printer.Field{
		{Label: "Hash", Value: ref.Hash},
		{Label: "Size", Value: ref.Size},
		{Label: "Path", Value: filepath.Join(store.Root(), ref.Hash)},
	})
	return nil
}

func checkOutputFormat(format string) error {
	switch format {
	case "default", "json":
		return nil
	}
	return printer.Error(fmt.Sprintf("Invalid output format: %s", format), "",
		[]string{"Use --output default or --output json"})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
