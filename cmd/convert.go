package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/footprints/internal/ingest"
	"github.com/wegman-software/footprints/internal/logger"
	"github.com/wegman-software/footprints/internal/memstore"
	"github.com/wegman-software/footprints/internal/query"
	"github.com/wegman-software/footprints/internal/render"
)

var (
	convertBBox     string
	convertOutput   string
	convertLimit    int
	convertCentroid bool
	convertOrigin   string
)

var convertCmd = &cobra.Command{
	Use:   "convert <file|dir>...",
	Short: "Canonicalize documents and render them as OSM XML without a database",
	Long: `Run the import and query path in memory: documents are canonicalized
and deduplicated exactly as by import, then the footprints inside --bbox
(default: the extent of everything imported) are rendered as one OSM XML
document.

The document is written to --output, or to stdout when none is given.`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{stdoutAnnotation: "true"},
	Run:         runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVar(&convertOrigin, "origin", "convert", "Dataset origin used for source labels")
	convertCmd.Flags().StringVarP(&boundsStr, "bounds", "b", "", "Node bounds: minlon,minlat,maxlon,maxlat, or none (default: Japan)")
	convertCmd.Flags().StringVarP(&styleFile, "style", "S", "", "Category profile YAML")
	convertCmd.Flags().StringVar(&convertBBox, "bbox", "", "Query box: minlon,minlat,maxlon,maxlat")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Output file (default: stdout)")
	convertCmd.Flags().IntVar(&convertLimit, "limit", query.MaxLimit, "Maximum number of footprints")
	convertCmd.Flags().BoolVar(&convertCentroid, "centroid", false, "Select by centroid, one per distinct geometry")
	convertCmd.Flags().StringVar(&cfg.SourceTag, "source-tag", cfg.SourceTag, "Value of the source tag on rendered ways")
}

func runConvert(cmd *cobra.Command, args []string) {
	log := logger.Get()
	cfg.Origin = convertOrigin

	parser, err := newParser(cmd, boundsStr, styleFile)
	if err != nil {
		exitWithError("invalid ingest settings", err)
	}
	if err := cfg.ValidateImport(); err != nil {
		exitWithError("invalid configuration", err)
	}

	inputs, err := ingest.CollectInputs(args)
	if err != nil {
		exitWithError("failed to collect inputs", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := memstore.New()
	im := ingest.NewImporter(store, parser, ingest.Options{Origin: cfg.Origin, SkipCleanup: true}, logger.Named("ingest"))
	stats, err := im.Run(ctx, inputs)
	switch {
	case errors.Is(err, ingest.ErrNoBuildings):
		log.Warn("No footprints survived canonicalization", zap.Int("documents", stats.Documents))
	case err != nil:
		exitWithError("conversion failed", err)
	}

	codec := render.NewCodec(renderOptions(), logger.Named("render"))
	doc := codec.Render(nil).Document

	req, ok, err := convertRequest(store)
	if err != nil {
		exitWithError("invalid query", err)
	}
	if ok {
		resp, err := query.NewEngine(store, codec, logger.Named("query")).Query(ctx, req)
		if err != nil {
			exitWithError("query failed", err)
		}
		doc = resp.Document
		log.Info("Rendered footprints",
			zap.String("bbox", req.String()),
			zap.Stringer("mode", req.Mode),
			zap.Int("buildings", resp.Count),
			zap.Bool("fallback", resp.Fallback),
		)
	}

	if convertOutput == "" || convertOutput == "-" {
		if _, err := os.Stdout.Write(doc); err != nil {
			exitWithError("failed to write document", err)
		}
		return
	}
	if err := os.WriteFile(convertOutput, doc, 0o644); err != nil {
		exitWithError("failed to write document", err)
	}
	log.Info("Wrote document", zap.String("output", convertOutput), zap.Int("bytes", len(doc)))
}

// convertRequest builds the query from --bbox, or from the store extent.
// It reports false when there is nothing to query.
func convertRequest(store *memstore.Store) (query.Request, bool, error) {
	if convertBBox != "" {
		req, err := query.NewRequest(convertBBox, convertLimit, !convertCentroid)
		return req, err == nil, err
	}

	req, ok := store.Extent()
	if !ok {
		return query.Request{}, false, nil
	}
	req.Limit = query.ClampLimit(convertLimit)
	if convertCentroid {
		req.Mode = query.ModeCentroid
	}
	return req, true, nil
}
