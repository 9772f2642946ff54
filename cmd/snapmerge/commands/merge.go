package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/blkops/snapmerge/internal/logger"
	"github.com/blkops/snapmerge/pkg/blockdev"
	"github.com/blkops/snapmerge/pkg/config"
	"github.com/blkops/snapmerge/pkg/cow"
	"github.com/blkops/snapmerge/pkg/merge"
	"github.com/blkops/snapmerge/pkg/metrics"
)

var (
	mergeBase     string
	mergeManifest string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Apply a COW operation log to a base device",
	Long: `Apply a copy-on-write operation log to a base block device in place.

The merge checkpoints its progress after every applied window. If the
process is killed (or the machine crashes), rerunning the same command
resumes from the last checkpoint; a window that was staged but not yet
applied is replayed from the scratch region without re-reading the device.

Examples:
  # Run (or resume) a merge
  snapmerge merge --base /dev/vdb --manifest ops.yaml

  # With a custom config
  snapmerge merge --base base.img --manifest ops.yaml --config ./snapmerge.yaml

  # Override config via environment
  SNAPMERGE_LOGGING_LEVEL=DEBUG snapmerge merge --base base.img --manifest ops.yaml`,
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringVar(&mergeBase, "base", "", "Base device or image file to merge in place (required)")
	mergeCmd.Flags().StringVar(&mergeManifest, "manifest", "", "COW operation manifest (required)")
	_ = mergeCmd.MarkFlagRequired("base")
	_ = mergeCmd.MarkFlagRequired("manifest")
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	log, payloads, err := cow.LoadManifest(mergeManifest)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	logger.Info("manifest loaded", "ops", log.Len(), "blocks", log.DataOps())

	base, err := blockdev.OpenReadWrite(mergeBase)
	if err != nil {
		return err
	}
	defer base.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	mets := metrics.New(reg)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
	}

	m, err := merge.NewMerger(merge.Options{
		Log:             log,
		Payloads:        payloads,
		Base:            base,
		ScratchPath:     cfg.Scratch.Path,
		ScratchDataSize: cfg.Scratch.DataSize.Uint64(),
		CheckpointPath:  cfg.Scratch.CheckpointPath,
		Metrics:         mets,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	progressDone := make(chan struct{})
	go reportProgress(m, log.DataOps(), progressDone)

	err = m.Merge(ctx)
	close(progressDone)
	if err != nil {
		if errors.Is(err, merge.ErrAborted) {
			logger.Warn("merge interrupted; rerun the same command to resume",
				"blocks_applied", m.TotalBlocksMerged())
		}
		return err
	}

	fmt.Printf("Merge complete: %d blocks applied.\n", m.TotalBlocksMerged())
	return nil
}

// reportProgress logs applied-block counts at a fixed cadence until done is
// closed.
func reportProgress(m *merge.Merger, totalBlocks int, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			applied := m.TotalBlocksMerged()
			logger.Info("merge progress",
				"blocks_applied", applied,
				"blocks_total", totalBlocks,
				"last_window", m.BlocksMergedThisWindow())
		case <-done:
			return
		}
	}
}
