package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/observelite/beacon/internal/uploader"
)

var (
	sendServer  string
	sendWorkers int
	sendTimeout time.Duration
)

func init() {
	sendCmd.Flags().StringVar(&sendServer, "server", "", "collector base URL (required)")
	sendCmd.Flags().IntVar(&sendWorkers, "workers", 3, "concurrent upload workers")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "per-request timeout")
	sendCmd.MarkFlagRequired("server")
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Drain the pending upload queue against a collector",
	Long: `Drain the pending upload queue by repeatedly asking the queue for
tasks and POSTing each document to the collector. Retry, backoff, and rate
limiting are decided by the queue; this command only performs the HTTP
calls and reports their outcomes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDataDir(); err != nil {
			return err
		}
		queue, err := uploader.New(filepath.Join(dataDir, "pending"), uploader.DefaultPolicy())
		if err != nil {
			return err
		}
		if queue.Pending() == 0 {
			fmt.Println("no pending pings")
			return nil
		}

		client := &http.Client{Timeout: sendTimeout}
		g, ctx := errgroup.WithContext(cmd.Context())
		for i := 0; i < sendWorkers; i++ {
			g.Go(func() error { return drain(ctx, queue, client) })
		}
		if err := g.Wait(); err != nil {
			return err
		}

		stats := queue.StatsSnapshot()
		fmt.Printf("delivered %d, dropped %d, retries exhausted %d\n",
			stats.Succeeded, stats.Unrecoverable, stats.RetriesExhausted)
		return nil
	},
}

func drain(ctx context.Context, queue *uploader.Manager, client *http.Client) error {
	for {
		task := queue.GetUploadTask()
		switch task.Kind {
		case uploader.TaskDone:
			return nil
		case uploader.TaskWait:
			select {
			case <-time.After(task.Wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		case uploader.TaskUpload:
			queue.ReportResult(task.Document.ID, deliver(ctx, client, task.Document))
		}
	}
}

func deliver(ctx context.Context, client *http.Client, doc uploader.Document) uploader.Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendServer+doc.Path, bytes.NewReader(doc.Body))
	if err != nil {
		return uploader.UnrecoverableFailure
	}
	for k, v := range doc.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("document", doc.ID).Msg("Upload attempt failed")
		return uploader.RecoverableFailure
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return uploader.Success
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		log.Warn().Int("status", resp.StatusCode).Str("document", doc.ID).Msg("Collector rejected ping")
		return uploader.UnrecoverableFailure
	default:
		return uploader.RecoverableFailure
	}
}
