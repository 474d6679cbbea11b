package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/observelite/beacon/internal/storage"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Dump stored metric values by lifetime and ping",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDataDir(); err != nil {
			return err
		}
		store, err := storage.Open(filepath.Join(dataDir, "beacon.db"), false)
		if err != nil {
			return err
		}
		defer store.Close()

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LIFETIME\tPING\tMETRIC\tKIND\tVALUE")
		for _, lt := range storage.Lifetimes {
			for _, ping := range pingNames(store, lt) {
				entries, err := store.Snapshot(lt, ping)
				if err != nil {
					return err
				}
				for _, e := range entries {
					payload, _ := json.Marshal(e.Value.Payload())
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", lt, ping, e.ID, e.Value.Kind, payload)
				}
			}
		}
		return w.Flush()
	},
}

func pingNames(store *storage.Store, lt storage.Lifetime) []string {
	names, err := store.PingNames(lt)
	if err != nil {
		return nil
	}
	return names
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pings pending upload",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDataDir(); err != nil {
			return err
		}
		dir := filepath.Join(dataDir, "pending")
		files, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no pending pings")
				return nil
			}
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tPING\tDOCUMENT\tBYTES")
		for _, de := range files {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(dir, de.Name()))
			if err != nil {
				continue
			}
			var doc struct {
				ID   string `json:"document_id"`
				Ping string `json:"ping"`
			}
			if err := json.Unmarshal(raw, &doc); err != nil {
				fmt.Fprintf(w, "%s\t(corrupt)\t-\t%d\n", de.Name(), len(raw))
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", de.Name(), doc.Ping, doc.ID, len(raw))
		}
		return w.Flush()
	},
}
