package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// submitPayload mirrors requests/domain.SubmitInput on the wire
type submitPayload struct {
	Products              []string    `json:"products"`
	Version               string      `json:"version,omitempty"`
	Filters               filtersSpec `json:"filters"`
	RequireCompleteOrbits bool        `json:"require_complete_orbits,omitempty"`
}

type filtersSpec struct {
	BBox    string          `json:"bbox,omitempty"`
	Polygon [][2]float64    `json:"polygon,omitempty"`
	Start   *time.Time      `json:"start,omitempty"`
	End     *time.Time      `json:"end,omitempty"`
	Columns []string        `json:"columns,omitempty"`
	Quality json.RawMessage `json:"quality,omitempty"`
}

func newSubmitCommand() *cobra.Command {
	var (
		products       []string
		version        string
		bbox           string
		start, end     string
		columns        []string
		qualityFile    string
		completeOrbits bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an ingest request and print its id",
		RunE: func(c *cobra.Command, args []string) error {
			spec := filtersSpec{BBox: bbox, Columns: columns}
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("bad --start: %w", err)
				}
				spec.Start = &t
			}
			if end != "" {
				t, err := time.Parse(time.RFC3339, end)
				if err != nil {
					return fmt.Errorf("bad --end: %w", err)
				}
				spec.End = &t
			}
			if qualityFile != "" {
				raw, err := os.ReadFile(qualityFile)
				if err != nil {
					return fmt.Errorf("read --quality: %w", err)
				}
				spec.Quality = raw
			}

			data, err := postJSON(c.Context(), "/requests/submit", submitPayload{
				Products:              products,
				Version:               version,
				Filters:               spec,
				RequireCompleteOrbits: completeOrbits,
			})
			if err != nil {
				return err
			}
			return printData(data)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&products, "product", nil, "product short name, repeatable (e.g. GEDI02_A)")
	flags.StringVar(&version, "version", "", "product version (e.g. 002)")
	flags.StringVar(&bbox, "bbox", "", "bounding box west,south,east,north in degrees")
	flags.StringVar(&start, "start", "", "acquisition window start, RFC3339")
	flags.StringVar(&end, "end", "", "acquisition window end, RFC3339")
	flags.StringSliceVar(&columns, "column", nil, "metric column to keep, repeatable (default set when omitted)")
	flags.StringVar(&qualityFile, "quality", "", "path to a JSON quality profile (conditions ANDed per shot)")
	flags.BoolVar(&completeOrbits, "complete-orbits", false, "only ingest granules from complete orbits")
	_ = cmd.MarkFlagRequired("product")

	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Poll a request and print its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := postJSON(c.Context(), "/requests/status", map[string]string{"request_id": args[0]})
			if err != nil {
				return err
			}
			return printData(data)
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel a pending or running request",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := postJSON(c.Context(), "/requests/cancel", map[string]string{"request_id": args[0]})
			if err != nil {
				return err
			}
			return printData(data)
		},
	}
}
