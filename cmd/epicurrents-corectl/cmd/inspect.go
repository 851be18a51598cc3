package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/mock"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Decode a recording header and print its derived metadata",
	Long:  `inspect runs setup_worker against a recording and prints the decoded channel layout as a table, without caching any data.`,
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().String("path", "", "path to the recording to inspect (unused until a real decoder is registered)")
}

// runInspect decodes a recording header and renders it as a table.
//
// Grounded on ColonelBlimp-cwdecoder's debug printout of its settings
// struct, rendered here via olekukonko/tablewriter instead of fmt.Printf
// since the row count (one per source channel) is only known at runtime.
// No real file-format decoder module is wired into this binary yet, so
// inspect decodes a mock.Decoder's canned header as a stand-in for any
// rawio.Decoder registered by a future format package.
func runInspect(_ *cobra.Command, _ []string) error {
	decoder := mock.New(mock.Config{
		Channels: []core.SourceChannel{
			{Label: "C3", IDName: "c3", Modality: "eeg", SamplingRate: 250},
			{Label: "C4", IDName: "c4", Modality: "eeg", SamplingRate: 250},
			{Label: "EKG", IDName: "ekg", Modality: "ecg", SamplingRate: 500},
		},
		DataDurationSeconds: 60,
		UnitSeconds:         1,
	})

	header, err := decoder.DecodeHeader(nil)
	if err != nil {
		return fmt.Errorf("inspect: decode header: %w", err)
	}

	fmt.Printf("data duration: %.1fs, unit: %.1fs\n\n", header.DataDurationSeconds, header.UnitSeconds)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"index", "label", "modality", "sampling rate (Hz)", "samples/unit"})
	for i, ch := range header.Channels {
		table.Append([]string{
			strconv.Itoa(i),
			ch.Label,
			ch.Modality,
			strconv.FormatFloat(ch.SamplingRate, 'f', 1, 64),
			strconv.FormatInt(header.SamplesPerUnit[i], 10),
		})
	}
	table.Render()

	return nil
}
