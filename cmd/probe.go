package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"audio-extract/domain/audio"
	"audio-extract/infrastructure/mp4"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// TrackProber lists the tracks of a container file
type TrackProber interface {
	Probe(path string) ([]audio.Track, error)
}

var probeSourcePath string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "List the tracks of a container file",
	Long: `List every track of an MP4/MOV file and mark the one extract-audio would copy.

Example:
  audio-extract probe --source talk.mp4`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeSourcePath, "source", "", "Path to source video file (required)")
	probeCmd.MarkFlagRequired("source")
}

func runProbe(cmd *cobra.Command, args []string) error {
	return RunProbeWithDependencies(mp4.NewDemuxer(), probeSourcePath, DefaultOutput)
}

// RunProbeWithDependencies runs the probe command with injected dependencies (for testing)
func RunProbeWithDependencies(prober TrackProber, sourcePath string, out OutputWriter) error {
	tracks, err := prober.Probe(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", sourcePath, err)
	}

	selected := -1
	if t, err := audio.SelectAudioTrack(tracks); err == nil {
		selected = t.Index
	} else if !errors.Is(err, audio.ErrNoAudioTrack) {
		return err
	}

	fmt.Fprintln(out, trackTable(tracks, selected))

	if selected < 0 {
		fmt.Fprintln(out, "No audio track found; extract-audio would fail.")
	} else {
		fmt.Fprintf(out, "extract-audio would copy track %d.\n", selected)
	}
	return nil
}

// trackTable renders one row per track, starring the selected one
func trackTable(tracks []audio.Track, selected int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"", "#", "MIME", "Codec", "Timescale", "Duration", "Lang", "Channels", "Rate", "Samples"})
	for _, t := range tracks {
		mark := ""
		if t.Index == selected {
			mark = "*"
		}
		tw.AppendRow(table.Row{
			mark,
			t.Index,
			t.MIME,
			t.Codec,
			t.Timescale,
			audio.TimestampFromMicros(t.DurationUs).String(),
			t.Language,
			optionalInt(t.ChannelCount),
			optionalInt(t.SampleRate),
			t.SampleCount,
		})
	}

	right := []string{"Duration", "Channels", "Rate"}
	configs := make([]table.ColumnConfig, 0, len(right))
	for _, name := range right {
		configs = append(configs, table.ColumnConfig{Name: name, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func optionalInt(v int) string {
	if v == 0 {
		return "-"
	}
	return strconv.Itoa(v)
}
