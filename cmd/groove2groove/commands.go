package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/james-see/groove2groove/pkg/api"
	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/pipeline"
	"github.com/james-see/groove2groove/pkg/sequence"
	"github.com/james-see/groove2groove/pkg/session"
	"github.com/james-see/groove2groove/pkg/slots"
	"github.com/james-see/groove2groove/pkg/tui"
)

var (
	contentFile    string
	styleFile      string
	outputSeqFile  string
	remoteRemix    bool
	windowStart    int
	windowEnd      int
	instrumentList string
	outputDir      string
	serverPort     int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render a content performance in the style of another",
	RunE:  runGenerate,
}

var remixCmd = &cobra.Command{
	Use:   "remix",
	Short: "Combine a content performance with a generated output",
	Long: `Combines the content and output performances into one. Output instruments keep
their numbers and content instruments are renumbered after them. With --remote
the inference service performs the remix instead.`,
	RunE: runRemix,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <input>",
	Short: "Show the tempo, length and instruments of a performance",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var trimCmd = &cobra.Command{
	Use:   "trim <input>",
	Short: "Trim a performance to a window and instrument selection",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrim,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	// generate command
	generateCmd.Flags().StringVar(&contentFile, "content", "", "Content performance (required)")
	generateCmd.Flags().StringVar(&styleFile, "style", "", "Style performance (required)")
	generateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	generateCmd.Flags().IntVar(&windowStart, "start", 0, "Content window start in steps")
	generateCmd.Flags().IntVar(&windowEnd, "end", -1, "Content window end in steps (default: whole performance)")
	_ = generateCmd.MarkFlagRequired("content")
	_ = generateCmd.MarkFlagRequired("style")

	// remix command
	remixCmd.Flags().StringVar(&contentFile, "content", "", "Content performance (required)")
	remixCmd.Flags().StringVar(&outputSeqFile, "output", "", "Generated output performance (required)")
	remixCmd.Flags().StringVarP(&outputFile, "out", "o", "", "Remix .mid file path")
	remixCmd.Flags().BoolVar(&remoteRemix, "remote", false, "Remix on the inference service")
	_ = remixCmd.MarkFlagRequired("content")
	_ = remixCmd.MarkFlagRequired("output")

	// trim command
	trimCmd.Flags().IntVar(&windowStart, "start", 0, "Window start in steps")
	trimCmd.Flags().IntVar(&windowEnd, "end", -1, "Window end in steps (default: whole performance)")
	trimCmd.Flags().StringVarP(&instrumentList, "instruments", "i", "", "Comma separated instruments to keep, DRUMS for drums (default: all)")
	trimCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (.mid or .pb)")

	// tui command
	tuiCmd.Flags().StringVar(&outputDir, "output-dir", ".", "Directory for saved files")

	// serve command
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (default from PORT)")
}

func loadSlot(ctx context.Context, sess *session.Coordinator, id slots.ID, path string) (slots.View, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return slots.View{}, err
	}
	v, err := sess.LoadFile(ctx, id, filepath.Base(path), data)
	if err != nil {
		return v, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return v, nil
}

// window returns the --start/--end window clamped to full
func window(full pipeline.Window) pipeline.Window {
	w := pipeline.Window{Start: windowStart, End: windowEnd}
	if w.End < 0 || w.End > full.End {
		w.End = full.End
	}
	if w.Start < 0 {
		w.Start = 0
	}
	if w.Start > w.End {
		w.Start = w.End
	}
	return w
}

func save(sess *session.Coordinator, id slots.ID) error {
	data, name, err := sess.Save(id)
	if err != nil {
		return err
	}
	output := outputFile
	if output == "" {
		output = name
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", output)
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	sess, cfg, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	content, err := loadSlot(ctx, sess, slots.Content, contentFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
		if _, err := sess.OnTimeWindowChanged(slots.Content, window(content.Window)); err != nil {
			return err
		}
	}
	if _, err := loadSlot(ctx, sess, slots.Style, styleFile); err != nil {
		return err
	}

	fmt.Printf("Generating with model %s at %s...\n", cfg.ModelName, cfg.InferenceURL)
	v, err := sess.Generate(ctx, slots.Output)
	if err != nil {
		return err
	}
	fmt.Printf("Generated %s (%d notes)\n", v.Name(), len(v.Full.Notes))
	return save(sess, slots.Output)
}

func runRemix(cmd *cobra.Command, args []string) error {
	sess, _, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if _, err := loadSlot(ctx, sess, slots.Content, contentFile); err != nil {
		return err
	}
	if _, err := loadSlot(ctx, sess, slots.Output, outputSeqFile); err != nil {
		return err
	}

	if remoteRemix {
		if _, err := sess.Generate(ctx, slots.Remix); err != nil {
			return err
		}
	}
	return save(sess, slots.Remix)
}

func decodeFile(path string) (*sequence.Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return sequence.Decode(path, data)
}

func runInspect(cmd *cobra.Command, args []string) error {
	seq, err := decodeFile(args[0])
	if err != nil {
		return err
	}

	qpm := seq.QPM()
	reg := instruments.Scan(seq)
	counts := make(map[instruments.Key]int)
	for _, n := range seq.Notes {
		counts[instruments.KeyOf(n)]++
	}

	fmt.Printf("Name:     %s\n", seq.Name)
	fmt.Printf("Tempo:    %.1f qpm (%d changes)\n", qpm, len(seq.Tempos))
	fmt.Printf("Duration: %.2fs (%d steps)\n", seq.TotalTime, sequence.SecondsToSteps(seq.TotalTime, qpm))
	fmt.Printf("Notes:    %d\n", len(seq.Notes))
	fmt.Println("Instruments:")
	for _, e := range reg.Entries() {
		fmt.Printf("  %-6s %-28s %d notes\n", e.Key, e.Label(), counts[e.Key])
	}
	return nil
}

func parseInstruments(list string, reg *instruments.Registry) (instruments.KeySet, error) {
	if strings.TrimSpace(list) == "" {
		return reg.All(), nil
	}
	keys := instruments.NewKeySet()
	for _, part := range strings.Split(list, ",") {
		k, err := instruments.ParseKey(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, nil
}

func runTrim(cmd *cobra.Command, args []string) error {
	input := args[0]
	seq, err := decodeFile(input)
	if err != nil {
		return err
	}

	keys, err := parseInstruments(instrumentList, instruments.Scan(seq))
	if err != nil {
		return err
	}
	res := pipeline.Run(seq, window(pipeline.FullWindow(seq)), keys)

	output := outputFile
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "_trimmed.mid"
	}

	var data []byte
	switch sequence.DetectFormat(output) {
	case sequence.FormatNoteSequence:
		data = sequence.Marshal(res.Effective)
	default:
		data, err = sequence.EncodeMIDI(res.Effective)
		if err != nil {
			return err
		}
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return err
	}

	fmt.Printf("Trimmed %s -> %s (%d of %d notes)\n", input, output, len(res.Effective.Notes), len(seq.Notes))
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	sess, _, err := newSession(cmd)
	if err != nil {
		return err
	}
	return tui.Run(sess, outputDir)
}

func runServe(cmd *cobra.Command, args []string) error {
	sess, cfg, err := newSession(cmd)
	if err != nil {
		return err
	}
	port := cfg.Port
	if serverPort != 0 {
		port = serverPort
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	fmt.Printf("Starting API server on port %d...\n", port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", port)
	return api.StartServer(port, sess)
}
