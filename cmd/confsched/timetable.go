package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"confsched/internal/capture"
	"confsched/internal/render"
	"confsched/internal/timetable"
)

func newTimetableCmd(a *app) *cobra.Command {
	var (
		htmlPath  string
		pdfPath   string
		slot      int
		compact   bool
		landscape bool
	)

	cmd := &cobra.Command{
		Use:     "timetable <event-id>",
		Aliases: []string{"tt"},
		Short:   "Compile an event's timetable and print it as text, HTML or PDF",
		Example: `  confsched timetable conf-2025
  confsched timetable conf-2025 --slot 15 --compact
  confsched timetable conf-2025 --pdf timetable.pdf --landscape`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			ev, err := st.GetEvent(ctx, args[0])
			if err != nil {
				return err
			}
			entries, err := st.Entries(ctx, ev.ID)
			if err != nil {
				return err
			}

			opts := cfg.TimetableOptions()
			if cmd.Flags().Changed("slot") {
				opts = append(opts, timetable.WithSlotLength(time.Duration(slot)*time.Minute))
			}
			if cmd.Flags().Changed("compact") {
				opts = append(opts, timetable.WithCompact(compact))
			}
			tt, err := timetable.ForEvent(ev, opts...)
			if err != nil {
				return err
			}
			if err := tt.Map(entries...); err != nil {
				return err
			}

			if htmlPath == "" && pdfPath == "" {
				return render.Text(cmd.OutOrStdout(), ev, tt)
			}

			if htmlPath == "" {
				tmp, err := os.MkdirTemp("", "confsched-print-*")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmp)
				htmlPath = filepath.Join(tmp, "timetable.html")
			}
			f, err := os.Create(htmlPath)
			if err != nil {
				return err
			}
			if err := render.HTML(f, ev, tt); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			if cmd.Flags().Changed("html") {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", htmlPath)
			}

			if pdfPath == "" {
				return nil
			}
			abs, err := filepath.Abs(htmlPath)
			if err != nil {
				return err
			}
			if err := capture.PrintPDF(ctx, capture.PDFOptions{
				URL:        "file://" + filepath.ToSlash(abs),
				OutputPath: pdfPath,
				Landscape:  landscape,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", pdfPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&htmlPath, "html", "", "write the timetable as HTML to this file")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "print the timetable to this PDF file (needs Chromium)")
	cmd.Flags().IntVar(&slot, "slot", 20, "slot length in minutes (overrides config)")
	cmd.Flags().BoolVar(&compact, "compact", false, "shrink each day to its entries (overrides config)")
	cmd.Flags().BoolVar(&landscape, "landscape", false, "print the PDF in landscape")
	return cmd
}
