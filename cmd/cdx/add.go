package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/material"
	"github.com/coursedex/coursedex/internal/pdf"
	"github.com/coursedex/coursedex/internal/storage"
)

var (
	addTitle       string
	addDescription string
	addAuthors     string
	addURL         string
	addRecommend   bool
)

func init() {
	addCmd.Flags().StringVar(&addTitle, "title", "", "Title (default: detected from the PDF, else the file name)")
	addCmd.Flags().StringVar(&addDescription, "description", "", "Short description")
	addCmd.Flags().StringVar(&addAuthors, "authors", "", "Authors, free text")
	addCmd.Flags().StringVar(&addURL, "url", "", "External URL")
	addCmd.Flags().BoolVar(&addRecommend, "recommend", false, "Submit as a recommendation by --user for admin review")
	rootCmd.AddCommand(addCmd)
}

var addCmd = &cobra.Command{
	Use:   "add <file.pdf>",
	Short: "Upload a material or recommend one for review",
	Long: `Upload a PDF to the library.

Admin uploads wait for the next 'cdx reindex'. With --recommend the
material is submitted by --user and waits for 'cdx approve'.

Examples:
  cdx add notes/week1.pdf --title "Week 1: Limits"
  cdx add paper.pdf --recommend --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	in := storage.NewMaterial{
		Title:       addTitle,
		Description: addDescription,
		Authors:     addAuthors,
		ExternalURL: addURL,
		ByAdmin:     !addRecommend,
	}
	if addRecommend {
		in.SubmittedBy = mustUser()
	}

	m, err := addFile(cmd.Context(), a, args[0], in)
	exitOnError(err, "adding material")

	if humanOutput {
		outputHuman("Added %s (%s)\n", m.ID, m.Status)
		outputHuman("  %s\n", m.Title)
	} else {
		outputJSON(m)
	}
	return nil
}

// addFile reads path, checks it and stores it as in.
func addFile(ctx context.Context, a *app, path string, in storage.NewMaterial) (*material.Material, error) {
	content, err := readPDF(path, a.cfg.UploadMaxBytes)
	if err != nil {
		return nil, err
	}
	in.Content = content
	if in.Title == "" {
		in.Title = titleFor(path, content)
	}
	return a.db.CreateMaterial(ctx, in)
}

// readPDF reads a PDF no larger than maxBytes.
func readPDF(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %s is %s, over the %s upload limit",
			pdf.ErrMalformed, path, formatBytes(info.Size()), formatBytes(maxBytes))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: %s is not a PDF", pdf.ErrMalformed, path)
	}
	return content, nil
}

// titleFor guesses a title from the first page, falling back to the file name.
func titleFor(path string, content []byte) string {
	if title := pdf.ExtractTitle(content); title != "" {
		return title
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
