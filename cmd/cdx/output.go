package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coursedex/coursedex/internal/material"
)

// Constants for output formatting.
const (
	ListTitleMaxLen   = 50 // Used in list command output
	SearchTitleMaxLen = 70 // Used in search result summaries
	TextWrapWidth     = 68 // Wrap width for descriptions in detail views
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...any) {
	fmt.Printf(format, args...)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg, Code: code})
	}
	os.Exit(code)
}

// exitOnError exits with the code and message err maps to. A non-empty
// action prefixes the message.
func exitOnError(err error, action string) {
	if err == nil {
		return
	}
	msg := messageFor(err)
	if action != "" && exitCodeFor(err) != ExitNotTrained {
		msg = action + ": " + msg
	}
	exitWithError(exitCodeFor(err), "%s", msg)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Path   string `json:"path,omitempty"`
}

// UpdateResponse is the response for config set commands.
type UpdateResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// printMaterialSummary prints one line of a material listing.
func printMaterialSummary(n int, m material.Material) {
	fmt.Printf("%d. %s  [%s]\n", n, m.ID, m.Status)
	fmt.Printf("   %s\n", truncateString(m.Title, ListTitleMaxLen))
	if m.Authors != "" {
		fmt.Printf("   %s\n", m.Authors)
	}
	fmt.Printf("   rating: %s\n\n", formatRating(m.AverageRating, m.RatingCount))
}

// printMaterialDetail prints every field of a material.
func printMaterialDetail(m material.Material) {
	fmt.Printf("ID:       %s\n", m.ID)
	fmt.Printf("Title:    %s\n", m.Title)
	if m.Authors != "" {
		fmt.Printf("Authors:  %s\n", m.Authors)
	}
	fmt.Printf("Status:   %s\n", m.Status)
	if m.SubmittedBy != "" {
		fmt.Printf("Submitted by: %s (%s)\n", m.SubmittedBy, m.RecommendationState())
	}
	if m.ExternalURL != "" {
		fmt.Printf("URL:      %s\n", m.ExternalURL)
	}
	fmt.Printf("Rating:   %s\n", formatRating(m.AverageRating, m.RatingCount))
	fmt.Printf("Size:     %s\n", formatBytes(m.ContentSize))
	fmt.Printf("Added:    %s\n", m.CreatedAt.Local().Format(time.DateTime))
	if m.Description != "" {
		fmt.Printf("\n  %s\n", wrapText(m.Description, TextWrapWidth, "  "))
	}
}

// formatRating formats an average rating as "4.3 (12)" or "unrated".
func formatRating(avg *float64, count int) string {
	if avg == nil {
		return "unrated"
	}
	return fmt.Sprintf("%.1f (%d)", *avg, count)
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// wrapText wraps text to the specified width with indentation on subsequent lines.
func wrapText(text string, width int, indent string) string {
	if len(text) <= width {
		return text
	}

	var lines []string
	words := strings.Fields(text)
	var currentLine strings.Builder

	for _, word := range words {
		if currentLine.Len() == 0 {
			currentLine.WriteString(word)
		} else if currentLine.Len()+1+len(word) <= width {
			currentLine.WriteString(" ")
			currentLine.WriteString(word)
		} else {
			lines = append(lines, currentLine.String())
			currentLine.Reset()
			currentLine.WriteString(word)
		}
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	return strings.Join(lines, "\n"+indent)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// formatBytes formats bytes in a human-readable way.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
