// Package render turns a model.FinalResult into a delivered artifact: a
// Markdown report or a PDF. Neither is part of the Orchestrator's
// contract (spec §6 leaves the wire format open); both are optional
// conveniences cmd/scoutline reaches for when an output path is given,
// grounded on internal/synth/synth.go's numbered References section and
// internal/app/pdf.go's Markdown-to-PDF pass.
package render

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/arborly/scoutline/internal/model"
)

// RenderMarkdown builds one Markdown document: a title, the final answer,
// then a ranked source list carrying each document's relevance score and
// per-document summary, closed with a reproducibility footer in the shape
// of internal/app/footer.go's.
func RenderMarkdown(result model.FinalResult) string {
	var b strings.Builder
	b.WriteString("# Research Result\n\n")

	if result.FinalAnswer != "" {
		b.WriteString(result.FinalAnswer)
		b.WriteString("\n\n")
	}

	if len(result.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	if len(result.Documents) > 0 {
		b.WriteString("## Sources\n\n")
		for i, d := range result.Documents {
			title := strings.TrimSpace(d.Candidate.Title)
			if title == "" {
				title = d.URL
			}
			fmt.Fprintf(&b, "%d. [%s](%s) (relevance %d/5)\n", i+1, title, d.URL, d.Candidate.RelevanceScore)
			if d.Summary != "" {
				fmt.Fprintf(&b, "   %s\n", d.Summary)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(footer(result))
	return b.String()
}

// footer records a deterministic line useful for reproducibility and
// auditing: source count and how many sources were served from the
// content cache,
// the same idea as internal/app/footer.go's reproducibility line but
// trimmed to what FinalResult itself carries.
func footer(result model.FinalResult) string {
	cacheHits := 0
	for _, d := range result.Documents {
		if d.Source == model.FetchSourceCache {
			cacheHits++
		}
	}
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "Reproducibility: sources_used=%d; cache_hits=%d\n", len(result.Documents), cacheHits)
	return b.String()
}

var mdLinkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// RenderPDF renders the same content as RenderMarkdown via gofpdf,
// generalizing internal/app/pdf.go's line-by-line Markdown-to-PDF pass
// (heading detection, inline link rendering) to arbitrary FinalResult
// input rather than a fixed report string.
func RenderPDF(result model.FinalResult) ([]byte, error) {
	markdown := RenderMarkdown(result)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.AddPage()

	scanner := bufio.NewScanner(strings.NewReader(markdown))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s := strings.TrimSpace(line)
		if s == "" {
			pdf.Ln(5)
			continue
		}
		if strings.HasPrefix(s, "#") {
			i := 0
			for i < len(s) && s[i] == '#' {
				i++
			}
			text := strings.TrimSpace(s[i:])
			if text == "" {
				continue
			}
			size := 14.0
			if i >= 2 {
				size = 12.0
			}
			pdf.SetFont("Helvetica", "B", size)
			pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 11)
			continue
		}

		writeLineWithLinks(pdf, s)
	}

	var buf strings.Builder
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return []byte(buf.String()), nil
}

func writeLineWithLinks(pdf *gofpdf.Fpdf, s string) {
	matches := mdLinkRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		pdf.MultiCell(0, 5, s, "", "L", false)
		return
	}
	pos := 0
	for _, m := range matches {
		if m[0] > pos {
			pdf.Write(5, s[pos:m[0]])
		}
		text := s[m[2]:m[3]]
		url := s[m[4]:m[5]]
		pdf.WriteLinkString(5, text, url)
		pos = m[1]
	}
	if pos < len(s) {
		pdf.Write(5, s[pos:])
	}
	pdf.Ln(6)
}
