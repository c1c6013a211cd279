package loader

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var (
	showTextRe  = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*(?:Tj|')`)
	showArrayRe = regexp.MustCompile(`\[((?:\\.|[^\]])*)\]\s*TJ`)
	literalRe   = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
)

// extractPDFText pulls the text drawn by the Tj/TJ show operators out of
// every page content stream. Good enough for machine-generated documents;
// scanned PDFs yield nothing and fail the empty-text check upstream.
func extractPDFText(path string) (string, error) {
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	conf := api.LoadConfiguration()

	var sb strings.Builder
	for page := 1; page <= pageCount; page++ {
		r, err := api.ExtractPageContent(f, page, conf)
		if err != nil {
			return "", fmt.Errorf("failed to extract content of page %d: %w", page, err)
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}

		pageText := parseShownText(string(content))
		if pageText != "" {
			sb.WriteString(pageText)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func parseShownText(content string) string {
	var sb strings.Builder

	for _, m := range showTextRe.FindAllStringSubmatch(content, -1) {
		sb.WriteString(decodePDFString(m[1]))
	}
	for _, m := range showArrayRe.FindAllStringSubmatch(content, -1) {
		for _, lit := range literalRe.FindAllStringSubmatch(m[1], -1) {
			sb.WriteString(decodePDFString(lit[1]))
		}
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String())
}

// decodePDFString resolves the escape sequences of a PDF literal string.
func decodePDFString(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '(', ')', '\\':
			sb.WriteByte(s[i])
		case '0', '1', '2', '3', '4', '5', '6', '7':
			end := i + 1
			for end < len(s) && end < i+3 && s[end] >= '0' && s[end] <= '7' {
				end++
			}
			if code, err := strconv.ParseUint(s[i:end], 8, 16); err == nil {
				sb.WriteByte(byte(code))
			}
			i = end - 1
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
