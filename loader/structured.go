package loader

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strings"
)

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	scriptRe     = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	paragraphRe  = regexp.MustCompile(`</w:p>`)
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
)

// loadStructuredFile extracts plain text from office, markup and mail
// formats. Image formats carry no extractable text without an OCR backend,
// so they fail here and surface as a per-file warning upstream.
func loadStructuredFile(path, ext string) (string, error) {
	switch ext {
	case "docx":
		return extractDocxText(path)
	case "html", "htm":
		return extractHTMLText(path)
	case "eml":
		return extractEmailText(path)
	case "md", "markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "png", "jpg", "jpeg":
		return "", fmt.Errorf("image %s: text extraction requires an OCR backend", path)
	default:
		return "", fmt.Errorf("unexpected structured format %q", ext)
	}
}

// extractDocxText reads word/document.xml from the docx archive and strips
// the WordprocessingML markup, keeping paragraph breaks.
func extractDocxText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open docx %s: %w", path, err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return "", err
		}

		content := paragraphRe.ReplaceAllString(string(data), "\n")
		content = tagRe.ReplaceAllString(content, "")
		return normalizeSpace(html.UnescapeString(content)), nil
	}
	return "", fmt.Errorf("docx %s has no word/document.xml", path)
}

func extractHTMLText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := scriptRe.ReplaceAllString(string(data), " ")
	content = tagRe.ReplaceAllString(content, " ")
	return normalizeSpace(html.UnescapeString(content)), nil
}

// extractEmailText returns the message body, dropping the RFC 822 header
// block before the first blank line.
func extractEmailText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")

	if i := strings.Index(content, "\n\n"); i >= 0 {
		content = content[i+2:]
	}
	return strings.TrimSpace(content), nil
}

func normalizeSpace(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
