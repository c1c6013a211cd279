package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medrag/types"
)

// LoadWarning records one staged file that could not be loaded. The batch
// continues past it.
type LoadWarning struct {
	File string
	Err  error
}

// IngestResult is the side channel of an ingestion pass: which files loaded,
// which were skipped as unsupported and which failed.
type IngestResult struct {
	Loaded   int
	Skipped  []string
	Warnings []LoadWarning
}

type Loader struct {
	cfg types.Config
}

func New(cfg types.Config) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	return &Loader{cfg: cfg}
}

// EnsureStagingDir creates the staging directory tree on startup.
func (l *Loader) EnsureStagingDir() error {
	return os.MkdirAll(l.cfg.StagingDir, 0755)
}

func (l *Loader) StagingDir() string {
	return l.cfg.StagingDir
}

// DetectKind maps the lower-cased extension after the last dot onto a loader.
func DetectKind(filename string) types.LoaderKind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "txt":
		return types.KindText
	case "pdf":
		return types.KindPDF
	case "png", "jpg", "jpeg", "docx", "html", "htm", "eml", "md", "markdown":
		return types.KindStructured
	default:
		return types.KindUnsupported
	}
}

// Ingest loads every supported file under folder and splits the extracted
// text into fixed-size overlapping chunks. One bad file never aborts the
// batch: its error lands in the result's warning list and loading continues.
// Chunk boundaries are computed per document, so overlap never crosses files.
func (l *Loader) Ingest(folder string) ([]types.Chunk, IngestResult) {
	var res IngestResult

	entries, err := os.ReadDir(folder)
	if err != nil {
		res.Warnings = append(res.Warnings, LoadWarning{File: folder, Err: err})
		return nil, res
	}

	var docs []types.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(folder, entry.Name())
		kind := DetectKind(entry.Name())
		if kind == types.KindUnsupported {
			res.Skipped = append(res.Skipped, entry.Name())
			continue
		}

		doc, err := l.loadFile(path, kind)
		if err != nil {
			res.Warnings = append(res.Warnings, LoadWarning{File: entry.Name(), Err: err})
			continue
		}
		docs = append(docs, doc)
		res.Loaded++
	}

	var chunks []types.Chunk
	for _, doc := range docs {
		for i, content := range SplitText(doc.Text, l.cfg.ChunkSize, l.cfg.ChunkOverlap) {
			chunks = append(chunks, types.Chunk{
				DocTitle: doc.Title,
				Source:   doc.Source,
				Index:    i,
				Content:  content,
			})
		}
	}
	return chunks, res
}

func (l *Loader) loadFile(path string, kind types.LoaderKind) (types.Document, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	var (
		text string
		err  error
	)
	switch kind {
	case types.KindText:
		text, err = loadTextFile(path)
	case types.KindPDF:
		text, err = extractPDFText(path)
	case types.KindStructured:
		text, err = loadStructuredFile(path, ext)
	default:
		err = fmt.Errorf("no loader for kind %q", kind)
	}
	if err != nil {
		return types.Document{}, err
	}
	if strings.TrimSpace(text) == "" {
		return types.Document{}, fmt.Errorf("no text extracted from %s", filepath.Base(path))
	}

	return types.Document{
		Title:      generateTitle(path),
		Extension:  ext,
		Source:     ext,
		SourcePath: path,
		Text:       text,
		LoadedAt:   time.Now(),
	}, nil
}

func loadTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func generateTitle(filePath string) string {
	fileName := filepath.Base(filePath)
	fileName = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	fileName = strings.ReplaceAll(fileName, "_", " ")
	fileName = strings.ReplaceAll(fileName, "-", " ")
	return fileName
}
