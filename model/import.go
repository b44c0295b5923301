package model

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxImportFileSize bounds files parsed into import entries.
const MaxImportFileSize = 1 << 20

// ImportEntry is one entry of a bulk import.
type ImportEntry struct {
	Content    string   `json:"content"`
	Role       string   `json:"role"`
	EntryType  string   `json:"entry_type,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	SourceFile string   `json:"source_file,omitempty"`
}

// ImportSource is a file whose content is parsed into import entries.
type ImportSource struct {
	Title   string `json:"title"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// NewImportSourceFromFile reads a file and creates an ImportSource with the file content
// The title defaults to the filename without extension.
func NewImportSourceFromFile(filePath string) (*ImportSource, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxImportFileSize {
		return nil, fmt.Errorf("%s is %d bytes, at most %d bytes can be imported", filePath, info.Size(), MaxImportFileSize)
	}

	content, err := os.ReadFile(filePath) // #nosec G304 -- importing user given files is the purpose
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	title := filename[:len(filename)-len(filepath.Ext(filename))]
	if title == "" {
		title = filename
	}

	return &ImportSource{
		Title:   title,
		Path:    filePath,
		Content: string(content),
	}, nil
}
