package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareModel(t *testing.T) {
	tests := []struct {
		name         string
		modelName    string
		onnxFilePath string
		expectedDir  string
	}{
		{"Model name with slash is sanitized", "organization/model-name", "", "organization_model-name"},
		{"Model name without slash is used directly", "simple-model", "", "simple-model"},
		{"Onnx file path is accepted for existing model", "test/onnx-model", "onnx/model.onnx", "test_onnx-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectedPath := filepath.Join("./models", tt.expectedDir)
			err := os.MkdirAll(expectedPath, 0750)
			require.NoError(t, err, "Expected directory creation to succeed")
			defer os.RemoveAll(expectedPath)

			path, err := PrepareModel(tt.modelName, tt.onnxFilePath)
			assert.NoError(t, err, "Expected PrepareModel to not return an error for an existing model")
			assert.Equal(t, expectedPath, path)
		})
	}

	t.Run("Download model when it doesn't exist", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping model download in short mode")
		}
		os.RemoveAll(filepath.Join("./models", "sentence-transformers_all-MiniLM-L6-v2"))

		path, err := PrepareModel("sentence-transformers/all-MiniLM-L6-v2", "onnx/model.onnx")
		// Depends on network access, only the error shape is asserted.
		if err != nil {
			assert.Contains(t, err.Error(), "failed to")
		} else {
			assert.DirExists(t, path)
		}
	})
}
