package ci_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestGitHubWorkflowsExist(t *testing.T) {
	projectRoot := filepath.Clean(filepath.Join("..", ".."))
	workflows := []struct {
		relativePath  string
		requiredSnips [][]byte
	}{
		{
			relativePath: filepath.Join(".github", "workflows", "go-tests.yml"),
			requiredSnips: [][]byte{
				[]byte("go test -race ./..."),
				[]byte("APP_TEST_DATABASE_URL"),
			},
		},
	}

	for _, workflow := range workflows {
		fullPath := filepath.Join(projectRoot, workflow.relativePath)
		data, err := os.ReadFile(fullPath)
		if err != nil {
			t.Fatalf("read workflow %q: %v", workflow.relativePath, err)
		}
		for _, snippet := range workflow.requiredSnips {
			if !bytes.Contains(data, snippet) {
				t.Fatalf("workflow %q missing required snippet %q", workflow.relativePath, string(snippet))
			}
		}
	}
}
