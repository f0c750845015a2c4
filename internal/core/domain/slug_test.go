package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ProjectName Tests
// =============================================================================

func TestProjectName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"spaces and case", "Insurance RAG", "insurance-rag"},
		{"already slugged", "insurance-rag", "insurance-rag"},
		{"surrounding spaces", "  Shop Front  ", "shop-front"},
		{"symbols dropped", "api!!", "api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProjectName(tt.input))
		})
	}
}
