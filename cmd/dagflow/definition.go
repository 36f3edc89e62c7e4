package main

import (
	"fmt"
	"os"

	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/pkg/domain"
)

// loadDefinition reads a JSON or YAML definition document.
func loadDefinition(path string) (*domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	def, err := domain.DecodeDefinition(data, domain.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return def, nil
}

func loadGraph(path string) (*graph.Graph, error) {
	def, err := loadDefinition(path)
	if err != nil {
		return nil, err
	}
	return graph.FromDefinition(def)
}
