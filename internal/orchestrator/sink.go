package orchestrator

import (
	"github.com/ShayCichocki/explainit/internal/output"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// Sink receives pages as nodes complete and assembles the final document.
type Sink interface {
	Scaffold(topic string) error
	WritePage(node *models.ConceptNode) error
	Finalize(topic string, root *models.ConceptNode) (*output.Site, error)
}

var _ Sink = (*output.MkDocs)(nil)

// nopSink discards output.
type nopSink struct{}

func (nopSink) Scaffold(string) error               { return nil }
func (nopSink) WritePage(*models.ConceptNode) error { return nil }
func (nopSink) Finalize(string, *models.ConceptNode) (*output.Site, error) {
	return &output.Site{}, nil
}
