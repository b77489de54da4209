// Package genai wraps the hosted content generation service behind coarse
// typed operations. The transport is an OpenAI-compatible chat completions
// endpoint in JSON mode; callers never see raw prompts or wire shapes.
package genai

import (
	"errors"
	"fmt"

	"nexuslab/internal/models"
)

// MaxSourceBytes bounds inline uploads; anything larger is rejected
// before a request is made.
const MaxSourceBytes = 20 << 20

// Source is the material to generate from: either inline bytes with a
// mime type, or a URL.
type Source struct {
	Data     []byte
	MimeType string
	URL      string
	// Name is the provenance label carried onto generated assets,
	// usually the original filename.
	Name string
}

func (s Source) validate() error {
	if len(s.Data) == 0 && s.URL == "" {
		return &SourceError{Reason: "no source material provided"}
	}
	if len(s.Data) > 0 && s.MimeType == "" {
		return &SourceError{Reason: "missing mime type for inline data"}
	}
	if len(s.Data) > MaxSourceBytes {
		return &SourceError{Reason: fmt.Sprintf("source exceeds %d bytes", MaxSourceBytes)}
	}
	return nil
}

type SummaryResult struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type QuizResult struct {
	Title string                `json:"title"`
	Quiz  []models.QuizQuestion `json:"quiz"`
}

type SlidesResult struct {
	Title  string         `json:"title"`
	Slides []models.Slide `json:"slides"`
}

// UnifiedResult is the whole learning package from a single pass over
// the source material.
type UnifiedResult struct {
	Title      string                `json:"title"`
	Summary    string                `json:"summary"`
	Flashcards []models.Flashcard    `json:"flashcards"`
	Quiz       []models.QuizQuestion `json:"quiz"`
	Slides     []models.Slide        `json:"slides"`
}

// SourceError means the material itself cannot be processed (unreadable,
// too large, unreachable URL). Retrying without changing the input will
// not help.
type SourceError struct {
	Reason string
}

func (e *SourceError) Error() string {
	return "unprocessable source: " + e.Reason
}

// ServiceError means the generation service is overloaded or briefly
// unavailable; the same request may succeed on retry.
type ServiceError struct {
	Status int
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation service unavailable: %v", e.Err)
	}
	return fmt.Sprintf("generation service unavailable: status %d", e.Status)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
