// Package curriculum defines chapter documents and the stores that serve
// them.
//
// A Chapter is the unit of tutoring scope: the classifier gates questions
// against its keyword list and the generation service grounds its prompt in
// the chapter content. Chapters are authored externally and read-only here.
package curriculum

import (
	"context"
	"errors"
	"time"
)

// ErrChapterNotFound is returned by stores and the cache when no chapter
// exists for the requested id.
var ErrChapterNotFound = errors.New("curriculum: chapter not found")

// ConceptSection is one explained concept within a chapter.
type ConceptSection struct {
	Title       string   `json:"title"`
	Explanation string   `json:"explanation"`
	Examples    []string `json:"examples,omitempty"`
}

// WorkedExample is a fully solved problem shown to the learner.
type WorkedExample struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
}

// PracticeProblem is an exercise the learner can attempt.
type PracticeProblem struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Hints    []string `json:"hints,omitempty"`
}

// Content is the structured body of a chapter.
type Content struct {
	Introduction     string            `json:"introduction,omitempty"`
	Sections         []ConceptSection  `json:"sections"`
	WorkedExamples   []WorkedExample   `json:"workedExamples,omitempty"`
	PracticeProblems []PracticeProblem `json:"practiceProblems,omitempty"`

	// Keywords is the vocabulary used for scope detection. A question that
	// matches none of these is treated as off-topic for the chapter.
	Keywords []string `json:"keywords"`
}

// Metadata carries authoring annotations that do not affect tutoring logic.
type Metadata struct {
	Difficulty         string   `json:"difficulty,omitempty"`
	Prerequisites      []string `json:"prerequisites,omitempty"`
	EstimatedDuration  int      `json:"estimatedDurationMinutes,omitempty"`
	LearningObjectives []string `json:"learningObjectives,omitempty"`
}

// Chapter is one curriculum chapter. ID is globally unique; Order is strictly
// increasing within a (Subject, Grade) pair.
type Chapter struct {
	ID       string
	Subject  string
	Grade    int
	Title    string
	Order    int
	Content  Content
	Metadata Metadata

	// CacheKey identifies this chapter revision for prompt-cache purposes.
	CacheKey string

	// TokenCount is the approximate token size of the chapter prompt text.
	TokenCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistent source of truth for chapters.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetChapter returns the chapter with the given id, or ErrChapterNotFound.
	GetChapter(ctx context.Context, chapterID string) (*Chapter, error)

	// ListChapters returns all chapters for (subject, grade) ordered by
	// Order ascending. An empty result is not an error.
	ListChapters(ctx context.Context, subject string, grade int) ([]Chapter, error)

	// UpsertChapter inserts or replaces a chapter by id.
	UpsertChapter(ctx context.Context, ch *Chapter) error
}
