// Command tutorseed loads chapter files into the curriculum store.
//
// Each input file is a YAML document holding a list of chapters. Re-running
// the seeder replaces chapters in place by id, which bumps their cache key
// when the content changed.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/brightpath-ai/tutor/internal/config"
	"github.com/brightpath-ai/tutor/internal/curriculum"
	"github.com/brightpath-ai/tutor/internal/tutor"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	dsn := flag.String("dsn", "", "Postgres DSN (overrides the config file)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: tutorseed [-config config.yaml] [-dsn ...] chapters.yaml [more.yaml ...]")
		return 2
	}

	connString := *dsn
	if connString == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tutorseed: %v\n", err)
			return 1
		}
		connString = cfg.Database.PostgresDSN
	}
	if connString == "" {
		fmt.Fprintln(os.Stderr, "tutorseed: no Postgres DSN configured")
		return 1
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tutorseed: connect: %v\n", err)
		return 1
	}
	defer pool.Close()

	store, err := curriculum.NewPostgresStore(ctx, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tutorseed: %v\n", err)
		return 1
	}

	total := 0
	for _, path := range flag.Args() {
		n, err := seedFile(ctx, store, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tutorseed: %s: %v\n", path, err)
			return 1
		}
		total += n
	}
	fmt.Printf("seeded %d chapter(s)\n", total)
	return 0
}

// seedDoc is the YAML layout of one chapter file.
type seedDoc struct {
	Chapters []seedChapter `yaml:"chapters"`
}

type seedChapter struct {
	ID       string `yaml:"id"`
	Subject  string `yaml:"subject"`
	Grade    int    `yaml:"grade"`
	Title    string `yaml:"title"`
	Order    int    `yaml:"order"`
	Content  struct {
		Introduction string `yaml:"introduction"`
		Sections     []struct {
			Title       string   `yaml:"title"`
			Explanation string   `yaml:"explanation"`
			Examples    []string `yaml:"examples"`
		} `yaml:"sections"`
		WorkedExamples []struct {
			Problem  string `yaml:"problem"`
			Solution string `yaml:"solution"`
		} `yaml:"worked_examples"`
		PracticeProblems []struct {
			Question string   `yaml:"question"`
			Answer   string   `yaml:"answer"`
			Hints    []string `yaml:"hints"`
		} `yaml:"practice_problems"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"content"`
	Metadata struct {
		Difficulty         string   `yaml:"difficulty"`
		Prerequisites      []string `yaml:"prerequisites"`
		EstimatedDuration  int      `yaml:"estimated_duration_minutes"`
		LearningObjectives []string `yaml:"learning_objectives"`
	} `yaml:"metadata"`
}

func seedFile(ctx context.Context, store curriculum.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var doc seedDoc
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}

	for i, sc := range doc.Chapters {
		ch, err := toChapter(sc)
		if err != nil {
			return 0, fmt.Errorf("chapter %d: %w", i, err)
		}
		if err := store.UpsertChapter(ctx, ch); err != nil {
			return 0, fmt.Errorf("upsert %q: %w", ch.ID, err)
		}
		fmt.Printf("  %s (%s grade %d, ~%d tokens)\n", ch.ID, ch.Subject, ch.Grade, ch.TokenCount)
	}
	return len(doc.Chapters), nil
}

func toChapter(sc seedChapter) (*curriculum.Chapter, error) {
	if sc.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	if sc.Subject == "" || sc.Title == "" {
		return nil, fmt.Errorf("%s: subject and title are required", sc.ID)
	}
	if len(sc.Content.Keywords) == 0 {
		return nil, fmt.Errorf("%s: at least one keyword is required for scope detection", sc.ID)
	}

	ch := &curriculum.Chapter{
		ID:      sc.ID,
		Subject: sc.Subject,
		Grade:   sc.Grade,
		Title:   sc.Title,
		Order:   sc.Order,
		Content: curriculum.Content{
			Introduction: sc.Content.Introduction,
			Keywords:     sc.Content.Keywords,
		},
		Metadata: curriculum.Metadata{
			Difficulty:         sc.Metadata.Difficulty,
			Prerequisites:      sc.Metadata.Prerequisites,
			EstimatedDuration:  sc.Metadata.EstimatedDuration,
			LearningObjectives: sc.Metadata.LearningObjectives,
		},
	}
	for _, s := range sc.Content.Sections {
		ch.Content.Sections = append(ch.Content.Sections, curriculum.ConceptSection{
			Title:       s.Title,
			Explanation: s.Explanation,
			Examples:    s.Examples,
		})
	}
	for _, w := range sc.Content.WorkedExamples {
		ch.Content.WorkedExamples = append(ch.Content.WorkedExamples, curriculum.WorkedExample{
			Problem:  w.Problem,
			Solution: w.Solution,
		})
	}
	for _, p := range sc.Content.PracticeProblems {
		ch.Content.PracticeProblems = append(ch.Content.PracticeProblems, curriculum.PracticeProblem{
			Question: p.Question,
			Answer:   p.Answer,
			Hints:    p.Hints,
		})
	}

	// The prompt text drives both derived fields: the cache key changes
	// exactly when the cacheable prompt prefix changes, and the token count
	// is the usual 4-characters-per-token estimate.
	prompt := tutor.FormatChapterPrompt(ch)
	sum := sha256.Sum256([]byte(prompt))
	ch.CacheKey = hex.EncodeToString(sum[:8])
	ch.TokenCount = len(prompt) / 4

	return ch, nil
}
