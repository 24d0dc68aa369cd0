package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"exam-attempt-service/internal/config"
	"go.uber.org/zap"
)

const seedYAML = `
learners:
  - id: learner-9
    displayName: Linus
exams:
  - id: exam-seeded
    courseId: course-7
    title: Seeded exam
    duration: 20m
    active: true
    questions:
      - id: s1
        text: Largest planet?
        options: [Jupiter, Mars]
        correctAnswer: Jupiter
        marks: 3
        difficulty: EASY
      - id: s2
        text: Closest star?
        options: [Sun, Sirius]
        correctAnswer: Sun
        marks: 7
        difficulty: MEDIUM
`

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exams.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	seed, err := loadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(seed.Learners) != 1 || seed.Learners[0].DisplayName != "Linus" {
		t.Fatalf("unexpected learners %+v", seed.Learners)
	}
	if len(seed.Exams) != 1 {
		t.Fatalf("expected one exam, got %d", len(seed.Exams))
	}
	exam := seed.Exams[0]
	if exam.Duration != 20*time.Minute || len(exam.Questions) != 2 || exam.Questions[1].Marks != 7 {
		t.Fatalf("unexpected exam %+v", exam)
	}
}

func TestApplySeedInMemory(t *testing.T) {
	ctx := context.Background()
	d, err := buildDeps(ctx, config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("build deps: %v", err)
	}
	defer d.Close()

	path := filepath.Join(t.TempDir(), "exams.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	seed, err := loadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if err := applySeed(ctx, d, seed, zap.NewNop()); err != nil {
		t.Fatalf("apply seed: %v", err)
	}

	exam, err := d.catalog.GetExam(ctx, "exam-seeded")
	if err != nil {
		t.Fatalf("get seeded exam: %v", err)
	}
	if exam.TotalMarks != 10 {
		t.Fatalf("expected total marks 10, got %d", exam.TotalMarks)
	}

	attempt, err := d.attempts.StartAttempt(ctx, "exam-seeded", "learner-9")
	if err != nil {
		t.Fatalf("start seeded attempt: %v", err)
	}
	if got := attempt.Deadline.Sub(attempt.StartedAt); got != 20*time.Minute {
		t.Fatalf("expected 20m deadline window, got %v", got)
	}
}

func TestBuildDepsMemoryServesSampleExam(t *testing.T) {
	ctx := context.Background()
	d, err := buildDeps(ctx, config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("build deps: %v", err)
	}
	defer d.Close()
	if d.bus != nil || d.learners != nil {
		t.Fatalf("expected no redis bus or postgres directory in memory mode")
	}
	if _, err := d.attempts.StartAttempt(ctx, "exam-1", "learner-1"); err != nil {
		t.Fatalf("start sample attempt: %v", err)
	}
}
