package cli

import (
	"context"
	"fmt"
	"os"

	"exam-attempt-service/internal/config"
	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout accepted by the seed command.
type seedFile struct {
	Learners []struct {
		ID          string `yaml:"id"`
		DisplayName string `yaml:"displayName"`
	} `yaml:"learners"`
	Exams []domain.Exam `yaml:"exams"`
}

// NewSeedCmd loads exams and learners from a YAML file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load exams, questions and learners from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "exams.yaml", "path to the seed YAML")
	return cmd
}

func loadSeedFile(path string) (seedFile, error) {
	var seed seedFile
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, err
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("parse %s: %w", path, err)
	}
	return seed, nil
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	seed, err := loadSeedFile(file)
	if err != nil {
		return err
	}
	if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
		return err
	}

	d, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	return applySeed(ctx, d, seed, log)
}

func applySeed(ctx context.Context, d *deps, seed seedFile, log *zap.Logger) error {
	for _, l := range seed.Learners {
		if d.learners == nil {
			break
		}
		if err := d.learners.UpsertLearner(ctx, l.ID, l.DisplayName); err != nil {
			return fmt.Errorf("seed learner %s: %w", l.ID, err)
		}
	}
	for _, exam := range seed.Exams {
		saved, err := d.catalog.SaveExam(ctx, exam)
		if err != nil {
			return fmt.Errorf("seed exam %s: %w", exam.ID, err)
		}
		log.Info("seeded exam",
			zap.String("examId", saved.ID),
			zap.Int("questions", len(saved.Questions)),
			zap.Int("totalMarks", saved.TotalMarks))
	}
	log.Info("seed complete", zap.Int("learners", len(seed.Learners)), zap.Int("exams", len(seed.Exams)))
	return nil
}
