package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/edvin/backupd/internal/model"
)

var validate = validator.New()

var sourceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,62}$`)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func init() {
	validate.RegisterValidation("source_id", func(fl validator.FieldLevel) bool {
		return sourceIDRegex.MatchString(fl.Field().String())
	})
}

type sourcesFile struct {
	Sources []model.Source `yaml:"sources"`
}

// LoadSources reads and validates the sources file. Any invalid source is a
// fatal configuration error.
func LoadSources(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s declares no sources", path)
	}

	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		src := &f.Sources[i]
		if err := validate.Struct(src); err != nil {
			return nil, fmt.Errorf("source %q: %w", src.ID, err)
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
		if _, err := cronParser.Parse(src.Schedule); err != nil {
			return nil, fmt.Errorf("source %q: invalid schedule %q: %w", src.ID, src.Schedule, err)
		}
	}
	return f.Sources, nil
}

// CronParser returns the parser used to validate schedules, so the scheduler
// registers entries with identical semantics.
func CronParser() cron.Parser {
	return cronParser
}
