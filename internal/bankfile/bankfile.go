// Package bankfile reads question banks and answer scripts from YAML or JSON
// files. It is the boundary where externally authored exams enter the engine;
// every bank it returns has passed model.NewQuestionBank validation.
package bankfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stemsi/exstem-engine/internal/model"
	"gopkg.in/yaml.v3"
)

type bankDoc struct {
	ID              string           `yaml:"id" json:"id"`
	Title           string           `yaml:"title" json:"title"`
	DurationSeconds int              `yaml:"duration_seconds" json:"duration_seconds"`
	DurationMinutes int              `yaml:"duration_minutes" json:"duration_minutes"`
	Questions       []model.Question `yaml:"questions" json:"questions"`
}

// AnswerScript is a recorded set of answers used to grade a bank offline.
type AnswerScript struct {
	SessionID        string      `yaml:"session_id" json:"session_id"`
	RemainingSeconds int         `yaml:"remaining_seconds" json:"remaining_seconds"`
	Answers          map[int]int `yaml:"answers" json:"answers"`
}

// LoadFile reads a bank from path. The bank id defaults to the file name
// without extension.
func LoadFile(path string) (*model.QuestionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bank file: %w", err)
	}

	var doc bankDoc
	if err := decode(path, data, &doc); err != nil {
		return nil, fmt.Errorf("decode bank %s: %w", path, err)
	}

	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if doc.Title == "" {
		doc.Title = doc.ID
	}
	duration := doc.DurationSeconds
	if duration == 0 {
		duration = doc.DurationMinutes * 60
	}

	bank, err := model.NewQuestionBank(doc.ID, doc.Title, duration, doc.Questions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bank, nil
}

// LoadDir reads every *.yaml, *.yml and *.json file in dir, in name order.
// Two files declaring the same bank id are an error.
func LoadDir(dir string) ([]*model.QuestionBank, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bank dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	banks := make([]*model.QuestionBank, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		bank, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[bank.ID]; dup {
			return nil, fmt.Errorf("bank id %q declared by both %s and %s: %w", bank.ID, prev, name, model.ErrInvalidBank)
		}
		seen[bank.ID] = name
		banks = append(banks, bank)
	}
	return banks, nil
}

// LoadAnswers reads an answer script.
func LoadAnswers(path string) (*AnswerScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers file: %w", err)
	}

	var script AnswerScript
	if err := decode(path, data, &script); err != nil {
		return nil, fmt.Errorf("decode answers %s: %w", path, err)
	}
	if script.Answers == nil {
		script.Answers = map[int]int{}
	}
	if script.RemainingSeconds < 0 {
		return nil, fmt.Errorf("answers %s: remaining_seconds must not be negative", path)
	}
	return &script, nil
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func decode(path string, data []byte, v any) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(v)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}
