package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/opencohort/fieldlink/internal/models"
)

// questionnaireFile is the on-disk questionnaire format: an ordered array of
// questions, one per step, with option texts in coded order.
type questionnaireFile struct {
	Language  string `json:"language"`
	Questions []struct {
		ID               string   `json:"id"`
		ShortName        string   `json:"short_name"`
		Text             string   `json:"text"`
		PreScript        string   `json:"pre_script"`
		ValidationScript string   `json:"validation_script"`
		Options          []string `json:"options"`
	} `json:"questions"`
}

func loadQuestionnaire(path string) (string, []models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	var qf questionnaireFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return "", nil, fmt.Errorf("parse questionnaire %s: %w", path, err)
	}
	if qf.Language == "" {
		qf.Language = "en"
	}
	questions := make([]models.Question, 0, len(qf.Questions))
	for i, in := range qf.Questions {
		if strings.TrimSpace(in.ShortName) == "" {
			return "", nil, fmt.Errorf("questionnaire %s: question %d has no short_name", path, i)
		}
		q := models.Question{
			ID:               in.ID,
			ShortName:        in.ShortName,
			Text:             in.Text,
			PreScript:        in.PreScript,
			ValidationScript: in.ValidationScript,
			Position:         i,
			Language:         qf.Language,
		}
		if q.ID == "" {
			q.ID = "q" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
		}
		for j, text := range in.Options {
			q.Options = append(q.Options, models.Option{
				ID:      q.ID + fmt.Sprintf("-o%d", j),
				Text:    text,
				Ordinal: j,
			})
		}
		questions = append(questions, q)
	}
	return qf.Language, questions, nil
}
