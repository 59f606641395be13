package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StoredRule is one detection rule produced by the rule Q&A task.
type StoredRule struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Author          string         `json:"author"`
	Date            string         `json:"date"`
	ConfidenceScore float64        `json:"confidence_score"`
	RuleContent     map[string]any `json:"rule_content"`
	MITRETechniques []any          `json:"mitre_techniques"`
	TestCases       []any          `json:"test_cases"`
	Recommendations []any          `json:"recommendations"`
	Explanation     string         `json:"explanation"`
	ComponentScores map[string]any `json:"component_scores"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model"`
	CreatedAt       string         `json:"created_at"`
}

// SaveRule persists a generated rule, assigning an ID when absent.
// Returns the rule ID.
func (s *Store) SaveRule(ctx context.Context, rule StoredRule) (string, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Title == "" {
		rule.Title = "Untitled Rule"
	}
	if rule.Author == "" {
		rule.Author = "PERSEPTOR"
	}

	ruleContent, _ := json.Marshal(rule.RuleContent)
	techniques, _ := json.Marshal(rule.MITRETechniques)
	testCases, _ := json.Marshal(rule.TestCases)
	recommendations, _ := json.Marshal(rule.Recommendations)
	componentScores, _ := json.Marshal(rule.ComponentScores)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generated_rules
		 (id, title, description, author, date, confidence_score, rule_content,
		  mitre_techniques, test_cases, recommendations, explanation,
		  component_scores, provider, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Title, rule.Description, rule.Author, rule.Date,
		rule.ConfidenceScore, string(ruleContent), string(techniques),
		string(testCases), string(recommendations), rule.Explanation,
		string(componentScores), rule.Provider, rule.Model,
	)
	if err != nil {
		return "", fmt.Errorf("saving rule: %w", err)
	}
	log.Info().Str("rule_id", rule.ID).Str("title", rule.Title).Msg("Rule saved")
	return rule.ID, nil
}

// GetRule loads one generated rule by ID. Returns ErrNotFound when missing.
func (s *Store) GetRule(ctx context.Context, id string) (*StoredRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, author, date, confidence_score,
		        rule_content, mitre_techniques, test_cases, recommendations,
		        explanation, component_scores, provider, model, created_at
		 FROM generated_rules WHERE id = ?`, id)

	rule, err := scanRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading rule %s: %w", id, err)
	}
	return rule, nil
}

// ListRules returns generated rules, newest first.
func (s *Store) ListRules(ctx context.Context, limit, offset int) ([]StoredRule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, author, date, confidence_score,
		        rule_content, mitre_techniques, test_cases, recommendations,
		        explanation, component_scores, provider, model, created_at
		 FROM generated_rules ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	rules := []StoredRule{}
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a generated rule. Reports whether a row was deleted.
func (s *Store) DeleteRule(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM generated_rules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting rule %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		log.Info().Str("rule_id", id).Msg("Rule deleted")
	}
	return affected > 0, nil
}

func scanRule(scan func(dest ...any) error) (*StoredRule, error) {
	var (
		rule            StoredRule
		ruleContent     string
		techniques      string
		testCases       string
		recommendations string
		componentScores string
		model           sql.NullString
		date            sql.NullString
	)
	err := scan(&rule.ID, &rule.Title, &rule.Description, &rule.Author, &date,
		&rule.ConfidenceScore, &ruleContent, &techniques, &testCases,
		&recommendations, &rule.Explanation, &componentScores,
		&rule.Provider, &model, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	rule.Model = model.String
	rule.Date = date.String

	unmarshalColumn(ruleContent, &rule.RuleContent)
	unmarshalColumn(techniques, &rule.MITRETechniques)
	unmarshalColumn(testCases, &rule.TestCases)
	unmarshalColumn(recommendations, &rule.Recommendations)
	unmarshalColumn(componentScores, &rule.ComponentScores)
	return &rule, nil
}
