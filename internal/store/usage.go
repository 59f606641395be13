package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/aytekaytemur/perseptor/internal/ai"
)

// UsageSummary is the aggregate view of recorded provider calls.
type UsageSummary struct {
	TotalRequests         int     `json:"total_requests"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalTokens           int     `json:"total_tokens"`
	AvgLatencyMS          float64 `json:"avg_latency_ms"`
}

// ProviderUsage is one provider/model breakdown row.
type ProviderUsage struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Requests     int     `json:"requests"`
	TotalTokens  int     `json:"total_tokens"`
	AvgLatencyMS float64 `json:"avg_latency"`
}

// RecordUsage stores one provider call. Implements ai.UsageRecorder.
func (s *Store) RecordUsage(ctx context.Context, record ai.UsageRecord) error {
	provider := record.Provider
	if provider == "" {
		provider = "unknown"
	}
	model := record.Model
	if model == "" {
		model = "unknown"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage
		 (session_id, provider, model, prompt_tokens, completion_tokens,
		  total_tokens, endpoint, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(record.SessionID), provider, model,
		record.PromptTokens, record.CompletionTokens, record.TotalTokens,
		record.Endpoint, record.LatencyMS)
	if err != nil {
		return fmt.Errorf("recording token usage: %w", err)
	}
	return nil
}

// GetUsageSummary aggregates usage, optionally scoped to one session.
func (s *Store) GetUsageSummary(ctx context.Context, sessionID string) (*UsageSummary, error) {
	query := `SELECT COUNT(*),
	                 COALESCE(SUM(prompt_tokens), 0),
	                 COALESCE(SUM(completion_tokens), 0),
	                 COALESCE(SUM(total_tokens), 0),
	                 COALESCE(AVG(latency_ms), 0)
	          FROM token_usage`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}

	var summary UsageSummary
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&summary.TotalRequests, &summary.TotalPromptTokens,
		&summary.TotalCompletionTokens, &summary.TotalTokens,
		&summary.AvgLatencyMS)
	if err != nil {
		return nil, fmt.Errorf("aggregating token usage: %w", err)
	}
	summary.AvgLatencyMS = math.Round(summary.AvgLatencyMS*10) / 10
	return &summary, nil
}

// GetUsageByProvider breaks usage down per provider and model, most
// active first.
func (s *Store) GetUsageByProvider(ctx context.Context, sessionID string) ([]ProviderUsage, error) {
	query := `SELECT provider, model, COUNT(*),
	                 COALESCE(SUM(total_tokens), 0),
	                 COALESCE(AVG(latency_ms), 0)
	          FROM token_usage`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY provider, model ORDER BY COUNT(*) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying provider usage: %w", err)
	}
	defer rows.Close()

	usage := []ProviderUsage{}
	for rows.Next() {
		var (
			row   ProviderUsage
			model sql.NullString
		)
		if err := rows.Scan(&row.Provider, &model, &row.Requests,
			&row.TotalTokens, &row.AvgLatencyMS); err != nil {
			return nil, err
		}
		row.Model = model.String
		row.AvgLatencyMS = math.Round(row.AvgLatencyMS*10) / 10
		usage = append(usage, row)
	}
	return usage, rows.Err()
}
