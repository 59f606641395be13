package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aytekaytemur/perseptor/internal/pipeline"
)

// ReportMeta is a listing row without the heavy rule payloads.
type ReportMeta struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Timestamp     string `json:"timestamp"`
	ThreatSummary string `json:"threat_summary"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
}

// StoredReport is a fully hydrated analysis record.
type StoredReport struct {
	ID        string          `json:"id"`
	URL       string          `json:"url"`
	Timestamp string          `json:"timestamp"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Result    pipeline.Result `json:"result"`
}

// SaveReport persists a finished analysis. Implements pipeline.ReportStore.
func (s *Store) SaveReport(ctx context.Context, report pipeline.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Result == nil {
		return errors.New("report has no result")
	}

	analysisData, err := json.Marshal(report.Result.AnalysisData)
	if err != nil {
		return fmt.Errorf("serializing analysis data: %w", err)
	}
	mitreMapping, _ := json.Marshal(report.Result.MITREMapping)
	iocSigma, _ := json.Marshal(report.Result.IOCSigmaRules)
	siemQueries, _ := json.Marshal(report.Result.SIEMQueries)
	atomicTests, _ := json.Marshal(report.Result.AtomicTests)
	sigmaMatches, _ := json.Marshal(report.Result.SigmaMatches)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_reports
		 (id, url, timestamp, threat_summary, analysis_data, mitre_mapping,
		  yara_rules, ioc_sigma_rules, generated_sigma_rules, siem_queries,
		  atomic_tests, sigma_matches, provider, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.URL,
		report.CreatedAt.UTC().Format(time.RFC3339),
		report.Result.ThreatSummary,
		string(analysisData),
		string(mitreMapping),
		report.Result.YARARules,
		string(iocSigma),
		report.Result.GeneratedSigmaRules,
		string(siemQueries),
		string(atomicTests),
		string(sigmaMatches),
		report.Provider,
		report.Model,
	)
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	log.Info().Str("report_id", report.ID).Msg("Report saved")
	return nil
}

// GetReport loads one report by ID. Returns ErrNotFound when missing.
func (s *Store) GetReport(ctx context.Context, id string) (*StoredReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, timestamp, threat_summary, analysis_data, mitre_mapping,
		        yara_rules, ioc_sigma_rules, generated_sigma_rules, siem_queries,
		        atomic_tests, sigma_matches, provider, model
		 FROM analysis_reports WHERE id = ?`, id)

	var (
		r            StoredReport
		analysisData string
		mitreMapping string
		iocSigma     string
		siemQueries  string
		atomicTests  string
		sigmaMatches string
		model        sql.NullString
	)
	err := row.Scan(&r.ID, &r.URL, &r.Timestamp, &r.Result.ThreatSummary,
		&analysisData, &mitreMapping, &r.Result.YARARules, &iocSigma,
		&r.Result.GeneratedSigmaRules, &siemQueries, &atomicTests,
		&sigmaMatches, &r.Provider, &model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading report %s: %w", id, err)
	}
	r.Model = model.String

	unmarshalColumn(analysisData, &r.Result.AnalysisData)
	unmarshalColumn(mitreMapping, &r.Result.MITREMapping)
	unmarshalColumn(iocSigma, &r.Result.IOCSigmaRules)
	unmarshalColumn(siemQueries, &r.Result.SIEMQueries)
	unmarshalColumn(atomicTests, &r.Result.AtomicTests)
	unmarshalColumn(sigmaMatches, &r.Result.SigmaMatches)
	return &r, nil
}

// ListReports returns report summaries, newest first.
func (s *Store) ListReports(ctx context.Context, limit, offset int) ([]ReportMeta, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, timestamp, threat_summary, provider, model
		 FROM analysis_reports ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	reports := []ReportMeta{}
	for rows.Next() {
		var (
			meta  ReportMeta
			model sql.NullString
		)
		if err := rows.Scan(&meta.ID, &meta.URL, &meta.Timestamp,
			&meta.ThreatSummary, &meta.Provider, &model); err != nil {
			return nil, err
		}
		meta.Model = model.String
		reports = append(reports, meta)
	}
	return reports, rows.Err()
}

// DeleteReport removes a report. Reports whether a row was deleted.
func (s *Store) DeleteReport(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM analysis_reports WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting report %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		log.Info().Str("report_id", id).Msg("Report deleted")
	}
	return affected > 0, nil
}

// CountReports returns the total number of stored reports.
func (s *Store) CountReports(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_reports`).Scan(&count)
	return count, err
}

// unmarshalColumn tolerates legacy rows holding empty or invalid JSON.
func unmarshalColumn(data string, target any) {
	if data == "" {
		return
	}
	if err := json.Unmarshal([]byte(data), target); err != nil {
		log.Debug().Err(err).Msg("Skipping malformed report column")
	}
}
