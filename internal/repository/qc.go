package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

// GetOrCreateCaseQC returns the QC record of a case, creating it in draft state
func (s *Store) GetOrCreateCaseQC(ctx context.Context, caseID int64) (*domain.CaseQC, error) {
	_, err := s.exec(ctx, `
		INSERT INTO case_qcs (uuid, case_id, state, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (case_id) DO NOTHING`,
		uuid.New(), caseID, domain.CaseQCStateDraft, s.now(),
	)
	if err != nil {
		return nil, s.fail("creating case QC", logrus.Fields{"case_id": caseID}, err)
	}

	var qc domain.CaseQC
	if err := s.get(ctx, &qc, `SELECT id, uuid, case_id, state, created_at FROM case_qcs WHERE case_id = ?`, caseID); err != nil {
		return nil, s.fail("getting case QC", logrus.Fields{"case_id": caseID}, err)
	}
	return &qc, nil
}

// SetCaseQCState updates the state of a QC record
func (s *Store) SetCaseQCState(ctx context.Context, id int64, state domain.CaseQCState) error {
	if err := s.execOne(ctx, `UPDATE case_qcs SET state = ? WHERE id = ?`, state, id); err != nil {
		return s.fail("setting case QC state", logrus.Fields{"caseqc_id": id, "state": state}, err)
	}
	return nil
}

// SaveQCMetrics upserts metric rows on (caseqc, category, sample, region, section, name)
func (s *Store) SaveQCMetrics(ctx context.Context, metrics []domain.QCMetric) error {
	for _, m := range metrics {
		_, err := s.exec(ctx, `
			INSERT INTO qc_metrics (caseqc_id, category, sample, region, section, name, value, percent, text_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (caseqc_id, category, sample, region, section, name) DO UPDATE SET
				value = excluded.value,
				percent = excluded.percent,
				text_value = excluded.text_value`,
			m.CaseQCID, m.Category, m.Sample, m.Region, m.Section, m.Name, m.Value, m.Percent, m.Text,
		)
		if err != nil {
			return s.fail("saving QC metric", logrus.Fields{
				"caseqc_id": m.CaseQCID,
				"category":  m.Category,
				"sample":    m.Sample,
				"name":      m.Name,
			}, err)
		}
	}
	return nil
}

// SaveQCHistogram upserts a histogram on (caseqc, category, sample, region)
func (s *Store) SaveQCHistogram(ctx context.Context, hist *domain.QCHistogram) error {
	id, err := s.insert(ctx, `
		INSERT INTO qc_histograms (caseqc_id, category, sample, region, bin_keys, bin_counts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (caseqc_id, category, sample, region) DO UPDATE SET
			bin_keys = excluded.bin_keys,
			bin_counts = excluded.bin_counts
		RETURNING id`,
		hist.CaseQCID, hist.Category, hist.Sample, hist.Region, hist.Keys, hist.Values,
	)
	if err != nil {
		return s.fail("saving QC histogram", logrus.Fields{
			"caseqc_id": hist.CaseQCID,
			"category":  hist.Category,
			"sample":    hist.Sample,
		}, err)
	}
	hist.ID = id
	return nil
}

// ListQCMetrics returns all metric rows of a QC record
func (s *Store) ListQCMetrics(ctx context.Context, caseQCID int64) ([]domain.QCMetric, error) {
	var metrics []domain.QCMetric
	err := s.selectRows(ctx, &metrics, `
		SELECT id, caseqc_id, category, sample, region, section, name, value, percent, text_value
		FROM qc_metrics WHERE caseqc_id = ? ORDER BY id`, caseQCID)
	if err != nil {
		return nil, s.fail("listing QC metrics", logrus.Fields{"caseqc_id": caseQCID}, err)
	}
	return metrics, nil
}

// ListQCHistograms returns all histograms of a QC record
func (s *Store) ListQCHistograms(ctx context.Context, caseQCID int64) ([]domain.QCHistogram, error) {
	var hists []domain.QCHistogram
	err := s.selectRows(ctx, &hists, `
		SELECT id, caseqc_id, category, sample, region, bin_keys, bin_counts
		FROM qc_histograms WHERE caseqc_id = ? ORDER BY id`, caseQCID)
	if err != nil {
		return nil, s.fail("listing QC histograms", logrus.Fields{"caseqc_id": caseQCID}, err)
	}
	return hists, nil
}
