package database

import (
	"errors"
	"fmt"
	"strings"

	"ipscope/internal/api/dto"
	"ipscope/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultAnalysisPageSize = 50

// analysisGeoColumns are refreshed on every write of a processed address.
var analysisGeoColumns = []string{
	"country", "region", "city", "isp", "org", "timezone",
	"lat", "lon", "proxy", "hosting", "geo_fetched_at",
}

// analysisClassificationColumns change whenever the verdict is recomputed.
var analysisClassificationColumns = []string{
	"status", "threat_level", "threat_type", "confidence", "reputation",
	"categories", "details", "last_seen", "updated_at",
}

// GetAnalysisByIP returns the cached row for an address, or nil on a miss.
func GetAnalysisByIP(ip string) (*domain.IPAnalysis, error) {
	var rec domain.IPAnalysis
	if err := DB.Where("ip = ?", ip).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get analysis for %s: %w", ip, err)
	}
	return &rec, nil
}

// UpsertAnalysis inserts or updates the single row for rec.IP. The threat
// freshness timestamp is only assigned when refreshThreat is set; a pass that
// merely reused cached threat data keeps the stored fetch time untouched.
func UpsertAnalysis(rec *domain.IPAnalysis, refreshThreat bool) error {
	columns := make([]string, 0, len(analysisGeoColumns)+len(analysisClassificationColumns)+1)
	columns = append(columns, analysisGeoColumns...)
	columns = append(columns, analysisClassificationColumns...)
	if refreshThreat {
		columns = append(columns, "threat_fetched_at")
	}

	err := DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("database: upsert analysis for %s: %w", rec.IP, err)
	}
	return nil
}

// AnalysisStore adapts the package-level handlers to the analyzer's store
// interface so the pipeline takes an explicit dependency instead of touching
// the global connection.
type AnalysisStore struct{}

func (AnalysisStore) GetByIP(ip string) (*domain.IPAnalysis, error) {
	return GetAnalysisByIP(ip)
}

func (AnalysisStore) Upsert(rec *domain.IPAnalysis, refreshThreat bool) error {
	return UpsertAnalysis(rec, refreshThreat)
}

// GetAnalysisPage returns one page of cached analyses for the results table,
// newest first, plus the total row count for the pager. search filters on
// IP, country, status and threat type substrings.
func GetAnalysisPage(page, pageSize int, search string) ([]dto.AnalysisRow, int64) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultAnalysisPageSize
	}

	query := DB.Model(&domain.IPAnalysis{})
	if pattern := searchPattern(search); pattern != "" {
		query = query.Where(
			"ip ILIKE ? OR country ILIKE ? OR status ILIKE ? OR threat_type ILIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0
	}

	var records []domain.IPAnalysis
	err := query.
		Order("updated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0
	}

	rows := make([]dto.AnalysisRow, len(records))
	for i := range records {
		rows[i] = analysisRowFromModel(&records[i])
	}

	return rows, total
}

// GetAllAnalyses returns every cached row, newest first, for exports.
func GetAllAnalyses() ([]domain.IPAnalysis, error) {
	var records []domain.IPAnalysis
	if err := DB.Order("updated_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("database: list analyses: %w", err)
	}
	return records, nil
}

// GetAnalysisStats aggregates the cache for the dashboard charts.
func GetAnalysisStats(topCountries int) (dto.AnalysisStats, error) {
	stats := dto.AnalysisStats{
		ByStatus: make(map[string]int64),
		ByLevel:  make(map[string]int64),
	}

	if err := DB.Model(&domain.IPAnalysis{}).Count(&stats.Total).Error; err != nil {
		return stats, fmt.Errorf("database: count analyses: %w", err)
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var statusBuckets []bucket
	err := DB.Model(&domain.IPAnalysis{}).
		Select("status AS key, COUNT(*) AS count").
		Group("status").
		Scan(&statusBuckets).Error
	if err != nil {
		return stats, fmt.Errorf("database: status breakdown: %w", err)
	}
	for _, b := range statusBuckets {
		stats.ByStatus[b.Key] = b.Count
	}

	var levelBuckets []bucket
	err = DB.Model(&domain.IPAnalysis{}).
		Select("threat_level AS key, COUNT(*) AS count").
		Group("threat_level").
		Scan(&levelBuckets).Error
	if err != nil {
		return stats, fmt.Errorf("database: threat level breakdown: %w", err)
	}
	for _, b := range levelBuckets {
		stats.ByLevel[b.Key] = b.Count
	}

	if topCountries < 1 {
		topCountries = 10
	}

	var countryBuckets []bucket
	err = DB.Model(&domain.IPAnalysis{}).
		Select("country AS key, COUNT(*) AS count").
		Where("country <> ''").
		Group("country").
		Order("count DESC").
		Limit(topCountries).
		Scan(&countryBuckets).Error
	if err != nil {
		return stats, fmt.Errorf("database: country breakdown: %w", err)
	}
	for _, b := range countryBuckets {
		stats.TopCountries = append(stats.TopCountries, dto.CountryCount{Country: b.Key, Count: b.Count})
	}

	return stats, nil
}

func analysisRowFromModel(rec *domain.IPAnalysis) dto.AnalysisRow {
	return dto.AnalysisRow{
		IP:          rec.IP,
		Status:      rec.Status,
		ThreatLevel: rec.ThreatLevel,
		ThreatType:  rec.ThreatType,
		Country:     rec.Country,
		City:        rec.City,
		ISP:         rec.ISP,
		Confidence:  rec.Confidence,
		Reputation:  rec.Reputation,
		AnalyzedAt:  rec.UpdatedAt,
	}
}

func searchPattern(search string) string {
	trimmed := strings.TrimSpace(search)
	if trimmed == "" {
		return ""
	}
	return "%" + trimmed + "%"
}
