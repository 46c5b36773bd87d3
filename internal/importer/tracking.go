package importer

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"partsfeed/internal/catalog"
)

// Tracker decides what to do with a pending file and records audit rows for
// every attempt, including failed ones.
type Tracker struct {
	db *gorm.DB
}

func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// Action resolves the eligibility state machine for one pending file:
//
//   - a completed import at or after the file's date means the file is
//     stale and gets archived;
//   - the category lookup feed always imports;
//   - the catalog feed imports once lookup rows exist for the brand;
//   - the fitment feed imports once the brand itself exists.
//
// Anything else waits for its prerequisite feed.
func (t *Tracker) Action(info FileInfo) (int, error) {
	var last catalog.ImportTracking
	err := t.db.
		Where("brand_short_name = ? AND tracking_type = ? AND end_date IS NOT NULL",
			info.BrandShortName, string(info.Type)).
		Order("start_date DESC").
		First(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("importer: load last completed import: %w", err)
	}
	if err == nil && !last.StartDate.Before(info.Date) {
		return catalog.ActionArchive, nil
	}

	switch info.Type {
	case FeedCategoryLookup:
		return catalog.ActionImport, nil
	case FeedCatalog:
		ok, err := t.exists(&catalog.ProductCategoryLookup{}, "brand_short_name = ?", info.BrandShortName)
		if err != nil {
			return 0, err
		}
		if ok {
			return catalog.ActionImport, nil
		}
	case FeedFitment:
		ok, err := t.exists(&catalog.Brand{}, "short_name = ?", info.BrandShortName)
		if err != nil {
			return 0, err
		}
		if ok {
			return catalog.ActionImport, nil
		}
	}
	return catalog.ActionNone, nil
}

func (t *Tracker) exists(model any, query string, args ...any) (bool, error) {
	var count int64
	if err := t.db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, fmt.Errorf("importer: eligibility query: %w", err)
	}
	return count > 0, nil
}

// Begin opens the audit row for one file-processing attempt.
func (t *Tracker) Begin(info FileInfo, action int) (*catalog.ImportTracking, error) {
	row := &catalog.ImportTracking{
		TrackingType:   string(info.Type),
		ImportAction:   action,
		FileName:       info.Name,
		BrandShortName: info.BrandShortName,
		StartDate:      time.Now().UTC(),
	}
	if err := t.db.Create(row).Error; err != nil {
		return nil, fmt.Errorf("importer: create tracking row: %w", err)
	}
	return row, nil
}

// Finish closes the audit row: end date on success, the failure detail on
// error. The row is written either way.
func (t *Tracker) Finish(row *catalog.ImportTracking, runErr error) error {
	if runErr != nil {
		trace := runErr.Error()
		row.StackTrace = &trace
	} else {
		now := time.Now().UTC()
		row.EndDate = &now
	}
	if err := t.db.Save(row).Error; err != nil {
		return fmt.Errorf("importer: close tracking row: %w", err)
	}
	return nil
}
