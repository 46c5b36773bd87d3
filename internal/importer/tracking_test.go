package importer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"partsfeed/internal/catalog"
	"partsfeed/internal/logger"
	"partsfeed/internal/reconcile"
	"partsfeed/internal/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, store.AutoMigrate(db))
	return db
}

func fileInfo(feed FeedType, day int) FileInfo {
	return FileInfo{
		Name:           "SWAY2024031X_test.zip",
		BrandShortName: "SWAY",
		Date:           time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		Type:           feed,
	}
}

func TestActionCategoryLookupAlwaysImports(t *testing.T) {
	tracker := NewTracker(testDB(t))
	action, err := tracker.Action(fileInfo(FeedCategoryLookup, 1))
	require.NoError(t, err)
	assert.Equal(t, catalog.ActionImport, action)
}

func TestActionCatalogNeedsLookupRows(t *testing.T) {
	db := testDB(t)
	tracker := NewTracker(db)

	action, err := tracker.Action(fileInfo(FeedCatalog, 1))
	require.NoError(t, err)
	assert.Equal(t, catalog.ActionNone, action)

	require.NoError(t, db.Create(&catalog.Category{Name: "Sway Bars"}).Error)
	var cat catalog.Category
	require.NoError(t, db.First(&cat).Error)
	require.NoError(t, db.Create(&catalog.ProductCategoryLookup{
		BrandShortName: "SWAY",
		PartNumber:     "P100",
		CategoryID:     cat.ID,
	}).Error)

	action, err = tracker.Action(fileInfo(FeedCatalog, 1))
	require.NoError(t, err)
	assert.Equal(t, catalog.ActionImport, action)
}

func TestActionFitmentNeedsBrand(t *testing.T) {
	db := testDB(t)
	tracker := NewTracker(db)

	action, err := tracker.Action(fileInfo(FeedFitment, 1))
	require.NoError(t, err)
	assert.Equal(t, catalog.ActionNone, action)

	require.NoError(t, db.Create(&catalog.Brand{Name: "Swayco", ShortName: "SWAY"}).Error)
	action, err = tracker.Action(fileInfo(FeedFitment, 1))
	require.NoError(t, err)
	assert.Equal(t, catalog.ActionImport, action)
}

func TestActionArchivesStaleFiles(t *testing.T) {
	db := testDB(t)
	tracker := NewTracker(db)

	// A completed import dated after the file means the file is old news.
	done := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	end := done.Add(time.Hour)
	require.NoError(t, db.Create(&catalog.ImportTracking{
		TrackingType:   string(FeedCategoryLookup),
		ImportAction:   catalog.ActionImport,
		BrandShortName: "SWAY",
		StartDate:      done,
		EndDate:        &end,
	}).Error)

	action, err := tracker.Action(fileInfo(FeedCategoryLookup, 5))
	require.NoError(t, err)
	assert.Equal(t, catalog.ActionArchive, action)

	// A newer file still imports.
	action, err = tracker.Action(fileInfo(FeedCategoryLookup, 15))
	require.NoError(t, err)
	assert.Equal(t, catalog.ActionImport, action)
}

func TestActionIgnoresUnfinishedImports(t *testing.T) {
	db := testDB(t)
	tracker := NewTracker(db)

	// No end date: the earlier run failed, so the file is not stale.
	require.NoError(t, db.Create(&catalog.ImportTracking{
		TrackingType:   string(FeedCategoryLookup),
		ImportAction:   catalog.ActionImport,
		BrandShortName: "SWAY",
		StartDate:      time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}).Error)

	action, err := tracker.Action(fileInfo(FeedCategoryLookup, 5))
	require.NoError(t, err)
	assert.Equal(t, catalog.ActionImport, action)
}

func TestTrackerAuditLifecycle(t *testing.T) {
	db := testDB(t)
	tracker := NewTracker(db)
	info := fileInfo(FeedCatalog, 1)

	row, err := tracker.Begin(info, catalog.ActionImport)
	require.NoError(t, err)
	require.NotZero(t, row.ID)
	assert.Nil(t, row.EndDate)

	require.NoError(t, tracker.Finish(row, nil))
	var saved catalog.ImportTracking
	require.NoError(t, db.First(&saved, row.ID).Error)
	assert.NotNil(t, saved.EndDate)
	assert.Nil(t, saved.StackTrace)
}

func TestTrackerRecordsFailure(t *testing.T) {
	db := testDB(t)
	tracker := NewTracker(db)

	row, err := tracker.Begin(fileInfo(FeedCatalog, 1), catalog.ActionImport)
	require.NoError(t, err)
	require.NoError(t, tracker.Finish(row, errors.New("boom")))

	var saved catalog.ImportTracking
	require.NoError(t, db.First(&saved, row.ID).Error)
	assert.Nil(t, saved.EndDate)
	require.NotNil(t, saved.StackTrace)
	assert.Equal(t, "boom", *saved.StackTrace)
}

func TestRunnerRetriesWithSharedCheckpoint(t *testing.T) {
	db := testDB(t)
	runner := NewRunner(NewTracker(db), logger.NewNop(), 5)

	var attempts int
	var resumedFrom []int
	err := runner.Run(Job{
		Info: fileInfo(FeedCategoryLookup, 1),
		Import: func(prog *reconcile.Progress) error {
			attempts++
			resumedFrom = append(resumedFrom, prog.Chunk)
			// Each attempt commits one more chunk, then fails until the
			// third try.
			prog.Chunk++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	// The checkpoint carries across attempts instead of restarting at zero.
	assert.Equal(t, []int{0, 1, 2}, resumedFrom)

	var saved catalog.ImportTracking
	require.NoError(t, db.Order("id DESC").First(&saved).Error)
	assert.NotNil(t, saved.EndDate)
	assert.Nil(t, saved.StackTrace)
}

func TestRunnerExhaustsAttempts(t *testing.T) {
	db := testDB(t)
	runner := NewRunner(NewTracker(db), logger.NewNop(), 3)

	var attempts int
	var completed bool
	err := runner.Run(Job{
		Info: fileInfo(FeedCategoryLookup, 1),
		Import: func(*reconcile.Progress) error {
			attempts++
			return errors.New("persistent failure")
		},
		OnComplete: func() error {
			completed = true
			return nil
		},
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.False(t, completed)

	// The audit row still lands, carrying the final error.
	var saved catalog.ImportTracking
	require.NoError(t, db.Order("id DESC").First(&saved).Error)
	assert.Nil(t, saved.EndDate)
	require.NotNil(t, saved.StackTrace)
	assert.Contains(t, *saved.StackTrace, "persistent failure")
}

func TestRunnerOnCompleteAfterSuccess(t *testing.T) {
	db := testDB(t)
	runner := NewRunner(NewTracker(db), logger.NewNop(), 3)

	var order []string
	err := runner.Run(Job{
		Info: fileInfo(FeedCategoryLookup, 1),
		Import: func(*reconcile.Progress) error {
			order = append(order, "import")
			return nil
		},
		OnComplete: func() error {
			order = append(order, "complete")
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"import", "complete"}, order)
}
