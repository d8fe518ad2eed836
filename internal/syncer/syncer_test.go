package syncer

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/metadata"
	"github.com/leaselab/image-sync/internal/models"
	"github.com/leaselab/image-sync/internal/objectstore"
	"github.com/leaselab/image-sync/internal/storage"
)

const (
	folderA = "FolderAAA111"
	folderB = "FolderBBB222"
)

type fakeRecords struct {
	mu      sync.Mutex
	records []models.SourceRecord
	err     error
	updated map[string][]models.UploadedAsset
}

func (f *fakeRecords) ListRecords(ctx context.Context) ([]models.SourceRecord, error) {
	return f.records, f.err
}

func (f *fakeRecords) GetRecord(ctx context.Context, id string) (*models.SourceRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, metadata.ErrRecordNotFound
}

func (f *fakeRecords) UpdateImages(ctx context.Context, id string, assets []models.UploadedAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updated == nil {
		f.updated = make(map[string][]models.UploadedAsset)
	}
	f.updated[id] = assets
	return nil
}

type fakeLister struct {
	mu           sync.Mutex
	folders      map[string][]models.SourceFile
	content      map[string][]byte
	failDownload map[string]error
	listErr      error
	listCalls    int
	downloads    int
}

func newFakeLister() *fakeLister {
	return &fakeLister{
		folders:      make(map[string][]models.SourceFile),
		content:      make(map[string][]byte),
		failDownload: make(map[string]error),
	}
}

func (f *fakeLister) add(folder, id, name, hash, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders[folder] = append(f.folders[folder], models.SourceFile{FileID: id, Name: name, MimeType: "image/jpeg", ContentHash: hash})
	f.content[id] = []byte(body)
}

func (f *fakeLister) ListFiles(ctx context.Context, folderID string) ([]models.SourceFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.SourceFile(nil), f.folders[folderID]...), nil
}

func (f *fakeLister) Download(ctx context.Context, fileID string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if err := f.failDownload[fileID]; err != nil {
		return nil, "", err
	}
	return io.NopCloser(bytes.NewReader(f.content[fileID])), "image/jpeg", nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Metadata.AirtableToken = "pat-test"
	cfg.Metadata.AirtableBaseID = "appTest"
	cfg.Source.DriveAPIKey = "drive-key"
	cfg.Destination.Type = "memory"
	return &cfg
}

type fixture struct {
	cfg     *config.Config
	records *fakeRecords
	lister  *fakeLister
	store   *objectstore.Memory
	history *storage.MemoryStorage
}

func newFixture(records ...models.SourceRecord) *fixture {
	return &fixture{
		cfg:     testConfig(),
		records: &fakeRecords{records: records},
		lister:  newFakeLister(),
		store:   objectstore.NewMemory(),
		history: storage.NewMemoryStorage(),
	}
}

func (f *fixture) service() *Service {
	return NewService(f.cfg, Deps{
		Records: f.records,
		Source:  f.lister,
		Store:   f.store,
		Images:  f.records,
		History: f.history,
	})
}

func record(id, slug, folder string) models.SourceRecord {
	return models.SourceRecord{ID: id, Slug: slug, SourceFolderReference: "https://drive.google.com/drive/folders/" + folder}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "photo1.jpg", "photo1.jpg"},
		{"spaces and parens", "My Photo (1).jpg", "My_Photo__1_.jpg"},
		{"dash and underscore kept", "front-door_2.PNG", "front-door_2.PNG"},
		{"slash", "a/b.jpg", "a_b.jpg"},
		{"non ascii", "café.jpg", "caf_.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestObjectKey_Deterministic(t *testing.T) {
	first := ObjectKey("maple-house", "Living Room #1.jpg")
	second := ObjectKey("maple-house", "Living Room #1.jpg")
	assert.Equal(t, "maple-house/Living_Room__1.jpg", first)
	assert.Equal(t, first, second)
}

func TestClassify(t *testing.T) {
	withHash := models.SourceFile{Name: "a.jpg", ContentHash: "abc"}
	noHash := models.SourceFile{Name: "a.jpg"}

	tests := []struct {
		name     string
		file     models.SourceFile
		dest     *models.ObjectMeta
		expected Action
	}{
		{"new object", withHash, nil, ActionSync},
		{"hash matches", withHash, &models.ObjectMeta{ContentHash: "abc"}, ActionSkip},
		{"hash differs", withHash, &models.ObjectMeta{ContentHash: "def"}, ActionSync},
		{"destination without hash", withHash, &models.ObjectMeta{}, ActionSync},
		{"no source hash, no object", noHash, nil, ActionSync},
		{"no source hash, object exists", noHash, &models.ObjectMeta{ContentHash: "abc"}, ActionSync},
		{"no source hash, empty stored hash", noHash, &models.ObjectMeta{}, ActionSync},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.file, tt.dest))
		})
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", contentTypeFor(models.SourceFile{Name: "a.jpg", MimeType: "image/png"}, "image/jpeg"))
	assert.Equal(t, "image/jpeg", contentTypeFor(models.SourceFile{Name: "a.bin"}, "image/jpeg"))
	assert.Equal(t, "image/webp", contentTypeFor(models.SourceFile{Name: "a.WEBP", MimeType: "image/*"}, ""))
	assert.Equal(t, defaultContentType, contentTypeFor(models.SourceFile{Name: "noext"}, ""))
}

func TestFanOut_PreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	out := fanOut(context.Background(), 3, items, func(ctx context.Context, n int) int {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10
	})
	assert.Equal(t, []int{50, 10, 40, 20, 30}, out)
}

func TestRun_SyncsAndTagsObjects(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "front.jpg", "h1", "front-bytes")
	f.lister.add(folderA, "f2", "back yard.jpg", "", "back-bytes")

	report, err := f.service().Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.NotEmpty(t, report.ID)
	assert.Regexp(t, `^\d+ms$`, report.Duration)
	assert.Equal(t, models.SyncSummary{
		PropertiesProcessed: 1,
		PropertiesSucceeded: 1,
		FilesSynced:         2,
	}, report.Summary)
	require.Len(t, report.Details, 1)
	assert.Equal(t, models.StatusSuccess, report.Details[0].Status)
	assert.Empty(t, report.Details[0].Errors)

	assert.Equal(t, []string{"maple-house/back_yard.jpg", "maple-house/front.jpg"}, f.store.Keys())

	meta, err := f.store.Head(context.Background(), "maple-house/front.jpg")
	require.NoError(t, err)
	assert.Equal(t, "h1", meta.ContentHash)
	assert.Equal(t, "f1", meta.SourceFileID)
	assert.Equal(t, "image/jpeg", meta.ContentType)
	assert.False(t, meta.SyncedAt.IsZero())

	meta, err = f.store.Head(context.Background(), "maple-house/back_yard.jpg")
	require.NoError(t, err)
	assert.Empty(t, meta.ContentHash)
	_, hasHash := meta.Custom[objectstore.MetaContentHash]
	assert.False(t, hasHash)
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "a.jpg", "h1", "aaa")
	f.lister.add(folderA, "f2", "b.jpg", "h2", "bbb")
	svc := f.service()

	first, err := svc.Run(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Summary.FilesSynced)
	before, _ := f.store.Get("maple-house/a.jpg")
	putsAfterFirst := f.store.Puts()
	downloadsAfterFirst := f.lister.downloads

	second, err := svc.Run(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Summary.FilesSynced)
	assert.Equal(t, 2, second.Summary.FilesSkipped)
	assert.Equal(t, models.StatusSuccess, second.Details[0].Status)
	assert.Equal(t, putsAfterFirst, f.store.Puts())
	assert.Equal(t, downloadsAfterFirst, f.lister.downloads)

	after, _ := f.store.Get("maple-house/a.jpg")
	assert.Equal(t, before, after)
}

func TestRun_ChangeDetection(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "a.jpg", "h1", "old")
	svc := f.service()

	_, err := svc.Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	f.lister.folders[folderA][0].ContentHash = "h2"
	f.lister.content["f1"] = []byte("new")

	report, err := svc.Run(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.FilesSynced)

	data, _ := f.store.Get("maple-house/a.jpg")
	assert.Equal(t, "new", string(data))
	meta, err := f.store.Head(context.Background(), "maple-house/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "h2", meta.ContentHash)
}

func TestRun_NoHashAlwaysSynced(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "a.jpg", "", "aaa")
	svc := f.service()

	for i := 0; i < 3; i++ {
		report, err := svc.Run(context.Background(), TriggerCLI)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Summary.FilesSynced)
		assert.Equal(t, 0, report.Summary.FilesSkipped)
	}
	assert.Equal(t, 3, f.store.Puts())
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "1.jpg", "h1", "one")
	f.lister.add(folderA, "f2", "2.jpg", "h2", "two")
	f.lister.add(folderA, "f3", "3.jpg", "h3", "three")
	f.lister.failDownload["f2"] = errors.New("Failed to download file: 500")

	report, err := f.service().Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	result := report.Details[0]
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.FilesSynced)
	assert.Equal(t, 1, result.FilesFailed)
	assert.Equal(t, []string{"Failed to sync 2.jpg: Failed to download file: 500"}, result.Errors)
	assert.Equal(t, 1, report.Summary.PropertiesSucceeded)
	assert.Equal(t, 1, report.Summary.FilesFailed)
	assert.True(t, report.Success)
	assert.Equal(t, []string{"maple-house/1.jpg", "maple-house/3.jpg"}, f.store.Keys())
}

func TestRun_AllFilesFailed(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "1.jpg", "h1", "one")
	f.lister.add(folderA, "f2", "2.jpg", "h2", "two")
	f.store.FailPut = func(key string) error {
		return errors.New("bucket unavailable")
	}

	report, err := f.service().Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	result := report.Details[0]
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, 0, result.FilesSynced)
	assert.Equal(t, 2, result.FilesFailed)
	assert.Equal(t, "Failed to sync 1.jpg: bucket unavailable", result.Errors[0])
	assert.Equal(t, 1, report.Summary.PropertiesFailed)
	assert.True(t, report.Success)
}

func TestProcessFile_UploadErrorIsTransferError(t *testing.T) {
	f := newFixture()
	f.lister.add(folderA, "f1", "1.jpg", "h1", "one")
	f.store.FailPut = func(key string) error {
		return errors.New("denied")
	}

	outcome := f.service().processFile(context.Background(), "slug", f.lister.folders[folderA][0])

	var transferErr *TransferError
	require.True(t, errors.As(outcome.Err, &transferErr))
	assert.Equal(t, StageUpload, transferErr.Stage)
	assert.Equal(t, "1.jpg", transferErr.Name)
}

func TestRun_EmptyFolderSkipped(t *testing.T) {
	f := newFixture(record("rec1", "empty-house", folderA))

	report, err := f.service().Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	result := report.Details[0]
	assert.Equal(t, models.StatusSkipped, result.Status)
	assert.Equal(t, 0, result.FilesSynced+result.FilesSkipped+result.FilesFailed)
	assert.Equal(t, []string{"No image files found in Drive folder"}, result.Errors)
	assert.Equal(t, 1, report.Summary.PropertiesSkipped)
	assert.Equal(t, 0, report.Summary.PropertiesFailed)
}

func TestRun_UnresolvableReference(t *testing.T) {
	f := newFixture(
		models.SourceRecord{ID: "rec1", Slug: "bad", SourceFolderReference: "not-a-folder"},
		record("rec2", "good", folderA),
	)
	f.lister.add(folderA, "f1", "a.jpg", "h1", "aaa")

	report, err := f.service().Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	require.Len(t, report.Details, 2)
	assert.Equal(t, models.StatusFailed, report.Details[0].Status)
	assert.Equal(t, []string{"Invalid Google Drive folder URL"}, report.Details[0].Errors)
	assert.Equal(t, models.StatusSuccess, report.Details[1].Status)
	assert.Equal(t, 1, f.lister.listCalls)
	assert.Equal(t, 1, report.Summary.PropertiesFailed)
	assert.Equal(t, 1, report.Summary.PropertiesSucceeded)
}

func TestRun_ListingFailureIsPerRecord(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.listErr = errors.New("Failed to list Drive files: 403")

	report, err := f.service().Run(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, report.Details[0].Status)
	assert.Equal(t, []string{"Failed to list Drive files: 403"}, report.Details[0].Errors)
}

func TestRun_SlugNamespacing(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA), record("rec2", "oak-villa", folderB))
	f.lister.add(folderA, "a1", "photo1.jpg", "ha", "maple")
	f.lister.add(folderB, "b1", "photo1.jpg", "hb", "oak")

	report, err := f.service().Run(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.FilesSynced)

	maple, _ := f.store.Get("maple-house/photo1.jpg")
	oak, _ := f.store.Get("oak-villa/photo1.jpg")
	assert.Equal(t, "maple", string(maple))
	assert.Equal(t, "oak", string(oak))
}

func TestRun_ConcurrentWorkersKeepOrder(t *testing.T) {
	var recs []models.SourceRecord
	f := newFixture()
	for i, slug := range []string{"a-house", "b-house", "c-house", "d-house", "e-house"} {
		folder := "Folder00000" + string(rune('0'+i))
		recs = append(recs, record(slug, slug, folder))
		f.lister.add(folder, slug+"-1", "1.jpg", "h", "x")
		f.lister.add(folder, slug+"-2", "2.jpg", "h", "y")
	}
	f.records.records = recs
	f.cfg.Sync.RecordWorkers = 3
	f.cfg.Sync.FileWorkers = 2

	report, err := f.service().Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	require.Len(t, report.Details, 5)
	for i, rec := range recs {
		assert.Equal(t, rec.Slug, report.Details[i].Slug)
		assert.Equal(t, 2, report.Details[i].FilesSynced)
	}
	assert.Equal(t, 10, report.Summary.FilesSynced)
	assert.Len(t, f.store.Keys(), 10)
}

func TestRun_NoRecords(t *testing.T) {
	f := newFixture()

	report, err := f.service().Run(context.Background(), TriggerHTTP)
	require.NoError(t, err)
	assert.Equal(t, "No properties with Image Folder URL found", report.Message)
	assert.Empty(t, report.Details)
	assert.Equal(t, 0, report.Summary.PropertiesProcessed)
}

func TestRun_ConfigurationError(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "a.jpg", "h1", "aaa")
	f.cfg.Metadata.AirtableToken = ""

	report, err := f.service().Run(context.Background(), TriggerHTTP)
	assert.Nil(t, report)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "AIRTABLE_TOKEN")
	assert.Equal(t, 0, f.lister.listCalls)
	assert.Equal(t, 0, f.store.Heads())

	status, err := f.history.GetRunStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failure", status.Status)
}

func TestRun_MissingClientsIsConfigurationError(t *testing.T) {
	svc := NewService(testConfig(), Deps{})

	_, err := svc.Run(context.Background(), TriggerCLI)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestRun_EnumerationFailure(t *testing.T) {
	f := newFixture()
	f.records.err = errors.New("API returned status 500 - boom")

	_, err := f.service().Run(context.Background(), TriggerCLI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list records")
}

func TestRun_RecordsHistory(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "a.jpg", "h1", "aaa")
	svc := f.service()

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "never_run", status.Status)

	report, err := svc.Run(context.Background(), TriggerTimer)
	require.NoError(t, err)

	status, err = svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, report.ID, status.RunID)
	assert.Equal(t, 1, status.FilesSynced)

	runs, err := svc.Runs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, TriggerTimer, runs[0].Trigger)
}

func TestRun_InProcessLock(t *testing.T) {
	f := newFixture()
	svc := f.service()

	release, err := svc.lock.acquire(context.Background(), "holder")
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), TriggerHTTP)
	assert.True(t, errors.Is(err, ErrRunInProgress))

	release()
	_, err = svc.Run(context.Background(), TriggerHTTP)
	assert.NoError(t, err)
}

func TestRun_LeaseContention(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture()
	f.cfg.Sync.LeaseTTL = 10 * time.Minute
	svc := f.service()
	svc.now = func() time.Time { return now }

	other := &runLock{store: f.store, ttl: 10 * time.Minute, now: svc.now}
	_, err := other.acquire(context.Background(), "other-process")
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), TriggerHTTP)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunInProgress))
	assert.Contains(t, err.Error(), "other-process")

	// the other holder's lease runs out
	now = now.Add(11 * time.Minute)
	_, err = svc.Run(context.Background(), TriggerHTTP)
	assert.NoError(t, err)

	// released leases do not block the next run
	_, err = svc.Run(context.Background(), TriggerHTTP)
	assert.NoError(t, err)
	meta, err := f.store.Head(context.Background(), LeaseKey)
	require.NoError(t, err)
	assert.NotEmpty(t, meta.Custom[metaLeaseOwner])
}

// stalledStore never answers a lease read until its context ends
type stalledStore struct {
	*objectstore.Memory
}

func (s stalledStore) Head(ctx context.Context, key string) (*models.ObjectMeta, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunLock_LeaseCallsAreBounded(t *testing.T) {
	lock := &runLock{
		store:   stalledStore{objectstore.NewMemory()},
		ttl:     10 * time.Minute,
		timeout: 20 * time.Millisecond,
		now:     time.Now,
	}

	start := time.Now()
	_, err := lock.acquire(context.Background(), "run-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)

	// the in-process mutex is released on failure
	_, err = lock.acquire(context.Background(), "run-2")
	assert.False(t, errors.Is(err, ErrRunInProgress))
}

func TestGetRun(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "a.jpg", "h1", "aaa")
	svc := f.service()

	report, err := svc.Run(context.Background(), TriggerHTTP)
	require.NoError(t, err)

	got, err := svc.GetRun(context.Background(), report.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, report.Summary, got.Summary)

	missing, err := svc.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	noHistory := NewService(f.cfg, Deps{})
	missing, err = noHistory.GetRun(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSyncRecord_WritesImagesBack(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA), record("rec2", "oak-villa", folderB))
	f.lister.add(folderA, "f1", "a.jpg", "h1", "aaa")
	f.lister.add(folderA, "f2", "b c.jpg", "h2", "bbb")
	f.cfg.Destination.PublicBaseURL = "https://images.example.com/"
	svc := f.service()

	// pre-sync one file so the write-back includes skipped images
	require.NoError(t, f.store.Put(context.Background(), "maple-house/a.jpg", bytes.NewReader([]byte("aaa")), 3, "image/jpeg", map[string]string{
		objectstore.MetaContentHash: "h1",
	}))

	result, err := svc.SyncRecord(context.Background(), "rec1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 1, result.FilesSynced)
	assert.Equal(t, 1, result.FilesSkipped)

	assert.Equal(t, []models.UploadedAsset{
		{URL: "https://images.example.com/maple-house/a.jpg", Filename: "a.jpg"},
		{URL: "https://images.example.com/maple-house/b_c.jpg", Filename: "b_c.jpg"},
	}, f.records.updated["rec1"])
	assert.Equal(t, 1, f.lister.listCalls)
}

func TestSyncRecord_NoWriteBackWithoutBaseURL(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "a.jpg", "h1", "aaa")

	_, err := f.service().SyncRecord(context.Background(), "rec1")
	require.NoError(t, err)
	assert.Empty(t, f.records.updated)
}

func TestSyncRecord_MissingSlug(t *testing.T) {
	f := newFixture(record("rec9", "", folderA))
	f.lister.add(folderA, "f1", "photo.jpg", "h1", "aaa")
	f.cfg.Destination.PublicBaseURL = "https://images.example.com"

	result, err := f.service().SyncRecord(context.Background(), "rec9")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, []string{"Record has no slug or title"}, result.Errors)
	assert.Empty(t, result.Keys)

	assert.Empty(t, f.store.Keys())
	assert.Equal(t, 0, f.lister.listCalls)
	assert.Empty(t, f.records.updated)
}

func TestSyncRecord_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.service().SyncRecord(context.Background(), "recMissing")
	assert.True(t, errors.Is(err, metadata.ErrRecordNotFound))
}

func TestStart_Disabled(t *testing.T) {
	f := newFixture()
	f.cfg.Sync.Interval = 0

	assert.NoError(t, f.service().Start(context.Background()))
	assert.Equal(t, 0, f.lister.listCalls)
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	f := newFixture(record("rec1", "maple-house", folderA))
	f.lister.add(folderA, "f1", "a.jpg", "h1", "aaa")
	f.cfg.Sync.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := f.service().Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	runs, _ := f.history.ListRuns(context.Background(), 0)
	assert.GreaterOrEqual(t, len(runs), 2)
}
