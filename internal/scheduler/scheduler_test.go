package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/backupd/internal/model"
	"github.com/edvin/backupd/internal/retention"
)

type fakeBuilder struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{} // when non-nil, Build waits until closed
	workDir string
}

func (f *fakeBuilder) Build(ctx context.Context, src model.Source) (string, *model.Metadata, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return "", nil, f.err
	}

	path := filepath.Join(f.workDir, fmt.Sprintf("%s-%d.tar.gz.enc", src.ID, time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte("ciphertext"), 0o600); err != nil {
		return "", nil, err
	}
	return path, &model.Metadata{
		SourceID:   src.ID,
		SourceKind: src.Kind,
		Timestamp:  time.Now().UTC(),
		Filename:   filepath.Base(path),
		SizeBytes:  10,
		Checksum:   "deadbeef",
		Encryption: model.EncryptionAES256,
	}, nil
}

func (f *fakeBuilder) buildCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, filePath string, meta *model.Metadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	key := "backups/" + meta.SourceID + "/" + meta.Filename
	f.uploads = append(f.uploads, key)
	return key, nil
}

func (f *fakeUploader) ListBackups(ctx context.Context, sourceID string) ([]model.RemoteObject, error) {
	return nil, nil
}

func (f *fakeUploader) DeleteBackup(ctx context.Context, key string) error { return nil }

func (f *fakeUploader) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type fakeEnforcer struct {
	res retention.Result
	err error
}

func (f *fakeEnforcer) Enforce(ctx context.Context, src model.Source) (retention.Result, error) {
	return f.res, f.err
}

func testSource(id string) model.Source {
	return model.Source{
		ID:       id,
		Kind:     model.SourceKindDirectory,
		Path:     "/data/" + id,
		Schedule: "0 2 * * *",
	}
}

func testScheduler(t *testing.T, b *fakeBuilder, up *fakeUploader, enf *fakeEnforcer, sources ...model.Source) *Scheduler {
	t.Helper()
	if b.workDir == "" {
		b.workDir = t.TempDir()
	}
	s := New(zerolog.Nop(), b, up, enf, sources)
	s.grace = 20 * time.Millisecond
	return s
}

func TestRunJob_Success(t *testing.T) {
	b := &fakeBuilder{}
	up := &fakeUploader{}
	enf := &fakeEnforcer{res: retention.Result{DeletedCount: 3}}
	src := testSource("blog")
	s := testScheduler(t, b, up, enf, src)

	s.RunJob(src)

	history := s.History("", 0)
	require.Len(t, history, 1)
	rec := history[0]
	assert.Equal(t, model.JobStatusSuccess, rec.Status)
	assert.Equal(t, "blog", rec.SourceID)
	require.NotNil(t, rec.Metadata)
	assert.Equal(t, "deadbeef", rec.Metadata.Checksum)
	assert.Equal(t, 3, rec.RetentionDeleted)
	assert.Empty(t, rec.Error)
	assert.False(t, rec.CompletedAt.IsZero())

	assert.Equal(t, 1, up.uploadCount())

	// Terminal state stays visible for the grace period.
	running := s.RunningJobs()
	require.Len(t, running, 1)
	assert.Equal(t, model.JobStatusSuccess, running[0].Status)
	require.NotNil(t, running[0].CompletedAt)
}

func TestRunJob_MarkerEvictedAfterGrace(t *testing.T) {
	b := &fakeBuilder{}
	src := testSource("blog")
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{}, src)

	s.RunJob(src)
	require.Len(t, s.RunningJobs(), 1)

	assert.Eventually(t, func() bool {
		return len(s.RunningJobs()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunJob_LocalArtifactRemoved(t *testing.T) {
	b := &fakeBuilder{workDir: t.TempDir()}
	src := testSource("blog")
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{}, src)

	s.RunJob(src)

	entries, err := os.ReadDir(b.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "artifact must be deleted after upload")
}

func TestRunJob_ArtifactRemovedOnUploadFailure(t *testing.T) {
	b := &fakeBuilder{workDir: t.TempDir()}
	up := &fakeUploader{err: fmt.Errorf("connection refused")}
	src := testSource("blog")
	s := testScheduler(t, b, up, &fakeEnforcer{}, src)

	s.RunJob(src)

	entries, err := os.ReadDir(b.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	history := s.History("", 0)
	require.Len(t, history, 1)
	assert.Equal(t, model.JobStatusFailed, history[0].Status)
}

func TestRunJob_BuildFailureSanitized(t *testing.T) {
	b := &fakeBuilder{err: fmt.Errorf("open /var/lib/secret-path: permission denied")}
	up := &fakeUploader{}
	src := testSource("blog")
	s := testScheduler(t, b, up, &fakeEnforcer{}, src)

	s.RunJob(src)

	history := s.History("", 0)
	require.Len(t, history, 1)
	rec := history[0]
	assert.Equal(t, model.JobStatusFailed, rec.Status)
	assert.Equal(t, "internal error", rec.Error)
	assert.NotContains(t, rec.Error, "secret-path")
	assert.Nil(t, rec.Metadata)

	assert.Zero(t, up.uploadCount(), "upload must not run after a failed build")

	running := s.RunningJobs()
	require.Len(t, running, 1)
	assert.Equal(t, model.JobStatusFailed, running[0].Status)
}

func TestRunJob_RetentionFailureDoesNotFailJob(t *testing.T) {
	b := &fakeBuilder{}
	src := testSource("blog")
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{err: fmt.Errorf("listing failed")}, src)

	s.RunJob(src)

	history := s.History("", 0)
	require.Len(t, history, 1)
	assert.Equal(t, model.JobStatusSuccess, history[0].Status)
}

func TestRunJob_ConcurrentTriggerSkipped(t *testing.T) {
	block := make(chan struct{})
	b := &fakeBuilder{block: block}
	up := &fakeUploader{}
	src := testSource("api")
	s := testScheduler(t, b, up, &fakeEnforcer{}, src)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunJob(src)
	}()

	// Wait until the first trigger holds the running marker.
	require.Eventually(t, func() bool {
		jobs := s.RunningJobs()
		return len(jobs) == 1 && jobs[0].Status == model.JobStatusRunning
	}, time.Second, time.Millisecond)

	// Second trigger within the same second: performs zero pipeline work
	// and produces no JobRecord.
	s.RunJob(src)
	assert.Equal(t, 1, b.buildCalls())
	assert.Empty(t, s.History("", 0))

	close(block)
	wg.Wait()

	history := s.History("", 0)
	require.Len(t, history, 1)
	assert.Equal(t, model.JobStatusSuccess, history[0].Status)
}

func TestRunJob_DifferentSourcesRunConcurrently(t *testing.T) {
	block := make(chan struct{})
	b := &fakeBuilder{block: block}
	alpha, beta := testSource("alpha"), testSource("beta")
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{}, alpha, beta)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.RunJob(alpha) }()
	go func() { defer wg.Done(); s.RunJob(beta) }()

	// Both sources hold running markers at the same time: the guard is per
	// source, not global.
	require.Eventually(t, func() bool {
		return len(s.RunningJobs()) == 2
	}, time.Second, time.Millisecond)

	close(block)
	wg.Wait()
	assert.Len(t, s.History("", 0), 2)
}

func TestRunJob_NewTriggerReplacesCompletedMarker(t *testing.T) {
	b := &fakeBuilder{}
	src := testSource("blog")
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{}, src)
	s.grace = time.Hour // keep completed markers around

	s.RunJob(src)
	first := s.RunningJobs()
	require.Len(t, first, 1)

	time.Sleep(1100 * time.Millisecond) // distinct trigger epoch for the job id
	s.RunJob(src)

	second := s.RunningJobs()
	require.Len(t, second, 1, "at most one marker per source")
	assert.NotEqual(t, first[0].JobID, second[0].JobID)
	assert.Len(t, s.History("", 0), 2)
}

func TestHistory_CapEvictsOldest(t *testing.T) {
	b := &fakeBuilder{}
	src := testSource("blog")
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{}, src)
	s.cap = 5

	for i := 0; i < 8; i++ {
		s.RunJob(src)
	}

	history := s.History("", 0)
	require.Len(t, history, 5, "oldest records are evicted past the cap")
	// Newest first.
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].StartedAt.After(history[i-1].StartedAt))
	}
}

func TestHistory_FilterAndLimit(t *testing.T) {
	b := &fakeBuilder{}
	blog, api := testSource("blog"), testSource("api")
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{}, blog, api)

	s.RunJob(blog)
	s.RunJob(api)

	assert.Len(t, s.History("", 0), 2)
	blogOnly := s.History("blog", 0)
	require.Len(t, blogOnly, 1)
	assert.Equal(t, "blog", blogOnly[0].SourceID)

	limited := s.History("", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "api", limited[0].SourceID, "newest record first")
}

func TestStop_DrainsInFlightJobs(t *testing.T) {
	block := make(chan struct{})
	b := &fakeBuilder{block: block}
	src := testSource("blog")
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{}, src)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); s.RunJob(src) }()

	require.Eventually(t, func() bool {
		return len(s.RunningJobs()) == 1
	}, time.Second, time.Millisecond)

	// Stop times out while the job is stalled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Stop(ctx))

	// After the job finishes, the drain completes.
	close(block)
	wg.Wait()
	assert.NoError(t, s.Stop(context.Background()))
}

func TestStart_RegistersAllSources(t *testing.T) {
	b := &fakeBuilder{}
	s := testScheduler(t, b, &fakeUploader{}, &fakeEnforcer{}, testSource("blog"), testSource("api"))

	require.NoError(t, s.Start())
	defer s.cron.Stop()

	assert.Len(t, s.cron.Entries(), 2)
}
