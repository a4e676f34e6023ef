package repository

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/navgate/internal/objectstore"
)

type putCall struct {
	key         string
	body        string
	contentType string
}

type mockObjectStore struct {
	objects   map[string][]byte
	getErr    error
	putErrFor map[string]error
	puts      []putCall
	calls     []string
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: map[string][]byte{}, putErrFor: map[string]error{}}
}

func (m *mockObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.calls = append(m.calls, "get:"+key)
	if m.getErr != nil {
		return nil, m.getErr
	}
	body, ok := m.objects[key]
	if !ok {
		return nil, &objectstore.StatusError{Op: "GetObject", Key: key, StatusCode: 404}
	}
	return body, nil
}

func (m *mockObjectStore) GetPublicObject(ctx context.Context, key string) ([]byte, error) {
	m.calls = append(m.calls, "public:"+key)
	body, ok := m.objects[key]
	if !ok {
		return nil, &objectstore.StatusError{Op: "GetPublicObject", Key: key, StatusCode: 404}
	}
	return body, nil
}

func (m *mockObjectStore) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	m.calls = append(m.calls, "put:"+key)
	if err := m.putErrFor[key]; err != nil {
		return err
	}
	if strings.HasPrefix(key, BackupPrefix) {
		if err := m.putErrFor[BackupPrefix]; err != nil {
			return err
		}
	}
	m.puts = append(m.puts, putCall{key: key, body: string(body), contentType: contentType})
	m.objects[key] = body
	return nil
}

type mockPruner struct {
	err   error
	calls int
	store *mockObjectStore
}

func (p *mockPruner) Run(ctx context.Context) error {
	p.calls++
	if p.store != nil {
		p.store.calls = append(p.store.calls, "prune")
	}
	return p.err
}

type mockRecorder struct {
	writes   []string
	failures []string
}

func (r *mockRecorder) RecordConfigWrite(result string)   { r.writes = append(r.writes, result) }
func (r *mockRecorder) RecordBestEffortFailure(op string) { r.failures = append(r.failures, op) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestRepo(store *mockObjectStore, pruner BackupPruner, logger *slog.Logger, rec WriteRecorder) *R2ConfigRepo {
	repo := NewR2ConfigRepo(store, pruner, logger, rec)
	repo.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 123000000, time.UTC) }
	return repo
}

func TestBackupKey(t *testing.T) {
	got := BackupKey(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	want := "config.backup.2024-05-01T09-30-00-000Z.yml"
	if got != want {
		t.Errorf("BackupKey() = %q, want %q", got, want)
	}
}

func TestBackupKey_SortsChronologically(t *testing.T) {
	earlier := BackupKey(time.Date(2024, 5, 1, 9, 30, 0, 999000000, time.UTC))
	later := BackupKey(time.Date(2024, 5, 1, 9, 30, 1, 0, time.UTC))
	if !(earlier < later) {
		t.Errorf("expected %q < %q", earlier, later)
	}
}

func TestR2ConfigRepo_Read(t *testing.T) {
	store := newMockObjectStore()
	store.objects[ConfigKey] = []byte("title: test\n")
	repo := newTestRepo(store, nil, discardLogger(), nil)

	got, err := repo.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "title: test\n" {
		t.Errorf("Read() = %q, want %q", got, "title: test\n")
	}
	if store.calls[0] != "public:"+ConfigKey {
		t.Errorf("expected public read, got %v", store.calls)
	}
}

func TestR2ConfigRepo_Read_Error(t *testing.T) {
	repo := newTestRepo(newMockObjectStore(), nil, discardLogger(), nil)

	_, err := repo.Read(context.Background())
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !objectstore.IsNotFound(err) {
		t.Errorf("expected wrapped not-found error, got %v", err)
	}
}

func TestR2ConfigRepo_Write_BacksUpThenSavesThenPrunes(t *testing.T) {
	store := newMockObjectStore()
	store.objects[ConfigKey] = []byte("old: 1\n")
	pruner := &mockPruner{store: store}
	rec := &mockRecorder{}
	repo := newTestRepo(store, pruner, discardLogger(), rec)

	if err := repo.Write(context.Background(), "new: 2\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	backupKey := "config.backup.2024-05-01T09-30-00-123Z.yml"
	wantCalls := []string{"get:" + ConfigKey, "put:" + backupKey, "put:" + ConfigKey, "prune"}
	if strings.Join(store.calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("calls = %v, want %v", store.calls, wantCalls)
	}

	if string(store.objects[backupKey]) != "old: 1\n" {
		t.Errorf("backup content = %q, want %q", store.objects[backupKey], "old: 1\n")
	}
	if string(store.objects[ConfigKey]) != "new: 2\n" {
		t.Errorf("config content = %q, want %q", store.objects[ConfigKey], "new: 2\n")
	}
	for _, p := range store.puts {
		if p.contentType != "text/yaml" {
			t.Errorf("content type for %s = %q, want text/yaml", p.key, p.contentType)
		}
	}
	if len(rec.writes) != 1 || rec.writes[0] != "success" {
		t.Errorf("recorded writes = %v, want [success]", rec.writes)
	}
}

func TestR2ConfigRepo_Write_FirstWriteSkipsBackup(t *testing.T) {
	store := newMockObjectStore()
	pruner := &mockPruner{}
	repo := newTestRepo(store, pruner, discardLogger(), &mockRecorder{})

	if err := repo.Write(context.Background(), "a: 1\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.puts) != 1 || store.puts[0].key != ConfigKey {
		t.Errorf("puts = %+v, want only %s", store.puts, ConfigKey)
	}
	if pruner.calls != 1 {
		t.Errorf("pruner calls = %d, want 1", pruner.calls)
	}
}

func TestR2ConfigRepo_Write_BackupFailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	store := newMockObjectStore()
	store.objects[ConfigKey] = []byte("old: 1\n")
	store.putErrFor[BackupPrefix] = errors.New("status 500")
	rec := &mockRecorder{}
	repo := newTestRepo(store, &mockPruner{}, slog.New(slog.NewJSONHandler(&buf, nil)), rec)

	if err := repo.Write(context.Background(), "new: 2\n"); err != nil {
		t.Fatalf("backup failure must not fail the write: %v", err)
	}
	if string(store.objects[ConfigKey]) != "new: 2\n" {
		t.Errorf("config not saved: %q", store.objects[ConfigKey])
	}
	if len(rec.failures) != 1 || rec.failures[0] != "create_backup" {
		t.Errorf("recorded failures = %v, want [create_backup]", rec.failures)
	}
	if !strings.Contains(buf.String(), "non-critical operation failed") {
		t.Errorf("expected failure log, got %s", buf.String())
	}
}

func TestR2ConfigRepo_Write_BackupReadFailureIsSwallowed(t *testing.T) {
	store := newMockObjectStore()
	store.getErr = errors.New("connection reset")
	repo := newTestRepo(store, &mockPruner{}, discardLogger(), &mockRecorder{})

	if err := repo.Write(context.Background(), "new: 2\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(store.objects[ConfigKey]) != "new: 2\n" {
		t.Errorf("config not saved: %q", store.objects[ConfigKey])
	}
}

func TestR2ConfigRepo_Write_SaveFailureIsReturned(t *testing.T) {
	store := newMockObjectStore()
	saveErr := errors.New("status 403")
	store.putErrFor[ConfigKey] = saveErr
	pruner := &mockPruner{}
	rec := &mockRecorder{}
	repo := newTestRepo(store, pruner, discardLogger(), rec)

	err := repo.Write(context.Background(), "new: 2\n")
	if err == nil {
		t.Fatal("expected error when save fails")
	}
	if !errors.Is(err, saveErr) {
		t.Errorf("expected wrapped save error, got %v", err)
	}
	if pruner.calls != 0 {
		t.Errorf("pruner must not run after failed save, calls = %d", pruner.calls)
	}
	if len(rec.writes) != 1 || rec.writes[0] != "failure" {
		t.Errorf("recorded writes = %v, want [failure]", rec.writes)
	}
}

func TestR2ConfigRepo_Write_PruneFailureIsSwallowed(t *testing.T) {
	store := newMockObjectStore()
	rec := &mockRecorder{}
	repo := newTestRepo(store, &mockPruner{err: errors.New("list failed")}, discardLogger(), rec)

	if err := repo.Write(context.Background(), "a: 1\n"); err != nil {
		t.Fatalf("prune failure must not fail the write: %v", err)
	}
	if len(rec.failures) != 1 || rec.failures[0] != "prune_backups" {
		t.Errorf("recorded failures = %v, want [prune_backups]", rec.failures)
	}
}

func TestR2ConfigRepo_Write_NilPrunerAndRecorder(t *testing.T) {
	store := newMockObjectStore()
	repo := NewR2ConfigRepo(store, nil, discardLogger(), nil)

	if err := repo.Write(context.Background(), "a: 1\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// blockingStore は解放されるまで公開GETをブロックするストア。
type blockingStore struct {
	mockObjectStore
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	gets    int
}

func (b *blockingStore) GetPublicObject(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	b.gets++
	first := b.gets == 1
	b.mu.Unlock()
	if first {
		close(b.entered)
	}
	<-b.release
	return []byte("title: shared\n"), nil
}

func TestR2ConfigRepo_Read_CoalescesConcurrentReads(t *testing.T) {
	store := &blockingStore{
		mockObjectStore: *newMockObjectStore(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	repo := NewR2ConfigRepo(store, nil, discardLogger(), nil)

	const readers = 5
	results := make(chan string, readers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		got, _ := repo.Read(context.Background())
		results <- got
	}()
	<-store.entered

	for i := 1; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _ := repo.Read(context.Background())
			results <- got
		}()
	}
	// 後続の読み込みが実行中の取得に合流するのを待つ
	time.Sleep(100 * time.Millisecond)
	close(store.release)
	wg.Wait()
	close(results)

	for got := range results {
		if got != "title: shared\n" {
			t.Errorf("Read() = %q, want %q", got, "title: shared\n")
		}
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.gets != 1 {
		t.Errorf("public GET calls = %d, want 1", store.gets)
	}
}

// snapshotStore は公開GETの開始時点の内容を返すストア。
// 最初の公開GETだけは解放されるまでブロックする。
type snapshotStore struct {
	mu      sync.Mutex
	content string
	gets    int
	entered chan struct{}
	release chan struct{}
}

func newSnapshotStore(content string) *snapshotStore {
	return &snapshotStore{content: content, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *snapshotStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []byte(s.content), nil
}

func (s *snapshotStore) GetPublicObject(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	first := s.gets == 1
	snapshot := s.content
	s.mu.Unlock()

	if first {
		close(s.entered)
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(snapshot), nil
}

func (s *snapshotStore) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == ConfigKey {
		s.content = string(body)
	}
	return nil
}

func TestR2ConfigRepo_Read_AfterWriteDoesNotJoinStaleRead(t *testing.T) {
	store := newSnapshotStore("v0\n")
	repo := NewR2ConfigRepo(store, nil, discardLogger(), nil)

	stale := make(chan string, 1)
	go func() {
		got, _ := repo.Read(context.Background())
		stale <- got
	}()
	<-store.entered

	if err := repo.Write(context.Background(), "v1\n"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := repo.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if got != "v1\n" {
		t.Errorf("Read() after write = %q, want %q", got, "v1\n")
	}

	fresh, err := repo.ReadFresh(context.Background())
	if err != nil {
		t.Fatalf("ReadFresh() error: %v", err)
	}
	if fresh != "v1\n" {
		t.Errorf("ReadFresh() = %q, want %q", fresh, "v1\n")
	}

	close(store.release)
	if got := <-stale; got != "v0\n" {
		t.Errorf("in-flight Read() = %q, want %q", got, "v0\n")
	}
}

func TestR2ConfigRepo_Read_CancelOnlyAffectsCaller(t *testing.T) {
	store := newSnapshotStore("title: shared\n")
	repo := NewR2ConfigRepo(store, nil, discardLogger(), nil)

	ctxC, cancelC := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() {
		_, err := repo.Read(ctxC)
		errC <- err
	}()
	<-store.entered

	type result struct {
		content string
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		got, err := repo.Read(context.Background())
		resB <- result{got, err}
	}()
	// Bが実行中の取得に合流するのを待つ
	time.Sleep(100 * time.Millisecond)

	cancelC()
	if err := <-errC; !errors.Is(err, context.Canceled) {
		t.Errorf("canceled caller error = %v, want context.Canceled", err)
	}

	close(store.release)
	b := <-resB
	if b.err != nil {
		t.Fatalf("other caller error: %v", b.err)
	}
	if b.content != "title: shared\n" {
		t.Errorf("other caller Read() = %q, want %q", b.content, "title: shared\n")
	}
}
