package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// In-memory fakes for the repository ports. They enforce the same transition
// tables as the real repos so tests exercise the rejection paths.

type fakeDocuments struct {
	mu   sync.Mutex
	docs map[string]*domain.Document

	failUpdateStatus bool
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: map[string]*domain.Document{}}
}

func (f *fakeDocuments) Create(_ domain.Context, d domain.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = domain.DocumentUploaded
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	f.docs[d.ID] = &d
	return d.ID, nil
}

func (f *fakeDocuments) Get(_ domain.Context, id, ownerID string) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.OwnerID != ownerID || d.IsDeleted {
		return domain.Document{}, domain.ErrNotFound
	}
	return *d, nil
}

func (f *fakeDocuments) UpdateStatus(_ domain.Context, id, ownerID string, status domain.DocumentStatus, upd domain.DocumentUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdateStatus {
		return domain.ErrInternal
	}
	d, ok := f.docs[id]
	if !ok || d.OwnerID != ownerID || d.IsDeleted {
		return domain.ErrNotFound
	}
	if !d.Status.CanTransition(status) {
		return domain.TransitionError("document", d.Status, status)
	}
	d.Status = status
	if status == domain.DocumentQueued {
		d.Score = nil
	}
	if upd.Score != nil {
		d.Score = upd.Score
	}
	if upd.WordCount != nil {
		d.WordCount = upd.WordCount
	}
	if upd.CharacterCount != nil {
		d.CharacterCount = upd.CharacterCount
	}
	d.UpdatedAt = time.Now()
	return nil
}

func (f *fakeDocuments) UpdateCounts(_ domain.Context, id, ownerID string, wordCount, characterCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	d.WordCount = &wordCount
	d.CharacterCount = &characterCount
	return nil
}

func (f *fakeDocuments) SoftDelete(_ domain.Context, id, ownerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.OwnerID != ownerID || d.IsDeleted {
		return "", domain.ErrNotFound
	}
	d.IsDeleted = true
	d.Status = domain.DocumentDeleted
	return d.BlobPath, nil
}

func (f *fakeDocuments) UsageStats(_ domain.Context, ownerID string, from, to time.Time) (domain.UsageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s domain.UsageStats
	for _, d := range f.docs {
		if d.OwnerID != ownerID || d.IsDeleted {
			continue
		}
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		s.DocumentCount++
		if d.WordCount != nil {
			s.TotalWords += int64(*d.WordCount)
		}
		if d.CharacterCount != nil {
			s.TotalCharacters += int64(*d.CharacterCount)
		}
	}
	return s, nil
}

func (f *fakeDocuments) AllTimeStats(_ domain.Context, ownerID string) (domain.UsageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s domain.UsageStats
	for _, d := range f.docs {
		if d.OwnerID != ownerID {
			continue
		}
		if d.IsDeleted {
			s.DeletedDocuments++
			continue
		}
		s.DocumentCount++
		if d.WordCount != nil {
			s.TotalWords += int64(*d.WordCount)
			s.TotalProcessedDocuments++
		}
		if d.CharacterCount != nil {
			s.TotalCharacters += int64(*d.CharacterCount)
		}
	}
	s.CurrentDocuments = s.DocumentCount
	return s, nil
}

type fakeResults struct {
	mu      sync.Mutex
	results map[string]*domain.Result // keyed by result id
}

func newFakeResults() *fakeResults {
	return &fakeResults{results: map[string]*domain.Result{}}
}

func (f *fakeResults) Create(_ domain.Context, documentID, ownerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New().String()
	f.results[id] = &domain.Result{
		ID:              id,
		DocumentID:      documentID,
		OwnerID:         ownerID,
		Status:          domain.ResultPending,
		ResultTimestamp: time.Now(),
	}
	return id, nil
}

func (f *fakeResults) GetByDocument(_ domain.Context, documentID, ownerID string) (domain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.results {
		if r.DocumentID == documentID && r.OwnerID == ownerID && !r.IsDeleted {
			return *r, nil
		}
	}
	return domain.Result{}, domain.ErrNotFound
}

func (f *fakeResults) Update(_ domain.Context, resultID, ownerID string, status domain.ResultStatus, upd domain.ResultUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[resultID]
	if !ok || r.OwnerID != ownerID || r.IsDeleted {
		return domain.ErrNotFound
	}
	if !r.Status.CanTransition(status) {
		return domain.TransitionError("result", r.Status, status)
	}
	r.Status = status
	if upd.ClearOutcome {
		r.Score = nil
		r.Label = nil
		r.AIGenerated = nil
		r.HumanGenerated = nil
		r.Paragraphs = nil
		r.ErrorMessage = nil
	}
	if upd.Score != nil {
		r.Score = upd.Score
	}
	if upd.Label != nil {
		r.Label = upd.Label
	}
	if upd.AIGenerated != nil {
		r.AIGenerated = upd.AIGenerated
	}
	if upd.HumanGenerated != nil {
		r.HumanGenerated = upd.HumanGenerated
	}
	if upd.Paragraphs != nil {
		r.Paragraphs = upd.Paragraphs
	}
	if upd.ErrorMessage != nil {
		r.ErrorMessage = upd.ErrorMessage
	}
	r.ResultTimestamp = time.Now()
	return nil
}

func (f *fakeResults) SoftDeleteByDocument(_ domain.Context, documentID, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.results {
		if r.DocumentID == documentID && r.OwnerID == ownerID {
			r.IsDeleted = true
			r.Status = domain.ResultDeleted
		}
	}
	return nil
}

type fakeTasks struct {
	mu       sync.Mutex
	enqueued []domain.Task
	dead     map[string]domain.DeadLetterTask

	failEnqueue bool
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{dead: map[string]domain.DeadLetterTask{}}
}

func (f *fakeTasks) Enqueue(_ domain.Context, documentID, ownerID string, priority int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnqueue {
		return "", domain.ErrInternal
	}
	t := domain.Task{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		OwnerID:    ownerID,
		Priority:   priority,
		Status:     domain.TaskPending,
		CreatedAt:  time.Now(),
	}
	f.enqueued = append(f.enqueued, t)
	return t.ID, nil
}

func (f *fakeTasks) ClaimNext(domain.Context, time.Duration, int) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}

func (f *fakeTasks) Complete(domain.Context, string) error { return nil }

func (f *fakeTasks) Defer(domain.Context, string, time.Duration, string) error { return nil }

func (f *fakeTasks) DeadLetter(_ domain.Context, t domain.Task, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[t.ID] = domain.DeadLetterTask{Task: t, Reason: reason, SidelinedAt: time.Now()}
	return nil
}

func (f *fakeTasks) ListDeadLetters(domain.Context, int) ([]domain.DeadLetterTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DeadLetterTask
	for _, d := range f.dead {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeTasks) GetDeadLetter(_ domain.Context, taskID string) (domain.DeadLetterTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dead[taskID]
	if !ok {
		return domain.DeadLetterTask{}, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeTasks) PruneDeadLetters(domain.Context, time.Time) (int64, error) { return 0, nil }

type fakeBatches struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
	counts  map[string]domain.BatchDocumentCounts
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{batches: map[string]*domain.Batch{}, counts: map[string]domain.BatchDocumentCounts{}}
}

func (f *fakeBatches) Create(_ domain.Context, b domain.Batch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = time.Now()
	f.batches[b.ID] = &b
	return b.ID, nil
}

func (f *fakeBatches) Get(_ domain.Context, id, ownerID string) (domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok || b.OwnerID != ownerID {
		return domain.Batch{}, domain.ErrNotFound
	}
	return *b, nil
}

func (f *fakeBatches) ListActive(domain.Context, int) ([]domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Batch
	for _, b := range f.batches {
		for _, s := range domain.ActiveBatchStatuses {
			if b.Status == s {
				out = append(out, *b)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeBatches) CountDocuments(_ domain.Context, batchID string) (domain.BatchDocumentCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[batchID], nil
}

func (f *fakeBatches) UpdateRollup(_ domain.Context, id string, completed, failed int, status domain.BatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.CompletedFiles = completed
	b.FailedFiles = failed
	b.Status = status
	return nil
}

type fakeTeachers struct {
	mu    sync.Mutex
	usage map[string]*domain.TeacherUsage
}

func newFakeTeachers() *fakeTeachers {
	return &fakeTeachers{usage: map[string]*domain.TeacherUsage{}}
}

func (f *fakeTeachers) EnsureTeacher(_ domain.Context, ownerID string, plan domain.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.usage[ownerID]; !ok {
		f.usage[ownerID] = &domain.TeacherUsage{OwnerID: ownerID, Plan: plan, CycleAnchor: currentMonthStart()}
	}
	return nil
}

func (f *fakeTeachers) GetUsage(_ domain.Context, ownerID string) (domain.TeacherUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.usage[ownerID]
	if !ok {
		return domain.TeacherUsage{}, domain.ErrNotFound
	}
	return *u, nil
}

func (f *fakeTeachers) ResetCycle(_ domain.Context, ownerID string, anchor time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.usage[ownerID]
	if !ok {
		return domain.ErrNotFound
	}
	u.WordsUsed = 0
	u.CharactersUsed = 0
	u.DocumentsProcessed = 0
	u.CycleAnchor = anchor
	return nil
}

func (f *fakeTeachers) RecordUsage(_ domain.Context, ownerID string, words, characters, documents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.usage[ownerID]
	if !ok {
		return domain.ErrNotFound
	}
	u.WordsUsed += words
	u.CharactersUsed += characters
	u.DocumentsProcessed += documents
	return nil
}

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte

	failDownload bool
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{blobs: map[string][]byte{}} }

func (f *fakeBlobs) Upload(_ domain.Context, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := fmt.Sprintf("blob-%d-%s", len(f.blobs), name)
	f.blobs[path] = data
	return path, nil
}

func (f *fakeBlobs) Download(_ domain.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDownload {
		return nil, domain.ErrBlobUnavailable
	}
	data, ok := f.blobs[path]
	if !ok {
		return nil, domain.ErrBlobUnavailable
	}
	return data, nil
}

func (f *fakeBlobs) Delete(_ domain.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, path)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.DocumentEvent
}

func (f *fakeEvents) PublishDocumentStatus(_ domain.Context, ev domain.DocumentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}
