package assessor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// In-memory queue that mirrors the claim/defer/complete/dead-letter protocol
// of the real store, minus durability.

type memQueue struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
	dead  map[string]domain.DeadLetterTask
	now   time.Time
}

func newMemQueue() *memQueue {
	return &memQueue{tasks: map[string]*domain.Task{}, dead: map[string]domain.DeadLetterTask{}, now: time.Now()}
}

func (q *memQueue) advance(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = q.now.Add(d)
}

func (q *memQueue) Enqueue(_ domain.Context, documentID, ownerID string, priority int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &domain.Task{
		ID:          uuid.New().String(),
		DocumentID:  documentID,
		OwnerID:     ownerID,
		Priority:    priority,
		Status:      domain.TaskPending,
		AvailableAt: q.now,
		CreatedAt:   q.now,
	}
	q.tasks[t.ID] = t
	return t.ID, nil
}

func (q *memQueue) ClaimNext(_ domain.Context, lease time.Duration, maxAttempts int) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		var best *domain.Task
		for _, t := range q.tasks {
			if t.AvailableAt.After(q.now) {
				continue
			}
			if best == nil || t.Priority > best.Priority ||
				(t.Priority == best.Priority && t.CreatedAt.Before(best.CreatedAt)) {
				best = t
			}
		}
		if best == nil {
			return domain.Task{}, domain.ErrNotFound
		}
		best.Attempts++
		best.Status = domain.TaskInProgress
		best.AvailableAt = q.now.Add(lease)
		if best.Attempts > maxAttempts {
			q.dead[best.ID] = domain.DeadLetterTask{Task: *best, Reason: "attempts exhausted", SidelinedAt: q.now}
			delete(q.tasks, best.ID)
			continue
		}
		return *best, nil
	}
}

func (q *memQueue) Complete(_ domain.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, taskID)
	return nil
}

func (q *memQueue) Defer(_ domain.Context, taskID string, delay time.Duration, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = domain.TaskRetrying
	t.AvailableAt = q.now.Add(delay)
	t.LastError = reason
	return nil
}

func (q *memQueue) DeadLetter(_ domain.Context, t domain.Task, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead[t.ID] = domain.DeadLetterTask{Task: t, Reason: reason, SidelinedAt: q.now}
	delete(q.tasks, t.ID)
	return nil
}

func (q *memQueue) ListDeadLetters(domain.Context, int) ([]domain.DeadLetterTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.DeadLetterTask
	for _, d := range q.dead {
		out = append(out, d)
	}
	return out, nil
}

func (q *memQueue) GetDeadLetter(_ domain.Context, taskID string) (domain.DeadLetterTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.dead[taskID]
	if !ok {
		return domain.DeadLetterTask{}, domain.ErrNotFound
	}
	return d, nil
}

func (q *memQueue) PruneDeadLetters(domain.Context, time.Time) (int64, error) { return 0, nil }

type memDocuments struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
}

func newMemDocuments() *memDocuments { return &memDocuments{docs: map[string]*domain.Document{}} }

func (m *memDocuments) add(d domain.Document) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	m.docs[d.ID] = &d
	return d.ID
}

func (m *memDocuments) Create(_ domain.Context, d domain.Document) (string, error) {
	return m.add(d), nil
}

func (m *memDocuments) Get(_ domain.Context, id, ownerID string) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.OwnerID != ownerID || d.IsDeleted {
		return domain.Document{}, domain.ErrNotFound
	}
	return *d, nil
}

func (m *memDocuments) UpdateStatus(_ domain.Context, id, ownerID string, status domain.DocumentStatus, upd domain.DocumentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.OwnerID != ownerID {
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
	return nil
}

func (m *memDocuments) UpdateCounts(_ domain.Context, id, ownerID string, wordCount, characterCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	d.WordCount = &wordCount
	d.CharacterCount = &characterCount
	return nil
}

func (m *memDocuments) SoftDelete(_ domain.Context, id, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.OwnerID != ownerID {
		return "", domain.ErrNotFound
	}
	d.IsDeleted = true
	return d.BlobPath, nil
}

func (m *memDocuments) UsageStats(domain.Context, string, time.Time, time.Time) (domain.UsageStats, error) {
	return domain.UsageStats{}, nil
}

func (m *memDocuments) AllTimeStats(domain.Context, string) (domain.UsageStats, error) {
	return domain.UsageStats{}, nil
}

type memResults struct {
	mu      sync.Mutex
	results map[string]*domain.Result
}

func newMemResults() *memResults { return &memResults{results: map[string]*domain.Result{}} }

func (m *memResults) Create(_ domain.Context, documentID, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.results[id] = &domain.Result{
		ID: id, DocumentID: documentID, OwnerID: ownerID, Status: domain.ResultPending,
	}
	return id, nil
}

func (m *memResults) GetByDocument(_ domain.Context, documentID, ownerID string) (domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.DocumentID == documentID && r.OwnerID == ownerID && !r.IsDeleted {
			return *r, nil
		}
	}
	return domain.Result{}, domain.ErrNotFound
}

func (m *memResults) Update(_ domain.Context, resultID, ownerID string, status domain.ResultStatus, upd domain.ResultUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[resultID]
	if !ok || r.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	if !r.Status.CanTransition(status) {
		return domain.TransitionError("result", r.Status, status)
	}
	r.Status = status
	if upd.ClearOutcome {
		r.Score, r.Label, r.AIGenerated, r.HumanGenerated, r.ErrorMessage = nil, nil, nil, nil, nil
		r.Paragraphs = nil
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
	return nil
}

func (m *memResults) SoftDeleteByDocument(_ domain.Context, documentID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.DocumentID == documentID && r.OwnerID == ownerID {
			r.IsDeleted = true
		}
	}
	return nil
}

type memQuota struct {
	mu        sync.Mutex
	plan      domain.Plan
	wordsUsed int64
	charsUsed int64
	limit     int64
	charLimit int64
	recorded  int
}

func (m *memQuota) Admit(_ domain.Context, _ string, wordCount, characterCount int) (domain.Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.plan == domain.PlanSchools {
		return domain.Admission{Allowed: true, Plan: m.plan}, nil
	}
	if m.limit > 0 && m.wordsUsed+int64(wordCount) > m.limit {
		return domain.Admission{Plan: m.plan, Reason: "monthly word limit exceeded"}, nil
	}
	if m.charLimit > 0 && m.charsUsed+int64(characterCount) > m.charLimit {
		return domain.Admission{Plan: m.plan, Reason: "monthly character limit exceeded"}, nil
	}
	return domain.Admission{Allowed: true, Plan: m.plan}, nil
}

func (m *memQuota) RecordUsage(_ domain.Context, _ string, wordCount, characterCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wordsUsed += int64(wordCount)
	m.charsUsed += int64(characterCount)
	m.recorded++
	return nil
}

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	fail  bool
}

func newMemBlobs() *memBlobs { return &memBlobs{blobs: map[string][]byte{}} }

func (m *memBlobs) Upload(_ domain.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = data
	return name, nil
}

func (m *memBlobs) Download(_ domain.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, domain.ErrBlobUnavailable
	}
	data, ok := m.blobs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (m *memBlobs) Delete(_ domain.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}

// stubExtractor returns its fixed text for extractable types.
type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) Extract(_ domain.Context, _ []byte, fileType domain.FileType) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if !fileType.Extractable() {
		return "", domain.ErrUnsupportedFileType
	}
	return s.text, nil
}

// scriptedDetector pops one response per call.
type scriptedDetector struct {
	mu        sync.Mutex
	responses []func() (domain.Detection, error)
	calls     int
}

func (d *scriptedDetector) Detect(domain.Context, string) (domain.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.responses) == 0 {
		return domain.Detection{}, domain.ErrDetectorUnavailable
	}
	fn := d.responses[0]
	d.responses = d.responses[1:]
	return fn()
}

func detectOK(ai, human bool, paragraphs ...domain.ParagraphResult) func() (domain.Detection, error) {
	return func() (domain.Detection, error) {
		return domain.Detection{AIGenerated: ai, HumanGenerated: human, Paragraphs: paragraphs}, nil
	}
}

func detectFail() func() (domain.Detection, error) {
	return func() (domain.Detection, error) {
		return domain.Detection{}, domain.ErrDetectorUnavailable
	}
}
