package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

type reprocessFixture struct {
	documents *fakeDocuments
	results   *fakeResults
	tasks     *fakeTasks
	events    *fakeEvents
	svc       *ReprocessService
}

func newReprocessFixture() *reprocessFixture {
	f := &reprocessFixture{
		documents: newFakeDocuments(),
		results:   newFakeResults(),
		tasks:     newFakeTasks(),
		events:    &fakeEvents{},
	}
	f.svc = NewReprocessService(f.documents, f.results, f.tasks, f.events)
	return f
}

func (f *reprocessFixture) seedCompleted(t *testing.T) string {
	t.Helper()
	score := 1.0
	label := domain.LabelAIGenerated
	docID, err := f.documents.Create(context.Background(), domain.Document{
		OwnerID:  "t1",
		Status:   domain.DocumentCompleted,
		Score:    &score,
		FileType: domain.FileTypePDF,
		Priority: 2,
	})
	require.NoError(t, err)
	resID, err := f.results.Create(context.Background(), docID, "t1")
	require.NoError(t, err)
	res := f.results.results[resID]
	res.Status = domain.ResultCompleted
	res.Score = &score
	res.Label = &label
	res.Paragraphs = []domain.ParagraphResult{{Text: "p1", Label: label, Probability: 0.9}}
	return docID
}

func TestReprocessFromCompleted(t *testing.T) {
	f := newReprocessFixture()
	docID := f.seedCompleted(t)

	require.NoError(t, f.svc.Reprocess(context.Background(), docID, "t1"))

	doc, err := f.documents.Get(context.Background(), docID, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentQueued, doc.Status)
	assert.Nil(t, doc.Score)

	res, err := f.results.GetByDocument(context.Background(), docID, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResultPending, res.Status)
	assert.Nil(t, res.Score)
	assert.Nil(t, res.Label)
	assert.Empty(t, res.Paragraphs)

	require.Len(t, f.tasks.enqueued, 1)
	assert.Equal(t, docID, f.tasks.enqueued[0].DocumentID)
	assert.Equal(t, 2, f.tasks.enqueued[0].Priority)
}

func TestResetMarksErrorWithoutEnqueue(t *testing.T) {
	f := newReprocessFixture()
	docID, err := f.documents.Create(context.Background(), domain.Document{
		OwnerID: "t1",
		Status:  domain.DocumentProcessing,
	})
	require.NoError(t, err)
	_, err = f.results.Create(context.Background(), docID, "t1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset(context.Background(), docID, "t1"))

	doc, err := f.documents.Get(context.Background(), docID, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentError, doc.Status)

	res, err := f.results.GetByDocument(context.Background(), docID, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFailed, res.Status)
	require.NotNil(t, res.Label)
	assert.Equal(t, domain.LabelError, *res.Label)
	assert.Empty(t, f.tasks.enqueued, "reset must not enqueue new work")
}

func TestRequeueDeadLetter(t *testing.T) {
	f := newReprocessFixture()
	docID := f.seedCompleted(t)

	doc := f.documents.docs[docID]
	doc.Status = domain.DocumentError

	dead := domain.Task{ID: "task-dead", DocumentID: docID, OwnerID: "t1", Attempts: 6}
	require.NoError(t, f.tasks.DeadLetter(context.Background(), dead, "attempts exhausted"))

	require.NoError(t, f.svc.RequeueDeadLetter(context.Background(), "task-dead"))

	got, err := f.documents.Get(context.Background(), docID, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentQueued, got.Status)

	require.Len(t, f.tasks.enqueued, 1)
	assert.Equal(t, 0, f.tasks.enqueued[0].Attempts, "revived tasks start from zero attempts")
}

func TestRequeueDeadLetterUnknownTask(t *testing.T) {
	f := newReprocessFixture()
	err := f.svc.RequeueDeadLetter(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
