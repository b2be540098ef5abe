package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

type transitionCall struct {
	documentID string
	from       domain.DocumentStatus
	to         domain.DocumentStatus
	actor      string
	reason     string
}

type repoFake struct {
	mu          sync.Mutex
	docs        map[string]*domain.Document
	byRef       map[string]string
	history     map[string][]domain.StatusTransition
	transitions []transitionCall
	nextID      int

	createErr      error
	transitionErr  error
	fingerprintErr error
}

func newRepoFake(docs ...*domain.Document) *repoFake {
	f := &repoFake{
		docs:    make(map[string]*domain.Document),
		byRef:   make(map[string]string),
		history: make(map[string][]domain.StatusTransition),
	}
	for _, doc := range docs {
		f.docs[doc.ID] = doc
		if doc.ExternalRef != "" {
			f.byRef[doc.ExternalRef] = doc.ID
		}
	}
	return f
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	if doc.ExternalRef != "" {
		f.byRef[doc.ExternalRef] = doc.ID
	}
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) GetByExternalRef(_ context.Context, ref string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byRef[ref]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get by external ref", fmt.Errorf("ref %s", ref))
	}
	copyDoc := *f.docs[id]
	return &copyDoc, nil
}

func (f *repoFake) Transition(_ context.Context, id string, from, to domain.DocumentStatus, actor, reason string, meta map[string]string) (*domain.StatusTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "transition", fmt.Errorf("document %s", id))
	}
	if !domain.CanTransition(from, to) {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "transition", fmt.Errorf("%s -> %s", from, to))
	}
	if doc.Status != from {
		return nil, domain.WrapError(domain.ErrStaleState, "transition",
			fmt.Errorf("document %s is %s, expected %s", id, doc.Status, from))
	}
	doc.Status = to
	if to == domain.StatusFailed {
		doc.FailReason = reason
	}

	f.nextID++
	tr := domain.StatusTransition{
		ID:         int64(f.nextID),
		DocumentID: id,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Reason:     reason,
		Meta:       meta,
	}
	f.history[id] = append(f.history[id], tr)
	f.transitions = append(f.transitions, transitionCall{documentID: id, from: from, to: to, actor: actor, reason: reason})
	return &tr, nil
}

func (f *repoFake) History(_ context.Context, id string) ([]domain.StatusTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StatusTransition, len(f.history[id]))
	copy(out, f.history[id])
	return out, nil
}

func (f *repoFake) List(_ context.Context, filter domain.WorklistFilter, _ domain.WorklistSort, page domain.WorklistPage) ([]domain.Document, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, doc := range f.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if len(out) > page.PerPage && page.PerPage > 0 {
		out = out[:page.PerPage]
	}
	return out, total, nil
}

func (f *repoFake) UpdateFingerprint(_ context.Context, id, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fingerprintErr != nil {
		return f.fingerprintErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update fingerprint", fmt.Errorf("document %s", id))
	}
	doc.Fingerprint = fingerprint
	return nil
}

func (f *repoFake) SetPublishResult(_ context.Context, id, provider, taskID, postRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "set publish result", fmt.Errorf("document %s", id))
	}
	doc.Provider = provider
	doc.LastTaskID = taskID
	doc.PostRef = postRef
	return nil
}

func (f *repoFake) SetContentRef(_ context.Context, id, contentRef, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "set content ref", fmt.Errorf("document %s", id))
	}
	doc.ContentRef = contentRef
	doc.Title = title
	return nil
}

type taskRepoFake struct {
	mu    sync.Mutex
	tasks map[string]*domain.PublishTask
	steps []domain.TaskStep

	createErr error
	active    bool
}

func newTaskRepoFake() *taskRepoFake {
	return &taskRepoFake{tasks: make(map[string]*domain.PublishTask)}
}

func (f *taskRepoFake) CreateActive(_ context.Context, task *domain.PublishTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.active {
		return domain.WrapError(domain.ErrConflict, "create task", fmt.Errorf("active task exists for %s", task.DocumentID))
	}
	f.active = true
	copyTask := *task
	f.tasks[task.ID] = &copyTask
	return nil
}

func (f *taskRepoFake) MarkRunning(_ context.Context, taskID, provider string, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "mark running", fmt.Errorf("task %s", taskID))
	}
	task.Status = domain.TaskRunning
	task.Provider = provider
	task.Attempt = attempt
	return nil
}

func (f *taskRepoFake) AppendStep(_ context.Context, _ string, step domain.TaskStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, step)
	return nil
}

func (f *taskRepoFake) Close(_ context.Context, taskID string, status domain.TaskStatus, errDetail, postRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "close task", fmt.Errorf("task %s", taskID))
	}
	task.Status = status
	task.ErrorDetail = errDetail
	task.PostRef = postRef
	f.active = false
	return nil
}

func (f *taskRepoFake) GetByID(_ context.Context, taskID string) (*domain.PublishTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get task", fmt.Errorf("task %s", taskID))
	}
	copyTask := *task
	return &copyTask, nil
}

func (f *taskRepoFake) LatestForDocument(_ context.Context, documentID string) (*domain.PublishTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.DocumentID == documentID {
			copyTask := *task
			return &copyTask, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "latest task", fmt.Errorf("document %s", documentID))
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte

	saveErr error
	openErr error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	raw, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open object", fmt.Errorf("key %s", key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type publishRequest struct {
	documentID string
	provider   string
}

type queueFake struct {
	mu        sync.Mutex
	imports   []string
	publishes []publishRequest
	cancels   []string
	events    []domain.ChangeEvent

	enqueueImportErr  error
	enqueuePublishErr error
	broadcastErr      error
}

func (f *queueFake) EnqueueImport(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueImportErr != nil {
		return f.enqueueImportErr
	}
	f.imports = append(f.imports, documentID)
	return nil
}

func (f *queueFake) ConsumeImports(context.Context, func(context.Context, string) error) error {
	return nil
}

func (f *queueFake) EnqueuePublish(_ context.Context, documentID, providerName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueuePublishErr != nil {
		return f.enqueuePublishErr
	}
	f.publishes = append(f.publishes, publishRequest{documentID: documentID, provider: providerName})
	return nil
}

func (f *queueFake) ConsumePublishes(context.Context, func(context.Context, string, string) error) error {
	return nil
}

func (f *queueFake) SignalCancel(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, documentID)
	return nil
}

func (f *queueFake) SubscribeCancels(context.Context, func(context.Context, string)) (func(), error) {
	return func() {}, nil
}

func (f *queueFake) BroadcastEvent(_ context.Context, event domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *queueFake) SubscribeEvents(context.Context, func(context.Context, domain.ChangeEvent)) (func(), error) {
	return func() {}, nil
}

func (f *queueFake) importCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.imports)
}

type folderFake struct {
	items   []ports.FolderItem
	listErr error
	files   map[string][]byte
}

func (f *folderFake) List(context.Context) ([]ports.FolderItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *folderFake) Fetch(_ context.Context, itemID string) (io.ReadCloser, error) {
	raw, ok := f.files[itemID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "fetch item", fmt.Errorf("item %s", itemID))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

// parserFake returns its scripted results in order; the last entry repeats.
type parserFake struct {
	results []parserResult
	calls   int
}

type parserResult struct {
	content domain.ParsedContent
	err     error
}

func (f *parserFake) Parse(context.Context, []byte, string) (domain.ParsedContent, error) {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	r := f.results[idx]
	return r.content, r.err
}

type eventsFake struct {
	events  []domain.ChangeEvent
	listErr error
}

func (f *eventsFake) ListSince(_ context.Context, cursor int64, limit int) ([]domain.ChangeEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.ChangeEvent
	for _, event := range f.events {
		if event.Seq > cursor {
			out = append(out, event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type dispatcherFake struct {
	submitted []string
	ran       []string
	cancelled []string
	cancelErr error
}

func (f *dispatcherFake) Submit(_ context.Context, documentID, _ string) (*domain.PublishTask, error) {
	f.submitted = append(f.submitted, documentID)
	return &domain.PublishTask{ID: "task-" + documentID, DocumentID: documentID, Status: domain.TaskQueued}, nil
}

func (f *dispatcherFake) Run(_ context.Context, documentID, _ string) error {
	f.ran = append(f.ran, documentID)
	return nil
}

func (f *dispatcherFake) Cancel(_ context.Context, documentID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, documentID)
	return nil
}

// providerFake emits its scripted step events on each Publish call, consuming
// one script per call; the last script repeats.
type providerFake struct {
	name       string
	scripts    [][]ports.StepEvent
	publishErr error
	calls      int
}

func (f *providerFake) Name() string { return f.name }

func (f *providerFake) Publish(ctx context.Context, _ domain.ParsedContent, _ ports.PublishTarget) (<-chan ports.StepEvent, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	idx := f.calls
	if idx >= len(f.scripts) {
		idx = len(f.scripts) - 1
	}
	f.calls++
	script := f.scripts[idx]

	events := make(chan ports.StepEvent)
	go func() {
		defer close(events)
		for _, event := range script {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

type selectorFake struct {
	bindings []ProviderBinding
	err      error
}

func (f *selectorFake) Chain(explicit string) ([]ProviderBinding, error) {
	if f.err != nil {
		return nil, f.err
	}
	if explicit == "" {
		return f.bindings, nil
	}
	for _, b := range f.bindings {
		if b.Provider.Name() == explicit {
			return []ProviderBinding{b}, nil
		}
	}
	return nil, fmt.Errorf("unknown provider %q", explicit)
}
