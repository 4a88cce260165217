package inplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/inplacehq/inplace/internal/auth"
	"github.com/inplacehq/inplace/internal/config"
	"github.com/inplacehq/inplace/internal/dom"
	"github.com/inplacehq/inplace/internal/model"
	"github.com/inplacehq/inplace/internal/remote"
	"github.com/inplacehq/inplace/internal/storage"
	"github.com/inplacehq/inplace/internal/template"
)

const pageMarkup = `<html><body>
<h1 data-inplace-id="title">Hello</h1>
<p data-inplace-group="footer" data-inplace-field="note">First note</p>
<p data-inplace-group="footer" data-inplace-field="note">First note</p>
<ul>
<li data-inplace-template="faq" data-inplace-instance="aaaa1111">
<span data-inplace-template="faq" data-inplace-instance="aaaa1111" data-inplace-field="q">Question one</span>
</li>
<li data-inplace-template="faq" data-inplace-instance="bbbb2222">
<span data-inplace-template="faq" data-inplace-instance="bbbb2222" data-inplace-field="q">Question two</span>
</li>
</ul>
</body></html>`

// contentAPI is a minimal stand-in for the remote store, with per-method
// status overrides so save failures can be scripted.
type contentAPI struct {
	putStatus    int
	listStatus   int
	deleteStatus int
	saved        map[string]string
	deleted      []string
}

func newContentAPI() *contentAPI {
	return &contentAPI{
		putStatus:    http.StatusOK,
		listStatus:   http.StatusOK,
		deleteStatus: http.StatusOK,
		saved:        make(map[string]string),
	}
}

func (a *contentAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /apps/app-1/keys/@me", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"valid":true}`)
	})
	mux.HandleFunc("GET /apps/app-1/members/@me", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"user-1","role":{"name":"author","permissions":["content:write"]}}`)
	})
	mux.HandleFunc("GET /apps/app-1/content", func(w http.ResponseWriter, r *http.Request) {
		if a.listStatus != http.StatusOK {
			w.WriteHeader(a.listStatus)
			return
		}
		entries := make([]model.ContentEntry, 0)
		for id, content := range a.saved {
			entries = append(entries, model.ContentEntry{ElementID: model.Key(id), Content: content})
		}
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			t.Errorf("error encoding list: %v", err)
		}
	})
	mux.HandleFunc("PUT /apps/app-1/content/{id}", func(w http.ResponseWriter, r *http.Request) {
		if a.putStatus != http.StatusOK {
			w.WriteHeader(a.putStatus)
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("error decoding save body: %v", err)
		}
		a.saved[r.PathValue("id")] = body.Content
	})
	mux.HandleFunc("DELETE /apps/app-1/content/{id}", func(w http.ResponseWriter, r *http.Request) {
		if a.deleteStatus != http.StatusOK {
			w.WriteHeader(a.deleteStatus)
			return
		}
		a.deleted = append(a.deleted, r.PathValue("id"))
	})
	return mux
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) sawContaining(fragment string) bool {
	for _, m := range n.messages {
		if strings.Contains(m, fragment) {
			return true
		}
	}
	return false
}

type fakePopup struct {
	messages chan string
	closed   bool
}

func (p *fakePopup) Messages() <-chan string { return p.messages }
func (p *fakePopup) IsClosed() bool          { return p.closed }
func (p *fakePopup) Close()                  { p.closed = true }

func openerResolving(key string) auth.Opener {
	return func(loginURL string) (auth.Popup, error) {
		p := &fakePopup{messages: make(chan string, 1)}
		p.messages <- key
		return p, nil
	}
}

type fixture struct {
	client *Client
	api    *contentAPI
	notes  *recordingNotifier
	kv     *storage.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := newContentAPI()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	notes := &recordingNotifier{}
	kv := storage.NewMemory()
	client := newClientOn(t, server.URL, kv, notes)
	return &fixture{client: client, api: api, notes: notes, kv: kv}
}

func testConfig(baseURL string) *config.Config {
	cfg := config.New()
	cfg.App.ID = "app-1"
	cfg.API.BaseURL = baseURL
	cfg.Logging.Level = "disabled"
	return cfg
}

func newClientOn(t *testing.T, baseURL string, kv *storage.Memory, notes *recordingNotifier) *Client {
	t.Helper()
	cfg := testConfig(baseURL)
	client, err := New(cfg, Options{
		Storage:  kv,
		Opener:   openerResolving("test-key"),
		Notifier: notes,
	})
	if err != nil {
		t.Fatalf("error building client: %v", err)
	}
	if err := client.Attach(pageMarkup); err != nil {
		t.Fatalf("error attaching: %v", err)
	}
	return client
}

func (f *fixture) signInAsAuthor(t *testing.T) {
	t.Helper()
	if _, err := f.client.SignIn(context.Background()); err != nil {
		t.Fatalf("error signing in: %v", err)
	}
	if err := f.client.EnterAuthorMode(context.Background()); err != nil {
		t.Fatalf("error entering author mode: %v", err)
	}
	if !f.client.CanEdit() {
		t.Fatal("expected editing to be enabled")
	}
}

func (f *fixture) editTitle(t *testing.T, text string) {
	t.Helper()
	handles := f.client.HandlesFor("title")
	if len(handles) != 1 {
		t.Fatalf("got %d title elements, want 1", len(handles))
	}
	dom.SetText(f.client.Document().Node(handles[0]), text)
	if err := f.client.Input(handles[0]); err != nil {
		t.Fatalf("error handling input: %v", err)
	}
}

func TestSaveFailureKeepsChanges(t *testing.T) {
	f := newFixture(t)
	f.signInAsAuthor(t)
	f.editTitle(t, "Edited")

	if !f.client.HasChanges() {
		t.Fatal("expected dirty state after edit")
	}

	f.api.putStatus = http.StatusInternalServerError
	err := f.client.Save(context.Background())
	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Fatalf("got %v, want status error 500", err)
	}
	if !f.client.HasChanges() {
		t.Error("failed save must leave dirty state intact")
	}
	if !f.notes.sawContaining("Failed to save") {
		t.Errorf("expected a save-failed message, got %v", f.notes.messages)
	}
	markup, err := f.client.Render()
	if err != nil {
		t.Fatalf("error rendering: %v", err)
	}
	if !strings.Contains(markup, "Edited") {
		t.Error("edited content must stay in the page after a failed save")
	}

	f.api.putStatus = http.StatusOK
	if err := f.client.Save(context.Background()); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	if f.client.HasChanges() {
		t.Error("successful retry must clear dirty state")
	}
	if _, ok := f.api.saved["title"]; !ok {
		t.Error("content should have reached the store on retry")
	}
	if exists, _ := f.client.drafts.Exists(); exists {
		t.Error("draft slot should be gone after a successful save")
	}
}

func TestSaveUnauthorizedSignsOutKeepingDraft(t *testing.T) {
	f := newFixture(t)
	f.signInAsAuthor(t)
	f.editTitle(t, "Edited")

	f.api.putStatus = http.StatusUnauthorized
	err := f.client.Save(context.Background())
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("got %v, want unauthorized", err)
	}
	if !f.client.HasChanges() {
		t.Error("edits must not be discarded on session expiry")
	}
	if !f.notes.sawContaining("session has expired") {
		t.Errorf("expected a session-expired message, got %v", f.notes.messages)
	}
	if f.client.Session().Status() != auth.StatusAnonymous {
		t.Error("session must end when the credential is rejected")
	}
	if f.client.CanEdit() {
		t.Error("editing must be disabled after forced sign-out")
	}
	if exists, _ := f.client.drafts.Exists(); !exists {
		t.Error("draft must survive the forced sign-out")
	}
}

func TestDraftSurvivesReload(t *testing.T) {
	api := newContentAPI()
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	kv := storage.NewMemory()
	notes := &recordingNotifier{}

	first := newClientOn(t, server.URL, kv, notes)
	handles := first.HandlesFor("title")
	dom.SetText(first.Document().Node(handles[0]), "Draft edit")
	if err := first.Input(handles[0]); err != nil {
		t.Fatalf("error handling input: %v", err)
	}

	second := newClientOn(t, server.URL, kv, notes)
	if !second.HasChanges() {
		t.Fatal("reloaded client should restore the dirty draft")
	}
	markup, err := second.Render()
	if err != nil {
		t.Fatalf("error rendering: %v", err)
	}
	if !strings.Contains(markup, "Draft edit") {
		t.Error("restored draft content should render in the page")
	}
}

func TestGroupEditSyncsThroughFacade(t *testing.T) {
	f := newFixture(t)
	handles := f.client.HandlesFor("footer:note")
	if len(handles) != 2 {
		t.Fatalf("got %d group elements, want 2", len(handles))
	}

	dom.SetText(f.client.Document().Node(handles[0]), "Updated note")
	if err := f.client.Input(handles[0]); err != nil {
		t.Fatalf("error handling input: %v", err)
	}
	if got := dom.Text(f.client.Document().Node(handles[1])); got != "Updated note" {
		t.Errorf("sibling text %q, want synchronized update", got)
	}
}

func TestSelectionAccessors(t *testing.T) {
	f := newFixture(t)
	handles := f.client.HandlesFor("title")
	if len(handles) != 1 {
		t.Fatalf("got %d title elements, want 1", len(handles))
	}
	h := handles[0]

	if _, _, ok := f.client.Selected(); ok {
		t.Error("nothing should be selected after attach")
	}

	f.client.Select(h)
	gotH, gotKey, ok := f.client.Selected()
	if !ok || gotH != h || gotKey != "title" {
		t.Errorf("got handle=%v key=%q ok=%v, want the selected title element", gotH, gotKey, ok)
	}

	f.client.BeginEdit(h)
	if editing, ok := f.client.Editing(); !ok || editing != h {
		t.Errorf("got editing=%v ok=%v, want the title element", editing, ok)
	}

	f.client.ClearSelection()
	if _, _, ok := f.client.Selected(); ok {
		t.Error("selection should be cleared")
	}
	if _, ok := f.client.Editing(); ok {
		t.Error("editing should be cleared")
	}

	keys := f.client.Keys()
	seen := make(map[model.Key]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for _, want := range []model.Key{"title", "footer:note", "faq._order"} {
		if !seen[want] {
			t.Errorf("expected %s in registered keys %v", want, keys)
		}
	}
}

func TestRevertClearsDraft(t *testing.T) {
	f := newFixture(t)
	f.editTitle(t, "Edited")
	if exists, _ := f.client.drafts.Exists(); !exists {
		t.Fatal("expected a draft after editing")
	}

	f.client.Revert()
	if f.client.HasChanges() {
		t.Error("revert should clear dirty state")
	}
	if exists, _ := f.client.drafts.Exists(); exists {
		t.Error("revert should remove the draft slot")
	}
	markup, err := f.client.Render()
	if err != nil {
		t.Fatalf("error rendering: %v", err)
	}
	if !strings.Contains(markup, "Hello") {
		t.Error("revert should restore the original content")
	}
}

func TestRevertRestoresTemplateStructure(t *testing.T) {
	instanceOrder := func(t *testing.T, f *fixture) []model.InstanceID {
		t.Helper()
		return f.client.Instances("faq")
	}
	wantBaseline := []model.InstanceID{"aaaa1111", "bbbb2222"}

	t.Run("Added instance is discarded", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.client.AddInstance("faq", "bbbb2222"); err != nil {
			t.Fatalf("error adding instance: %v", err)
		}
		if !f.client.HasChanges() {
			t.Fatal("expected changes after adding an instance")
		}

		f.client.Revert()
		if f.client.HasChanges() {
			t.Error("revert should clear dirty state")
		}
		if exists, _ := f.client.drafts.Exists(); exists {
			t.Error("revert should remove the draft slot")
		}
		got := instanceOrder(t, f)
		if len(got) != 2 || got[0] != wantBaseline[0] || got[1] != wantBaseline[1] {
			t.Errorf("got instances %v, want %v", got, wantBaseline)
		}
	})

	t.Run("Deleted instance comes back", func(t *testing.T) {
		f := newFixture(t)
		if !f.client.DeleteInstance("faq", "bbbb2222") {
			t.Fatal("expected delete to succeed")
		}

		f.client.Revert()
		if f.client.HasChanges() {
			t.Error("revert should clear dirty state")
		}
		got := instanceOrder(t, f)
		if len(got) != 2 || got[0] != wantBaseline[0] || got[1] != wantBaseline[1] {
			t.Errorf("got instances %v, want %v", got, wantBaseline)
		}
		markup, err := f.client.Render()
		if err != nil {
			t.Fatalf("error rendering: %v", err)
		}
		if !strings.Contains(markup, "Question two") {
			t.Error("revert should restore the deleted instance's content")
		}
		if strings.Index(markup, "Question one") > strings.Index(markup, "Question two") {
			t.Error("restored instance should be back in its original position")
		}
	})

	t.Run("Moved instance returns to place", func(t *testing.T) {
		f := newFixture(t)
		if !f.client.MoveInstance("faq", "aaaa1111", template.Down) {
			t.Fatal("expected move to succeed")
		}

		f.client.Revert()
		if f.client.HasChanges() {
			t.Error("revert should clear dirty state")
		}
		got := instanceOrder(t, f)
		if len(got) != 2 || got[0] != wantBaseline[0] || got[1] != wantBaseline[1] {
			t.Errorf("got instances %v, want %v", got, wantBaseline)
		}
		markup, err := f.client.Render()
		if err != nil {
			t.Fatalf("error rendering: %v", err)
		}
		if strings.Index(markup, "aaaa1111") > strings.Index(markup, "bbbb2222") {
			t.Error("revert should restore the page order")
		}
	})
}

func TestAuthorModeRequiresSavedKeysFetch(t *testing.T) {
	f := newFixture(t)
	if _, err := f.client.SignIn(context.Background()); err != nil {
		t.Fatalf("error signing in: %v", err)
	}

	f.api.listStatus = http.StatusInternalServerError
	if err := f.client.EnterAuthorMode(context.Background()); err == nil {
		t.Fatal("expected an error when the saved-keys fetch fails")
	}
	if f.client.CanEdit() {
		t.Error("editing must stay disabled when saved keys cannot be fetched")
	}
	if !f.notes.sawContaining("Editing is disabled") {
		t.Errorf("expected a disabled-editing message, got %v", f.notes.messages)
	}

	f.api.listStatus = http.StatusOK
	if err := f.client.EnterAuthorMode(context.Background()); err != nil {
		t.Fatalf("error entering author mode: %v", err)
	}
	if !f.client.CanEdit() {
		t.Error("editing should be enabled once the fetch succeeds")
	}
}

func TestTemplateReorderSavesUnsavedInstances(t *testing.T) {
	f := newFixture(t)
	f.api.saved["faq.aaaa1111.q"] = model.TextEnvelope("Question one", nil).MustEncode()
	f.signInAsAuthor(t)

	if !f.client.MoveInstance("faq", "aaaa1111", template.Down) {
		t.Fatal("expected the move to succeed")
	}
	if err := f.client.Save(context.Background()); err != nil {
		t.Fatalf("error saving: %v", err)
	}

	if _, ok := f.api.saved["faq._order"]; !ok {
		t.Error("reorder should persist the order key")
	}
	if _, ok := f.api.saved["faq.bbbb2222.q"]; !ok {
		t.Error("never-saved instance fields must be written on reorder")
	}
}

func TestDeleteInstanceRemovesRemoteContent(t *testing.T) {
	f := newFixture(t)
	f.signInAsAuthor(t)

	if !f.client.DeleteInstance("faq", "bbbb2222") {
		t.Fatal("expected the delete to succeed")
	}
	if exists, _ := f.client.drafts.Exists(); !exists {
		t.Error("deletion markers should persist in the draft")
	}
	if err := f.client.Save(context.Background()); err != nil {
		t.Fatalf("error saving: %v", err)
	}

	deleted := strings.Join(f.api.deleted, ",")
	if !strings.Contains(deleted, "faq.bbbb2222.q") {
		t.Errorf("deleted keys %q should include the removed instance field", deleted)
	}
	if f.client.HasChanges() {
		t.Error("deletion markers should clear after a successful save")
	}
}

func TestSignOutConfirmation(t *testing.T) {
	f := newFixture(t)
	f.signInAsAuthor(t)
	f.editTitle(t, "Edited")

	if f.client.SignOut(func() bool { return false }) {
		t.Error("declined confirmation must refuse sign-out")
	}
	if f.client.Session().Status() != auth.StatusAuthenticated {
		t.Error("refused sign-out must keep the session")
	}

	if !f.client.SignOut(func() bool { return true }) {
		t.Fatal("confirmed sign-out should proceed")
	}
	if exists, _ := f.client.drafts.Exists(); !exists {
		t.Error("draft must survive sign-out")
	}
}

func TestRestoreResumesAuthorSession(t *testing.T) {
	api := newContentAPI()
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	kv := storage.NewMemory()
	notes := &recordingNotifier{}

	first := newClientOn(t, server.URL, kv, notes)
	if _, err := first.SignIn(context.Background()); err != nil {
		t.Fatalf("error signing in: %v", err)
	}
	if err := first.EnterAuthorMode(context.Background()); err != nil {
		t.Fatalf("error entering author mode: %v", err)
	}

	second := newClientOn(t, server.URL, kv, notes)
	status, err := second.Restore(context.Background())
	if err != nil {
		t.Fatalf("error restoring: %v", err)
	}
	if status != auth.StatusAuthenticated {
		t.Fatalf("got status %v, want authenticated", status)
	}
	if second.Session().Mode() != auth.ModeAuthor {
		t.Error("restored session should keep the author mode preference")
	}
	if !second.CanEdit() {
		t.Error("restored author session should enable editing")
	}
}
