package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "app-1", 5*time.Second, zerolog.Nop())
	client.SetCredentialSource(func() (string, bool) { return "test-key", true })
	return client, srv
}

func TestListContent(t *testing.T) {
	var gotPath, gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]model.ContentEntry{
			{ElementID: "title", Content: `{"type":"text","value":"x"}`, UpdatedAt: time.Now().UTC()},
		})
	})

	entries, err := client.ListContent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/apps/app-1/content" {
		t.Errorf("Expected content path, got %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer credential, got %q", gotAuth)
	}
	if len(entries) != 1 || entries[0].ElementID != "title" {
		t.Errorf("Expected decoded entries, got %v", entries)
	}
}

func TestSaveContent(t *testing.T) {
	t.Run("PUT with escaped key", func(t *testing.T) {
		var gotMethod, gotPath, gotBody string
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.EscapedPath()
			var payload map[string]string
			json.NewDecoder(r.Body).Decode(&payload)
			gotBody = payload["content"]
			w.WriteHeader(http.StatusOK)
		})

		err := client.SaveContent(context.Background(), "features.aaaa1111.name", `{"type":"text","value":"x"}`)
		if err != nil {
			t.Fatal(err)
		}
		if gotMethod != http.MethodPut {
			t.Errorf("Expected PUT, got %s", gotMethod)
		}
		if gotPath != "/apps/app-1/content/features.aaaa1111.name" {
			t.Errorf("Unexpected path %q", gotPath)
		}
		if gotBody != `{"type":"text","value":"x"}` {
			t.Errorf("Unexpected body %q", gotBody)
		}
	})

	t.Run("Server error is a StatusError", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		err := client.SaveContent(context.Background(), "title", "x")
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.Code != 500 {
			t.Errorf("Expected StatusError 500, got %v", err)
		}
	})

	t.Run("401 is ErrUnauthorized", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no", http.StatusUnauthorized)
		})
		if err := client.SaveContent(context.Background(), "title", "x"); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("403 is ErrUnauthorized", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no", http.StatusForbidden)
		})
		if err := client.SaveContent(context.Background(), "title", "x"); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestValidateKey(t *testing.T) {
	t.Run("Valid key", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/apps/app-1/keys/@me" {
				t.Errorf("Unexpected path %q", r.URL.Path)
			}
			json.NewEncoder(w).Encode(model.KeyInfo{Valid: true, ExpiresAt: time.Now().Add(time.Hour)})
		})
		valid, err := client.ValidateKey(context.Background())
		if err != nil || !valid {
			t.Errorf("Expected valid key, got %v / %v", valid, err)
		}
	})

	t.Run("Rejected key is a definite no, not an error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no", http.StatusUnauthorized)
		})
		valid, err := client.ValidateKey(context.Background())
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if valid {
			t.Error("Expected invalid key")
		}
	})
}

func TestGetMember(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps/app-1/members/@me" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"id":"user-7","role":{"name":"editor","permissions":["content:write"]}}`))
	})

	member, err := client.GetMember(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if member.ID != "user-7" {
		t.Errorf("Expected member id, got %q", member.ID)
	}
	if !member.Role.Permissions.CanEdit() {
		t.Error("Expected edit capability")
	}
}

func TestRefreshHook(t *testing.T) {
	t.Run("Runs on authenticated success", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		})
		refreshed := 0
		client.SetRefreshHook(func() { refreshed++ })

		client.ListContent(context.Background())
		if refreshed != 1 {
			t.Errorf("Expected one refresh, got %d", refreshed)
		}
	})

	t.Run("Does not run on failure", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no", http.StatusUnauthorized)
		})
		refreshed := 0
		client.SetRefreshHook(func() { refreshed++ })

		client.ListContent(context.Background())
		if refreshed != 0 {
			t.Errorf("Expected no refresh on 401, got %d", refreshed)
		}
	})

	t.Run("Does not run unauthenticated", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		})
		client.SetCredentialSource(func() (string, bool) { return "", false })
		refreshed := 0
		client.SetRefreshHook(func() { refreshed++ })

		client.ListContent(context.Background())
		if refreshed != 0 {
			t.Errorf("Expected no refresh without credential, got %d", refreshed)
		}
	})
}
