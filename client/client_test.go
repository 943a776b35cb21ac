package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"tandem/board"
	"tandem/domain"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok")
}

func TestUpdateTaskSendsExplicitNulls(t *testing.T) {
	var body string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/projects/tasks/t1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer: %q", r.Header.Get("Authorization"))
		}
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"t1","title":"x","status":"done","order":1000}`))
	})

	got, err := c.UpdateTask(context.Background(), "t1", Patch{}.Set("status", domain.StatusDone).Clear("description"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != domain.StatusDone {
		t.Fatalf("unexpected task %+v", got)
	}
	if body != `{"description":null,"status":"done"}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestCreateTaskSendsIdempotencyKey(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") != "k1" {
			t.Errorf("missing idempotency key")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"t9","title":"New","status":"todo","order":1000,"projectId":"p1"}`))
	})
	got, err := c.CreateTask(context.Background(), "p1", domain.NewTask{Title: "New"}, "k1")
	if err != nil || got.ID != "t9" || got.Order != 1000 {
		t.Fatalf("create: %+v %v", got, err)
	}
}

func TestErrorsCarryServerMessage(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"error","message":"Unauthorized"}`))
	})
	_, err := c.GetProject(context.Background(), "p1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "Unauthorized" {
		t.Fatalf("unexpected error %v", err)
	}

	c = newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if err := c.JoinWaitlist(context.Background(), "a@b.co"); !errors.As(err, &apiErr) || apiErr.Message != "Bad Gateway" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRemoveFromWhitelistEscapesEmail(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.EscapedPath() != "/api/admin/whitelist/a+b@example.com" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.EscapedPath())
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.RemoveFromWhitelist(context.Background(), "a+b@example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestStreamSkipsReadyEvent(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: ready\ndata: {\"projectId\":\"p1\"}\n\n")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"task-moved\",\"projectId\":\"p1\",\"taskId\":\"t1\",\"order\":1500}\n\n")
	})
	var got []domain.BoardEvent
	err := c.Stream(context.Background(), "p1", func(ev domain.BoardEvent) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 1 || got[0].Type != domain.EventTaskMoved || got[0].Order != 1500 {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestClientDrivesBoardSubmit(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/tasks/a/move" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"a","title":"a","status":"done","order":2000}`))
	})
	b := board.New([]domain.Task{
		{ID: "a", Status: domain.StatusTodo, Order: 1000},
		{ID: "d", Status: domain.StatusDone, Order: 1000},
	})
	if err := b.DragStart("a"); err != nil {
		t.Fatalf("drag: %v", err)
	}
	b.DragOver(board.Target{TaskID: "d"})
	m, ok := b.DragEnd()
	if !ok {
		t.Fatalf("expected move")
	}
	if _, err := b.Submit(context.Background(), c, m); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(b.Pending()) != 0 {
		t.Fatalf("move should be confirmed")
	}
}
