package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"tandem/domain"
)

func readEvent(t *testing.T, r *bufio.Reader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v (got %v)", err, lines)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(lines) > 0 {
				return lines
			}
			continue
		}
		lines = append(lines, line)
	}
}

func TestStreamDeliversBoardEvents(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, 1, "ann@example.com")
	p := env.project(t, u.ID, "Board")
	token := env.login(t, u.ID)

	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/projects/"+p.ID+"/stream?token="+token, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	r := bufio.NewReader(resp.Body)
	if ready := readEvent(t, r); ready[0] != "event: ready" {
		t.Fatalf("unexpected first event %v", ready)
	}

	created := env.do(t, http.MethodPost, "/api/projects/"+p.ID+"/tasks", `{"title":"Live"}`, token)
	expectStatus(t, created, http.StatusCreated)
	task := decodeBody[domain.Task](t, created)

	ev := readEvent(t, r)
	if len(ev) != 1 || !strings.HasPrefix(ev[0], "data: ") {
		t.Fatalf("unexpected event %v", ev)
	}
	var got domain.BoardEvent
	if err := sonic.UnmarshalString(strings.TrimPrefix(ev[0], "data: "), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.Type != domain.EventTaskCreated || got.TaskID != task.ID || got.Order != 1000 {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestStreamRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, 1, "ann@example.com")
	other := env.user(t, 2, "bob@example.com")
	p := env.project(t, owner.ID, "Board")

	expectError(t, env.do(t, http.MethodGet, "/api/projects/"+p.ID+"/stream", "", ""), http.StatusUnauthorized)
	expectError(t, env.do(t, http.MethodGet, "/api/projects/"+p.ID+"/stream", "", env.login(t, other.ID)), http.StatusForbidden)
	expectError(t, env.do(t, http.MethodGet, "/api/projects/missing/stream", "", env.login(t, other.ID)), http.StatusNotFound)
}
