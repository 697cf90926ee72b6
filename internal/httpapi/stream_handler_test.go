package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"meridian.club/internal/audit"
	"meridian.club/internal/auth"
)

func openStream(t *testing.T, env *testEnv, query, token string) (*bufio.Reader, *http.Response) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/v1/audit/stream"+query, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return bufio.NewReader(resp.Body), resp
}

func readEvent(t *testing.T, r *bufio.Reader) audit.Event {
	t.Helper()
	type result struct {
		evt audit.Event
		err error
	}
	done := make(chan result, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				done <- result{err: err}
				return
			}
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var evt audit.Event
				done <- result{evt: evt, err: json.Unmarshal([]byte(data), &evt)}
				return
			}
		}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("read event: %v", res.err)
		}
		return res.evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return audit.Event{}
}

func TestAuditStreamRelaysMatchingEvents(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token("admin-1", auth.RoleAdmin)

	r, resp := openStream(t, env, "?type=ROLE_CHANGED", admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if line, err := r.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q %v", line, err)
	}

	// the denied peer promotion is filtered out, the role change is not
	env.do(http.MethodPut, "/v1/users/member-1/role", admin, map[string]string{"role": "admin"})
	env.do(http.MethodPut, "/v1/users/member-1/role", admin, map[string]string{"role": "support_agent"})

	evt := readEvent(t, r)
	if evt.Type != audit.EventRoleChanged || evt.ResourceID != "member-1" || evt.Details["to"] != "support_agent" {
		t.Fatalf("unexpected streamed event: %+v", evt)
	}
}

func TestAuditStreamRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, resp := openStream(t, env, "", env.token("member-1", auth.RoleMember))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	_, resp = openStream(t, env, "?severity=EXTREME", env.token("admin-1", auth.RoleAdmin))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
