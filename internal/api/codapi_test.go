package api

import (
	"cod-tracker/internal/config"
	"cod-tracker/internal/domain"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeSnapshot(t *testing.T, root string, r Request, body string) {
	t.Helper()
	path := SnapshotPath(root, r)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func providerMessage(t *testing.T, err error) string {
	t.Helper()
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	return perr.Message
}

func TestFetchLocalSnapshots(t *testing.T) {
	root := t.TempDir()
	client := NewClient(&config.Config{DataDir: root}, zerolog.Nop())
	ctx := context.Background()
	req := Request{Target: "123", GameMode: domain.GameModeMwWz, DataType: domain.DataTypeMatches, Platform: domain.PlatformUno}

	_, err := client.Fetch(ctx, req)
	if msg := providerMessage(t, err); msg != MsgFileNotFound {
		t.Errorf("missing file message = %q", msg)
	}

	writeSnapshot(t, root, req, `{"status":"success","data":{"matches":[]}}`)
	resp, err := client.Fetch(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceLocal || string(resp.Payload) != `{"matches":[]}` {
		t.Errorf("resp = %+v", resp)
	}

	stats := Request{Target: "123", GameMode: domain.GameModeMwMp, DataType: domain.DataTypeStats, Platform: domain.PlatformUno}
	writeSnapshot(t, root, stats, `{"status":"error","data":{"message":"Not permitted: rate limit exceeded"}}`)
	_, err = client.Fetch(ctx, stats)
	if msg := providerMessage(t, err); msg != MsgRateLimit {
		t.Errorf("envelope message = %q", msg)
	}

	search := Request{Target: "nobody", DataType: domain.DataTypeSearch, Platform: domain.PlatformUno}
	writeSnapshot(t, root, search, `<html>404 Not Found</html>`)
	_, err = client.Fetch(ctx, search)
	if msg := providerMessage(t, err); msg != MsgNotFound {
		t.Errorf("html body message = %q", msg)
	}
}

func TestFetchEmptyDataIsGameDataNotFound(t *testing.T) {
	root := t.TempDir()
	client := NewClient(&config.Config{DataDir: root}, zerolog.Nop())
	req := Request{Target: "123", GameMode: domain.GameModeMwMp, DataType: domain.DataTypeStats, Platform: domain.PlatformUno}
	writeSnapshot(t, root, req, `{"status":"success","data":null}`)

	_, err := client.Fetch(context.Background(), req)
	if msg := providerMessage(t, err); msg != MsgGameDataNotFound {
		t.Errorf("message = %q", msg)
	}
}

func TestFetchRemote(t *testing.T) {
	var cookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(sessionCookie); err == nil {
			cookie = c.Value
		}
		switch r.URL.Path {
		case "/crm/cod/v2/platform/uno/username/limited/search":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/crm/cod/v2/platform/uno/username/missing/search":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte(`{"status":"success","data":[{"username":"found"}]}`))
		}
	}))
	defer srv.Close()

	client := NewClient(&config.Config{APIBase: srv.URL, SSOCookie: "secret", DataDir: t.TempDir()}, zerolog.Nop())
	ctx := context.Background()
	search := func(target string) Request {
		return Request{Target: target, DataType: domain.DataTypeSearch, Platform: domain.PlatformUno}
	}

	resp, err := client.Fetch(ctx, search("found"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceRemote || string(resp.Payload) != `[{"username":"found"}]` {
		t.Errorf("resp = %+v", resp)
	}
	if cookie != "secret" {
		t.Errorf("session cookie = %q", cookie)
	}

	_, err = client.Fetch(ctx, search("limited"))
	if msg := providerMessage(t, err); msg != MsgRateLimit {
		t.Errorf("429 message = %q", msg)
	}
	_, err = client.Fetch(ctx, search("missing"))
	if msg := providerMessage(t, err); msg != MsgNotFound {
		t.Errorf("404 message = %q", msg)
	}
}

func TestSaveSnapshotWritesOnce(t *testing.T) {
	root := t.TempDir()
	client := NewClient(&config.Config{DataDir: root}, zerolog.Nop())
	req := Request{Target: "123", GameMode: domain.GameModeMwMp, DataType: domain.DataTypeMatches, Platform: domain.PlatformUno, StartTime: 7}

	written, err := client.SaveSnapshot(req, []byte(`{"first":true}`))
	if err != nil || !written {
		t.Fatalf("first save: written=%v err=%v", written, err)
	}
	written, err = client.SaveSnapshot(req, []byte(`{"first":false}`))
	if err != nil || written {
		t.Fatalf("second save: written=%v err=%v", written, err)
	}
	body, err := os.ReadFile(SnapshotPath(root, req))
	if err != nil || string(body) != `{"first":true}` {
		t.Errorf("snapshot = %s, %v", body, err)
	}

	if written, err := client.SaveError(MsgNoResponse, nil); err != nil || !written {
		t.Errorf("save error: written=%v err=%v", written, err)
	}
}

func TestLocalFullmatchSnapshots(t *testing.T) {
	root := t.TempDir()
	// a session cookie must not send ReadSnapshot to the network
	client := NewClient(&config.Config{DataDir: root, SSOCookie: "secret", APIBase: "http://127.0.0.1:1"}, zerolog.Nop())

	ids, err := client.FullmatchSnapshots(domain.GameModeMwWz)
	if err != nil || len(ids) != 0 {
		t.Fatalf("FullmatchSnapshots on empty tree = %v, %v", ids, err)
	}

	for _, id := range []string{"22", "11"} {
		r := Request{Target: id, GameMode: domain.GameModeMwWz, DataType: domain.DataTypeFullmatches}
		writeSnapshot(t, root, r, `{"status":"success","data":{"allPlayers":[]}}`)
	}
	dir := filepath.Dir(SnapshotPath(root, Request{Target: "x", GameMode: domain.GameModeMwWz, DataType: domain.DataTypeFullmatches}))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err = client.FullmatchSnapshots(domain.GameModeMwWz)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "11" || ids[1] != "22" {
		t.Errorf("ids = %v, want [11 22]", ids)
	}

	resp, err := client.ReadSnapshot(Request{Target: "11", GameMode: domain.GameModeMwWz, DataType: domain.DataTypeFullmatches})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != SourceLocal || string(resp.Payload) != `{"allPlayers":[]}` {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenBasic(t *testing.T) {
	root := t.TempDir()
	client := NewClient(&config.Config{DataDir: root}, zerolog.Nop())

	if _, err := client.OpenBasic(domain.GameModeMwMp, 0); err == nil {
		t.Fatal("expected an error for a missing export")
	}

	path := BasicPath(root, domain.GameModeMwMp, 0)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("match_id\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rc, err := client.OpenBasic(domain.GameModeMwMp, 0)
	if err != nil {
		t.Fatal(err)
	}
	rc.Close()
}
