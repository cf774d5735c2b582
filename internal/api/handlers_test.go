package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/core"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/llm"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
)

type stubClient struct {
	reply string
	err   error
}

func (s *stubClient) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	return s.reply, s.err
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) Models() []string { return []string{"stub-1"} }

func newTestServer(t *testing.T, client llm.Client, opts RouterOptions) *httptest.Server {
	t.Helper()
	kv, err := store.NewSQLiteStore(":memory:", 0, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	svc := core.NewCompletionService(client, time.Second, logger.NewNop())
	app := core.NewApp(kv, svc, "http://chat.test", logger.NewNop())
	srv := httptest.NewServer(NewRouter(NewAPIHandler(app, logger.NewNop()), opts))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func loginAs(t *testing.T, srv *httptest.Server, username string) LoginResponse {
	t.Helper()
	var resp LoginResponse
	status := doJSON(t, srv, http.MethodPost, "/api/login", LoginRequest{Username: username}, &resp)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, status)
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "ok"}, RouterOptions{})
	resp, err := srv.Client().Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(CorrelationIDHeader))
}

func TestLoginFlow(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "ok"}, RouterOptions{})

	var first LoginResponse
	status := doJSON(t, srv, http.MethodPost, "/api/login", LoginRequest{Username: "ada", IsVerified: true}, &first)
	assert.Equal(t, http.StatusCreated, status)
	assert.True(t, first.Created)
	assert.Equal(t, "ada", first.State.User.Username)
	assert.NotEmpty(t, first.State.ActiveSessionID)

	var st core.State
	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/logout", nil, &st))
	assert.True(t, st.IsGuest)

	var second LoginResponse
	status = doJSON(t, srv, http.MethodPost, "/api/login", LoginRequest{Username: "ADA"}, &second)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, second.Created)
	assert.Equal(t, first.User.ID, second.User.ID)

	var errResp map[string]string
	status = doJSON(t, srv, http.MethodPost, "/api/login", LoginRequest{Username: " "}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, errResp["error"])
}

func TestGuestIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "ok"}, RouterOptions{})
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, srv, http.MethodPost, "/api/sessions", nil, nil))
	assert.Equal(t, http.StatusUnauthorized,
		doJSON(t, srv, http.MethodPost, "/api/sessions/x/messages", PostMessageRequest{Text: "hi"}, nil))
}

func TestSendMessage(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "Hi Ada"}, RouterOptions{})
	id := loginAs(t, srv, "ada").State.ActiveSessionID

	var resp PostMessageResponse
	status := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", PostMessageRequest{Text: "Hello"}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hi Ada", resp.Reply.Text)
	assert.Equal(t, "Hello", resp.Session.Title)
	assert.Len(t, resp.Session.Messages, 2)

	assert.Equal(t, http.StatusBadRequest,
		doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", PostMessageRequest{Text: ""}, nil))
	assert.Equal(t, http.StatusNotFound,
		doJSON(t, srv, http.MethodPost, "/api/sessions/nope/messages", PostMessageRequest{Text: "x"}, nil))
}

func TestSendFailureReturnsFallback(t *testing.T) {
	srv := newTestServer(t, &stubClient{err: errors.New("timeout")}, RouterOptions{})
	id := loginAs(t, srv, "ada").State.ActiveSessionID

	var resp PostMessageResponse
	require.Equal(t, http.StatusOK,
		doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", PostMessageRequest{Text: "Hello"}, &resp))
	assert.Equal(t, core.FallbackReply, resp.Reply.Text)
}

func TestSendDisabledWithoutCredential(t *testing.T) {
	srv := newTestServer(t, nil, RouterOptions{})
	login := loginAs(t, srv, "ada")
	assert.True(t, login.State.Status.SendDisabled)
	assert.NotEmpty(t, login.State.Status.Banner)

	status := doJSON(t, srv, http.MethodPost,
		"/api/sessions/"+login.State.ActiveSessionID+"/messages", PostMessageRequest{Text: "hi"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "ok"}, RouterOptions{})
	first := loginAs(t, srv, "ada").State.ActiveSessionID

	var created store.Session
	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/sessions", nil, &created))

	title := "Renamed"
	public := true
	var patched store.Session
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPatch, "/api/sessions/"+created.ID,
		PatchSessionRequest{Title: &title, IsPublic: &public}, &patched))
	assert.Equal(t, "Renamed", patched.Title)
	assert.True(t, patched.IsPublic)
	assert.True(t, patched.TitleManual)

	assert.Equal(t, http.StatusBadRequest,
		doJSON(t, srv, http.MethodPatch, "/api/sessions/"+created.ID, PatchSessionRequest{}, nil))

	var toggled store.Session
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/public", nil, &toggled))
	assert.False(t, toggled.IsPublic)
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/public", nil, &toggled))
	assert.True(t, toggled.IsPublic)
	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodPost, "/api/sessions/missing/public", nil, nil))

	var st core.State
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/sessions/"+first+"/select", nil, nil))
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/sessions/"+first+"/archive", nil, &st))
	assert.Equal(t, created.ID, st.ActiveSessionID, "archiving the active chat selects the next one")
	assert.Len(t, st.Sessions, 1)

	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPut, "/api/archived", ShowArchivedRequest{Show: true}, &st))
	assert.Len(t, st.Sessions, 2)

	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodDelete, "/api/sessions/"+created.ID, nil, &st))
	assert.NotEqual(t, created.ID, st.ActiveSessionID)
	assert.NotEqual(t, first, st.ActiveSessionID, "only archived chats remain, so a fresh one is created")

	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodGet, "/api/sessions/"+created.ID, nil, nil))
}

func TestSettingsEndpoints(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "ok"}, RouterOptions{})
	id := loginAs(t, srv, "ada").State.ActiveSessionID

	s := store.DefaultAISettings()
	s.Temperature = 1.1
	s.SystemInstruction = "Be brief."
	var saved store.AISettings
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPut, "/api/settings", s, &saved))
	assert.Equal(t, s, saved)

	var got store.AISettings
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/settings", nil, &got))
	assert.Equal(t, s, got)

	var sess store.Session
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/sessions/"+id, nil, &sess))
	assert.Equal(t, s, sess.Settings)

	s.TopP = 2
	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodPut, "/api/sessions/"+id+"/settings", s, nil))
}

func TestShareAndBootstrap(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "pong"}, RouterOptions{})
	id := loginAs(t, srv, "ada").State.ActiveSessionID
	require.Equal(t, http.StatusOK,
		doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", PostMessageRequest{Text: "ping"}, nil))

	var link core.ShareLink
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/sessions/"+id+"/share", nil, &link))
	assert.True(t, strings.HasPrefix(link.URL, "http://chat.test/?chat="))

	var boot struct {
		Mode   string          `json:"mode"`
		Shared core.SharedChat `json:"shared"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/bootstrap?chat="+link.Blob, nil, &boot))
	assert.Equal(t, "shared", boot.Mode)
	assert.Equal(t, "ping", boot.Shared.Title)
	assert.Len(t, boot.Shared.Messages, 2)

	// A broken blob falls through to the normal app.
	boot.Mode = ""
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/bootstrap?chat=garbage!", nil, &boot))
	assert.Equal(t, "app", boot.Mode)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodGet, "/api/shared?chat=garbage!", nil, nil))
}

func TestDirectory(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "ok"}, RouterOptions{})
	ada := loginAs(t, srv, "ada")
	id := ada.State.ActiveSessionID
	public := true
	require.Equal(t, http.StatusOK,
		doJSON(t, srv, http.MethodPatch, "/api/sessions/"+id, PatchSessionRequest{IsPublic: &public}, nil))

	loginAs(t, srv, "bob")
	var dir []core.DirectoryEntry
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/users", nil, &dir))
	require.Len(t, dir, 2)
	assert.Len(t, dir[0].PublicSessions, 1)

	var chat core.SharedChat
	assert.Equal(t, http.StatusOK,
		doJSON(t, srv, http.MethodGet, "/api/users/"+ada.User.ID+"/sessions/"+id, nil, &chat))
	assert.Equal(t, http.StatusNotFound,
		doJSON(t, srv, http.MethodGet, "/api/users/"+ada.User.ID+"/sessions/nope", nil, nil))
}

func TestProfilePictureUpload(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "ok"}, RouterOptions{})
	loginAs(t, srv, "ada")

	upload := func(data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("picture", "me.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		resp, err := srv.Client().Post(srv.URL+"/api/profile/picture", mw.FormDataContentType(), &buf)
		require.NoError(t, err)
		return resp
	}

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	resp := upload(png)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile store.UserProfile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	assert.True(t, strings.HasPrefix(profile.ProfilePicture, "data:image/png;base64,"))

	resp2 := upload([]byte("just some text"))
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp2.StatusCode)
}

func TestSendRateLimited(t *testing.T) {
	srv := newTestServer(t, &stubClient{reply: "ok"}, RouterOptions{RateLimitRequests: 1, RateLimitWindow: time.Minute})
	id := loginAs(t, srv, "ada").State.ActiveSessionID

	path := "/api/sessions/" + id + "/messages"
	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, path, PostMessageRequest{Text: "one"}, nil))
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, srv, http.MethodPost, path, PostMessageRequest{Text: "two"}, nil))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrLoginRequired, http.StatusUnauthorized},
		{core.ErrRequestInFlight, http.StatusConflict},
		{core.ErrSendDisabled, http.StatusServiceUnavailable},
		{core.ErrSessionNotFound, http.StatusNotFound},
		{core.ErrInvalidSettings, http.StatusBadRequest},
		{store.ErrQuotaExceeded, http.StatusInsufficientStorage},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
