package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/app/fingerprint"
	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/app/verify"
	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/common/security"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/metrics"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/queue"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxUpload = 1 << 20

type stubVerifier struct {
	mu  sync.Mutex
	res verify.Result
}

func (v *stubVerifier) Name() string { return "stub" }

func (v *stubVerifier) Verify(context.Context, *verify.Candidate) (verify.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.res, nil
}

func (v *stubVerifier) set(res verify.Result) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.res = res
}

type testServer struct {
	h        http.Handler
	store    *repository.MemoryStore
	images   *storage.LocalStore
	verifier *stubVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	images, err := storage.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	tokens := security.NewTokenManager([]byte("test-secret"), time.Hour)
	m := metrics.New()
	v := &stubVerifier{res: verify.Result{Accepted: true, Confidence: 0.9, Message: "Insect detected and verified! Coins awarded.", Reward: 10}}

	submissions := service.NewSubmissionService(store, images, fingerprint.NewMemoryIndex(), fingerprint.NewAverageHasher(5),
		v, queue.NewMemoryQueue(16), m,
		service.SubmissionConfig{AllowedExtensions: []string{"png", "jpg", "jpeg", "gif"}, MaxUploadBytes: maxUpload})

	h := NewRouter(
		service.NewAuthService(store, store, tokens),
		submissions,
		service.NewLedgerService(store),
		tokens,
		m,
		Options{CORSOrigins: []string{"*"}, UploadDir: images.Dir()},
	)
	return &testServer{h: h, store: store, images: images, verifier: v}
}

func (s *testServer) do(t *testing.T, method, path string, body *bytes.Buffer, contentType, token string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) submit(t *testing.T, path, username, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, username, filename, data)
	return s.do(t, http.MethodPost, path, body, ct, "")
}

func (s *testServer) storedFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(s.images.Dir())
	require.NoError(t, err)
	return len(entries)
}

func (s *testServer) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/register",
		jsonBody(t, map[string]string{"username": username, "email": username + "@example.com", "password": "s3cret"}),
		"application/json", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"username": username, "password": "s3cret"}), "application/json", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp service.LoginResponse
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

// multipartBody builds an upload form. An empty username omits the field and
// filename "-" omits the file part.
func multipartBody(t *testing.T, username, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if username != "" {
		require.NoError(t, w.WriteField("username", username))
	}
	if filename != "-" {
		fw, err := w.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp common.ErrorResponse
	decode(t, rec, &resp)
	return resp.Code
}

// halvesPNG encodes a 64x64 image split into a dark and a light half.
func halvesPNG(t *testing.T, vertical bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(200)
			if (vertical && x < 32) || (!vertical && y < 32) {
				v = 40
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHealthAndTest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/test", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Server is running!"}`, rec.Body.String())
}

func TestSubmitCreditsProfileAndLeaderboard(t *testing.T) {
	s := newTestServer(t)

	rec := s.submit(t, "/submit", "alice", "catch.png", halvesPNG(t, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result service.SubmitResult
	decode(t, rec, &result)
	assert.True(t, result.Success)
	assert.Equal(t, 10, result.CoinsEarned)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	require.NotNil(t, result.Submission)
	assert.Equal(t, model.StatusAccepted, result.Submission.Status)

	rec = s.do(t, http.MethodGet, "/api/user/profile?username=alice", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p model.Profile
	decode(t, rec, &p)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, 10, p.Balance)
	assert.Equal(t, 1, p.TotalKills)
	assert.Equal(t, 1, p.Rank)
	assert.Len(t, p.Submissions, 1)

	rec = s.do(t, http.MethodGet, "/user/profile", nil, "", "", "X-Username", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &p)
	assert.Equal(t, 10, p.Balance)

	rec = s.do(t, http.MethodGet, "/api/leaderboard?limit=1", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.LeaderboardEntry
	decode(t, rec, &entries)
	assert.Equal(t, []model.LeaderboardEntry{{Rank: 1, Username: "alice", Coins: 10, Kills: 1}}, entries)

	rec = s.do(t, http.MethodGet, "/api/leaderboard/weekly", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, 10, entries[0].Coins)

	rec = s.do(t, http.MethodGet, result.Submission.ImageRef, nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code, "stored image is served")
}

func TestProfileDefaultsToAnonymous(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/user/profile", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p model.Profile
	decode(t, rec, &p)
	assert.Equal(t, "Anonymous", p.Username)
	assert.Zero(t, p.Balance)
}

func TestSubmitDuplicateIsRejected(t *testing.T) {
	s := newTestServer(t)
	img := halvesPNG(t, true)

	require.Equal(t, http.StatusOK, s.submit(t, "/api/submit", "alice", "a.png", img).Code)

	rec := s.submit(t, "/api/submit", "bob", "b.png", img)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, common.CodeDuplicateImage, errorCode(t, rec))
	assert.Equal(t, 1, s.storedFiles(t), "duplicate file is not kept")

	rec = s.submit(t, "/api/submit", "bob", "c.png", halvesPNG(t, false))
	assert.Equal(t, http.StatusOK, rec.Code, "a different image is accepted")
}

func TestSubmitVerificationFailedCarriesConfidence(t *testing.T) {
	s := newTestServer(t)
	s.verifier.set(verify.Result{Accepted: false, Confidence: 0.25, Message: "No insect detected"})

	rec := s.submit(t, "/submit", "alice", "a.png", halvesPNG(t, true))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp common.ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, common.CodeVerificationFailed, resp.Code)
	assert.Equal(t, "No insect detected", resp.Error)
	require.NotNil(t, resp.Confidence)
	assert.InDelta(t, 0.25, *resp.Confidence, 1e-9)
	assert.Equal(t, 0, s.storedFiles(t))
}

func TestSubmitValidation(t *testing.T) {
	img := halvesPNG(t, true)
	cases := []struct {
		name     string
		username string
		filename string
		data     []byte
		code     string
	}{
		{"text file", "alice", "notes.txt", []byte("hello"), common.CodeInvalidFileType},
		{"executable", "alice", "run.exe", []byte("MZ"), common.CodeInvalidFileType},
		{"no file part", "alice", "-", nil, common.CodeMissingFile},
		{"empty file input", "alice", "", nil, common.CodeNoFileSelected},
		{"missing username", "", "a.png", img, common.CodeMissingUsername},
		{"not an image", "alice", "fake.png", []byte("not really a png"), common.CodeInvalidImage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.submit(t, "/submit", tc.username, tc.filename, tc.data)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
			assert.Equal(t, 0, s.storedFiles(t))
		})
	}
}

func TestSubmitRequiresMultipart(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/submit", jsonBody(t, map[string]string{"username": "alice"}), "application/json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, common.CodeMissingFile, errorCode(t, rec))
}

func TestSubmitOversizeWritesNothing(t *testing.T) {
	for _, size := range []int{maxUpload + 1, 3 * maxUpload} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			s := newTestServer(t)
			rec := s.submit(t, "/submit", "alice", "big.png", bytes.Repeat([]byte{0x42}, size))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp common.ErrorResponse
			decode(t, rec, &resp)
			assert.Equal(t, common.CodeFileTooLarge, resp.Code)
			assert.Equal(t, "File too large. Maximum size is 1MB.", resp.Error)
			assert.Equal(t, 0, s.storedFiles(t))
		})
	}
}

func TestSubmitDisallowedTypeWinsOverSize(t *testing.T) {
	for _, size := range []int{10, maxUpload + 10, 3 * maxUpload} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			s := newTestServer(t)
			rec := s.submit(t, "/submit", "alice", "payload.exe", bytes.Repeat([]byte{0x42}, size))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, common.CodeInvalidFileType, errorCode(t, rec))
			assert.Equal(t, 0, s.storedFiles(t))
		})
	}
}

func TestSubmitUsernameAfterImage(t *testing.T) {
	s := newTestServer(t)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("image", "m.png")
	require.NoError(t, err)
	_, err = fw.Write(halvesPNG(t, true))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("username", " bob "))
	require.NoError(t, w.Close())

	rec := s.do(t, http.MethodPost, "/submit", &buf, w.FormDataContentType(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.SubmitResult
	decode(t, rec, &res)
	assert.Equal(t, "bob", res.Submission.Username)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	rec := s.do(t, http.MethodPost, "/register",
		jsonBody(t, map[string]string{"username": "alice", "email": "other@example.com", "password": "x"}), "application/json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, common.CodeUserExists, errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"username": "alice", "password": "wrong"}), "application/json", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, common.CodeInvalidCredentials, errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/login", bytes.NewBufferString("{not json"), "application/json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, common.CodeInvalidPayload, errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/profile", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var account model.Account
	decode(t, rec, &account)
	assert.Equal(t, "alice", account.Username)
	assert.Equal(t, "alice@example.com", account.Email)

	rec = s.do(t, http.MethodGet, "/profile", nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, common.CodeTokenRequired, errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/profile", nil, "", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, common.CodeInvalidToken, errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/api/leaderboard/me", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rank model.UserRank
	decode(t, rec, &rank)
	assert.Equal(t, "alice", rank.Username)
	assert.Equal(t, 1, rank.Rank)
}

func TestAccountEndpoints(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	require.Equal(t, http.StatusOK, s.submit(t, "/submit", "alice", "a.png", halvesPNG(t, true)).Code)

	rec := s.do(t, http.MethodGet, "/api/balance", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"coins":10,"kills":1}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/transactions?limit=5", nil, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var txns []model.Transaction
	decode(t, rec, &txns)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionEarned, txns[0].Type)
	assert.Equal(t, 10, txns[0].Amount)

	rec = s.do(t, http.MethodGet, "/api/balance", nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImageUploadAndOwnership(t *testing.T) {
	s := newTestServer(t)
	alice := s.registerAndLogin(t, "alice")
	bob := s.registerAndLogin(t, "bob")

	body, ct := multipartBody(t, "", "pending.png", halvesPNG(t, true))
	rec := s.do(t, http.MethodPost, "/api/images/upload", body, ct, alice)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var up service.UploadResult
	decode(t, rec, &up)
	require.NotNil(t, up.Image)
	assert.Equal(t, model.StatusPending, up.Image.Status)
	assert.Equal(t, "alice", up.Image.Username)
	path := "/api/images/" + strconv.FormatInt(up.Image.ID, 10)

	rec = s.do(t, http.MethodGet, "/api/images/my-uploads", nil, "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	var subs []model.Submission
	decode(t, rec, &subs)
	assert.Len(t, subs, 1)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, nil, "", alice).Code)

	rec = s.do(t, http.MethodGet, path, nil, "", bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, common.CodeForbidden, errorCode(t, rec))

	for _, missing := range []string{"/api/images/999", "/api/images/abc"} {
		rec = s.do(t, http.MethodGet, missing, nil, "", alice)
		assert.Equal(t, http.StatusNotFound, rec.Code, missing)
		assert.Equal(t, common.CodeImageNotFound, errorCode(t, rec))
	}

	body, ct = multipartBody(t, "", "pending.png", halvesPNG(t, true))
	rec = s.do(t, http.MethodPost, "/api/images/upload", body, ct, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/health", nil, "", "")

	rec := s.do(t, http.MethodGet, "/metrics", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.True(t, strings.Contains(out, `http_requests_total{method="GET",path="/health",status="200"} 1`), out)
}
