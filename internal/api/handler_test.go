package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"faculty-status-backend/config"
	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/portal"
	"faculty-status-backend/internal/realtime"
	"faculty-status-backend/internal/watch"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePortal struct {
	result *portal.Result
	err    error
}

func (f *fakePortal) Login(_ context.Context, req portal.Request) (*portal.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.result, f.err
}

// brokenCounterStore fails every transaction.
type brokenCounterStore struct {
	*realtime.MemoryStore
}

func (brokenCounterStore) Transaction(context.Context, string, realtime.UpdateFunc) error {
	return realtime.ErrTooManyRetries
}

var dsnName = strings.NewReplacer("/", "_", " ", "_")

type testEnv struct {
	store    *realtime.MemoryStore
	cache    *facultycache.Cache
	sessions *watch.Registry
	db       *gorm.DB
	portal   *fakePortal
	router   *gin.Engine
	cleanup  []func()
}

type envOption func(*testEnv, *Deps)

func withoutCache() envOption {
	return func(e *testEnv, d *Deps) {
		e.cache.Close()
		d.Cache = facultycache.New()
	}
}

func withBrokenCounters() envOption {
	return func(e *testEnv, d *Deps) {
		d.Sessions = watch.NewRegistry(brokenCounterStore{e.store}, d.Cache, nil, time.Hour)
	}
}

func withWebPush() envOption {
	return func(e *testEnv, d *Deps) {
		d.WebPush = &webpush.Options{VAPIDPublicKey: "public-key"}
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	e := &testEnv{
		store:  realtime.NewMemoryStore(),
		cache:  facultycache.New(),
		portal: &fakePortal{},
	}
	require.NoError(t, e.cache.Start(e.store))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", dsnName.Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.PushSubscription{}))
	e.db = db

	d := Deps{DB: db, Cache: e.cache, Portal: e.portal}
	d.Sessions = watch.NewRegistry(e.store, e.cache, nil, time.Hour)
	for _, opt := range opts {
		opt(e, &d)
	}
	e.sessions = d.Sessions
	e.cache = d.Cache

	e.router = NewRouter(NewHandler(d), config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000})
	t.Cleanup(func() {
		e.sessions.Close()
		for _, fn := range e.cleanup {
			fn()
		}
		e.cache.Close()
		e.store.Close()
		sqlDB.Close()
	})
	return e
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.Set(ctx, "facultyConfig", map[string]string{
		"SJT-101": "Ada Lovelace",
		"SJT-102": "Alan Turing",
		"TT-201":  "Grace Hopper",
	}))
	require.NoError(t, e.store.Set(ctx, "faculty", map[string]model.FacultyStatus{
		"SJT-101": {Status: model.StatusAvailable, UpdatedAt: "t1"},
		"SJT-102": {Status: model.StatusBusy, UpdatedAt: "t2"},
	}))
	assert.Eventually(t, func() bool {
		v := e.cache.View()
		return !v.Loading && len(v.Names) == 3 && len(v.Statuses) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestVTOPLogin(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		result   *portal.Result
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "missing password",
			body:     `{"username":"u"}`,
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Username and password are required"}`,
		},
		{
			name:     "malformed body",
			body:     `{`,
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Username and password are required"}`,
		},
		{
			name:     "credentials refused",
			body:     `{"username":"u","password":"p"}`,
			err:      &portal.AuthError{Message: "Login failed after 3 attempts", Details: "captcha"},
			wantCode: http.StatusUnauthorized,
			wantBody: `{"error":"Login failed after 3 attempts","details":"captcha"}`,
		},
		{
			name:     "fetcher failed",
			body:     `{"username":"u","password":"p"}`,
			err:      &portal.TransportError{Message: "Failed to execute VTOP fetcher", Details: "No semesters found"},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"Failed to execute VTOP fetcher","details":"No semesters found"}`,
		},
		{
			name:     "remote answer passed through",
			body:     `{"username":"u","password":"p"}`,
			err:      &portal.StatusError{StatusCode: http.StatusBadGateway, Body: []byte(`{"error":"upstream down"}`)},
			wantCode: http.StatusBadGateway,
			wantBody: `{"error":"upstream down"}`,
		},
		{
			name:     "no fetcher configured",
			body:     `{"username":"u","password":"p"}`,
			err:      portal.ErrDisabled,
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"error":"VTOP fetcher is not configured"}`,
		},
		{
			name: "success",
			body: `{"username":"u","password":"p","semesterId":"WIN"}`,
			result: &portal.Result{
				Success:   true,
				Faculty:   []model.Faculty{{CabinID: "SJT-101", Name: "Ada"}},
				Semesters: []model.Semester{{ID: "WIN", Name: "Winter"}},
			},
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"faculty":[{"cabinId":"SJT-101","name":"Ada"}],"semesters":[{"id":"WIN","name":"Winter"}]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.portal.result, e.portal.err = tc.result, tc.err

			w := e.do(http.MethodPost, "/api/vtop-login", tc.body)
			assert.Equal(t, tc.wantCode, w.Code)
			assert.JSONEq(t, tc.wantBody, w.Body.String())
		})
	}
}

func TestGetFaculty_LoadingUntilCacheIsReady(t *testing.T) {
	e := newTestEnv(t, withoutCache())

	w := e.do(http.MethodGet, "/api/faculty", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"loading"}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/faculty/SJT-101", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetFaculty(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	testCases := []struct {
		name     string
		query    string
		wantCode int
		wantIDs  []string
	}{
		{"all", "", http.StatusOK, []string{"SJT-101", "SJT-102", "TT-201"}},
		{"available", "?status=available", http.StatusOK, []string{"SJT-101"}},
		{"unknown", "?status=UNKNOWN", http.StatusOK, []string{"TT-201"}},
		{"search", "?q=turing", http.StatusOK, []string{"SJT-102"}},
		{"bad filter", "?status=away", http.StatusBadRequest, nil},
		{"bad page", "?page=zero", http.StatusBadRequest, nil},
		{"my tab needs a session", "?tab=MY", http.StatusBadRequest, nil},
		{"unknown session", "?session=nope", http.StatusNotFound, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(http.MethodGet, "/api/faculty"+tc.query, nil)
			require.Equal(t, tc.wantCode, w.Code, w.Body.String())
			if tc.wantCode != http.StatusOK {
				return
			}
			var page struct {
				Cards []struct {
					CabinID string `json:"cabinId"`
				} `json:"cards"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
			var ids []string
			for _, c := range page.Cards {
				ids = append(ids, c.CabinID)
			}
			assert.Equal(t, tc.wantIDs, ids)
		})
	}
}

func TestGetFacultyCard(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(http.MethodGet, "/api/faculty/SJT-102", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cabinId":"SJT-102","name":"Alan Turing","status":"BUSY","updatedAt":"t2","waitCount":0,"subscribed":false}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/faculty/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetFacultyCard_CachedCardFollowsFulfilledSubscription(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	h := NewHandler(Deps{Cache: e.cache, Sessions: e.sessions, Portal: e.portal})
	r := NewRouter(h, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTL: time.Minute})

	var current atomic.Pointer[watch.Session]
	var mu sync.Mutex
	var subscribedAtPurge []bool
	purge := h.purge
	h.purge = func() {
		if s := current.Load(); s != nil {
			mu.Lock()
			subscribedAtPurge = append(subscribedAtPurge, s.IsSubscribed("SJT-102"))
			mu.Unlock()
		}
		purge()
	}

	type card struct {
		Status     model.Status `json:"status"`
		WaitCount  int          `json:"waitCount"`
		Subscribed bool         `json:"subscribed"`
	}
	s := e.sessions.Create()
	current.Store(s)
	getCard := func() card {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/faculty/SJT-102?session="+s.ID(), nil)
		r.ServeHTTP(w, req)
		var c card
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
		return c
	}

	require.True(t, s.Subscribe(context.Background(), "SJT-102"))
	assert.Eventually(t, func() bool {
		c := getCard()
		return c.WaitCount == 1 && c.Subscribed
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.store.Set(context.Background(), "faculty/SJT-102", model.FacultyStatus{Status: model.StatusAvailable, UpdatedAt: "t3"}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, subscribed := range subscribedAtPurge {
			if !subscribed {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	c := getCard()
	assert.Equal(t, model.StatusAvailable, c.Status)
	assert.False(t, c.Subscribed)
}

func TestSessionSubscriptionFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	id := e.createSession(t)

	w := e.do(http.MethodPost, "/api/sessions/"+id+"/subscriptions", gin.H{"cabinId": "SJT-102"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"cabinId":"SJT-102","subscribed":true}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/sessions/"+id+"/subscriptions", nil)
	assert.JSONEq(t, `{"subscriptions":["SJT-102"]}`, w.Body.String())

	assert.Eventually(t, func() bool {
		w := e.do(http.MethodGet, "/api/faculty/SJT-102?session="+id, nil)
		var card struct {
			WaitCount  int  `json:"waitCount"`
			Subscribed bool `json:"subscribed"`
		}
		return json.Unmarshal(w.Body.Bytes(), &card) == nil && card.WaitCount == 1 && card.Subscribed
	}, 2*time.Second, 10*time.Millisecond)

	w = e.do(http.MethodPost, "/api/sessions/"+id+"/subscriptions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(http.MethodGet, "/api/sessions/"+id+"/subscriptions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostSubscription_StoreFailure(t *testing.T) {
	e := newTestEnv(t, withBrokenCounters())
	id := e.createSession(t)

	w := e.do(http.MethodPost, "/api/sessions/"+id+"/subscriptions", gin.H{"cabinId": "SJT-102"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = e.do(http.MethodGet, "/api/sessions/"+id+"/subscriptions", nil)
	assert.JSONEq(t, `{"subscriptions":[]}`, w.Body.String())
}

func TestPutFaculty_MyTab(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	id := e.createSession(t)

	w := e.do(http.MethodPut, "/api/sessions/"+id+"/faculty", gin.H{"faculty": []model.Faculty{
		{CabinID: "TT-201", Name: "Grace Hopper"},
		{CabinID: "UNKNOWN-Edsger-Dijkstra", Name: "Edsger Dijkstra"},
	}})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(http.MethodGet, "/api/faculty?tab=MY&session="+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"cards":[
			{"cabinId":"TT-201","name":"Grace Hopper","waitCount":0,"subscribed":false},
			{"cabinId":"UNKNOWN-Edsger-Dijkstra","name":"Edsger Dijkstra","waitCount":0,"subscribed":false}
		],
		"page":1,"totalPages":1,"total":2
	}`, w.Body.String())

	w = e.do(http.MethodPut, "/api/sessions/"+id+"/faculty", gin.H{"faculty": []model.Faculty{{Name: "No Cabin"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPushSubscriptions(t *testing.T) {
	e := newTestEnv(t, withWebPush())
	id := e.createSession(t)

	w := e.do(http.MethodGet, "/api/vapid_public_key", nil)
	assert.JSONEq(t, `{"public_key":"public-key"}`, w.Body.String())

	w = e.do(http.MethodPut, "/api/sessions/"+id+"/push", gin.H{"endpoint": "https://push/1", "p256dh": "k", "auth": "a"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = e.do(http.MethodPut, "/api/sessions/"+id+"/push", gin.H{"endpoint": "https://push/1", "p256dh": "k2", "auth": "a2"})
	require.Equal(t, http.StatusCreated, w.Code)

	var subs []model.PushSubscription
	require.NoError(t, e.db.Find(&subs).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, id, subs[0].SessionID)
	assert.Equal(t, "k2", subs[0].P256DH)

	w = e.do(http.MethodPut, "/api/sessions/"+id+"/push", gin.H{"endpoint": "https://push/2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodDelete, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	var count int64
	require.NoError(t, e.db.Model(&model.PushSubscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPushSubscriptions_NotConfigured(t *testing.T) {
	e := newTestEnv(t)
	id := e.createSession(t)

	w := e.do(http.MethodGet, "/api/vapid_public_key", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = e.do(http.MethodPut, "/api/sessions/"+id+"/push", gin.H{"endpoint": "https://push/1", "p256dh": "k", "auth": "a"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
