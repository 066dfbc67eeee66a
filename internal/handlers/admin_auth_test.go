package handlers

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/config"
)

func TestSessionSigning(t *testing.T) {
	a := New(Deps{Cfg: config.Config{SecretKey: "k1"}, Log: zap.NewNop()}, nil, nil)
	exp := time.Now().Add(time.Hour).Unix()
	value := strconv.FormatInt(exp, 10) + "." + a.signSession(exp)

	assert.True(t, a.validSession(value))
	assert.False(t, a.validSession(""))
	assert.False(t, a.validSession("ok"))
	assert.False(t, a.validSession(strconv.FormatInt(exp+1, 10)+"."+a.signSession(exp)), "expiry is signed")

	past := time.Now().Add(-time.Minute).Unix()
	assert.False(t, a.validSession(strconv.FormatInt(past, 10)+"."+a.signSession(past)))

	other := New(Deps{Cfg: config.Config{SecretKey: "k2"}, Log: zap.NewNop()}, nil, nil)
	assert.False(t, other.validSession(value))
}

func TestNew_RandomSecretWhenUnset(t *testing.T) {
	a := New(Deps{Log: zap.NewNop()}, nil, nil)
	b := New(Deps{Log: zap.NewNop()}, nil, nil)
	assert.Len(t, a.secret, 32)
	assert.NotEqual(t, a.secret, b.secret)
}

func TestRequireAdmin(t *testing.T) {
	a := New(Deps{Cfg: config.Config{SecretKey: "k"}, Log: zap.NewNop()}, nil, nil)
	h := a.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/report?x=1", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/login?next=/admin/report?x=1", rec.Header().Get("Location"))

	exp := time.Now().Add(time.Hour).Unix()
	req := httptest.NewRequest(http.MethodGet, "/admin/report", nil)
	req.AddCookie(&http.Cookie{Name: adminCookieName, Value: strconv.FormatInt(exp, 10) + "." + a.signSession(exp)})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMakeFlash(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?ok=saved", nil)
	assert.Equal(t, &Flash{Kind: "ok", Text: "Client saved."}, MakeFlash(r, "", ""))

	r = httptest.NewRequest(http.MethodGet, "/?error=Something+odd", nil)
	assert.Equal(t, &Flash{Kind: "error", Text: "Something odd"}, MakeFlash(r, "", ""))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, MakeFlash(r, "", ""))
	assert.Equal(t, "fallback", MakeFlash(r, "fallback", "").Text)
}
