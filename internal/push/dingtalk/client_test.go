package dingtalk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushSignsAndSendsText(t *testing.T) {
	var query url.Values
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/robot/send?access_token=abc", "SEC", time.Second)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	require.NoError(t, c.Push(context.Background(), "ignored", "📈 台股追蹤"))
	assert.Equal(t, "abc", query.Get("access_token"))
	assert.Equal(t, "1700000000000", query.Get("timestamp"))
	assert.Equal(t, sign("1700000000000\nSEC", "SEC"), query.Get("sign"))
	assert.Equal(t, "text", body["msgtype"])
	assert.Equal(t, "📈 台股追蹤", body["text"].(map[string]any)["content"])
}

func TestPushErrCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":310000,"errmsg":"sign not match"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", time.Second).Push(context.Background(), "", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "310000")
}

func TestEmptyWebhook(t *testing.T) {
	c := NewClient("", "", 0)
	assert.False(t, c.Enabled())
	assert.Error(t, c.Push(context.Background(), "", "x"))
	assert.Equal(t, "dingtalk", c.Name())
}
