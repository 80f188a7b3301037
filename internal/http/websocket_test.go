package http

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdash/internal/identity"
	"mockdash/internal/services"
)

func TestAmountsSocketPushesChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv.Handler)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	resp, err := client.Get(ts.URL + "/ui/load")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := resp.Header.Get(identity.SessionHeader)
	require.NotEmpty(t, session)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	header := http.Header{}
	for _, c := range jar.Cookies(base) {
		header.Add("Cookie", c.String())
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/amounts?" + identity.SessionParam + "=" + url.QueryEscape(session)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	read := func() services.AmountsView {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var view services.AmountsView
		require.NoError(t, json.Unmarshal(data, &view))
		return view
	}

	first := read()
	assert.Equal(t, "2,568", first.Airtime)
	assert.Equal(t, "4,667", first.Commission)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/amounts/refresh", nil)
	require.NoError(t, err)
	req.Header.Set(identity.SessionHeader, session)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	second := read()
	assert.Equal(t, "2,668", second.Airtime)
	assert.Equal(t, "4,767", second.Commission)
	assert.False(t, second.Masked)
}

func TestAmountsSocketRejectsPlainRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.tab(t).do(http.MethodGet, "/ws/amounts")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
