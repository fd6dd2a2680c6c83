package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breeze-device/breeze"
)

type nopBle struct{}

func (nopBle) AdvStart(payload []byte) error                   { return nil }
func (nopBle) AdvStop() error                                  { return nil }
func (nopBle) Notify(data []byte) error                        { return nil }
func (nopBle) Indicate(data []byte) error                      { return nil }
func (nopBle) Disconnect(reason breeze.DisconnectReason) error { return nil }
func (nopBle) Mac() ([6]byte, error)                           { return [6]byte{1, 2, 3, 4, 5, 6}, nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine, err := breeze.New(nopBle{}, nil, breeze.DeviceConfig{
		ProductID:     0x01020304,
		Secret:        []byte("SSSSSSSSSSSSSSSS"),
		Version:       "test",
		StatusChanged: func(breeze.EventType) {},
		SetCb:         func([]byte) {},
		GetCb:         func([]byte) {},
		ApInfoCb:      func([]byte) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return New(0, "9.9.9", engine)
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/version", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "9.9.9", body["version"])
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status breeze.EngineStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Connected)
	assert.Equal(t, "test", status.Version)
}

func TestHandleAdv(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/adv", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["payload"], "a801") // company ID leads the payload
}

func TestHandlePost(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(postRequest{Cmd: uint8(breeze.CmdStatus), Payload: "0102"})
	req := httptest.NewRequest("POST", "/api/post", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Empty payloads are rejected with a client error.
	body, _ = json.Marshal(postRequest{Cmd: uint8(breeze.CmdStatus)})
	req = httptest.NewRequest("POST", "/api/post", bytes.NewReader(body))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePostBadHex(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/post", bytes.NewReader([]byte(`{"cmd":1,"payload":"zz"}`)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
