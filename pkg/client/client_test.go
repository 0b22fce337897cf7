package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/events"
	"github.com/camtune/camtune/pkg/metric"
)

// serveUnix serves h on a unix socket and returns a client for it.
func serveUnix(t *testing.T, h http.Handler) *Client {
	t.Helper()

	// Socket paths are length-limited, so stay out of the long test dirs.
	dir, err := os.MkdirTemp("", "camtune")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "d.sock")

	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)

	return NewClient(sock)
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetVersion()
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestSendErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calibration/result", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `"no calibration result yet"`)
	})
	mux.HandleFunc("/calibration/abort", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `"no calibration in progress"`)
	})
	mux.HandleFunc("/config/pixel-stride", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `"pixel stride must be at least 1"`)
	})
	c := serveUnix(t, mux)

	_, err := c.GetCalibrationResult()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "no calibration result yet")

	_, err = c.AbortCalibration()
	assert.ErrorIs(t, err, ErrConflict)

	_, err = c.SetPixelStride(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 400: pixel stride must be at least 1")

	_, err = c.Send("DELETE", "/config", "")
	assert.Error(t, err)
}

func TestRequests(t *testing.T) {
	type call struct {
		method, path, query, body string
	}
	var got []call

	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mux := http.NewServeMux()
	record := func(w http.ResponseWriter, r *http.Request, status int, resp any) {
		b, _ := io.ReadAll(r.Body)
		got = append(got, call{r.Method, r.URL.Path, r.URL.RawQuery, string(b)})
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
	mux.HandleFunc("/config/metric", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, http.StatusCreated, "metric set to saturation")
	})
	mux.HandleFunc("/config/green-channel-only", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, http.StatusCreated, "ok")
	})
	mux.HandleFunc("/channels/sensitivity/position", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, http.StatusCreated, 3250.0)
	})
	mux.HandleFunc("/schedule", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, http.StatusCreated, map[string]any{"expr": "@every 1h", "nextRuns": []time.Time{next}})
	})
	mux.HandleFunc("/schedule/postpone", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, http.StatusCreated, next)
	})
	mux.HandleFunc("/telemetry", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, http.StatusOK, map[string]any{"preview": map[string]any{"metric": "dispersion", "score": 42.5}})
	})
	mux.HandleFunc("/calibration/start", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, http.StatusCreated, calibration.Status{Phase: calibration.PhaseSearching, Calibrating: true, RunID: "r1"})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		record(w, r, http.StatusOK, "v1.2.3")
	})
	c := serveUnix(t, mux)

	msg, err := c.SetMetric(metric.KindSaturation)
	require.NoError(t, err)
	assert.Equal(t, "metric set to saturation", msg)

	_, err = c.SetGreenChannelOnly(false)
	require.NoError(t, err)

	v, err := c.SetChannelPosition(device.Sensitivity, 50)
	require.NoError(t, err)
	assert.Equal(t, 3250.0, v)

	sr, err := c.Schedule("@every 1h")
	require.NoError(t, err)
	assert.Equal(t, "@every 1h", sr.Expr)
	require.Len(t, sr.NextRuns, 1)
	assert.True(t, next.Equal(sr.NextRuns[0]))

	at, err := c.Postpone(10 * time.Minute)
	require.NoError(t, err)
	assert.True(t, next.Equal(at))

	tel, err := c.GetTelemetry(true, false)
	require.NoError(t, err)
	require.NotNil(t, tel.Preview)
	assert.Equal(t, 42.5, tel.Preview.Score)
	assert.Nil(t, tel.Calibration)

	st, err := c.StartCalibration()
	require.NoError(t, err)
	assert.True(t, st.Calibrating)
	assert.Equal(t, "r1", st.RunID)

	ver, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", ver)

	assert.Equal(t, []call{
		{"PUT", "/config/metric", "", `"saturation"`},
		{"PUT", "/config/green-channel-only", "", "false"},
		{"PUT", "/channels/sensitivity/position", "", "50"},
		{"PUT", "/schedule", "", `"@every 1h"`},
		{"POST", "/schedule/postpone", "", `"10m0s"`},
		{"GET", "/telemetry", "calibration=0", ""},
		{"POST", "/calibration/start", "", ""},
		{"GET", "/version", "", ""},
	}, got)
}

func TestSubscribeEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("events") != "calibration,preview" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": comment\n\n")
		fmt.Fprint(w, "event:calibration.action\ndata:{\"action\":\"start\"}\n\n")
		fmt.Fprint(w, "event: preview.score\ndata: {\"score\":1}\n\n")
	})
	c := serveUnix(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := c.SubscribeEvents(ctx, "calibration", "preview")
	require.NoError(t, err)

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, events.CalibrationAction, got[0].Name)
	assert.JSONEq(t, `{"action":"start"}`, string(got[0].Data))
	assert.Equal(t, events.PreviewScore, got[1].Name)
	assert.JSONEq(t, `{"score":1}`, string(got[1].Data))
}

func TestReadEventsMultilineData(t *testing.T) {
	ch := make(chan events.Event, 4)
	readEvents(context.Background(), strings.NewReader("event:x\ndata:[1,\ndata:2]\n\nevent:y\n\n"), ch)
	close(ch)

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 1, "events without data are dropped")
	assert.Equal(t, "x", got[0].Name)
	assert.Equal(t, "[1,\n2]", string(got[0].Data))
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "ok", unquote(`"ok"`))
	assert.Equal(t, "42", unquote("42\n"))
}
