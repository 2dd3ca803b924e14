package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"UsefulTimer/config"
	"UsefulTimer/core/audio"
	"UsefulTimer/core/notify"
	"UsefulTimer/core/playback"
	"UsefulTimer/model"
	"UsefulTimer/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(backend string) *config.Config {
	return &config.Config{
		StoreBackend: backend,
		SampleRate:   8000,
		TickInterval: 5 * time.Millisecond,
		MissingAudio: config.MissingAudioSkip,
		FetchTimeout: time.Second,
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(config.BackendMemory))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func saveTimer(t *testing.T, a *App, cycle float64, mode model.Mode, offsets ...float64) *model.Timer {
	t.Helper()
	tm := model.NewTimer("test", cycle)
	require.NoError(t, tm.SetMode(mode))
	for _, off := range offsets {
		require.NoError(t, tm.AddReportTime(tm.NewPoint("", off, model.EmptyAudioObj(), nil, nil)))
	}
	require.NoError(t, a.Data.Timers.SaveTimer(context.Background(), tm))
	return tm
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig("sqlite")
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig(config.BackendMemory)
	cfg.MissingAudio = "loud"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestScheduler_RunsOnceTimerToCompletion(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	tm := saveTimer(t, a, 0.05, model.ModeOnce, 0, 0.02)

	fires := make(chan playback.Event, 8)
	a.Scheduler.AddObserver(func(e playback.Event) {
		if e.Type == playback.EventFire {
			fires <- e
		}
	})

	status, err := a.Scheduler.Start(context.Background(), tm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, status.State)
	assert.Len(t, a.Scheduler.Active(), 1)

	require.Eventually(t, func() bool { return len(a.Scheduler.Active()) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, fires, 2)

	status, err = a.Scheduler.Status(context.Background(), tm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, status.State)
}

func TestScheduler_PauseResumeStop(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	tm := saveTimer(t, a, 60, model.ModeInfinite)
	ctx := context.Background()

	_, err := a.Scheduler.Pause(tm.ID)
	assert.ErrorIs(t, err, playback.ErrInvalidTransition)

	_, err = a.Scheduler.Start(ctx, tm.ID)
	require.NoError(t, err)
	_, err = a.Scheduler.Start(ctx, tm.ID)
	assert.ErrorIs(t, err, playback.ErrInvalidTransition)

	status, err := a.Scheduler.Pause(tm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePaused, status.State)

	status, err = a.Scheduler.Start(ctx, tm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, status.State)

	status, err = a.Scheduler.Stop(tm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, status.State)
	assert.Empty(t, a.Scheduler.Active())

	_, err = a.Scheduler.Stop(tm.ID)
	assert.ErrorIs(t, err, playback.ErrInvalidTransition)
}

func TestScheduler_UnknownTimer(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)

	_, err := a.Scheduler.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = a.Scheduler.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestScheduler_StopAll(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tm := saveTimer(t, a, 60, model.ModeInfinite)
		_, err := a.Scheduler.Start(ctx, tm.ID)
		require.NoError(t, err)
	}
	require.Len(t, a.Scheduler.Active(), 3)

	a.Scheduler.StopAll()
	assert.Empty(t, a.Scheduler.Active())
}

func TestApp_FileBackendPersistsAndWatches(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store", "data.json")
	cfg := testConfig(config.BackendFile)
	cfg.StoreFile = path
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Ping(ctx))

	id, err := a.Synth.GenerateSilentAudio(ctx, "beep")
	require.NoError(t, err)

	client := notify.NewClient(a.Hub, nil, "")
	a.Hub.Register(client)

	// 模拟其他进程直接改写存储文件
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var values map[string]string
	require.NoError(t, json.Unmarshal(raw, &values))
	values[repository.KeyAppConfig] = `{"version":2,"items":{"theme":"dark"}}`
	edited, err := json.Marshal(values)
	require.NoError(t, err)
	tmp := path + ".edit"
	require.NoError(t, os.WriteFile(tmp, edited, 0o644))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case data := <-client.Send:
		var msg notify.WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, notify.MsgTypeStoreChanged, msg.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("no store_changed message")
	}
	assert.Equal(t, "dark", a.Data.Config.GetAppConfig(ctx)["theme"])

	require.NoError(t, a.Close())
	reopened, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	asset, err := reopened.Data.Assets.GetAudio(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, "audio/wav", asset.ContentType)
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string) (*audio.FetchResult, error) {
	return nil, errors.New("offline")
}

func TestWithFetcher(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(config.BackendMemory), WithFetcher(failingFetcher{}))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = a.Downloader.DownloadFromURL(context.Background(), "http://example.invalid/a.mp3")
	assert.ErrorContains(t, err, "offline")
	assert.Empty(t, a.Data.Assets.GetAllIDs(context.Background()))
}

func TestAudioURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/api/assets/a%2Fb", AudioURL("a/b"))
}
