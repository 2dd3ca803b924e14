package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"UsefulTimer/internal/testutil"
	"UsefulTimer/model"
	"UsefulTimer/repository"
	"UsefulTimer/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssets(t *testing.T) (*repository.KVAssetRepository, *repository.Store) {
	t.Helper()
	store := repository.NewStore(storage.NewMemoryKV())
	return repository.NewKVAssetRepository(store, testutil.NewStubIDGenerator("asset"), testutil.FixedClock()), store
}

func TestSynthesizer_GenerateSilentAudio(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assets, _ := newAssets(t)
	synth := NewSynthesizer(assets, 0)
	require.Equal(t, DefaultSampleRate, synth.SampleRate())

	id, err := synth.GenerateSilentAudio(ctx, "bell")
	require.NoError(t, err)

	asset, err := assets.GetAudio(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, "bell_silent.wav", asset.Source)
	assert.Equal(t, "audio/wav", asset.ContentType)

	const rate = DefaultSampleRate
	require.Len(t, asset.Payload, 44+2*rate)
	assert.Equal(t, uint32(36+2*rate), binary.LittleEndian.Uint32(asset.Payload[4:8]))
	assert.Equal(t, uint32(2*rate), binary.LittleEndian.Uint32(asset.Payload[40:44]))
	assert.Equal(t, byte(1), asset.Payload[22])
	for _, b := range asset.Payload[44:] {
		if b != 0 {
			t.Fatal("silence contains non-zero samples")
		}
	}
}

func TestDownloader_DownloadFromURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bell.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("ID3bell"))
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	assets, _ := newAssets(t)
	d := NewDownloader(assets, NewHTTPFetcher(5*time.Second), 2)

	id, err := d.DownloadFromURL(ctx, srv.URL+"/bell.mp3")
	require.NoError(t, err)
	asset, err := assets.GetAudio(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3bell"), asset.Payload)
	assert.Equal(t, srv.URL+"/bell.mp3", asset.Source)
	assert.Equal(t, "audio/mpeg", asset.ContentType)

	_, err = d.DownloadFromURL(ctx, srv.URL+"/page.html")
	assert.NoError(t, err, "non-audio content is stored with a warning")

	_, err = d.DownloadFromURL(ctx, srv.URL+"/missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestDownloader_UploadFromFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assets, _ := newAssets(t)
	d := NewDownloader(assets, nil, 1)

	id, err := d.UploadFromFile(ctx, "/tmp/sounds/bell.wav", "audio/wav", []byte("RIFF"))
	require.NoError(t, err)
	asset, err := assets.GetAudio(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "bell.wav", asset.Source)

	_, err = d.UploadFromFile(ctx, "notes.txt", "text/plain", []byte("hi"))
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)
	assert.ErrorIs(t, err, model.ErrValidation)
}

type stubFetcher struct {
	calls atomic.Int32
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (*FetchResult, error) {
	f.calls.Add(1)
	if url == "bad" {
		return nil, &StatusError{URL: url, StatusCode: http.StatusBadGateway}
	}
	return &FetchResult{Data: []byte(url), ContentType: "audio/wav"}, nil
}

func TestDownloader_DownloadMultipleContinuesPastFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assets, _ := newAssets(t)
	fetcher := &stubFetcher{}
	d := NewDownloader(assets, fetcher, 3)

	results := d.DownloadMultiple(ctx, []string{"a", "bad", "c", "d"})
	require.Len(t, results, 4)
	assert.Equal(t, int32(4), fetcher.calls.Load())

	for i, url := range []string{"a", "bad", "c", "d"} {
		assert.Equal(t, url, results[i].URL)
	}
	assert.Error(t, results[1].Err)
	assert.Empty(t, results[1].ID)
	for _, i := range []int{0, 2, 3} {
		require.NoError(t, results[i].Err)
		asset, err := assets.GetAudio(ctx, results[i].ID)
		require.NoError(t, err)
		assert.Equal(t, []byte(results[i].URL), asset.Payload)
	}
	assert.Len(t, assets.GetAllIDs(ctx), 3)
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assets, _ := newAssets(t)
	synth := NewSynthesizer(assets, 8000)
	id, err := synth.GenerateSilentAudio(ctx, "tick")
	require.NoError(t, err)

	r := NewResolver(assets)
	obj := model.NewAudioObj(model.NewAudioObjTemplate("tick", id, ""))
	obj.CurrentTime = 0.25

	h, err := r.Resolve(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, id, h.AssetID)
	assert.Equal(t, "audio/wav", h.ContentType)
	assert.Equal(t, time.Second, h.Duration)
	assert.Equal(t, 0.25, h.StartAt)

	// 缓存命中时仍然返回独立的 handle
	again, err := r.Resolve(ctx, model.NewAudioObj(obj.Template))
	require.NoError(t, err)
	assert.Zero(t, again.StartAt)
	assert.Equal(t, 0.25, h.StartAt)
}

func TestResolver_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assets, store := newAssets(t)
	r := NewResolver(assets)

	_, err := r.Resolve(ctx, model.EmptyAudioObj())
	assert.ErrorIs(t, err, ErrUnresolved)

	_, err = r.Resolve(ctx, model.NewAudioObj(model.NewAudioObjTemplate("gone", "deleted-id", "")))
	assert.ErrorIs(t, err, ErrAssetMissing)
	var rerr *ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "deleted-id", rerr.AudioID)

	require.NoError(t, store.Update(ctx, repository.KeyAssets, func(items map[string]json.RawMessage) (bool, error) {
		items["broken"] = json.RawMessage(`{"base64Data":"%%%","downloadUrl":"x","createdAt":1}`)
		return true, nil
	}))
	_, err = r.Resolve(ctx, model.NewAudioObj(model.NewAudioObjTemplate("broken", "broken", "")))
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, model.ErrValidation)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Resolve(cancelled, model.NewAudioObj(model.NewAudioObjTemplate("x", "any", "")))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResolver_PreloadAndForget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assets, _ := newAssets(t)
	id, err := assets.SaveAudio(ctx, []byte("ID3"), "a.mp3", "audio/mpeg")
	require.NoError(t, err)

	r := NewResolver(assets)
	assert.False(t, r.Preload(ctx, ""))
	assert.False(t, r.Preload(ctx, "missing"))
	assert.True(t, r.Preload(ctx, id))

	// 删除后缓存仍可用，Forget 之后才会失效
	_, err = assets.DeleteAudio(ctx, id)
	require.NoError(t, err)
	obj := model.NewAudioObj(model.NewAudioObjTemplate("a", id, ""))
	_, err = r.Resolve(ctx, obj)
	require.NoError(t, err)

	r.Forget(id)
	_, err = r.Resolve(ctx, obj)
	assert.ErrorIs(t, err, ErrAssetMissing)
}

func TestResolver_PreloadTimer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assets, _ := newAssets(t)
	id, err := assets.SaveAudio(ctx, []byte("ID3"), "a.mp3", "audio/mpeg")
	require.NoError(t, err)

	tm := model.NewTimerWith("t", 10, testutil.FixedClock(), testutil.NewStubIDGenerator("p"))
	obj := model.NewAudioObj(model.NewAudioObjTemplate("a", id, ""))
	require.NoError(t, tm.AddReportTime(tm.NewPoint("one", 1, obj, nil, nil)))
	require.NoError(t, tm.AddReportTime(tm.NewPoint("two", 2, obj, nil, nil)))
	require.NoError(t, tm.AddReportTime(tm.NewPoint("none", 3, model.EmptyAudioObj(), nil, nil)))

	assert.Equal(t, 1, NewResolver(assets).PreloadTimer(ctx, tm))
}
