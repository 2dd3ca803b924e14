package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"UsefulTimer/core/codec"
	"UsefulTimer/internal/testutil"
	"UsefulTimer/model"
	"UsefulTimer/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

// brokenKV 所有操作都失败
type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, bool, error) { return "", false, errBackend }
func (brokenKV) Set(context.Context, string, string) error         { return errBackend }
func (brokenKV) Delete(context.Context, string) error              { return errBackend }

type fixture struct {
	kv    *storage.MemoryKV
	clock *testutil.StubClock
	dm    *DataManager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	clock := testutil.FixedClock()
	return fixture{
		kv:    kv,
		clock: clock,
		dm:    NewDataManager(NewStore(kv), testutil.NewStubIDGenerator("a"), clock),
	}
}

func TestAssetRepository_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	repo := f.dm.Assets

	payloads := [][]byte{{0}, {0xff, 0x00, 0x10}, []byte("RIFF....WAVEfmt ")}
	for _, p := range payloads {
		id, err := repo.SaveAudio(ctx, p, "https://example.com/bell.wav", "audio/wav")
		require.NoError(t, err)

		got, err := repo.GetAudio(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p, got.Payload)
		assert.Equal(t, "https://example.com/bell.wav", got.Source)
		assert.Equal(t, "audio/wav", got.ContentType)
		assert.Equal(t, f.clock.Now().UnixMilli(), got.CreatedAt.UnixMilli())
	}
	assert.Len(t, repo.GetAllIDs(ctx), len(payloads), "saves merge instead of replacing")
}

func TestAssetRepository_RejectsEmptyPayload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.dm.Assets.SaveAudio(context.Background(), nil, "x", "audio/wav")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAssetRepository_GetMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	got, err := f.dm.Assets.GetAudio(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAssetRepository_DeleteTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.dm.Assets.SaveAudio(ctx, []byte{1, 2, 3}, "a.wav", "audio/wav")
	require.NoError(t, err)

	ok, err := f.dm.Assets.DeleteAudio(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.dm.Assets.DeleteAudio(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssetRepository_StatsAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	repo := f.dm.Assets

	_, err := repo.SaveAudio(ctx, []byte{1, 2, 3}, "a", "")
	require.NoError(t, err)
	_, err = repo.SaveAudio(ctx, []byte{1, 2, 3, 4}, "b", "")
	require.NoError(t, err)

	stats := repo.GetStats(ctx)
	assert.Equal(t, 2, stats.Count)
	// 3 字节 → 4 个字符，4 字节 → 8 个字符
	assert.Equal(t, 12, stats.TotalEncodedSize)
	assert.Equal(t, []string{"a-1", "a-2"}, repo.GetAllIDs(ctx))

	require.NoError(t, repo.ClearAll(ctx))
	assert.Empty(t, repo.GetAllIDs(ctx))
	assert.Equal(t, AssetStats{}, repo.GetStats(ctx))
}

func TestAssetRepository_RegeneratesCollidingID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewStore(storage.NewMemoryKV())
	require.NoError(t, store.Replace(ctx, KeyAssets, map[string]json.RawMessage{
		"a-1": json.RawMessage(`{"base64Data":"AQ==","downloadUrl":"old","createdAt":1}`),
	}))
	repo := NewKVAssetRepository(store, testutil.NewStubIDGenerator("a"), testutil.FixedClock())

	id, err := repo.SaveAudio(ctx, []byte{2}, "new", "")
	require.NoError(t, err)
	assert.Equal(t, "a-2", id)

	old, err := repo.GetAudio(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "old", old.Source)
}

func TestAssetRepository_LegacyRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	wav, err := codec.EncodeWAV(codec.Silence(8000, 10*time.Millisecond), 8000)
	require.NoError(t, err)

	legacy := map[string]model.AudioAssetRecord{
		"legacy-1": {Base64Data: "data:audio/mpeg;base64," + codec.EncodeBase64([]byte{9, 9}), DownloadURL: "x.mp3", CreatedAt: 1700000000000},
		"legacy-2": {Base64Data: codec.EncodeBase64(wav), DownloadURL: "y.wav", CreatedAt: 1700000000000},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, KeyAssets, string(raw)))

	repo := NewKVAssetRepository(NewStore(kv), testutil.NewStubIDGenerator("a"), testutil.FixedClock())
	first, err := repo.GetAudio(ctx, "legacy-1")
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, first.Payload)
	assert.Equal(t, "audio/mpeg", first.ContentType)

	second, err := repo.GetAudio(ctx, "legacy-2")
	require.NoError(t, err)
	assert.Equal(t, "audio/wave", second.ContentType)
}

func TestAssetRepository_StorageFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewKVAssetRepository(NewStore(brokenKV{}), testutil.NewStubIDGenerator("a"), testutil.FixedClock())

	_, err := repo.SaveAudio(ctx, []byte{1}, "a", "")
	assert.ErrorIs(t, err, errBackend, "mutations propagate")
	_, err = repo.DeleteAudio(ctx, "a-1")
	assert.ErrorIs(t, err, errBackend)
	assert.ErrorIs(t, repo.ClearAll(ctx), errBackend)

	assert.Equal(t, []string{}, repo.GetAllIDs(ctx), "listing degrades")
	assert.Equal(t, AssetStats{}, repo.GetStats(ctx))
}

func TestStore_MigratesLegacyNamespace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, KeyTemplates, `{"tpl-1":{"uuid":"tpl-1","name":"bell","audioId":"a-1","createdAt":1,"updatedAt":2}}`))
	store := NewStore(kv)

	items, err := store.Load(ctx, KeyTemplates)
	require.NoError(t, err)
	assert.Contains(t, items, "tpl-1")

	n, err := store.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	raw, _, err := kv.Get(ctx, KeyTemplates)
	require.NoError(t, err)
	var env struct {
		Version int                        `json:"version"`
		Items   map[string]json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, CurrentVersion, env.Version)
	assert.Contains(t, env.Items, "tpl-1")

	n, err = store.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already current")
}

func TestStore_CorruptNamespace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, KeyTimers, "[not an object"))
	store := NewStore(kv)

	_, err := store.Load(ctx, KeyTimers)
	assert.ErrorIs(t, err, ErrCorrupt)

	err = store.Update(ctx, KeyTimers, func(map[string]json.RawMessage) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, ErrCorrupt)
	raw, _, _ := kv.Get(ctx, KeyTimers)
	assert.Equal(t, "[not an object", raw, "corrupt data is not overwritten")
}

func TestTimerRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	repo := f.dm.Timers

	tm := model.NewTimerWith("pomodoro", 10, f.clock, testutil.NewStubIDGenerator("t"))
	require.NoError(t, tm.SetMode(model.ModeLoop))
	require.NoError(t, tm.AddReportTime(tm.NewPoint("bell", 5, model.EmptyAudioObj(), []string{"bell"}, []string{"work"})))

	f.clock.Advance(time.Minute)
	require.NoError(t, repo.SaveTimer(ctx, tm))
	assert.Equal(t, f.clock.Now(), tm.UpdatedAt, "save touches")

	got, err := repo.GetTimer(ctx, tm.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tm.ToRecord(), got.ToRecord())

	missing, err := repo.GetTimer(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := repo.DeleteTimer(ctx, tm.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.DeleteTimer(ctx, tm.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimerRepository_UpdateTimer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	repo := f.dm.Timers

	tm := model.NewTimerWith("pomodoro", 10, f.clock, testutil.NewStubIDGenerator("t"))
	require.NoError(t, repo.SaveTimer(ctx, tm))

	missing, err := repo.UpdateTimer(ctx, "nope", func(*model.Timer) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = repo.UpdateTimer(ctx, tm.ID, func(timer *model.Timer) error {
		timer.SetName("renamed")
		return timer.SetCycleTime(-1)
	})
	require.ErrorIs(t, err, model.ErrValidation)
	got, err := repo.GetTimer(ctx, tm.ID)
	require.NoError(t, err)
	assert.Equal(t, "pomodoro", got.Name, "a failed update writes nothing")

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.UpdateTimer(ctx, tm.ID, func(timer *model.Timer) error {
				return timer.AddReportTime(model.NewReportPoint(fmt.Sprintf("p%d", i), float64(i)/4, model.EmptyAudioObj(), nil, nil))
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err = repo.GetTimer(ctx, tm.ID)
	require.NoError(t, err)
	assert.Len(t, got.ReportTime, writers, "concurrent updates are not lost")
}

func TestTimerRepository_ListSortedByCreation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	ids := testutil.NewStubIDGenerator("t")

	var want []string
	for _, name := range []string{"first", "second", "third"} {
		tm := model.NewTimerWith(name, 5, f.clock, ids)
		require.NoError(t, f.dm.Timers.SaveTimer(ctx, tm))
		want = append(want, name)
		f.clock.Advance(time.Second)
	}

	var got []string
	for _, tm := range f.dm.Timers.ListTimers(ctx) {
		got = append(got, tm.Name)
	}
	assert.Equal(t, want, got)
}

func TestTimerRepository_CleanupDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	ids := testutil.NewStubIDGenerator("t")

	older := model.NewTimerWith("dup", 5, f.clock, ids)
	require.NoError(t, f.dm.Timers.SaveTimer(ctx, older))
	f.clock.Advance(time.Minute)
	newer := model.NewTimerWith("dup", 5, f.clock, ids)
	require.NoError(t, f.dm.Timers.SaveTimer(ctx, newer))
	single := model.NewTimerWith("single", 5, f.clock, ids)
	require.NoError(t, f.dm.Timers.SaveTimer(ctx, single))

	removed, err := f.dm.Timers.CleanupDuplicateTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	gone, err := f.dm.Timers.GetTimer(ctx, older.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := f.dm.Timers.GetTimer(ctx, newer.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	removed, err = f.dm.Timers.CleanupDuplicateTimers(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestTemplateRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	repo := f.dm.Templates

	tpl := model.NewAudioObjTemplate("bell", "a-1", "tpl-1")
	require.NoError(t, repo.SaveTemplate(ctx, &tpl))

	got, err := repo.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bell", got.Name)
	assert.Equal(t, "a-1", got.AudioID)
	assert.Len(t, repo.ListTemplates(ctx), 1)

	assert.ErrorIs(t, repo.SaveTemplate(ctx, &model.AudioObjTemplate{}), model.ErrValidation)

	ok, err := repo.DeleteTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.True(t, ok)
	missing, err := repo.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConfigRepository_Merges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	repo := f.dm.Config

	empty := repo.GetAppConfig(ctx)
	assert.Equal(t, map[string]any{"createdAt": f.clock.Now().UnixMilli()}, empty)

	require.NoError(t, repo.SaveAppConfig(ctx, map[string]any{"theme": "dark", "volume": 0.5}))
	f.clock.Advance(time.Second)
	require.NoError(t, repo.SaveAppConfig(ctx, map[string]any{"volume": 0.8}))

	cfg := repo.GetAppConfig(ctx)
	assert.Equal(t, "dark", cfg["theme"])
	assert.Equal(t, 0.8, cfg["volume"])
	assert.Equal(t, float64(f.clock.Now().UnixMilli()), cfg["updatedAt"])
	assert.Equal(t, float64(f.clock.Now().Add(-time.Second).UnixMilli()), cfg["createdAt"])
}

func TestDataManager_StatsExportImport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := newFixture(t)

	tm := model.NewTimerWith("pomodoro", 10, src.clock, testutil.NewStubIDGenerator("t"))
	require.NoError(t, src.dm.Timers.SaveTimer(ctx, tm))
	tpl := model.NewAudioObjTemplate("bell", "a-1", "tpl-1")
	require.NoError(t, src.dm.Templates.SaveTemplate(ctx, &tpl))
	require.NoError(t, src.dm.Config.SaveAppConfig(ctx, map[string]any{"theme": "dark"}))
	_, err := src.dm.Assets.SaveAudio(ctx, []byte{1, 2, 3}, "a.wav", "audio/wav")
	require.NoError(t, err)

	stats := src.dm.StorageStats(ctx)
	assert.Equal(t, 1, stats.Timers.Count)
	assert.Equal(t, 1, stats.AudioTemplates.Count)
	assert.Equal(t, 1, stats.Audio.Count)
	assert.Positive(t, stats.AppConfig.Size)
	assert.Equal(t, stats.Timers.Size+stats.AudioTemplates.Size+stats.AppConfig.Size+stats.Audio.Size, stats.TotalSize)

	exported, err := src.dm.ExportAllData(ctx, true)
	require.NoError(t, err)
	var parsed ExportData
	require.NoError(t, json.Unmarshal(exported, &parsed))
	assert.Equal(t, ExportVersion, parsed.Version)
	assert.Equal(t, src.clock.Now().UnixMilli(), parsed.ExportedAt)

	dst := newFixture(t)
	require.NoError(t, dst.dm.ImportAllData(ctx, exported))

	got, err := dst.dm.Timers.GetTimer(ctx, tm.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tm.ToRecord(), got.ToRecord())
	assert.Equal(t, "dark", dst.dm.Config.GetAppConfig(ctx)["theme"])
	assert.Len(t, dst.dm.Assets.GetAllIDs(ctx), 1)

	assert.ErrorIs(t, dst.dm.ImportAllData(ctx, []byte("{oops")), model.ErrValidation)
}

func TestDataManager_ImportRejectsInvalidTimers(t *testing.T) {
	t.Parallel()

	valid := func() model.TimerRecord {
		return model.TimerRecord{
			ID: "t-1", Name: "tea", CycleTime: 10, Mode: model.ModeLoop, PlayTimes: 2,
			ReportTime: []model.ReportPointRecord{{ID: "p-1", Time: 0}, {ID: "p-2", Time: 9.5}},
		}
	}
	tests := []struct {
		name   string
		key    string
		mutate func(*model.TimerRecord)
		field  string
	}{
		{"non-positive cycle", "t-1", func(r *model.TimerRecord) { r.CycleTime = -5 }, "cycleTime"},
		{"zero cycle", "t-1", func(r *model.TimerRecord) { r.CycleTime = 0 }, "cycleTime"},
		{"unknown mode", "t-1", func(r *model.TimerRecord) { r.Mode = 9 }, "mode"},
		{"zero play times", "t-1", func(r *model.TimerRecord) { r.PlayTimes = 0 }, "playTimes"},
		{"offset beyond cycle", "t-1", func(r *model.TimerRecord) { r.ReportTime[1].Time = 99 }, "time"},
		{"offset equal to cycle", "t-1", func(r *model.TimerRecord) { r.ReportTime[1].Time = 10 }, "time"},
		{"negative offset", "t-1", func(r *model.TimerRecord) { r.ReportTime[0].Time = -1 }, "time"},
		{"duplicate point id", "t-1", func(r *model.TimerRecord) { r.ReportTime[1].ID = "p-1" }, "reportTime"},
		{"empty point id", "t-1", func(r *model.TimerRecord) { r.ReportTime[0].ID = "" }, "reportTime"},
		{"key does not match id", "other", func(r *model.TimerRecord) {}, "timers"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t)
			existing := model.NewTimerWith("keep", 3, f.clock, testutil.NewStubIDGenerator("k"))
			require.NoError(t, f.dm.Timers.SaveTimer(ctx, existing))
			before, err := f.dm.ExportAllData(ctx, false)
			require.NoError(t, err)

			rec := valid()
			tt.mutate(&rec)
			raw, err := json.Marshal(map[string]any{
				"timers":    map[string]model.TimerRecord{tt.key: rec},
				"appConfig": map[string]any{"theme": "imported"},
			})
			require.NoError(t, err)

			err = f.dm.ImportAllData(ctx, raw)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, model.ErrValidation)

			after, err := f.dm.ExportAllData(ctx, false)
			require.NoError(t, err)
			assert.Equal(t, string(before), string(after), "nothing is written")
		})
	}
}

func TestDataManager_ImportAcceptsValidTimer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	raw := []byte(`{"timers":{"t-1":{"name":"tea","cycleTime":10,"mode":1,"playTimes":3,
		"reportTime":[{"id":"p-1","name":"start","time":0}]}}}`)
	require.NoError(t, f.dm.ImportAllData(ctx, raw))

	got, err := f.dm.Timers.GetTimer(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t-1", got.ID, "missing id falls back to the key")
	assert.Equal(t, 10.0, got.CycleTime)
	require.Len(t, got.ReportTime, 1)
}

func TestDataManager_ImportEmptySectionsReplace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	empty := newFixture(t)
	exported, err := empty.dm.ExportAllData(ctx, false)
	require.NoError(t, err)
	assert.Contains(t, string(exported), `"timers": {}`)
	assert.Contains(t, string(exported), `"audioTemplates": {}`)

	f := newFixture(t)
	require.NoError(t, f.dm.Timers.SaveTimer(ctx, model.NewTimerWith("x", 3, f.clock, testutil.NewStubIDGenerator("t"))))
	tpl := model.NewAudioObjTemplate("bell", "a-1", "tpl-1")
	require.NoError(t, f.dm.Templates.SaveTemplate(ctx, &tpl))

	require.NoError(t, f.dm.ImportAllData(ctx, exported))
	assert.Empty(t, f.dm.Timers.ListTimers(ctx), "an empty backup restores an empty namespace")
	assert.Empty(t, f.dm.Templates.ListTemplates(ctx))
}

func TestDataManager_ExportWithoutAudio(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.dm.Assets.SaveAudio(ctx, []byte{1}, "a.wav", "audio/wav")
	require.NoError(t, err)

	exported, err := f.dm.ExportAllData(ctx, false)
	require.NoError(t, err)
	assert.NotContains(t, string(exported), `"audio"`)
}

func TestDataManager_ClearAllData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.dm.Timers.SaveTimer(ctx, model.NewTimerWith("x", 3, f.clock, testutil.NewStubIDGenerator("t"))))
	_, err := f.dm.Assets.SaveAudio(ctx, []byte{1}, "a.wav", "audio/wav")
	require.NoError(t, err)

	require.NoError(t, f.dm.ClearAllData(ctx))
	assert.Empty(t, f.dm.Timers.ListTimers(ctx))
	assert.Len(t, f.dm.Assets.GetAllIDs(ctx), 1, "audio library is cleared separately")
}

func TestDataManager_StatsDegrade(t *testing.T) {
	t.Parallel()

	dm := NewDataManager(NewStore(brokenKV{}), testutil.NewStubIDGenerator("a"), testutil.FixedClock())
	assert.Equal(t, StorageStats{}, dm.StorageStats(context.Background()))
	assert.Empty(t, dm.Timers.ListTimers(context.Background()))
}
