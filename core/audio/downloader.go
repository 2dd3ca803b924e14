package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"UsefulTimer/logger"
	"UsefulTimer/model"
	"UsefulTimer/repository"
)

// ErrUnsupportedMediaType 上传的文件不是音频
var ErrUnsupportedMediaType = fmt.Errorf("%w: unsupported media type", model.ErrValidation)

// FetchResult 远程下载结果
type FetchResult struct {
	Data        []byte
	ContentType string
}

// Fetcher 远程获取音频
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// StatusError 远程返回非 2xx 状态码
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s failed with status %d", e.URL, e.StatusCode)
}

// HTTPFetcher 基于 net/http 的默认实现
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher timeout <= 0 时不设超时
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, model.NewValidationError("url", err.Error())
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("下载文件失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return &FetchResult{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// DownloadResult DownloadMultiple 中单个地址的结果
type DownloadResult struct {
	URL string `json:"url"`
	ID  string `json:"id,omitempty"`
	Err error  `json:"-"`
}

// Downloader 下载或上传音频并写入音频库
type Downloader struct {
	assets  repository.AssetRepository
	fetcher Fetcher
	workers int
}

// NewDownloader 创建下载器，workers 是批量下载的并发数
func NewDownloader(assets repository.AssetRepository, fetcher Fetcher, workers int) *Downloader {
	if workers <= 0 {
		workers = 4
	}
	return &Downloader{assets: assets, fetcher: fetcher, workers: workers}
}

func isAudio(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "audio/")
}

// DownloadFromURL 下载远程音频并保存。内容类型不是音频时只记录警告。
func (d *Downloader) DownloadFromURL(ctx context.Context, url string) (string, error) {
	logger.Info("开始下载音频", logger.String("url", url))

	result, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if !isAudio(result.ContentType) {
		logger.Warn("下载的文件可能不是音频",
			logger.String("url", url),
			logger.String("contentType", result.ContentType))
	}

	id, err := d.assets.SaveAudio(ctx, result.Data, url, result.ContentType)
	if err != nil {
		return "", err
	}
	logger.Info("音频下载完成",
		logger.String("id", id),
		logger.String("url", url),
		logger.Int("size", len(result.Data)))
	return id, nil
}

// UploadFromFile 保存本地上传的音频，contentType 必须是 audio/*
func (d *Downloader) UploadFromFile(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if !isAudio(contentType) {
		return "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedMediaType, contentType, name)
	}
	id, err := d.assets.SaveAudio(ctx, data, path.Base(name), contentType)
	if err != nil {
		return "", err
	}
	logger.Info("音频上传完成", logger.String("id", id), logger.String("name", name))
	return id, nil
}

// DownloadMultiple 并发下载多个地址，单个失败不影响其他，结果顺序与输入一致
func (d *Downloader) DownloadMultiple(ctx context.Context, urls []string) []DownloadResult {
	results := make([]DownloadResult, len(urls))
	tasks := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < d.workers && w < len(urls); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				id, err := d.DownloadFromURL(ctx, urls[i])
				if err != nil {
					logger.Warn("下载失败，继续下一个", logger.String("url", urls[i]), logger.ErrorField(err))
				}
				results[i] = DownloadResult{URL: urls[i], ID: id, Err: err}
			}
		}()
	}
	for i := range urls {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	return results
}
