// Package memeapi is a typed client for the meme-generator HTTP service.
// Every rendering endpoint follows the same submit-then-fetch pattern: the
// operation returns an opaque image id, the bytes are fetched separately.
package memeapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"memebot/internal/catalog"
)

// APIError covers network failures, non-2xx responses and missing fields.
// It is never shown to end users verbatim.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meme api %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func apiErr(op string, err error) *APIError {
	return &APIError{Op: op, Err: err}
}

type Client struct {
	r      *resty.Client
	logger *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{r: r, logger: logger}
}

type imageIDResponse struct {
	ImageID string `json:"image_id"`
}

type imageIDsResponse struct {
	ImageIDs []string `json:"image_ids"`
}

func (c *Client) checkStatus(op string, resp *resty.Response) error {
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return apiErr(op, fmt.Errorf("http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())))
	}
	return nil
}

// ListMemeInfos implements catalog.Lister.
func (c *Client) ListMemeInfos(ctx context.Context) ([]catalog.MemeInfo, error) {
	var infos []catalog.MemeInfo
	resp, err := c.r.R().SetContext(ctx).SetResult(&infos).Get("/meme/infos")
	if err != nil {
		return nil, apiErr("list_infos", err)
	}
	if err := c.checkStatus("list_infos", resp); err != nil {
		return nil, err
	}
	return infos, nil
}

// UploadImage posts raw bytes and returns the opaque image id.
func (c *Client) UploadImage(ctx context.Context, data []byte) (string, error) {
	var out imageIDResponse
	resp, err := c.r.R().SetContext(ctx).
		SetBody(map[string]string{"type": "data", "data": base64.StdEncoding.EncodeToString(data)}).
		SetResult(&out).
		Post("/image/upload")
	if err != nil {
		return "", apiErr("upload", err)
	}
	if err := c.checkStatus("upload", resp); err != nil {
		return "", err
	}
	if out.ImageID == "" {
		return "", apiErr("upload", fmt.Errorf("missing image_id"))
	}
	return out.ImageID, nil
}

// GetImage fetches rendered bytes by id.
func (c *Client) GetImage(ctx context.Context, imageID string) ([]byte, error) {
	resp, err := c.r.R().SetContext(ctx).Get("/image/" + imageID)
	if err != nil {
		return nil, apiErr("get_image", err)
	}
	if err := c.checkStatus("get_image", resp); err != nil {
		return nil, err
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, apiErr("get_image", fmt.Errorf("empty image body"))
	}
	return body, nil
}

type ImageRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type GeneratePayload struct {
	Texts   []string       `json:"texts"`
	Images  []ImageRef     `json:"images"`
	Options map[string]any `json:"options"`
}

// GenerateMeme renders the meme identified by key and returns the bytes.
func (c *Client) GenerateMeme(ctx context.Context, key string, payload GeneratePayload) ([]byte, error) {
	if payload.Texts == nil {
		payload.Texts = []string{}
	}
	if payload.Images == nil {
		payload.Images = []ImageRef{}
	}
	if payload.Options == nil {
		payload.Options = map[string]any{}
	}
	var out imageIDResponse
	resp, err := c.r.R().SetContext(ctx).SetBody(payload).SetResult(&out).Post("/memes/" + key)
	if err != nil {
		return nil, apiErr("generate", err)
	}
	if err := c.checkStatus("generate", resp); err != nil {
		return nil, err
	}
	if out.ImageID == "" {
		return nil, apiErr("generate", fmt.Errorf("missing image_id"))
	}
	return c.GetImage(ctx, out.ImageID)
}

// GetPreview fetches the rendered preview for a meme key.
func (c *Client) GetPreview(ctx context.Context, key string) ([]byte, error) {
	var out imageIDResponse
	resp, err := c.r.R().SetContext(ctx).SetResult(&out).Get("/memes/" + key + "/preview")
	if err != nil {
		return nil, apiErr("preview", err)
	}
	if err := c.checkStatus("preview", resp); err != nil {
		return nil, err
	}
	return c.GetImage(ctx, out.ImageID)
}

// SearchMemes runs a free-text search and returns matching keys.
func (c *Client) SearchMemes(ctx context.Context, query string, includeTags bool) ([]string, error) {
	var keys []string
	resp, err := c.r.R().SetContext(ctx).
		SetQueryParam("query", query).
		SetQueryParam("include_tags", strconv.FormatBool(includeTags)).
		SetResult(&keys).
		Get("/meme/search")
	if err != nil {
		return nil, apiErr("search", err)
	}
	if err := c.checkStatus("search", resp); err != nil {
		return nil, err
	}
	return keys, nil
}

// MemeProperties drives the new/hot/disabled labels on the list image.
type MemeProperties struct {
	New      bool `json:"new"`
	Hot      bool `json:"hot"`
	Disabled bool `json:"disabled"`
}

// RenderListImage renders the overview image of all memes.
func (c *Client) RenderListImage(ctx context.Context, properties map[string]MemeProperties) ([]byte, error) {
	var out imageIDResponse
	resp, err := c.r.R().SetContext(ctx).
		SetBody(map[string]any{"meme_properties": properties, "sort_by": "keywords_pinyin"}).
		SetResult(&out).
		Post("/tools/render_list")
	if err != nil {
		return nil, apiErr("render_list", err)
	}
	if err := c.checkStatus("render_list", resp); err != nil {
		return nil, err
	}
	return c.GetImage(ctx, out.ImageID)
}

// ChartPoint marshals as a [label, count] pair, the wire shape the
// statistics renderer expects.
type ChartPoint struct {
	Label string
	Count int
}

func (p ChartPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Label, p.Count})
}

// StatisticsKind is either "time_count" or "meme_count".
type StatisticsKind string

const (
	StatTimeCount StatisticsKind = "time_count"
	StatMemeCount StatisticsKind = "meme_count"
)

// RenderStatistics renders a chart image for the given series.
func (c *Client) RenderStatistics(ctx context.Context, title string, kind StatisticsKind, data []ChartPoint) ([]byte, error) {
	var out imageIDResponse
	resp, err := c.r.R().SetContext(ctx).
		SetBody(map[string]any{"title": title, "statistics_type": string(kind), "data": data}).
		SetResult(&out).
		Post("/tools/render_statistics")
	if err != nil {
		return nil, apiErr("render_statistics", err)
	}
	if err := c.checkStatus("render_statistics", resp); err != nil {
		return nil, err
	}
	return c.GetImage(ctx, out.ImageID)
}

// DownloadImage fetches an arbitrary URL (avatars, attachment URLs). It does
// not use the client base URL.
func (c *Client) DownloadImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apiErr("download", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := c.r.GetClient().Do(req)
	if err != nil {
		return nil, apiErr("download", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiErr("download", fmt.Errorf("http %d: %s", resp.StatusCode, url))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apiErr("download", err)
	}
	return body, nil
}

// UploadImages uploads a batch concurrently. The returned id order matches
// the input order.
func (c *Client) UploadImages(ctx context.Context, images [][]byte) ([]string, error) {
	ids := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			id, err := c.UploadImage(gctx, img)
			if err != nil {
				return err
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}
