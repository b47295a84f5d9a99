package memeapi

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ImageInfo is the inspect result for an uploaded image.
type ImageInfo struct {
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	IsMultiFrame    bool     `json:"is_multi_frame,omitempty"`
	FrameCount      *int     `json:"frame_count,omitempty"`
	AverageDuration *float64 `json:"average_duration,omitempty"`
}

func (c *Client) InspectImage(ctx context.Context, imageID string) (ImageInfo, error) {
	var out ImageInfo
	resp, err := c.r.R().SetContext(ctx).
		SetBody(map[string]string{"image_id": imageID}).
		SetResult(&out).
		Post("/tools/image_operations/inspect")
	if err != nil {
		return ImageInfo{}, apiErr("inspect", err)
	}
	if err := c.checkStatus("inspect", resp); err != nil {
		return ImageInfo{}, err
	}
	return out, nil
}

func (c *Client) imageOperation(ctx context.Context, operation string, payload map[string]any) ([]byte, error) {
	var out imageIDResponse
	resp, err := c.r.R().SetContext(ctx).SetBody(payload).SetResult(&out).
		Post("/tools/image_operations/" + operation)
	if err != nil {
		return nil, apiErr(operation, err)
	}
	if err := c.checkStatus(operation, resp); err != nil {
		return nil, err
	}
	if out.ImageID == "" {
		return nil, apiErr(operation, fmt.Errorf("missing image_id"))
	}
	return c.GetImage(ctx, out.ImageID)
}

func (c *Client) FlipHorizontal(ctx context.Context, imageID string) ([]byte, error) {
	return c.imageOperation(ctx, "flip_horizontal", map[string]any{"image_id": imageID})
}

func (c *Client) FlipVertical(ctx context.Context, imageID string) ([]byte, error) {
	return c.imageOperation(ctx, "flip_vertical", map[string]any{"image_id": imageID})
}

func (c *Client) Grayscale(ctx context.Context, imageID string) ([]byte, error) {
	return c.imageOperation(ctx, "grayscale", map[string]any{"image_id": imageID})
}

func (c *Client) Invert(ctx context.Context, imageID string) ([]byte, error) {
	return c.imageOperation(ctx, "invert", map[string]any{"image_id": imageID})
}

func (c *Client) Rotate(ctx context.Context, imageID string, degrees float64) ([]byte, error) {
	return c.imageOperation(ctx, "rotate", map[string]any{"image_id": imageID, "degrees": degrees})
}

// Resize accepts nil for an unconstrained dimension.
func (c *Client) Resize(ctx context.Context, imageID string, width, height *int) ([]byte, error) {
	return c.imageOperation(ctx, "resize", map[string]any{"image_id": imageID, "width": width, "height": height})
}

func (c *Client) Crop(ctx context.Context, imageID string, left, top, right, bottom int) ([]byte, error) {
	return c.imageOperation(ctx, "crop", map[string]any{
		"image_id": imageID, "left": left, "top": top, "right": right, "bottom": bottom,
	})
}

func (c *Client) MergeHorizontal(ctx context.Context, imageIDs []string) ([]byte, error) {
	return c.imageOperation(ctx, "merge_horizontal", map[string]any{"image_ids": imageIDs})
}

func (c *Client) MergeVertical(ctx context.Context, imageIDs []string) ([]byte, error) {
	return c.imageOperation(ctx, "merge_vertical", map[string]any{"image_ids": imageIDs})
}

// GifSplit returns every frame, fetched concurrently in frame order.
func (c *Client) GifSplit(ctx context.Context, imageID string) ([][]byte, error) {
	var out imageIDsResponse
	resp, err := c.r.R().SetContext(ctx).
		SetBody(map[string]string{"image_id": imageID}).
		SetResult(&out).
		Post("/tools/image_operations/gif_split")
	if err != nil {
		return nil, apiErr("gif_split", err)
	}
	if err := c.checkStatus("gif_split", resp); err != nil {
		return nil, err
	}
	frames := make([][]byte, len(out.ImageIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range out.ImageIDs {
		g.Go(func() error {
			data, err := c.GetImage(gctx, id)
			if err != nil {
				return err
			}
			frames[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

func (c *Client) GifMerge(ctx context.Context, imageIDs []string, duration float64) ([]byte, error) {
	return c.imageOperation(ctx, "gif_merge", map[string]any{"image_ids": imageIDs, "duration": duration})
}

func (c *Client) GifReverse(ctx context.Context, imageID string) ([]byte, error) {
	return c.imageOperation(ctx, "gif_reverse", map[string]any{"image_id": imageID})
}

func (c *Client) GifChangeDuration(ctx context.Context, imageID string, duration float64) ([]byte, error) {
	return c.imageOperation(ctx, "gif_change_duration", map[string]any{"image_id": imageID, "duration": duration})
}
