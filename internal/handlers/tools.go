package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"memebot/internal/argparse"
	"memebot/internal/dispatch"
	"memebot/internal/memeapi"
	"memebot/internal/platform"
)

// toolOperations maps a command name to its remote image operation.
var toolOperations = map[string]string{
	"水平翻转":  "flip_horizontal",
	"竖直翻转":  "flip_vertical",
	"旋转":    "rotate",
	"缩放":    "resize",
	"裁剪":    "crop",
	"灰度":    "grayscale",
	"反色":    "invert",
	"水平拼接":  "merge_horizontal",
	"竖直拼接":  "merge_vertical",
	"gif分解": "gif_split",
	"gif合成": "gif_merge",
	"gif倒放": "gif_reverse",
	"gif变速": "gif_change_duration",
}

var toolMinImages = map[string]int{
	"merge_horizontal": 2,
	"merge_vertical":   2,
	"gif_merge":        2,
}

func (h *Handlers) imageTool(operation string) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *platform.InboundMessage, argText string) error {
		return h.runImageTool(ctx, msg, operation, argText)
	}
}

func (h *Handlers) runImageTool(ctx context.Context, msg *platform.InboundMessage, operation, argText string) error {
	results, err := h.applyImageTool(ctx, msg, operation, argText)
	if err != nil {
		var parseErr *argparse.ArgParseError
		var apiErr *memeapi.APIError
		if errors.As(err, &parseErr) || errors.As(err, &apiErr) {
			return h.reply(ctx, msg, fmt.Sprintf("操作失败: %v", err))
		}
		h.logger.Error("image_tool_failed", "operation", operation, "error", err)
		return h.reply(ctx, msg, fmt.Sprintf("图片操作失败: %v", err))
	}
	return h.planner.Deliver(ctx, h.out, msg.Target(), results)
}

func (h *Handlers) applyImageTool(ctx context.Context, msg *platform.InboundMessage, operation, argText string) ([][]byte, error) {
	minImages := toolMinImages[operation]
	if minImages == 0 {
		minImages = 1
	}
	ids, err := h.imagesForTool(ctx, msg, minImages)
	if err != nil {
		return nil, err
	}

	single := func(result []byte, err error) ([][]byte, error) {
		if err != nil {
			return nil, err
		}
		return [][]byte{result}, nil
	}

	switch operation {
	case "flip_horizontal":
		return single(h.api.FlipHorizontal(ctx, ids[0]))
	case "flip_vertical":
		return single(h.api.FlipVertical(ctx, ids[0]))
	case "grayscale":
		return single(h.api.Grayscale(ctx, ids[0]))
	case "invert":
		return single(h.api.Invert(ctx, ids[0]))
	case "gif_reverse":
		return single(h.api.GifReverse(ctx, ids[0]))
	case "gif_split":
		return h.api.GifSplit(ctx, ids[0])
	case "merge_horizontal":
		return single(h.api.MergeHorizontal(ctx, ids))
	case "merge_vertical":
		return single(h.api.MergeVertical(ctx, ids))
	case "rotate":
		degrees := 90.0
		if argText != "" {
			degrees, err = strconv.ParseFloat(argText, 64)
			if err != nil {
				return nil, &argparse.ArgParseError{Message: fmt.Sprintf("旋转角度 %q 不是有效的数字", argText)}
			}
		}
		return single(h.api.Rotate(ctx, ids[0], degrees))
	case "resize":
		width, height, err := parseResizeArgs(argText)
		if err != nil {
			return nil, err
		}
		return single(h.api.Resize(ctx, ids[0], width, height))
	case "crop":
		info, err := h.api.InspectImage(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		left, top, right, bottom, err := parseCropArgs(argText, info)
		if err != nil {
			return nil, err
		}
		return single(h.api.Crop(ctx, ids[0], left, top, right, bottom))
	case "gif_merge":
		duration := 0.1
		if argText != "" {
			duration, err = strconv.ParseFloat(argText, 64)
			if err != nil {
				return nil, &argparse.ArgParseError{Message: fmt.Sprintf("帧间隔 %q 不是有效的数字", argText)}
			}
		}
		return single(h.api.GifMerge(ctx, ids, duration))
	case "gif_change_duration":
		info, err := h.api.InspectImage(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		duration, err := parseGifDurationArgs(argText, info)
		if err != nil {
			return nil, err
		}
		return single(h.api.GifChangeDuration(ctx, ids[0], duration))
	}
	return nil, fmt.Errorf("unknown image operation %q", operation)
}

// imagesForTool collects message images, pads with the sender's avatar when
// allowed, and uploads exactly minImages of them.
func (h *Handlers) imagesForTool(ctx context.Context, msg *platform.InboundMessage, minImages int) ([]string, error) {
	images, err := h.resolver.CollectImages(ctx, msg)
	if err != nil {
		return nil, err
	}
	if len(images) < minImages && h.resolver.UseSenderAvatar {
		if avatar, aerr := h.resolver.Fetch(ctx, h.resolver.AvatarURL(msg.SenderID)); aerr == nil {
			images = append([][]byte{avatar}, images...)
		}
	}
	if len(images) < minImages {
		return nil, &argparse.ArgParseError{Message: fmt.Sprintf("图片数量不足，此操作需要 %d 张图片。", minImages)}
	}
	return h.api.UploadImages(ctx, images[:minImages])
}

var (
	resizeRe    = regexp.MustCompile(`^(\d{1,4})?[*xX, ](\d{1,4})?$`)
	cropRectRe  = regexp.MustCompile(`^(\d{1,4})[, ](\d{1,4})[, ](\d{1,4})[, ](\d{1,4})$`)
	cropSizeRe  = regexp.MustCompile(`^(\d{1,4})[*xX, ](\d{1,4})$`)
	cropRatioRe = regexp.MustCompile(`^(\d{1,2})[:：比](\d{1,2})$`)

	gifFpsRe     = regexp.MustCompile(`(?i)^(\d{0,3}\.?\d{1,3})fps$`)
	gifSecondsRe = regexp.MustCompile(`(?i)^(\d{0,3}\.?\d{1,3})(m?)s$`)
	gifFactorRe  = regexp.MustCompile(`^(\d{0,3}\.?\d{1,3})(?:x|X|倍速?)$`)
	gifPercentRe = regexp.MustCompile(`^(\d{0,3}\.?\d{1,3})%$`)
)

func parseResizeArgs(text string) (width, height *int, err error) {
	m := resizeRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, &argparse.ArgParseError{Message: "缩放尺寸格式不正确，请使用如: 100x200, 100x, x200"}
	}
	if m[1] != "" {
		w, _ := strconv.Atoi(m[1])
		width = &w
	}
	if m[2] != "" {
		h, _ := strconv.Atoi(m[2])
		height = &h
	}
	return width, height, nil
}

func parseCropArgs(text string, info memeapi.ImageInfo) (left, top, right, bottom int, err error) {
	if m := cropRectRe.FindStringSubmatch(text); m != nil {
		left, _ = strconv.Atoi(m[1])
		top, _ = strconv.Atoi(m[2])
		right, _ = strconv.Atoi(m[3])
		bottom, _ = strconv.Atoi(m[4])
		return left, top, right, bottom, nil
	}

	var width, height int
	if m := cropSizeRe.FindStringSubmatch(text); m != nil {
		width, _ = strconv.Atoi(m[1])
		height, _ = strconv.Atoi(m[2])
	} else if m := cropRatioRe.FindStringSubmatch(text); m != nil {
		wp, _ := strconv.Atoi(m[1])
		hp, _ := strconv.Atoi(m[2])
		size := float64(info.Width) / float64(wp)
		if alt := float64(info.Height) / float64(hp); alt < size {
			size = alt
		}
		width = int(float64(wp) * size)
		height = int(float64(hp) * size)
	} else {
		return 0, 0, 0, 0, &argparse.ArgParseError{Message: "裁剪格式不正确，请使用如: 0,0,100,100 或 100x100 或 16:9"}
	}

	left = (info.Width - width) / 2
	top = (info.Height - height) / 2
	return left, top, left + width, top + height, nil
}

func parseGifDurationArgs(text string, info memeapi.ImageInfo) (float64, error) {
	var duration float64
	if m := gifFpsRe.FindStringSubmatch(text); m != nil {
		fps, _ := strconv.ParseFloat(m[1], 64)
		duration = 1 / fps
	} else if m := gifSecondsRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		if m[2] != "" {
			v /= 1000
		}
		duration = v
	} else {
		duration = 0.1
		if info.AverageDuration != nil && *info.AverageDuration > 0 {
			duration = *info.AverageDuration
		}
		if m := gifFactorRe.FindStringSubmatch(text); m != nil {
			factor, _ := strconv.ParseFloat(m[1], 64)
			duration /= factor
		} else if m := gifPercentRe.FindStringSubmatch(text); m != nil {
			percent, _ := strconv.ParseFloat(m[1], 64)
			duration /= percent / 100
		} else {
			return 0, &argparse.ArgParseError{Message: "变速格式不正确，请使用如: 0.5x, 50%, 20fps, 0.05s"}
		}
	}
	if duration < 0.02 {
		return 0, &argparse.ArgParseError{Message: fmt.Sprintf("帧间隔必须大于 0.02s (50fps)，当前为 %.3fs", duration)}
	}
	return duration, nil
}
