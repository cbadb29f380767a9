package stream

import (
	"fmt"
	"strings"

	"camlink/internal/config"
)

// FilterNone is the sentinel value for Camera.VideoFilter that suppresses the
// scale filter entirely. An empty filter is not the same thing: it means
// "synthesize a scale directive from the aspect mode".
const FilterNone = "none"

// NegotiateResolution clamps the requested geometry to the camera's caps and
// derives the ffmpeg filter chain. Flip directives always precede the scale or
// custom filter so they apply to the pre-scale geometry.
func NegotiateResolution(width, height int, cam config.Camera) ResolutionInfo {
	if cam.MaxWidth > 0 && width > cam.MaxWidth {
		width = cam.MaxWidth
	}
	if cam.MaxHeight > 0 && height > cam.MaxHeight {
		height = cam.MaxHeight
	}

	custom := strings.TrimSpace(cam.VideoFilter)
	if custom == FilterNone {
		return ResolutionInfo{Width: width, Height: height}
	}

	var filters []string
	if cam.HorizontalFlip {
		filters = append(filters, "hflip")
	}
	if cam.VerticalFlip {
		filters = append(filters, "vflip")
	}
	if custom != "" {
		filters = append(filters, custom)
	} else {
		filters = append(filters, "scale="+scaleDirective(width, height, cam.AspectMode))
	}

	return ResolutionInfo{
		Width:       width,
		Height:      height,
		VideoFilter: strings.Join(filters, ","),
	}
}

func scaleDirective(width, height int, aspectMode string) string {
	switch aspectMode {
	case config.AspectWidth:
		return fmt.Sprintf("%d:-1", width)
	case config.AspectHeight:
		return fmt.Sprintf("-1:%d", height)
	default:
		return fmt.Sprintf("%d:%d", width, height)
	}
}

// NegotiateFPS clamps the requested frame rate to the configured maximum.
func NegotiateFPS(requested int, cam config.Camera) int {
	if cam.MaxFPS > 0 && requested > cam.MaxFPS {
		return cam.MaxFPS
	}
	return requested
}

// ClampVideoBitrate applies the configured maximum and minimum to the
// requested video bitrate (kbit/s).
func ClampVideoBitrate(requested int, cam config.Camera) int {
	if cam.MaxBitrate > 0 && requested > cam.MaxBitrate {
		requested = cam.MaxBitrate
	}
	if cam.MinBitrate > 0 && requested < cam.MinBitrate {
		requested = cam.MinBitrate
	}
	return requested
}

// ClampAudioBitrate caps the requested audio bitrate (kbit/s). Audio is never
// raised to a minimum.
func ClampAudioBitrate(requested int, cam config.Camera) int {
	if cam.MaxBitrate > 0 && requested > cam.MaxBitrate {
		return cam.MaxBitrate
	}
	return requested
}
