package ytlive

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/youtube/v3"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/telemetry"
)

// resolveChatID finds the live chat of the configured video, or of the
// authenticated channel's active broadcast when no video is configured.
func (c *Client) resolveChatID(ctx context.Context) (id string, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "resolveChatID",
		attribute.String("youtube.video_id", c.cfg.VideoID))
	defer func() { telemetry.End(span, err) }()

	if c.cfg.VideoID != "" {
		return c.chatIDForVideo(ctx, c.cfg.VideoID)
	}
	return c.chatIDForActiveBroadcast(ctx)
}

func (c *Client) chatIDForVideo(ctx context.Context, videoID string) (string, error) {
	var resp *youtube.VideoListResponse
	err := c.withAuthRetry(ctx, func() error {
		call := c.svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx)
		c.applyKey(call.Header())
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return "", err
	}
	for _, v := range resp.Items {
		if v == nil || v.LiveStreamingDetails == nil {
			continue
		}
		if id := strings.TrimSpace(v.LiveStreamingDetails.ActiveLiveChatId); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: video %s has no active live chat", core.ErrNotLive, videoID)
}

func (c *Client) chatIDForActiveBroadcast(ctx context.Context) (string, error) {
	var resp *youtube.LiveBroadcastListResponse
	err := c.withAuthRetry(ctx, func() error {
		var err error
		resp, err = c.svc.LiveBroadcasts.List([]string{"id", "snippet"}).
			BroadcastStatus("active").
			BroadcastType("all").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", err
	}
	for _, b := range resp.Items {
		if b == nil {
			continue
		}
		if b.Snippet != nil && strings.TrimSpace(b.Snippet.LiveChatId) != "" {
			return b.Snippet.LiveChatId, nil
		}
		if b.Id != "" {
			return c.chatIDForVideo(ctx, b.Id)
		}
	}
	return "", fmt.Errorf("%w: no active broadcast on the authenticated channel", core.ErrNotLive)
}
