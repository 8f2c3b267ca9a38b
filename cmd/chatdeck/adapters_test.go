package main

import (
	"testing"

	"github.com/you/chatdeck/internal/core"
)

func TestRestartOnTokenChange(t *testing.T) {
	statuses := []core.SourceStatus{
		{Platform: core.PlatformTwitch, State: core.StateUnauthenticated},
		{Platform: core.PlatformYouTube, State: core.StateConnected},
	}
	if !restartOnTokenChange(core.PlatformTwitch, false, statuses) {
		t.Fatalf("expected read-only twitch to restart on a new token")
	}
	if restartOnTokenChange(core.PlatformYouTube, false, statuses) {
		t.Fatalf("connected youtube should keep running")
	}
	if !restartOnTokenChange(core.PlatformYouTube, true, statuses) {
		t.Fatalf("expected restart when the login changed")
	}
}
