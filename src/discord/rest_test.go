package discord

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soch-community/sochbot/src/config"
	"github.com/soch-community/sochbot/src/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Points the REST client at a fake Discord for the duration of the test.
func fakeDiscord(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)

	oldBaseUrl := BaseUrl
	oldToken := config.Config.Discord.BotToken
	BaseUrl = server.URL
	config.Config.Discord.BotToken = "test-token"

	t.Cleanup(func() {
		server.Close()
		BaseUrl = oldBaseUrl
		config.Config.Discord.BotToken = oldToken
	})
}

func TestParseRetryAfter(t *testing.T) {
	d, ok := parseRetryAfter("1.5")
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, ok = parseRetryAfter("0.0001")
	assert.True(t, ok)
	assert.Equal(t, time.Millisecond, d)

	_, ok = parseRetryAfter("")
	assert.False(t, ok)
	_, ok = parseRetryAfter("-1")
	assert.False(t, ok)
}

func TestParseRateLimitHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("X-RateLimit-Bucket", "abcd1234")
	header.Set("X-RateLimit-Limit", "5")
	header.Set("X-RateLimit-Remaining", "4")
	header.Set("X-RateLimit-Reset-After", "0.25")

	headers, ok := parseRateLimitHeaders(header)
	assert.True(t, ok)
	assert.Equal(t, "abcd1234", headers.Bucket)
	assert.Equal(t, 5, headers.Limit)
	assert.Equal(t, 4, headers.Remaining)
	assert.Equal(t, time.Second, headers.ResetAfter)

	header.Set("X-RateLimit-Limit", "lots")
	_, ok = parseRateLimitHeaders(header)
	assert.False(t, ok)

	headers, ok = parseRateLimitHeaders(http.Header{})
	assert.True(t, ok)
	assert.Equal(t, "", headers.Bucket)
}

func TestModifyThread(t *testing.T) {
	fakeDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/channels/t1", r.URL.Path)
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Contains(t, r.Header.Get("User-Agent"), "DiscordBot")

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"locked": true}`, string(body))

		w.Write([]byte(`{"id": "t1", "type": 11}`))
	})

	err := ModifyThread(context.Background(), "t1", ModifyThreadRequest{Locked: utils.Ptr(true)})
	assert.Nil(t, err)
}

func TestNotFound(t *testing.T) {
	fakeDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Unknown Channel", "code": 10003}`))
	})

	_, err := GetChannel(context.Background(), "t1")
	assert.ErrorIs(t, err, NotFound)

	err = DeleteMessage(context.Background(), "t1", "m1")
	assert.ErrorIs(t, err, NotFound)
}

func TestServerError(t *testing.T) {
	fakeDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := DeleteChannel(context.Background(), "t1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, NotFound)
}

func TestSendDirectMessage(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		fakeDiscord(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/users/@me/channels":
				body, _ := io.ReadAll(r.Body)
				assert.JSONEq(t, `{"recipient_id": "u1"}`, string(body))
				w.Write([]byte(`{"id": "dm1", "type": 1}`))
			case "/channels/dm1/messages":
				w.Write([]byte(`{"id": "m1", "channel_id": "dm1", "content": "hi"}`))
			default:
				t.Errorf("unexpected request to %s", r.URL.Path)
			}
		})

		msg, err := SendDirectMessage(context.Background(), "u1", CreateMessageRequest{Content: "hi"})
		require.Nil(t, err)
		assert.Equal(t, "m1", msg.ID)
	})

	t.Run("DMs closed", func(t *testing.T) {
		fakeDiscord(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/users/@me/channels" {
				w.Write([]byte(`{"id": "dm1", "type": 1}`))
				return
			}
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message": "Cannot send messages to this user", "code": 50007}`))
		})

		_, err := SendDirectMessage(context.Background(), "u1", CreateMessageRequest{Content: "hi"})
		assert.ErrorIs(t, err, CannotDM)
	})
}

func TestRetriesAfterRateLimit(t *testing.T) {
	var requests int32
	fakeDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id": "t1", "type": 11, "owner_id": "u1"}`))
	})

	channel, err := GetChannel(context.Background(), "t1")
	require.Nil(t, err)
	assert.Equal(t, "u1", channel.OwnerID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&requests))
}

func TestPlatformThreadExists(t *testing.T) {
	fakeDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels/alive":
			w.Write([]byte(`{"id": "alive", "type": 11}`))
		case "/channels/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{"id": "slow", "type": 11}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	platform := NewPlatform(50 * time.Millisecond)
	assert.True(t, platform.ThreadExists(context.Background(), "alive"))
	assert.False(t, platform.ThreadExists(context.Background(), "deleted"))
	assert.False(t, platform.ThreadExists(context.Background(), "slow"))
}

func TestBulkOverwriteNeedsGuild(t *testing.T) {
	oldApp, oldGuild := config.Config.Discord.ApplicationID, config.Config.Discord.GuildID
	t.Cleanup(func() {
		config.Config.Discord.ApplicationID, config.Config.Discord.GuildID = oldApp, oldGuild
	})

	config.Config.Discord.ApplicationID = ""
	config.Config.Discord.GuildID = ""
	assert.Error(t, BulkOverwriteGuildApplicationCommands(context.Background(), ApplicationCommands))

	fakeDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/applications/app/guilds/guild/commands", r.URL.Path)
		w.Write([]byte(`[]`))
	})
	config.Config.Discord.ApplicationID = "app"
	config.Config.Discord.GuildID = "guild"
	assert.Nil(t, BulkOverwriteGuildApplicationCommands(context.Background(), ApplicationCommands))
}
