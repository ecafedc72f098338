package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/soch-community/sochbot/src/config"
	"github.com/soch-community/sochbot/src/logging"
	"github.com/soch-community/sochbot/src/oops"
)

const (
	BotName = "SochBot"

	UserAgentURL     = "https://github.com/soch-community/sochbot"
	UserAgentVersion = "1.0"
)

// Overridden in tests.
var BaseUrl = "https://discord.com/api/v10"

var UserAgent = fmt.Sprintf("DiscordBot (%s, %s)", UserAgentURL, UserAgentVersion)

var httpClient = &http.Client{}

// Returned when Discord answers 404, e.g. for a thread that was deleted.
var NotFound = errors.New("Discord resource not found")

// Returned when Discord refuses to deliver a DM, usually because the member
// has DMs from server members turned off.
var CannotDM = errors.New("cannot send messages to this user")

func makeRequest(ctx context.Context, method string, path string, body []byte) *http.Request {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s%s", BaseUrl, path), bodyReader)
	if err != nil {
		panic(err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bot %s", config.Config.Discord.BotToken))
	req.Header.Add("User-Agent", UserAgent)
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	return req
}

func marshalBody(v interface{}) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		panic(oops.New(err, "failed to marshal Discord request body"))
	}
	return body
}

func readJSON[T any](res *http.Response) (*T, error) {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, oops.New(err, "failed to read Discord response")
	}

	var result T
	err = json.Unmarshal(body, &result)
	if err != nil {
		return nil, oops.New(err, "failed to unmarshal Discord response")
	}
	return &result, nil
}

// Checks the status of a response, logging unexpected ones.
func checkResponse(ctx context.Context, name string, res *http.Response, ok ...int) error {
	for _, status := range ok {
		if res.StatusCode == status {
			return nil
		}
	}
	if len(ok) == 0 && res.StatusCode < 400 {
		return nil
	}

	if res.StatusCode == http.StatusNotFound {
		return NotFound
	}
	logErrorResponse(ctx, name, res, "received error from Discord")
	return oops.New(nil, "received error from Discord: %s returned %d", name, res.StatusCode)
}

type GetGatewayBotResponse struct {
	URL string `json:"url"`
	// We don't care about shards or session limit stuff; we will never hit those limits
}

func GetGatewayBot(ctx context.Context) (*GetGatewayBotResponse, error) {
	const name = "Get Gateway Bot"

	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodGet, "/gateway/bot", nil)
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkResponse(ctx, name, res, http.StatusOK); err != nil {
		return nil, err
	}
	return readJSON[GetGatewayBotResponse](res)
}

type CreateMessageRequest struct {
	Content         string           `json:"content,omitempty"`
	Embeds          []Embed          `json:"embeds,omitempty"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
}

// https://discord.com/developers/docs/resources/channel#allowed-mentions-object
type AllowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
}

func CreateMessage(ctx context.Context, channelID string, payloadJSON string) (*Message, error) {
	const name = "Create Message"

	path := fmt.Sprintf("/channels/%s/messages", channelID)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodPost, path, []byte(payloadJSON))
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkResponse(ctx, name, res); err != nil {
		return nil, err
	}
	return readJSON[Message](res)
}

func SendMessage(ctx context.Context, channelID string, req CreateMessageRequest) (*Message, error) {
	return CreateMessage(ctx, channelID, string(marshalBody(req)))
}

type EditMessageRequest struct {
	Content *string `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds"`
}

func EditMessage(ctx context.Context, channelID, messageID string, req EditMessageRequest) (*Message, error) {
	const name = "Edit Message"

	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	body := marshalBody(req)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodPatch, path, body)
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkResponse(ctx, name, res, http.StatusOK); err != nil {
		return nil, err
	}
	return readJSON[Message](res)
}

func GetChannelMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	const name = "Get Channel Message"

	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkResponse(ctx, name, res, http.StatusOK); err != nil {
		return nil, err
	}
	return readJSON[Message](res)
}

func DeleteMessage(ctx context.Context, channelID string, messageID string) error {
	const name = "Delete Message"

	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodDelete, path, nil)
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return checkResponse(ctx, name, res, http.StatusNoContent)
}

func GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	const name = "Get Channel"

	path := fmt.Sprintf("/channels/%s", channelID)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkResponse(ctx, name, res, http.StatusOK); err != nil {
		return nil, err
	}
	return readJSON[Channel](res)
}

// Locks and/or archives a thread.
func ModifyThread(ctx context.Context, threadID string, req ModifyThreadRequest) error {
	const name = "Modify Channel"

	path := fmt.Sprintf("/channels/%s", threadID)
	body := marshalBody(req)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodPatch, path, body)
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return checkResponse(ctx, name, res, http.StatusOK)
}

func DeleteChannel(ctx context.Context, channelID string) error {
	const name = "Delete Channel"

	path := fmt.Sprintf("/channels/%s", channelID)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodDelete, path, nil)
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return checkResponse(ctx, name, res, http.StatusOK)
}

func CreateDM(ctx context.Context, recipientID string) (*Channel, error) {
	const name = "Create DM"

	path := "/users/@me/channels"
	body := marshalBody(map[string]string{"recipient_id": recipientID})
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodPost, path, body)
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkResponse(ctx, name, res); err != nil {
		return nil, err
	}
	return readJSON[Channel](res)
}

// Opens a DM channel with the user and sends the message there.
func SendDirectMessage(ctx context.Context, userID string, req CreateMessageRequest) (*Message, error) {
	dm, err := CreateDM(ctx, userID)
	if err != nil {
		return nil, oops.New(err, "failed to open DM channel")
	}

	const name = "Create Message"
	path := fmt.Sprintf("/channels/%s/messages", dm.ID)
	body := marshalBody(req)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodPost, path, body)
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusForbidden {
		return nil, CannotDM
	}
	if err := checkResponse(ctx, name, res); err != nil {
		return nil, err
	}
	return readJSON[Message](res)
}

func CreateInteractionResponse(ctx context.Context, interactionID, interactionToken string, data InteractionResponse) error {
	const name = "Create Interaction Response"

	path := fmt.Sprintf("/interactions/%s/%s/callback", interactionID, interactionToken)
	body := marshalBody(data)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodPost, path, body)
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return checkResponse(ctx, name, res)
}

// Replaces all of the bot's commands in a guild with the given ones.
func BulkOverwriteGuildApplicationCommands(ctx context.Context, commands []CreateGuildApplicationCommandRequest) error {
	const name = "Bulk Overwrite Guild Application Commands"

	if config.Config.Discord.ApplicationID == "" || config.Config.Discord.GuildID == "" {
		return oops.New(nil, "application ID and guild ID must be configured to register commands")
	}

	path := fmt.Sprintf("/applications/%s/guilds/%s/commands", config.Config.Discord.ApplicationID, config.Config.Discord.GuildID)
	body := marshalBody(commands)
	res, err := doWithRateLimiting(ctx, name, func(ctx context.Context) *http.Request {
		return makeRequest(ctx, http.MethodPut, path, body)
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return checkResponse(ctx, name, res, http.StatusOK)
}

func logErrorResponse(ctx context.Context, name string, res *http.Response, msg string) {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	logging.ExtractLogger(ctx).Error().
		Str("name", name).
		Int("status", res.StatusCode).
		Str("body", string(body)).
		Msg(msg)
}
