package discord

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, payload string) interface{} {
	t.Helper()
	var m interface{}
	require.Nil(t, json.Unmarshal([]byte(payload), &m))
	return m
}

func TestMessageFromMap(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		message := MessageFromMap(decode(t, testMessageCreate), "")
		assert.Equal(t, "anyone still recruiting?", message.Content)
		assert.Equal(t, "1331210993051320401", message.ChannelID)
		assert.Equal(t, "kestrel", message.Author.Username)
		assert.False(t, message.Author.IsBot)
		assert.True(t, message.IsUserContent())
		assert.Equal(t, 2025, message.Time().Year())
	})
	t.Run("bot author", func(t *testing.T) {
		message := MessageFromMap(decode(t, testMessageCreate_Bot), "")
		assert.True(t, message.Author.IsBot)
		assert.Len(t, message.Embeds, 1)
		assert.Equal(t, 0x00FF00, message.Embeds[0].Color)
	})
	t.Run("thread starter", func(t *testing.T) {
		message := MessageFromMap(decode(t, testMessageCreate_ThreadStarter), "")
		assert.False(t, message.IsUserContent())
	})
	t.Run("partial update", func(t *testing.T) {
		message := MessageFromMap(decode(t, `{"id": "1", "channel_id": "2", "embeds": []}`), "")
		assert.False(t, message.OriginalHasFields("author"))
		assert.False(t, message.OriginalHasFields("content"))
		assert.True(t, message.OriginalHasFields("embeds"))
	})
	t.Run("null fields", func(t *testing.T) {
		message := MessageFromMap(decode(t, `{"id": "1", "channel_id": "2", "content": null, "guild_id": null}`), "")
		assert.Equal(t, "", message.Content)
		assert.Nil(t, message.GuildID)
	})
}

func TestChannelFromMap(t *testing.T) {
	t.Run("new forum thread", func(t *testing.T) {
		thread := ChannelFromMap(decode(t, testThreadCreate), "")
		assert.Equal(t, "1331210993051320401", thread.ID)
		assert.Equal(t, "1180442095131619358", thread.ParentID)
		assert.Equal(t, "224687232356368384", thread.OwnerID)
		assert.Equal(t, ChannelTypeGuildPublicThread, thread.Type)
		assert.True(t, thread.Type.IsThread())
		if assert.NotNil(t, thread.NewlyCreated) {
			assert.True(t, *thread.NewlyCreated)
		}
		if assert.NotNil(t, thread.ThreadMetadata) {
			assert.False(t, thread.ThreadMetadata.Locked)
		}
	})
	t.Run("deleted thread", func(t *testing.T) {
		thread := ChannelFromMap(decode(t, testThreadDelete), "")
		assert.Equal(t, "1331210993051320401", thread.ID)
		assert.Nil(t, thread.NewlyCreated)
		assert.Nil(t, thread.ThreadMetadata)
	})
	t.Run("forum is not a thread", func(t *testing.T) {
		assert.False(t, ChannelTypeGuildForum.IsThread())
		assert.False(t, ChannelTypeGuildText.IsThread())
	})
}

func TestInteractionFromMap(t *testing.T) {
	t.Run("bump", func(t *testing.T) {
		i := InteractionFromMap(decode(t, testInteractionCreate_Bump), "")
		assert.Equal(t, InteractionTypeApplicationCommand, i.Type)
		assert.Equal(t, "1063571327094464592", i.ApplicationID)
		assert.Equal(t, SlashCommandBump, i.Data.Name)
		assert.Equal(t, "1331210993051320401", i.ChannelID)
		assert.Equal(t, "224687232356368384", i.Invoker().ID)
		assert.Equal(t, "224687232356368384", i.Channel.OwnerID)
		assert.True(t, i.Channel.Type.IsThread())
		assert.False(t, i.Member.Has(PermissionAdministrator))
	})
	t.Run("unban with options", func(t *testing.T) {
		i := InteractionFromMap(decode(t, testInteractionCreate_Unban), "")
		assert.Equal(t, SlashCommandUnbanPost, i.Data.Name)
		assert.True(t, i.Member.Has(PermissionAdministrator))
		assert.True(t, i.Member.Has(PermissionManageThreads))

		post, ok := getInteractionOption(i.Data.Options, PostOptionPost)
		assert.True(t, ok)
		assert.Equal(t, "1331210993051320401", post.Value)

		user, ok := getInteractionOption(i.Data.Options, PostOptionUser)
		assert.True(t, ok)
		userID := user.Value.(string)
		assert.Equal(t, "224687232356368384", i.Data.Resolved.Users[userID].ID)
		assert.Equal(t, "224687232356368384", i.Data.Resolved.Members[userID].User.ID)
		assert.Equal(t, "1331210993051320401", i.Data.Resolved.Channels["1331210993051320401"].ID)
	})
	t.Run("invoked in a DM", func(t *testing.T) {
		i := InteractionFromMap(decode(t, `{"id": "1", "type": 2, "user": {"id": "99"}}`), "")
		assert.Nil(t, i.Member)
		assert.Equal(t, "99", i.Invoker().ID)
		assert.False(t, i.Member.Has(PermissionAdministrator))
	})
}

func TestGuildMemberPermissions(t *testing.T) {
	member := GuildMemberFromMap(decode(t, `{"permissions": "8192"}`), "")
	assert.True(t, member.Has(PermissionManageMessages))
	assert.False(t, member.Has(PermissionManageThreads))
	assert.False(t, member.Has(PermissionAdministrator))

	member = GuildMemberFromMap(decode(t, `{"permissions": "not a number"}`), "")
	assert.Equal(t, Permission(0), member.Permissions)
}

func TestReadyFromMap(t *testing.T) {
	ready := ReadyFromMap(decode(t, testReady))
	assert.Equal(t, "d5b6c8f1a9e2", ready.SessionID)
	assert.Equal(t, "wss://gateway-us-east1-b.discord.gg", ready.ResumeGatewayURL)
	assert.Equal(t, "1063571327094464592", ready.User.ID)
}

func TestApplicationCommandsJSON(t *testing.T) {
	body, err := json.Marshal(ApplicationCommands)
	require.Nil(t, err)

	var commands []map[string]interface{}
	require.Nil(t, json.Unmarshal(body, &commands))
	require.Len(t, commands, 4)

	byName := map[string]map[string]interface{}{}
	for _, command := range commands {
		byName[command["name"].(string)] = command
	}

	assert.NotContains(t, byName[SlashCommandBump], "default_member_permissions")
	assert.NotContains(t, byName[SlashCommandRemake], "default_member_permissions")
	assert.Equal(t, "8", byName[SlashCommandUnbanPost]["default_member_permissions"])
	assert.Equal(t, "8", byName[SlashCommandCheckPost]["default_member_permissions"])
	assert.Len(t, byName[SlashCommandUnbanPost]["options"], 2)
}

const testMessageCreate = `{
	"attachments": [],
	"author": {
		"avatar": "f3a9b1c2d4e5f60718293a4b5c6d7e8f",
		"discriminator": "0",
		"global_name": "Kestrel",
		"id": "309421587710558209",
		"public_flags": 0,
		"username": "kestrel"
	},
	"channel_id": "1331210993051320401",
	"components": [],
	"content": "anyone still recruiting?",
	"edited_timestamp": null,
	"embeds": [],
	"flags": 0,
	"guild_id": "1180440791957454908",
	"id": "1331215874416738314",
	"member": {
		"avatar": null,
		"deaf": false,
		"joined_at": "2024-06-02T17:45:12.118000+00:00",
		"mute": false,
		"nick": null,
		"pending": false,
		"premium_since": null,
		"roles": []
	},
	"mention_everyone": false,
	"mention_roles": [],
	"mentions": [],
	"nonce": "1331215873011646464",
	"pinned": false,
	"timestamp": "2025-01-21T08:14:33.901000+00:00",
	"tts": false,
	"type": 0
}`

const testMessageCreate_Bot = `{
	"author": {
		"avatar": null,
		"bot": true,
		"discriminator": "0",
		"id": "1063571327094464592",
		"username": "SochBot"
	},
	"channel_id": "1331210993051320401",
	"content": "",
	"embeds": [
		{
			"color": 65280,
			"description": "**Recruitment Post Rules**",
			"type": "rich"
		}
	],
	"guild_id": "1180440791957454908",
	"id": "1331210999917772871",
	"timestamp": "2025-01-21T07:55:10.220000+00:00",
	"type": 0
}`

const testMessageCreate_ThreadStarter = `{
	"author": {
		"discriminator": "0",
		"id": "224687232356368384",
		"username": "wren"
	},
	"channel_id": "1331210993051320401",
	"content": "",
	"id": "1331210999917772999",
	"timestamp": "2025-01-21T07:55:10.220000+00:00",
	"type": 21
}`

const testThreadCreate = `{
	"applied_tags": [],
	"flags": 0,
	"guild_id": "1180440791957454908",
	"id": "1331210993051320401",
	"last_message_id": "1331210993051320401",
	"member": {
		"flags": 1,
		"id": "1331210993051320401",
		"join_timestamp": "2025-01-21T07:55:08.681000+00:00",
		"user_id": "224687232356368384"
	},
	"member_count": 1,
	"message_count": 0,
	"name": "LF2M Mythic+ team, EU evenings",
	"newly_created": true,
	"owner_id": "224687232356368384",
	"parent_id": "1180442095131619358",
	"rate_limit_per_user": 0,
	"thread_metadata": {
		"archive_timestamp": "2025-01-21T07:55:08.681000+00:00",
		"archived": false,
		"auto_archive_duration": 4320,
		"create_timestamp": "2025-01-21T07:55:08.681000+00:00",
		"locked": false
	},
	"total_message_sent": 0,
	"type": 11
}`

const testThreadDelete = `{
	"guild_id": "1180440791957454908",
	"id": "1331210993051320401",
	"parent_id": "1180442095131619358",
	"type": 11
}`

const testInteractionCreate_Bump = `{
	"app_permissions": "562949953421311",
	"application_id": "1063571327094464592",
	"channel": {
		"flags": 0,
		"guild_id": "1180440791957454908",
		"id": "1331210993051320401",
		"name": "LF2M Mythic+ team, EU evenings",
		"owner_id": "224687232356368384",
		"parent_id": "1180442095131619358",
		"thread_metadata": {
			"archived": false,
			"auto_archive_duration": 4320,
			"locked": false
		},
		"type": 11
	},
	"channel_id": "1331210993051320401",
	"data": {
		"id": "1331188201224228914",
		"name": "bump",
		"type": 1
	},
	"guild_id": "1180440791957454908",
	"id": "1331236619553116211",
	"locale": "en-GB",
	"member": {
		"avatar": null,
		"deaf": false,
		"joined_at": "2024-02-11T19:03:44.508000+00:00",
		"mute": false,
		"nick": null,
		"pending": false,
		"permissions": "1071698660929",
		"premium_since": null,
		"roles": [],
		"user": {
			"avatar": null,
			"discriminator": "0",
			"id": "224687232356368384",
			"public_flags": 0,
			"username": "wren"
		}
	},
	"token": "<redacted>",
	"type": 2,
	"version": 1
}`

const testInteractionCreate_Unban = `{
	"application_id": "1063571327094464592",
	"channel": {
		"guild_id": "1180440791957454908",
		"id": "1180447004153397288",
		"name": "mod-chat",
		"parent_id": null,
		"type": 0
	},
	"channel_id": "1180447004153397288",
	"data": {
		"id": "1331188201224228916",
		"name": "unban-post",
		"options": [
			{
				"name": "post",
				"type": 7,
				"value": "1331210993051320401"
			},
			{
				"name": "user",
				"type": 6,
				"value": "224687232356368384"
			}
		],
		"resolved": {
			"channels": {
				"1331210993051320401": {
					"id": "1331210993051320401",
					"name": "LF2M Mythic+ team, EU evenings",
					"parent_id": "1180442095131619358",
					"permissions": "562949953421311",
					"thread_metadata": {
						"archived": false,
						"locked": false
					},
					"type": 11
				}
			},
			"members": {
				"224687232356368384": {
					"avatar": null,
					"joined_at": "2024-02-11T19:03:44.508000+00:00",
					"nick": null,
					"pending": false,
					"permissions": "1071698660929",
					"premium_since": null,
					"roles": []
				}
			},
			"users": {
				"224687232356368384": {
					"avatar": null,
					"discriminator": "0",
					"id": "224687232356368384",
					"public_flags": 0,
					"username": "wren"
				}
			}
		},
		"type": 1
	},
	"guild_id": "1180440791957454908",
	"id": "1331240012177215549",
	"member": {
		"avatar": null,
		"deaf": false,
		"joined_at": "2023-12-01T10:00:00.000000+00:00",
		"mute": false,
		"nick": "mod",
		"pending": false,
		"permissions": "562949953421311",
		"premium_since": null,
		"roles": ["1180441380980908112"],
		"user": {
			"avatar": null,
			"discriminator": "0",
			"id": "187650933440086016",
			"public_flags": 0,
			"username": "heron"
		}
	},
	"token": "<redacted>",
	"type": 2,
	"version": 1
}`

const testReady = `{
	"application": {
		"flags": 565248,
		"id": "1063571327094464592"
	},
	"guilds": [
		{
			"id": "1180440791957454908",
			"unavailable": true
		}
	],
	"resume_gateway_url": "wss://gateway-us-east1-b.discord.gg",
	"session_id": "d5b6c8f1a9e2",
	"session_type": "normal",
	"user": {
		"avatar": null,
		"bot": true,
		"discriminator": "0",
		"id": "1063571327094464592",
		"username": "SochBot"
	},
	"v": 10
}`
