package discord

import (
	"encoding/json"
	"strconv"
	"time"
)

type Opcode int

// https://discord.com/developers/docs/topics/opcodes-and-status-codes#gateway-gateway-opcodes
// NOTE: Not using iota because 5 is missing
const (
	OpcodeDispatch            Opcode = 0
	OpcodeHeartbeat           Opcode = 1
	OpcodeIdentify            Opcode = 2
	OpcodePresenceUpdate      Opcode = 3
	OpcodeVoiceStateUpdate    Opcode = 4
	OpcodeResume              Opcode = 6
	OpcodeReconnect           Opcode = 7
	OpcodeRequestGuildMembers Opcode = 8
	OpcodeInvalidSession      Opcode = 9
	OpcodeHello               Opcode = 10
	OpcodeHeartbeatACK        Opcode = 11
)

type Intent int

// https://discord.com/developers/docs/topics/gateway#list-of-intents
const (
	IntentGuilds                 Intent = 1 << 0
	IntentGuildMembers           Intent = 1 << 1
	IntentGuildBans              Intent = 1 << 2
	IntentGuildEmojisAndStickers Intent = 1 << 3
	IntentGuildIntegrations      Intent = 1 << 4
	IntentGuildWebhooks          Intent = 1 << 5
	IntentGuildInvites           Intent = 1 << 6
	IntentGuildVoiceStates       Intent = 1 << 7
	IntentGuildPresences         Intent = 1 << 8
	IntentGuildMessages          Intent = 1 << 9
	IntentGuildMessageReactions  Intent = 1 << 10
	IntentGuildMessageTyping     Intent = 1 << 11
	IntentDirectMessages         Intent = 1 << 12
	IntentDirectMessageReactions Intent = 1 << 13
	IntentDirectMessageTyping    Intent = 1 << 14
	IntentMessageContent         Intent = 1 << 15
)

type GatewayMessage struct {
	Opcode         Opcode      `json:"op"`
	Data           interface{} `json:"d"`
	SequenceNumber *int        `json:"s,omitempty"`
	EventName      *string     `json:"t,omitempty"`
}

func (m *GatewayMessage) ToJSON() []byte {
	mBytes, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}

	// TODO: check if the payload is too big, either here or where we actually send
	// https://discord.com/developers/docs/topics/gateway#sending-payloads

	return mBytes
}

type Hello struct {
	HeartbeatIntervalMs int `json:"heartbeat_interval"`
}

func HelloFromMap(m interface{}) Hello {
	mmap := m.(map[string]interface{})
	return Hello{
		HeartbeatIntervalMs: maybeInt(mmap, "heartbeat_interval"),
	}
}

type Identify struct {
	Token      string                       `json:"token"`
	Properties IdentifyConnectionProperties `json:"properties"`
	Intents    Intent                       `json:"intents"`
}

type IdentifyConnectionProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type Ready struct {
	GatewayVersion   int    `json:"v"`
	User             User   `json:"user"`
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

func ReadyFromMap(m interface{}) Ready {
	mmap := m.(map[string]interface{})

	return Ready{
		GatewayVersion:   maybeInt(mmap, "v"),
		User:             *UserFromMap(mmap, "user"),
		SessionID:        mmap["session_id"].(string),
		ResumeGatewayURL: maybeString(mmap, "resume_gateway_url"),
	}
}

type Resume struct {
	Token          string `json:"token"`
	SessionID      string `json:"session_id"`
	SequenceNumber int    `json:"seq"`
}

// https://discord.com/developers/docs/resources/guild#guild-object
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// more fields not yet handled here
}

func GuildFromMap(m interface{}, k string) *Guild {
	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}
	return &Guild{
		ID:   mmap["id"].(string),
		Name: maybeString(mmap, "name"),
	}
}

type ChannelType int

// https://discord.com/developers/docs/resources/channel#channel-object-channel-types
const (
	ChannelTypeGuildText          ChannelType = 0
	ChannelTypeDM                 ChannelType = 1
	ChannelTypeGuildVoice         ChannelType = 2
	ChannelTypeGroupDM            ChannelType = 3
	ChannelTypeGuildCategory      ChannelType = 4
	ChannelTypeGuildNews          ChannelType = 5
	ChannelTypeGuildNewsThread    ChannelType = 10
	ChannelTypeGuildPublicThread  ChannelType = 11
	ChannelTypeGuildPrivateThread ChannelType = 12
	ChannelTypeGuildStageVoice    ChannelType = 13
	ChannelTypeGuildForum         ChannelType = 15
)

func (t ChannelType) IsThread() bool {
	return t == ChannelTypeGuildNewsThread || t == ChannelTypeGuildPublicThread || t == ChannelTypeGuildPrivateThread
}

// https://discord.com/developers/docs/resources/channel#channel-object
type Channel struct {
	ID       string      `json:"id"`
	Type     ChannelType `json:"type"`
	GuildID  string      `json:"guild_id"`
	Name     string      `json:"name"`
	OwnerID  string      `json:"owner_id"`
	ParentID string      `json:"parent_id"`

	ThreadMetadata *ThreadMetadata `json:"thread_metadata"`

	// Only present on THREAD_CREATE. False when the bot was merely added
	// to an existing thread.
	NewlyCreated *bool `json:"newly_created"`
}

// https://discord.com/developers/docs/resources/channel#thread-metadata-object
type ThreadMetadata struct {
	Archived bool `json:"archived"`
	Locked   bool `json:"locked"`
}

func ChannelFromMap(m interface{}, k string) *Channel {
	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}

	c := &Channel{
		ID:           mmap["id"].(string),
		Type:         ChannelType(maybeInt(mmap, "type")),
		GuildID:      maybeString(mmap, "guild_id"),
		Name:         maybeString(mmap, "name"),
		OwnerID:      maybeString(mmap, "owner_id"),
		ParentID:     maybeString(mmap, "parent_id"),
		NewlyCreated: maybeBoolP(mmap, "newly_created"),
	}
	if meta := maybeMap(mmap, "thread_metadata"); meta != nil {
		c.ThreadMetadata = &ThreadMetadata{
			Archived: maybeBool(meta, "archived"),
			Locked:   maybeBool(meta, "locked"),
		}
	}
	return c
}

// https://discord.com/developers/docs/resources/channel#modify-channel-json-params-thread
type ModifyThreadRequest struct {
	Archived *bool `json:"archived,omitempty"`
	Locked   *bool `json:"locked,omitempty"`
}

type MessageType int

// https://discord.com/developers/docs/resources/channel#message-object-message-types
const (
	MessageTypeDefault MessageType = 0

	MessageTypeRecipientAdd    MessageType = 1
	MessageTypeRecipientRemove MessageType = 2
	MessageTypeCall            MessageType = 3

	MessageTypeChannelNameChange    MessageType = 4
	MessageTypeChannelIconChange    MessageType = 5
	MessageTypeChannelPinnedMessage MessageType = 6

	MessageTypeGuildMemberJoin MessageType = 7

	MessageTypeThreadCreated        MessageType = 18
	MessageTypeReply                MessageType = 19
	MessageTypeApplicationCommand   MessageType = 20
	MessageTypeThreadStarterMessage MessageType = 21
)

// https://discord.com/developers/docs/resources/channel#message-object
type Message struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	GuildID   *string     `json:"guild_id"`
	Content   string      `json:"content"`
	Author    User        `json:"author"` // note that this may not be an actual valid user (see the docs)
	Timestamp string      `json:"timestamp"`
	Type      MessageType `json:"type"`
	Embeds    []Embed     `json:"embeds"`

	originalMap map[string]interface{}
}

func (m *Message) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Whether a member typed this, as opposed to a system message about pins,
// joins, and such.
func (m *Message) IsUserContent() bool {
	return m.Type == MessageTypeDefault || m.Type == MessageTypeReply
}

func (m *Message) OriginalHasFields(fields ...string) bool {
	if m.originalMap == nil {
		// If we don't know, we assume the fields are there.
		// Usually this is because it came from their API, where we
		// always have all fields.
		return true
	}

	for _, field := range fields {
		_, ok := m.originalMap[field]
		if !ok {
			return false
		}
	}
	return true
}

func MessageFromMap(m interface{}, k string) *Message {
	/*
		Some gateway events, like MESSAGE_UPDATE, do not contain the
		entire message body. So we need to be defensive on all fields here,
		except the most basic identifying information.
	*/

	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}
	msg := &Message{
		ID:        mmap["id"].(string),
		ChannelID: mmap["channel_id"].(string),
		GuildID:   maybeStringP(mmap, "guild_id"),
		Content:   maybeString(mmap, "content"),
		Timestamp: maybeString(mmap, "timestamp"),
		Type:      MessageType(maybeInt(mmap, "type")),

		originalMap: mmap,
	}

	if author := UserFromMap(mmap, "author"); author != nil {
		msg.Author = *author
	}

	if iembeds, ok := mmap["embeds"].([]interface{}); ok {
		for _, iembed := range iembeds {
			if embed := EmbedFromMap(iembed, ""); embed != nil {
				msg.Embeds = append(msg.Embeds, *embed)
			}
		}
	}

	return msg
}

// https://discord.com/developers/docs/resources/user#user-object
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar"`
	IsBot         bool    `json:"bot"`
}

func UserFromMap(m interface{}, k string) *User {
	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}

	return &User{
		ID:            mmap["id"].(string),
		Username:      maybeString(mmap, "username"),
		Discriminator: maybeString(mmap, "discriminator"),
		Avatar:        maybeStringP(mmap, "avatar"),
		IsBot:         maybeBool(mmap, "bot"),
	}
}

type Permission uint64

// https://discord.com/developers/docs/topics/permissions#permissions-bitwise-permission-flags
const (
	PermissionAdministrator  Permission = 1 << 3
	PermissionManageChannels Permission = 1 << 4
	PermissionManageMessages Permission = 1 << 13
	PermissionManageThreads  Permission = 1 << 34
)

// https://discord.com/developers/docs/resources/guild#guild-member-object
type GuildMember struct {
	User *User   `json:"user"`
	Nick *string `json:"nick"`

	// Only present on members that come with an interaction. Includes
	// channel overwrites.
	Permissions Permission `json:"permissions,string"`
}

func (m *GuildMember) Has(p Permission) bool {
	return m != nil && (m.Permissions&PermissionAdministrator != 0 || m.Permissions&p != 0)
}

func GuildMemberFromMap(m interface{}, k string) *GuildMember {
	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}

	gm := &GuildMember{
		User: UserFromMap(mmap, "user"),
		Nick: maybeStringP(mmap, "nick"),
	}
	if perms, err := strconv.ParseUint(maybeString(mmap, "permissions"), 10, 64); err == nil {
		gm.Permissions = Permission(perms)
	}
	return gm
}

// https://discord.com/developers/docs/resources/channel#embed-object
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Url         string       `json:"url,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Color       int          `json:"color,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconUrl string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

func EmbedFromMap(m interface{}, k string) *Embed {
	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}

	e := &Embed{
		Title:       maybeString(mmap, "title"),
		Description: maybeString(mmap, "description"),
		Url:         maybeString(mmap, "url"),
		Timestamp:   maybeString(mmap, "timestamp"),
		Color:       maybeInt(mmap, "color"),
	}
	if footer := maybeMap(mmap, "footer"); footer != nil {
		e.Footer = &EmbedFooter{
			Text:    maybeString(footer, "text"),
			IconUrl: maybeString(footer, "icon_url"),
		}
	}
	if ifields, ok := mmap["fields"].([]interface{}); ok {
		for _, ifield := range ifields {
			field := maybeMap(ifield, "")
			if field == nil {
				continue
			}
			e.Fields = append(e.Fields, EmbedField{
				Name:   maybeString(field, "name"),
				Value:  maybeString(field, "value"),
				Inline: maybeBool(field, "inline"),
			})
		}
	}
	return e
}

type MessageFlags int

const (
	FlagEphemeral MessageFlags = 1 << 6
)

type InteractionType int

// https://discord.com/developers/docs/interactions/receiving-and-responding#interaction-object-interaction-type
const (
	InteractionTypePing                           InteractionType = 1
	InteractionTypeApplicationCommand             InteractionType = 2
	InteractionTypeMessageComponent               InteractionType = 3
	InteractionTypeApplicationCommandAutocomplete InteractionType = 4
	InteractionTypeModalSubmit                    InteractionType = 5
)

// https://discord.com/developers/docs/interactions/receiving-and-responding#interaction-object
type Interaction struct {
	ID            string                            `json:"id"`
	ApplicationID string                            `json:"application_id"`
	Type          InteractionType                   `json:"type"`
	Data          *ApplicationCommandInteractionData `json:"data"`
	GuildID       string                            `json:"guild_id"`
	ChannelID     string                            `json:"channel_id"`
	Channel       *Channel                          `json:"channel"`
	Member        *GuildMember                      `json:"member"`
	User          *User                             `json:"user"`
	Token         string                            `json:"token"`
	Version       int                               `json:"version"`
}

// The member who invoked the interaction. Member is set in guilds, User in DMs.
func (i *Interaction) Invoker() *User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func InteractionFromMap(m interface{}, k string) *Interaction {
	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}

	return &Interaction{
		ID:            mmap["id"].(string),
		ApplicationID: maybeString(mmap, "application_id"),
		Type:          InteractionType(maybeInt(mmap, "type")),
		Data:          ApplicationCommandInteractionDataFromMap(mmap, "data"),
		GuildID:       maybeString(mmap, "guild_id"),
		ChannelID:     maybeString(mmap, "channel_id"),
		Channel:       ChannelFromMap(mmap, "channel"),
		Member:        GuildMemberFromMap(mmap, "member"),
		User:          UserFromMap(mmap, "user"),
		Token:         maybeString(mmap, "token"),
		Version:       maybeInt(mmap, "version"),
	}
}

type ApplicationCommandType int

const (
	ApplicationCommandTypeChatInput ApplicationCommandType = 1
	ApplicationCommandTypeUser      ApplicationCommandType = 2
	ApplicationCommandTypeMessage   ApplicationCommandType = 3
)

type ApplicationCommandOptionType int

// https://discord.com/developers/docs/interactions/application-commands#application-command-object-application-command-option-type
const (
	ApplicationCommandOptionTypeSubCommand      ApplicationCommandOptionType = 1
	ApplicationCommandOptionTypeSubCommandGroup ApplicationCommandOptionType = 2
	ApplicationCommandOptionTypeString          ApplicationCommandOptionType = 3
	ApplicationCommandOptionTypeInteger         ApplicationCommandOptionType = 4
	ApplicationCommandOptionTypeBoolean         ApplicationCommandOptionType = 5
	ApplicationCommandOptionTypeUser            ApplicationCommandOptionType = 6
	ApplicationCommandOptionTypeChannel         ApplicationCommandOptionType = 7
	ApplicationCommandOptionTypeRole            ApplicationCommandOptionType = 8
)

type ApplicationCommandInteractionData struct {
	ID       string                                    `json:"id"`
	Name     string                                    `json:"name"`
	Type     ApplicationCommandType                    `json:"type"`
	Resolved ResolvedData                              `json:"resolved"`
	Options  []ApplicationCommandInteractionDataOption `json:"options"`
	TargetID string                                    `json:"target_id"`
}

func ApplicationCommandInteractionDataFromMap(m interface{}, k string) *ApplicationCommandInteractionData {
	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}

	data := &ApplicationCommandInteractionData{
		ID:       maybeString(mmap, "id"),
		Name:     maybeString(mmap, "name"),
		Type:     ApplicationCommandType(maybeInt(mmap, "type")),
		Resolved: ResolvedDataFromMap(mmap, "resolved"),
		TargetID: maybeString(mmap, "target_id"),
	}
	if iopts, ok := mmap["options"].([]interface{}); ok {
		for _, iopt := range iopts {
			if opt := ApplicationCommandInteractionDataOptionFromMap(iopt, ""); opt != nil {
				data.Options = append(data.Options, *opt)
			}
		}
	}
	return data
}

type ResolvedData struct {
	Users    map[string]User        `json:"users"`
	Members  map[string]GuildMember `json:"members"`
	Channels map[string]Channel     `json:"channels"`
}

func ResolvedDataFromMap(m interface{}, k string) ResolvedData {
	resolved := ResolvedData{
		Users:    map[string]User{},
		Members:  map[string]GuildMember{},
		Channels: map[string]Channel{},
	}
	mmap := maybeMap(m, k)
	if mmap == nil {
		return resolved
	}

	if users := maybeMap(mmap, "users"); users != nil {
		for id := range users {
			resolved.Users[id] = *UserFromMap(users, id)
		}
	}
	if members := maybeMap(mmap, "members"); members != nil {
		for id := range members {
			member := *GuildMemberFromMap(members, id)
			if user, ok := resolved.Users[id]; ok {
				// Resolved members don't carry their user; it's under users instead.
				member.User = &user
			}
			resolved.Members[id] = member
		}
	}
	if channels := maybeMap(mmap, "channels"); channels != nil {
		for id := range channels {
			resolved.Channels[id] = *ChannelFromMap(channels, id)
		}
	}
	return resolved
}

type ApplicationCommandInteractionDataOption struct {
	Name    string                                    `json:"name"`
	Type    ApplicationCommandOptionType              `json:"type"`
	Value   interface{}                               `json:"value"`
	Options []ApplicationCommandInteractionDataOption `json:"options"`
}

func ApplicationCommandInteractionDataOptionFromMap(m interface{}, k string) *ApplicationCommandInteractionDataOption {
	mmap := maybeMap(m, k)
	if mmap == nil {
		return nil
	}

	opt := &ApplicationCommandInteractionDataOption{
		Name:  maybeString(mmap, "name"),
		Type:  ApplicationCommandOptionType(maybeInt(mmap, "type")),
		Value: mmap["value"],
	}
	if iopts, ok := mmap["options"].([]interface{}); ok {
		for _, iopt := range iopts {
			if sub := ApplicationCommandInteractionDataOptionFromMap(iopt, ""); sub != nil {
				opt.Options = append(opt.Options, *sub)
			}
		}
	}
	return opt
}

type InteractionCallbackType int

// https://discord.com/developers/docs/interactions/receiving-and-responding#interaction-response-object-interaction-callback-type
const (
	InteractionCallbackTypePong                             InteractionCallbackType = 1
	InteractionCallbackTypeChannelMessageWithSource         InteractionCallbackType = 4
	InteractionCallbackTypeDeferredChannelMessageWithSource InteractionCallbackType = 5
)

type InteractionResponse struct {
	Type InteractionCallbackType  `json:"type"`
	Data *InteractionCallbackData `json:"data,omitempty"`
}

type InteractionCallbackData struct {
	Content string       `json:"content,omitempty"`
	Embeds  []Embed      `json:"embeds,omitempty"`
	Flags   MessageFlags `json:"flags,omitempty"`
}

type ApplicationCommandOption struct {
	Type         ApplicationCommandOptionType `json:"type"`
	Name         string                       `json:"name"`
	Description  string                       `json:"description"`
	Required     bool                         `json:"required,omitempty"`
	ChannelTypes []ChannelType                `json:"channel_types,omitempty"`
}

type CreateGuildApplicationCommandRequest struct {
	Type        ApplicationCommandType     `json:"type,omitempty"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Options     []ApplicationCommandOption `json:"options,omitempty"`

	// Permission bits as a decimal string. Members without these don't see the command.
	DefaultMemberPermissions *string `json:"default_member_permissions,omitempty"`
}

func maybeMap(m interface{}, k string) map[string]interface{} {
	mmap, ok := m.(map[string]interface{})
	if !ok {
		return nil
	}
	if k == "" {
		return mmap
	}
	inner, _ := mmap[k].(map[string]interface{})
	return inner
}

func maybeString(m map[string]interface{}, k string) string {
	val, _ := m[k].(string)
	return val
}

func maybeStringP(m map[string]interface{}, k string) *string {
	val, ok := m[k].(string)
	if !ok {
		return nil
	}
	return &val
}

func maybeInt(m map[string]interface{}, k string) int {
	val, _ := m[k].(float64)
	return int(val)
}

func maybeBool(m map[string]interface{}, k string) bool {
	val, _ := m[k].(bool)
	return val
}

func maybeBoolP(m map[string]interface{}, k string) *bool {
	val, ok := m[k].(bool)
	if !ok {
		return nil
	}
	return &val
}
