package message

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesbot/hermes/internal/identity"
	"github.com/hermesbot/hermes/internal/transport"
)

func newTestNormalizer(t *testing.T) (*Normalizer, *transport.FakeClient) {
	t.Helper()
	fake := transport.NewFakeClient()
	resolver := identity.NewResolver(fake)
	t.Cleanup(resolver.Close)
	return NewNormalizer(fake, resolver), fake
}

func TestNormalizeEphemeralQuotedReply(t *testing.T) {
	n, _ := newTestNormalizer(t)

	env := &transport.Envelope{
		ID:        "M1",
		ChatJID:   "2348099999999@s.whatsapp.net",
		SenderJID: "2348099999999@s.whatsapp.net",
		Timestamp: time.Now(),
		Content: &transport.Content{
			Kind: transport.KindEphemeral,
			Inner: &transport.Content{
				Kind:         transport.KindConversation,
				Conversation: "hello",
				Context: &transport.ContextInfo{
					StanzaID:    "X1",
					Participant: "123456789@s.whatsapp.net",
					Quoted: &transport.Content{
						Kind:         transport.KindConversation,
						Conversation: "hi",
					},
				},
			},
		},
	}

	m := n.Normalize(context.Background(), env)
	assert.Equal(t, transport.KindConversation, m.Type)
	assert.Equal(t, "hello", m.Body)
	require.NotNil(t, m.Quoted)
	assert.Equal(t, "X1", m.Quoted.ID)
	assert.Equal(t, "123456789@s.whatsapp.net", m.Quoted.Sender)
	assert.Equal(t, "hi", m.Quoted.Text)
	// Canonical quoted sender joins the mention list.
	assert.Contains(t, m.Mentions, "123456789@s.whatsapp.net")
}

func TestUnwrapGuardsAgainstCycles(t *testing.T) {
	// A self-referencing wrapper must not loop forever.
	c := &transport.Content{Kind: transport.KindEphemeral}
	c.Inner = c
	got := Unwrap(c)
	assert.NotNil(t, got)
}

func TestBodyPrecedence(t *testing.T) {
	cases := []struct {
		name string
		c    *transport.Content
		want string
	}{
		{"conversation", &transport.Content{
			Kind: transport.KindConversation, Conversation: "plain",
		}, "plain"},
		{"extended text", &transport.Content{
			Kind: transport.KindExtendedText, Text: &transport.TextContent{Text: "extended"},
		}, "extended"},
		{"caption", &transport.Content{
			Kind: transport.KindImage, Media: &transport.MediaContent{Caption: "a caption"},
		}, "a caption"},
		{"list response", &transport.Content{
			Kind: transport.KindListResponse, ListReply: &transport.ListReply{SelectedRowID: "row_7"},
		}, "row_7"},
		{"buttons response", &transport.Content{
			Kind: transport.KindButtonsResponse, ButtonsReply: &transport.ButtonsReply{SelectedButtonID: "btn_2"},
		}, "btn_2"},
		{"template reply", &transport.Content{
			Kind: transport.KindTemplateReply, TemplateReply: &transport.TemplateReply{SelectedID: "tpl_1"},
		}, "tpl_1"},
		{"whitespace trimmed", &transport.Content{
			Kind: transport.KindConversation, Conversation: "  padded  ",
		}, "padded"},
		{"empty", &transport.Content{Kind: transport.KindProtocol}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractBody(tc.c))
		})
	}
}

func TestBodyNeverNil(t *testing.T) {
	n, _ := newTestNormalizer(t)
	m := n.Normalize(context.Background(), &transport.Envelope{
		ID:        "M2",
		ChatJID:   "2348099999999@s.whatsapp.net",
		SenderJID: "2348099999999@s.whatsapp.net",
	})
	assert.Equal(t, "", m.Body)
	assert.Equal(t, transport.KindUnknown, m.Type)
}

func TestMentionsFiltered(t *testing.T) {
	n, _ := newTestNormalizer(t)

	env := &transport.Envelope{
		ID:        "M3",
		ChatJID:   "120363000000000001@g.us",
		SenderJID: "2348011111111@s.whatsapp.net",
		Content: &transport.Content{
			Kind:         transport.KindConversation,
			Conversation: "hey @team",
			Context: &transport.ContextInfo{
				MentionedJIDs: []string{
					"2348011111111:7@s.whatsapp.net", // device suffix, valid after strip
					"not-a-jid",                      // dropped
					"2348011111111@s.whatsapp.net",   // duplicate
				},
			},
		},
	}

	m := n.Normalize(context.Background(), env)
	assert.Equal(t, []string{"2348011111111@s.whatsapp.net"}, m.Mentions)
}

func TestQuotedWithoutParticipantIsUnresolved(t *testing.T) {
	n, _ := newTestNormalizer(t)

	env := &transport.Envelope{
		ID:        "M4",
		ChatJID:   "120363000000000001@g.us",
		SenderJID: "2348011111111@s.whatsapp.net",
		Content: &transport.Content{
			Kind:         transport.KindConversation,
			Conversation: "re",
			Context: &transport.ContextInfo{
				StanzaID: "X9",
				Quoted:   &transport.Content{Kind: transport.KindConversation, Conversation: "orig"},
			},
		},
	}

	m := n.Normalize(context.Background(), env)
	require.NotNil(t, m.Quoted)
	assert.True(t, m.Quoted.Unresolved)
	assert.Empty(t, m.Mentions, "unresolved quoted sender must not join mentions")
}

func TestCapabilities(t *testing.T) {
	n, fake := newTestNormalizer(t)
	ctx := context.Background()

	ref := &transport.MediaRef{URL: "https://media.example/1"}
	fake.Media[ref.URL] = []byte{0x1, 0x2, 0x3}

	env := &transport.Envelope{
		ID:        "M5",
		ChatJID:   "2348011111111@s.whatsapp.net",
		SenderJID: "2348011111111@s.whatsapp.net",
		Content: &transport.Content{
			Kind:  transport.KindImage,
			Media: &transport.MediaContent{Caption: "pic", Ref: ref},
		},
	}
	m := n.Normalize(ctx, env)

	assert.True(t, m.HasMedia())
	data, err := m.Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1, 0x2, 0x3}, data)

	_, err = m.Reply(ctx, "   ")
	assert.Error(t, err, "empty reply must be rejected")

	_, err = m.Reply(ctx, "got it")
	require.NoError(t, err)
	sent := fake.LastSent()
	require.NotNil(t, sent)
	assert.Equal(t, m.ChatJID, sent.To)
	assert.Equal(t, "M5", sent.Msg.QuoteID)

	require.NoError(t, m.React(ctx, "👍"))
	assert.Len(t, fake.Reactions, 1)
}

func TestAdminChecksOutsideGroup(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ctx := context.Background()

	m := n.Normalize(ctx, &transport.Envelope{
		ID:        "M6",
		ChatJID:   "2348011111111@s.whatsapp.net",
		SenderJID: "2348011111111@s.whatsapp.net",
		Content:   &transport.Content{Kind: transport.KindConversation, Conversation: "x"},
	})
	assert.False(t, m.IsAdmin(ctx))
	assert.False(t, m.IsBotAdmin(ctx))
}

func TestAdminChecksInGroup(t *testing.T) {
	n, fake := newTestNormalizer(t)
	ctx := context.Background()
	group := "120363000000000001@g.us"

	fake.Groups[group] = &transport.GroupInfo{
		JID: group,
		Participants: []transport.GroupParticipant{
			{JID: "2348011111111@s.whatsapp.net", IsAdmin: true},
			{JID: fake.BotID},
		},
	}

	m := n.Normalize(ctx, &transport.Envelope{
		ID:        "M7",
		ChatJID:   group,
		SenderJID: "2348011111111@s.whatsapp.net",
		Content:   &transport.Content{Kind: transport.KindConversation, Conversation: "x"},
	})
	assert.True(t, m.IsAdmin(ctx))
	assert.False(t, m.IsBotAdmin(ctx))
}

func TestGetNameFallback(t *testing.T) {
	n, fake := newTestNormalizer(t)
	ctx := context.Background()

	m := n.Normalize(ctx, &transport.Envelope{
		ID:        "M8",
		ChatJID:   "2348011111111@s.whatsapp.net",
		SenderJID: "2348011111111@s.whatsapp.net",
		PushName:  "Ada",
		Content:   &transport.Content{Kind: transport.KindConversation, Conversation: "x"},
	})
	assert.Equal(t, "Ada", m.GetName(ctx))

	fake.Names["2348011111111@s.whatsapp.net"] = "Ada Obi"
	assert.Equal(t, "Ada Obi", m.GetName(ctx))
}
