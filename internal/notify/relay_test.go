package notify

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOutbox struct {
	pending []Outgoing
	sent    []int64
	failed  map[int64]string
}

func (m *memOutbox) Pending(_ context.Context, limit, maxTries int) ([]Outgoing, error) {
	var out []Outgoing
	for _, o := range m.pending {
		if o.Tries < maxTries && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id int64) error {
	m.sent = append(m.sent, id)
	m.pending = slices.DeleteFunc(m.pending, func(o Outgoing) bool { return o.ID == id })
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, id int64, delivered []string, reason string) error {
	if m.failed == nil {
		m.failed = map[int64]string{}
	}
	m.failed[id] = reason
	for i := range m.pending {
		if m.pending[i].ID == id {
			m.pending[i].Tries++
			m.pending[i].DeliveredTo = append(m.pending[i].DeliveredTo, delivered...)
		}
	}
	return nil
}

type fakeSender struct {
	name string
	got  []int64
	fail func(Outgoing) error
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(_ context.Context, msg Outgoing) error {
	f.got = append(f.got, msg.ID)
	if f.fail != nil {
		return f.fail(msg)
	}
	return nil
}

func outgoing(id int64, phone string, tries int) Outgoing {
	return Outgoing{Notification: Notification{ID: id, AccountID: 1, Title: "Profit Recorded"}, Phone: phone, Tries: tries}
}

func TestRelayRunOnce(t *testing.T) {
	box := &memOutbox{pending: []Outgoing{
		outgoing(1, "+44 7700 900123", 0),
		outgoing(2, "", 0),
		outgoing(3, "+44 7700 900999", 0),
		outgoing(4, "+44 7700 900555", DefaultMaxTries),
	}}
	discord := &fakeSender{name: "discord"}
	phone := &fakeSender{name: "whatsapp", fail: func(o Outgoing) error {
		switch o.ID {
		case 2:
			return ErrNoRecipient
		case 3:
			return errors.New("not connected")
		}
		return nil
	}}

	stats, err := NewRelay(box, zerolog.Nop(), discord, phone).RunOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RelayStats{Sent: 2, Failed: 1}, stats)
	assert.Equal(t, []int64{1, 2}, box.sent)
	assert.Equal(t, "whatsapp: not connected", box.failed[3])
	assert.Equal(t, []int64{1, 2, 3}, discord.got)
}

func TestRelayRetriesOnlyFailedSenders(t *testing.T) {
	box := &memOutbox{pending: []Outgoing{outgoing(1, "+44 7700 900123", 0)}}
	discord := &fakeSender{name: "discord"}
	phone := &fakeSender{name: "whatsapp", fail: func(Outgoing) error { return errors.New("not connected") }}
	relay := NewRelay(box, zerolog.Nop(), discord, phone)

	for i := 0; i < 10; i++ {
		_, err := relay.RunOnce(context.Background(), 10)
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{1}, discord.got)
	assert.Len(t, phone.got, DefaultMaxTries)
	require.Len(t, box.pending, 1)
	assert.Equal(t, []string{"discord"}, box.pending[0].DeliveredTo)
	assert.Equal(t, DefaultMaxTries, box.pending[0].Tries)
	assert.Empty(t, box.sent)
}

func TestRelayMarksSentOnceRemainingSenderRecovers(t *testing.T) {
	box := &memOutbox{pending: []Outgoing{outgoing(1, "+44 7700 900123", 0)}}
	discord := &fakeSender{name: "discord"}
	down := true
	phone := &fakeSender{name: "whatsapp", fail: func(Outgoing) error {
		if down {
			return errors.New("not connected")
		}
		return nil
	}}
	relay := NewRelay(box, zerolog.Nop(), discord, phone)

	stats, err := relay.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RelayStats{Failed: 1}, stats)

	down = false
	stats, err = relay.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RelayStats{Sent: 1}, stats)
	assert.Equal(t, []int64{1}, box.sent)
	assert.Equal(t, []int64{1}, discord.got)
	assert.Equal(t, []int64{1, 1}, phone.got)
}

func TestRelayWithoutSenders(t *testing.T) {
	box := &memOutbox{pending: []Outgoing{outgoing(1, "", 0)}}
	stats, err := NewRelay(box, zerolog.Nop()).RunOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, stats)
	assert.Empty(t, box.sent)
}

func TestParseWebhookURL(t *testing.T) {
	id, token, err := ParseWebhookURL("https://discord.com/api/webhooks/123456/abc-DEF_ghi")
	require.NoError(t, err)
	assert.Equal(t, "123456", id)
	assert.Equal(t, "abc-DEF_ghi", token)

	_, _, err = ParseWebhookURL("https://discord.com/api/channels/1")
	assert.Error(t, err)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "447700900123", NormalizePhone("+44 7700 900123"))
	assert.Equal(t, "919876543210", NormalizePhone("0091-98765-43210"))
	assert.Equal(t, "", NormalizePhone("12345"))
	assert.Equal(t, "", NormalizePhone(""))
}

func TestFormatOperatorLine(t *testing.T) {
	msg := Outgoing{
		Notification: Notification{AccountID: 7, Title: "Referral Bonus", Category: "Referral", Message: "You earned $6.00"},
		AccountName:  "Ada",
	}
	assert.Equal(t, "**Referral Bonus** [Referral] Ada (#7): You earned $6.00", FormatOperatorLine(msg))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
	assert.Equal(t, "abc", truncate("abc", 4))
}
