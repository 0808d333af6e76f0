package photostream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePhoto(t *testing.T) {
	p, err := DecodePhoto(raw(`{
		"photo_id": 42,
		"description": "sunset",
		"uploader": "mara",
		"created_at": "2024-03-01 18:30:00",
		"image_url": "/photostream/image/42",
		"comment_count": 3,
		"favorite": true,
		"deleteable": false
	}`))
	require.NoError(t, err)
	assert.Equal(t, 42, p.ID)
	assert.Equal(t, "sunset", p.Description)
	assert.Equal(t, "mara", p.Uploader)
	assert.Equal(t, time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC), p.CreatedAt.Time)
	assert.Equal(t, "/photostream/image/42", p.ImageURL)
	assert.Equal(t, 3, p.CommentCount)
	assert.True(t, p.Favorite)
	assert.False(t, p.Deleteable)
}

func TestDecodePhotoIgnoresUnknownFields(t *testing.T) {
	p, err := DecodePhoto(raw(`{"photo_id":1,"extra":{"nested":true}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, p.ID)
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodePhoto()
	assert.ErrorIs(t, err, errNoPayload)
	_, err = DecodeComment(raw(`  `))
	assert.ErrorIs(t, err, errNoPayload)
	_, err = DecodePhoto(raw(`{"photo_id":"x"}`))
	assert.Error(t, err)
	_, err = DecodeComment(raw(`{"comment_id":1,"created_at":"yesterday"}`))
	assert.Error(t, err)
}

func TestDecodeID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{`7`, 7, false},
		{`"7"`, 7, false},
		{`" 12 "`, 12, false},
		{`-3`, -3, false},
		{`"abc"`, 0, true},
		{`1.5`, 0, true},
		{`null`, 0, true},
		{`{"id":1}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DecodeID(raw(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DecodeID()
	assert.ErrorIs(t, err, errNoPayload)
}

func TestDecodeCommentCount(t *testing.T) {
	cc, err := DecodeCommentCount(raw(`{"photo_id":5,"comment_count":0}`))
	require.NoError(t, err)
	assert.Equal(t, CommentCount{PhotoID: 5, Count: 0}, cc)

	cc, err = DecodeCommentCount(raw(`"{\"photo_id\":6,\"comment_count\":2}"`))
	require.NoError(t, err)
	assert.Equal(t, CommentCount{PhotoID: 6, Count: 2}, cc)

	_, err = DecodeCommentCount(raw(`{"photo_id":5}`))
	assert.ErrorContains(t, err, "comment_count")
	_, err = DecodeCommentCount(raw(`{"comment_count":5}`))
	assert.ErrorContains(t, err, "photo_id")
}

func TestDisconnectError(t *testing.T) {
	assert.NoError(t, disconnectError([]json.RawMessage{raw(`"io client disconnect"`)}))

	err := disconnectError([]json.RawMessage{raw(`"ping timeout"`)})
	var de *DisconnectError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "ping timeout", de.Reason)
	assert.Equal(t, "disconnected: ping timeout", err.Error())

	err = disconnectError(nil)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "connection lost", de.Reason)
}

func TestConnectError(t *testing.T) {
	tests := []struct {
		args []json.RawMessage
		want string
	}{
		{[]json.RawMessage{raw(`{"message":"bad token"}`)}, "bad token"},
		{[]json.RawMessage{raw(`"refused"`)}, "refused"},
		{[]json.RawMessage{raw(`{"code":1}`)}, `{"code":1}`},
		{nil, "connect failed"},
	}
	for _, tt := range tests {
		err := connectError(tt.args)
		var ce *ConnectError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, tt.want, ce.Message)
	}
}
