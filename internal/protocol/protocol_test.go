package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{"type":`},
		{"empty", ``},
		{"json but no type", `{"roomId":"ABCDEFGH"}`},
		{"empty type", `{"type":""}`},
		{"wrong top-level value", `["join"]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestDecodeMapsFields(t *testing.T) {
	in, err := Decode([]byte(`{
		"type": "set-permission",
		"roomId": "ABCDEFGH",
		"displayName": "Hana",
		"targetUserId": "user-7",
		"permission": "edit",
		"socketId": "user-3",
		"text": "hello",
		"lineNumber": 42,
		"commentId": "cmt-1"
	}`))
	require.NoError(t, err)

	assert.Equal(t, TypeSetPermission, in.Type)
	assert.Equal(t, "ABCDEFGH", in.RoomID)
	assert.Equal(t, "Hana", in.DisplayName)
	assert.Equal(t, "user-7", in.TargetUserID)
	assert.Equal(t, "edit", in.Permission)
	assert.Equal(t, "user-3", in.SocketID)
	assert.Equal(t, "hello", in.Text)
	assert.Equal(t, 42, in.LineNumber)
	assert.Equal(t, "cmt-1", in.CommentID)
}

func TestDecodeContentIsOpaque(t *testing.T) {
	// Document payloads pass through untouched, whatever their shape.
	for _, content := range []string{
		`"plain text"`,
		`{"ops":[{"insert":"x"}]}`,
		`[1,2,3]`,
		`null`,
	} {
		in, err := Decode([]byte(`{"type":"editor-change","content":` + content + `}`))
		require.NoError(t, err)
		assert.JSONEq(t, content, string(in.Content))
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	in, err := Decode([]byte(`{"type":"join","roomId":"X","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, in.Type)
	assert.Equal(t, "X", in.RoomID)
}
