package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSession_DisplayName_Absent_Until_Identified(t *testing.T) {
	req := require.New(t)
	session := NewSession("abc")

	_, identified := session.DisplayName()
	req.False(identified)

	session.SetDisplayName("Alice")

	name, identified := session.DisplayName()
	req.True(identified)
	req.Equal("Alice", name)
}

func TestSession_Rooms(t *testing.T) {
	req := require.New(t)
	session := NewSession("abc")

	req.False(session.InRoom("general"))

	session.JoinRoom("general")
	session.JoinRoom("general")
	session.JoinRoom("random")
	req.True(session.InRoom("general"))
	req.Equal(2, session.RoomCount())

	session.LeaveRoom("general")
	req.False(session.InRoom("general"))
	session.LeaveRoom("missing")
	req.Equal(1, session.RoomCount())
}

func TestMessageKind_Valid(t *testing.T) {
	req := require.New(t)

	req.True(KindText.Valid())
	req.True(KindSystem.Valid())
	req.True(KindImage.Valid())
	req.True(KindFile.Valid())
	req.False(MessageKind("").Valid())
	req.False(MessageKind("video").Valid())
}
