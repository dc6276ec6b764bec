package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_RankAndMax(t *testing.T) {
	assert.Less(t, StatusSent.Rank(), StatusDelivered.Rank())
	assert.Less(t, StatusDelivered.Rank(), StatusRead.Rank())
	assert.False(t, Status("seen").Valid())
	assert.True(t, StatusRead.Valid())

	assert.Equal(t, StatusRead, MaxStatus(StatusRead, StatusDelivered), "status never regresses")
	assert.Equal(t, StatusDelivered, MaxStatus(StatusSent, StatusDelivered))
	assert.Equal(t, StatusSent, MaxStatus(StatusSent, Status("")))
}

func TestMessage_Participants(t *testing.T) {
	m := Message{ID: ProvisionalPrefix + "1", Sender: "me", Receiver: "u7"}
	assert.True(t, m.Provisional())
	assert.True(t, m.Involves("me"))
	assert.True(t, m.Involves("u7"))
	assert.False(t, m.Involves("u9"))
	assert.Equal(t, "u7", m.Counterpart("me"))
	assert.Equal(t, "me", m.Counterpart("u7"))

	m.ID = "m1"
	assert.False(t, m.Provisional())
}

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "Seven", User{ID: "u7", Name: "Seven"}.DisplayName())
	assert.Equal(t, "u7", User{ID: "u7"}.DisplayName())
}
