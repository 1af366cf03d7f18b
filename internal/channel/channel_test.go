package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChatID(t *testing.T) {
	numeric := ParseChatID("-1001234567890")
	assert.Equal(t, int64(-1001234567890), numeric.ID)
	assert.Empty(t, numeric.Username)

	named := ParseChatID("@antow_channel")
	assert.Zero(t, named.ID)
	assert.Equal(t, "@antow_channel", named.Username)
}
