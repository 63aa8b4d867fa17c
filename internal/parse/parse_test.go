package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsernames(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{
			name:  "typical listing",
			reply: "There are 3 tracked entities: Alice, bob_the_builder, CAROL",
			want:  []string{"Alice", "bob_the_builder", "CAROL"},
		},
		{
			name:  "whitespace and empty entries",
			reply: "2 entries:  Alice ,, Bob ,",
			want:  []string{"Alice", "Bob"},
		},
		{
			name:  "no colon",
			reply: "There are no tracked entities",
			want:  nil,
		},
		{
			name:  "empty reply",
			reply: "",
			want:  nil,
		},
		{
			name:  "colon with nothing after",
			reply: "0 entries:",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Usernames(tt.reply))
		})
	}
}

func TestOnlinePlayers(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{
			name:  "bracketed prefixes stripped",
			reply: "There are 2 of a max of 20 players online: [1] Alice, [2] Bob",
			want:  []string{"Alice", "Bob"},
		},
		{
			name:  "plain entries untouched",
			reply: "players online: Alice, Bob",
			want:  []string{"Alice", "Bob"},
		},
		{
			name:  "empty list",
			reply: "There are 0 of a max of 20 players online:",
			want:  nil,
		},
		{
			name:  "malformed",
			reply: "garbage",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OnlinePlayers(tt.reply))
		})
	}
}

func TestPlayTimeTicks(t *testing.T) {
	assert.Equal(t, int64(1234), PlayTimeTicks("Alice has 1234 [playtime]"))
	assert.Equal(t, int64(7), PlayTimeTicks("7"))
	assert.Equal(t, int64(42), PlayTimeTicks("value 42 then 99"))
	assert.Equal(t, int64(0), PlayTimeTicks("no digits here"))
	assert.Equal(t, int64(0), PlayTimeTicks(""))
}
