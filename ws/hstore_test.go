package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerStore(t *testing.T) {
	hs := &HandlerStore{handlers: make(map[string]*Handler)}

	h1 := &Handler{session: &Session{UID: "u1", Sid: "s1"}}
	h2 := &Handler{session: &Session{UID: "u1", Sid: "s2"}}
	h3 := &Handler{session: &Session{UID: "u2", Sid: "s3"}}

	for _, h := range []*Handler{h1, h2, h3} {
		hs.add(h)
	}

	assert.Equal(t, 3, hs.count())
	assert.Same(t, h2, hs.get("s2"))
	assert.Len(t, hs.getByUID("u1"), 2)
	assert.Len(t, hs.getByUID("u9"), 0)

	assert.True(t, hs.del("s1"))
	assert.False(t, hs.del("s1"))
	assert.Len(t, hs.getByUID("u1"), 1)
}
