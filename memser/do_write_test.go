package memser_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-serializer/common"
	"github.com/mit-pdos/go-serializer/serializer"
	"github.com/mit-pdos/go-serializer/token"
)

// One update and one delete in the same batch: after DoWrite returns,
// both effects are observable together.
func TestDoWriteUpdateAndDelete(t *testing.T) {
	assert := assert.New(t)
	s, shutdown := mkSer()
	defer shutdown()
	acct := serializer.MakeDefaultAccount(s, 1)
	defer acct.Close()

	old0, old1 := data(s), data(s)
	assert.NoError(serializer.DoWrite(s, []serializer.Write{
		serializer.MakeUpdate(0, common.Recency(1), old0),
		serializer.MakeUpdate(1, common.Recency(1), old1),
	}, acct))

	fresh := data(s)
	assert.NoError(serializer.DoWrite(s, []serializer.Write{
		serializer.MakeUpdate(0, common.Recency(2), fresh),
		serializer.MakeDelete(1),
	}, acct))

	tok := s.IndexRead(0)
	assert.NotNil(tok)
	got := s.Malloc()
	assert.NoError(serializer.BlockReadSync(s, tok, got, acct))
	assert.Equal(fresh, got, "the updated id resolves to the new data")
	tok.Release()

	assert.Nil(s.IndexRead(1), "the deleted id is detached")
	assert.True(s.GetDeleteBit(1))

	s.Free(old0)
	s.Free(old1)
	s.Free(fresh)
	s.Free(got)
}

// A touch changes only the recency; a delete clears the token and
// sets the delete bit. The recency of a deleted id stays at its last
// written value (observed behavior, documented here).
func TestDoWriteTouchDeleteIsolation(t *testing.T) {
	assert := assert.New(t)
	s, shutdown := mkSer()
	defer shutdown()
	acct := serializer.MakeDefaultAccount(s, 1)
	defer acct.Close()

	buf := data(s)
	assert.NoError(serializer.DoWrite(s, []serializer.Write{
		serializer.MakeUpdate(0, common.Recency(5), buf),
	}, acct))

	assert.NoError(serializer.DoWrite(s, []serializer.Write{
		serializer.MakeTouch(0, common.Recency(8)),
	}, acct))
	assert.Equal(common.Recency(8), s.GetRecency(0))
	tok := s.IndexRead(0)
	assert.NotNil(tok, "touch leaves the token in place")
	assert.False(s.GetDeleteBit(0))
	tok.Release()

	assert.NoError(serializer.DoWrite(s, []serializer.Write{
		serializer.MakeDelete(0),
	}, acct))
	assert.Nil(s.IndexRead(0))
	assert.True(s.GetDeleteBit(0))
	assert.Equal(common.Recency(8), s.GetRecency(0),
		"delete retains the pre-delete recency")
	s.Free(buf)
}

func TestDoWriteCallbacks(t *testing.T) {
	assert := assert.New(t)
	s, shutdown := mkSer()
	defer shutdown()
	acct := serializer.MakeDefaultAccount(s, 1)
	defer acct.Close()

	buf := data(s)
	var launched *token.Token
	ioDone := make(chan error, 1)
	w := serializer.Write{
		ID: 0,
		Action: serializer.Update{
			Buf:     buf,
			Recency: common.Recency(1),
			IODone:  func(err error) { ioDone <- err },
			Launched: func(tok *token.Token) {
				launched = tok
			},
		},
	}
	assert.NoError(serializer.DoWrite(s, []serializer.Write{w}, acct))

	assert.NotNil(launched, "Launched fired with the write's token")
	assert.Equal(common.BlockID(0), launched.ID())
	assert.NoError(<-ioDone, "the per-intent completion fired")
	s.Free(buf)
}

// A failed data write aborts the batch: DoWrite reports the failure
// and the index is left untouched.
func TestDoWriteFailureAborts(t *testing.T) {
	assert := assert.New(t)
	s, shutdown := mkSer()
	defer shutdown()
	acct := serializer.MakeDefaultAccount(s, 1)
	defer acct.Close()

	buf := data(s)
	injected := errors.New("bad sector")
	s.FailNextWrite(injected)
	err := serializer.DoWrite(s, []serializer.Write{
		serializer.MakeUpdate(0, common.Recency(1), buf),
		serializer.MakeTouch(1, common.Recency(2)),
	}, acct)
	assert.Equal(injected, err)

	assert.Nil(s.IndexRead(0), "no token was published")
	assert.Equal(common.InvalidRecency, s.GetRecency(1),
		"the batched touch was not applied either")
	s.Free(buf)
}
