package serializer

import (
	"github.com/mit-pdos/go-serializer/account"
	"github.com/mit-pdos/go-serializer/common"
	"github.com/mit-pdos/go-serializer/cond"
	"github.com/mit-pdos/go-serializer/token"
	"github.com/mit-pdos/go-serializer/util"
)

// A Write describes the caller's desired effect on one block id. It
// is consumed once by DoWrite and not retained afterwards.
type Write struct {
	ID     common.BlockID
	Action Action
}

// Action is one of Update, Delete or Touch.
type Action interface {
	isAction()
}

// Update replaces the block's data and recency.
type Update struct {
	Buf     []byte
	Recency common.Recency

	// IODone, if non-nil, fires when this intent's own data write
	// lands, independent of the batch's index commit.
	IODone IOCallback

	// Launched, if non-nil, fires with the write's token as soon
	// as the write has been issued.
	Launched WriteLaunchedCallback
}

// Delete removes the block: the id's token is detached and its delete
// bit set. No data write is performed.
type Delete struct{}

// Touch updates only the block's recency.
type Touch struct {
	Recency common.Recency
}

func (Update) isAction() {}
func (Delete) isAction() {}
func (Touch) isAction()  {}

func MakeUpdate(id common.BlockID, recency common.Recency, buf []byte) Write {
	return Write{ID: id, Action: Update{Buf: buf, Recency: recency}}
}

func MakeDelete(id common.BlockID) Write {
	return Write{ID: id, Action: Delete{}}
}

func MakeTouch(id common.BlockID, recency common.Recency) Write {
	return Write{ID: id, Action: Touch{Recency: recency}}
}

// DoWrite turns a batch of write intents into block writes and one
// atomic index update. Every update's block write is issued up front;
// the batched index write is submitted only after all of them have
// completed, so the index never advertises a token for data that is
// not yet durable. DoWrite returns once the index write has
// committed, at which point the whole batch is visible to readers as
// a unit. It must only be called where suspension is legal.
//
// If any data write fails, the index write is not submitted and the
// first failure is returned.
//
// DoWrite is implemented in terms of BlockWrite and IndexWrite and is
// not meant to be reimplemented by engines.
func DoWrite(s Serializer, writes []Write, acct *account.Account) error {
	ops := make([]IndexWriteOp, 0, len(writes))
	var pending []*cond.Cond
	ioErrs := make([]error, len(writes))
	var toks []*token.Token

	for i, w := range writes {
		switch a := w.Action.(type) {
		case Update:
			done := cond.MkCond()
			idx := i
			intentCb := a.IODone
			tok := s.BlockWrite(a.Buf, w.ID, acct, func(err error) {
				ioErrs[idx] = err
				if intentCb != nil {
					intentCb(err)
				}
				done.Pulse()
			})
			if a.Launched != nil {
				a.Launched(tok)
			}
			op := TokenOp(tok.ID(), tok)
			op.SetRecency = true
			op.Recency = a.Recency
			ops = append(ops, op)
			pending = append(pending, done)
			toks = append(toks, tok)
		case Delete:
			ops = append(ops, DeleteOp(w.ID))
		case Touch:
			ops = append(ops, RecencyOp(w.ID, a.Recency))
		default:
			panic("serializer: unknown write action")
		}
	}
	util.DPrintf(3, "DoWrite: %d intents, %d data writes\n", len(writes), len(pending))

	// The index write must not be submitted until every data write
	// it references has completed.
	for _, done := range pending {
		done.Wait()
	}

	release := func() {
		for _, tok := range toks {
			tok.Release()
		}
	}
	for _, err := range ioErrs {
		if err != nil {
			release()
			return err
		}
	}
	err := s.IndexWrite(ops, acct)
	// the index now holds its own references
	release()
	return err
}
