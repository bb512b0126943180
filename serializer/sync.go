package serializer

// Default blocking implementations, layered over the non-blocking
// interface with a single-shot cond. Engines may provide faster
// equivalents but must preserve the same observable outcome.

import (
	"github.com/mit-pdos/go-serializer/account"
	"github.com/mit-pdos/go-serializer/common"
	"github.com/mit-pdos/go-serializer/cond"
	"github.com/mit-pdos/go-serializer/token"
)

// MakeDefaultAccount allocates an account with no outstanding-request
// cap.
func MakeDefaultAccount(s Serializer, priority int) *account.Account {
	return s.MakeAccount(priority, account.Unlimited)
}

// BlockWriteAuto behaves identically to BlockWrite with
// common.NullBlockID.
func BlockWriteAuto(s Serializer, buf []byte, acct *account.Account, cb IOCallback) *token.Token {
	return s.BlockWrite(buf, common.NullBlockID, acct, cb)
}

// BlockReadSync issues the read and suspends the calling goroutine
// until its completion callback fires.
func BlockReadSync(s Serializer, tok *token.Token, buf []byte, acct *account.Account) error {
	var ioerr error
	done := cond.MkCond()
	s.BlockRead(tok, buf, acct, func(err error) {
		ioerr = err
		done.Pulse()
	})
	done.Wait()
	return ioerr
}

// BlockWriteSyncAt writes buf under a known block id, suspending
// until completion, and returns the write's token.
func BlockWriteSyncAt(s Serializer, buf []byte, id common.BlockID, acct *account.Account) (*token.Token, error) {
	var ioerr error
	done := cond.MkCond()
	tok := s.BlockWrite(buf, id, acct, func(err error) {
		ioerr = err
		done.Pulse()
	})
	done.Wait()
	return tok, ioerr
}

// BlockWriteSync is BlockWriteSyncAt with a freshly allocated id.
func BlockWriteSync(s Serializer, buf []byte, acct *account.Account) (*token.Token, error) {
	return BlockWriteSyncAt(s, buf, common.NullBlockID, acct)
}

// IndexWriteOne applies a single index operation atomically.
func IndexWriteOne(s Serializer, op IndexWriteOp, acct *account.Account) error {
	return s.IndexWrite([]IndexWriteOp{op}, acct)
}
