package eth

import "webthree-rpc/message"

// Error is a domain failure. Its code survives the wire, so errors.Is
// matches a decoded remote error against these sentinels.
type Error struct {
	Code message.ErrorCode
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) ErrorCode() message.ErrorCode { return e.Code }

// Is compares codes so wrapped and remote forms match.
func (e *Error) Is(target error) bool {
	c, ok := target.(message.Coded)
	return ok && c.ErrorCode() == e.Code
}

var (
	ErrUnknownBlock         = &Error{Code: message.CodeDomainBase + 1, Msg: "eth: unknown block"}
	ErrInsufficientFunds    = &Error{Code: message.CodeDomainBase + 2, Msg: "eth: insufficient funds"}
	ErrInvalidSecret        = &Error{Code: message.CodeDomainBase + 3, Msg: "eth: invalid secret"}
	ErrNonceTooLow          = &Error{Code: message.CodeDomainBase + 4, Msg: "eth: nonce too low"}
	ErrExecutionUnsupported = &Error{Code: message.CodeDomainBase + 5, Msg: "eth: contract execution unsupported"}
	ErrInvalidTransaction   = &Error{Code: message.CodeDomainBase + 6, Msg: "eth: invalid transaction"}
	ErrInvalidPeer          = &Error{Code: message.CodeDomainBase + 7, Msg: "eth: invalid peer"}
)
