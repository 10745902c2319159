package pgconn

// exState names where in the extended-query exchange a message was read,
// so UnexpectedMessageError can report it. It is not used to validate
// transitions — the backend is trusted to follow the protocol it was sent;
// this is bookkeeping for diagnostics only.
type exState int

const (
	stateParse exState = iota
	stateParamDescribe
	stateBind
	stateDescribePortal
	stateExecute
	stateSync
)

func (s exState) String() string {
	switch s {
	case stateParse:
		return "parse"
	case stateParamDescribe:
		return "describe-statement"
	case stateBind:
		return "bind"
	case stateDescribePortal:
		return "describe-portal"
	case stateExecute:
		return "execute"
	case stateSync:
		return "sync"
	default:
		return "unknown"
	}
}
