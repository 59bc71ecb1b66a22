package provider

import (
	"errors"
	"strings"
)

type rpcError interface {
	ErrorCode() int
}

// IsDeclined reports whether the failure is the user rejecting a wallet
// confirmation prompt (EIP-1193 code 4001 or equivalent wording).
func IsDeclined(err error) bool {
	if err == nil {
		return false
	}
	var re rpcError
	if errors.As(err, &re) && re.ErrorCode() == 4001 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "declined") || strings.Contains(msg, "rejected") || strings.Contains(msg, "denied")
}

// IsMethodUnsupported reports whether the wallet does not implement the
// requested method at all, as opposed to a transport fault.
func IsMethodUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var re rpcError
	if errors.As(err, &re) && re.ErrorCode() == -32601 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") || strings.Contains(msg, "not supported")
}
