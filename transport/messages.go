package transport

import "fmt"

// Message type numbers of the surrounding protocol. The packet engine does not
// interpret them beyond naming the leading payload byte in debug logs.
const (
	MsgDisconnect              = 1
	MsgIgnore                  = 2
	MsgUnimplemented           = 3
	MsgDebug                   = 4
	MsgServiceRequest          = 5
	MsgServiceAccept           = 6
	MsgKexInit                 = 20
	MsgNewKeys                 = 21
	MsgKexDHInit               = 30
	MsgKexDHReply              = 31
	MsgKexDHGexInit            = 32
	MsgKexDHGexReply           = 33
	MsgKexDHGexRequest         = 34
	MsgUserauthRequest         = 50
	MsgUserauthFailure         = 51
	MsgUserauthSuccess         = 52
	MsgUserauthBanner          = 53
	MsgUserauthInfoRequest     = 60
	MsgUserauthInfoResponse    = 61
	MsgGlobalRequest           = 80
	MsgRequestSuccess          = 81
	MsgRequestFailure          = 82
	MsgChannelOpen             = 90
	MsgChannelOpenConfirmation = 91
	MsgChannelOpenFailure      = 92
	MsgChannelWindowAdjust     = 93
	MsgChannelData             = 94
	MsgChannelExtendedData     = 95
	MsgChannelEOF              = 96
	MsgChannelClose            = 97
	MsgChannelRequest          = 98
	MsgChannelSuccess          = 99
	MsgChannelFailure          = 100
)

// MessageName returns the protocol name of a message type byte.
func MessageName(t byte) string {
	switch t {
	case MsgDisconnect:
		return "SSH_MSG_DISCONNECT"
	case MsgIgnore:
		return "SSH_MSG_IGNORE"
	case MsgUnimplemented:
		return "SSH_MSG_UNIMPLEMENTED"
	case MsgDebug:
		return "SSH_MSG_DEBUG"
	case MsgServiceRequest:
		return "SSH_MSG_SERVICE_REQUEST"
	case MsgServiceAccept:
		return "SSH_MSG_SERVICE_ACCEPT"
	case MsgKexInit:
		return "SSH_MSG_KEXINIT"
	case MsgNewKeys:
		return "SSH_MSG_NEWKEYS"
	case MsgKexDHInit:
		return "SSH_MSG_KEXDH_INIT"
	case MsgKexDHReply:
		return "SSH_MSG_KEXDH_REPLY"
	case MsgKexDHGexInit:
		return "SSH_MSG_KEX_DH_GEX_INIT"
	case MsgKexDHGexReply:
		return "SSH_MSG_KEX_DH_GEX_REPLY"
	case MsgKexDHGexRequest:
		return "SSH_MSG_KEX_DH_GEX_REQUEST"
	case MsgUserauthRequest:
		return "SSH_MSG_USERAUTH_REQUEST"
	case MsgUserauthFailure:
		return "SSH_MSG_USERAUTH_FAILURE"
	case MsgUserauthSuccess:
		return "SSH_MSG_USERAUTH_SUCCESS"
	case MsgUserauthBanner:
		return "SSH_MSG_USERAUTH_BANNER"
	case MsgUserauthInfoRequest:
		return "SSH_MSG_USERAUTH_INFO_REQUEST"
	case MsgUserauthInfoResponse:
		return "SSH_MSG_USERAUTH_INFO_RESPONSE"
	case MsgGlobalRequest:
		return "SSH_MSG_GLOBAL_REQUEST"
	case MsgRequestSuccess:
		return "SSH_MSG_REQUEST_SUCCESS"
	case MsgRequestFailure:
		return "SSH_MSG_REQUEST_FAILURE"
	case MsgChannelOpen:
		return "SSH_MSG_CHANNEL_OPEN"
	case MsgChannelOpenConfirmation:
		return "SSH_MSG_CHANNEL_OPEN_CONFIRMATION"
	case MsgChannelOpenFailure:
		return "SSH_MSG_CHANNEL_OPEN_FAILURE"
	case MsgChannelWindowAdjust:
		return "SSH_MSG_CHANNEL_WINDOW_ADJUST"
	case MsgChannelData:
		return "SSH_MSG_CHANNEL_DATA"
	case MsgChannelExtendedData:
		return "SSH_MSG_CHANNEL_EXTENDED_DATA"
	case MsgChannelEOF:
		return "SSH_MSG_CHANNEL_EOF"
	case MsgChannelClose:
		return "SSH_MSG_CHANNEL_CLOSE"
	case MsgChannelRequest:
		return "SSH_MSG_CHANNEL_REQUEST"
	case MsgChannelSuccess:
		return "SSH_MSG_CHANNEL_SUCCESS"
	case MsgChannelFailure:
		return "SSH_MSG_CHANNEL_FAILURE"
	default:
		return fmt.Sprintf("UNKNOWN MSG (%d)", t)
	}
}

func payloadTypeName(payload []byte) string {
	if len(payload) == 0 {
		return "empty"
	}
	return MessageName(payload[0])
}
