package proto

const (
	// Inbound tags accepted before login.
	InboundTypeVersion = "version"
	InboundTypeLogin   = "login"

	// Inbound tags accepted in the lobby.
	InboundTypeMessage      = "message"
	InboundTypeWhisper      = "whisper"
	InboundTypeNickserv     = "nickserv"
	InboundTypeCreateGame   = "create_game"
	InboundTypeJoin         = "join"
	InboundTypeQuery        = "query"
	InboundTypeRefreshLobby = "refresh_lobby"

	// Inbound tags handled by the server while seated in a game.
	InboundTypeLeaveGame = "leave_game"
	InboundTypeStartGame = "start_game"
	InboundTypeDescribe  = "describe"
	InboundTypeEndGame   = "end_game"

	// Nickserv sub-requests.
	NickservRegister = "register"
	NickservDrop     = "drop"
	NickservIdentify = "identify"

	OutboundTypeVersion        = "version"
	OutboundTypeMustLogin      = "mustlogin"
	OutboundTypeRedirect       = "redirect"
	OutboundTypeProxy          = "proxy"
	OutboundTypeError          = "error"
	OutboundTypeJoinLobby      = "join_lobby"
	OutboundTypeGameList       = "gamelist"
	OutboundTypeGameListDiff   = "gamelist_diff"
	OutboundTypeMessage        = "message"
	OutboundTypeWhisper        = "whisper"
	OutboundTypeNickserv       = "nickserv"
	OutboundTypeJoinGame       = "join_game"
	OutboundTypeLeaveGame      = "leave_game"
	OutboundTypeMemberJoined   = "member_joined"
	OutboundTypeMemberLeft     = "member_left"
	OutboundTypeMemberRejoined = "member_rejoined"
	OutboundTypeHostTransfer   = "host_transfer"
	OutboundTypeQueryResponse  = "query_response"

	// ServerSender is the sender name used for server-originated chat.
	ServerSender = "server"
)

// Error builds an error response carrying a human message and a machine code.
func Error(code, msg string) *Node {
	return NewNode(OutboundTypeError).
		Set("message", msg).
		Set("error_code", code)
}

// PasswordRequest is an error response asking the client to prompt for a
// password. wrongPassword distinguishes a rejected password from a missing one.
func PasswordRequest(code, msg, user string, wrongPassword, forceConfirmation bool) *Node {
	n := Error(code, msg).
		Set("password_request", "yes").
		Set("name", user).
		SetBool("wrong_password", wrongPassword)
	if forceConfirmation {
		n.Set("force_confirmation", "yes")
	}
	return n
}

// ServerMessage is a chat line sent on behalf of the server.
func ServerMessage(text string) *Node {
	return NewNode(OutboundTypeMessage).
		Set("sender", ServerSender).
		Set("message", text)
}

// QueryResponse wraps plain-text command output.
func QueryResponse(text string) *Node {
	return NewNode(OutboundTypeQueryResponse).Set("message", text)
}
