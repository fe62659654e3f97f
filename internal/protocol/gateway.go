package protocol

// Player gateway message types (client <-> this server).
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCommand = "COMMAND"
	TypeNotice  = "NOTICE"
	TypeAck     = "ACK"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	PlayerName      string `json:"player_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ServerName      string `json:"server_name"`
	PlayerID        string `json:"player_id"`
}

// COMMAND (client -> server): one town or claim operation. Fields are
// a union; each command documents which it reads.
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Command         string `json:"command"`
	Name            string `json:"name,omitempty"`
	Target          string `json:"target,omitempty"`
	World           string `json:"world,omitempty"`
	ChunkX          int    `json:"chunk_x,omitempty"`
	ChunkZ          int    `json:"chunk_z,omitempty"`
	Accepted        bool   `json:"accepted,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
}

// Gateway command names.
const (
	CmdCreateTown       = "CREATE_TOWN"
	CmdDeleteTown       = "DELETE_TOWN"
	CmdInvite           = "INVITE"
	CmdInviteReply      = "INVITE_REPLY"
	CmdRemoveMember     = "REMOVE_MEMBER"
	CmdRenameTown       = "RENAME_TOWN"
	CmdSetSpawn         = "SET_SPAWN"
	CmdClearSpawn       = "CLEAR_SPAWN"
	CmdDeposit          = "DEPOSIT"
	CmdCreateClaim      = "CREATE_CLAIM"
	CmdDeleteClaim      = "DELETE_CLAIM"
	CmdDeleteAllClaims  = "DELETE_ALL_CLAIMS"
	CmdMakeClaimPlot    = "MAKE_CLAIM_PLOT"
	CmdMakeClaimFarm    = "MAKE_CLAIM_FARM"
	CmdMakeClaimRegular = "MAKE_CLAIM_REGULAR"
	CmdAddPlotMember    = "ADD_PLOT_MEMBER"
	CmdRemovePlotMember = "REMOVE_PLOT_MEMBER"
)

// NOTICE (server -> client): a chat line for the player.
type NoticeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Text            string `json:"text"`
}

// ACK (server -> client): command receipt. Rejections carry a code.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
}
