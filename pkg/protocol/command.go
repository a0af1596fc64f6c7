package protocol

// Inbound command kinds. The set is closed: the dispatcher switches
// exhaustively over the Command variants below.
const (
	KindRegisterUser    = "register-user"
	KindCreateRoom      = "create-room"
	KindOpenRoom        = "open-room"
	KindPostMessage     = "post-message"
	KindRequestJoin     = "request-join"
	KindApproveJoin     = "approve-join"
	KindRejectJoin      = "reject-join"
	KindAddAdmin        = "add-admin"
	KindRemoveUser      = "remove-user"
	KindInbox           = "inbox"
	KindSnapshotRequest = "snapshot-request"
	KindHeartbeat       = "heartbeat"
)

// Command is one decoded inbound request. Exactly one concrete type exists
// per command kind; payload validation happens in Decode, so handlers can
// assume every field is present and well-formed.
type Command interface {
	Kind() string
}

type RegisterUser struct {
	DisplayName string
	AvatarRef   int
}

type CreateRoom struct {
	Name      string
	IsPublic  bool
	AvatarRef *int // optional
}

type OpenRoom struct {
	Name string
}

type PostMessage struct {
	Name string
	Text string
}

type RequestJoin struct {
	Name string
}

type ApproveJoin struct {
	Name       string
	TargetName string
}

type RejectJoin struct {
	Name       string
	TargetName string
}

type AddAdmin struct {
	Name       string
	TargetName string
}

type RemoveUser struct {
	Name       string
	TargetName string
}

type Inbox struct {
	TargetName string
	Text       string
}

type SnapshotRequest struct{}

type Heartbeat struct{}

func (RegisterUser) Kind() string    { return KindRegisterUser }
func (CreateRoom) Kind() string      { return KindCreateRoom }
func (OpenRoom) Kind() string        { return KindOpenRoom }
func (PostMessage) Kind() string     { return KindPostMessage }
func (RequestJoin) Kind() string     { return KindRequestJoin }
func (ApproveJoin) Kind() string     { return KindApproveJoin }
func (RejectJoin) Kind() string      { return KindRejectJoin }
func (AddAdmin) Kind() string        { return KindAddAdmin }
func (RemoveUser) Kind() string      { return KindRemoveUser }
func (Inbox) Kind() string           { return KindInbox }
func (SnapshotRequest) Kind() string { return KindSnapshotRequest }
func (Heartbeat) Kind() string       { return KindHeartbeat }
