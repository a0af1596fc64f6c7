package protocol

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// DecodeError reports a malformed or incomplete command payload. The command
// name is carried so the error event can be tagged with its origin.
type DecodeError struct {
	Command string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Command, e.Message)
}

// UnknownKindError reports a command kind outside the closed set.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown command kind %q", e.Kind)
}

// Decode parses one inbound envelope {kind, payload} into a typed Command.
// All field-level validation lives here; handlers never re-check shapes.
func Decode(msg []byte) (Command, error) {
	if !gjson.ValidBytes(msg) {
		return nil, &DecodeError{Command: "", Message: "invalid JSON"}
	}

	kind := gjson.GetBytes(msg, "kind")
	if kind.Type != gjson.String || kind.Str == "" {
		return nil, &DecodeError{Command: "", Message: "missing command kind"}
	}
	payload := gjson.GetBytes(msg, "payload")

	switch kind.Str {
	case KindRegisterUser:
		name, err := requireString(kind.Str, payload, "displayName")
		if err != nil {
			return nil, err
		}
		avatar, err := requireInt(kind.Str, payload, "avatarRef")
		if err != nil {
			return nil, err
		}
		return RegisterUser{DisplayName: name, AvatarRef: avatar}, nil

	case KindCreateRoom:
		name, err := requireString(kind.Str, payload, "name")
		if err != nil {
			return nil, err
		}
		public, err := requireBool(kind.Str, payload, "isPublic")
		if err != nil {
			return nil, err
		}
		cmd := CreateRoom{Name: name, IsPublic: public}
		if avatar := payload.Get("avatarRef"); avatar.Exists() {
			if avatar.Type != gjson.Number {
				return nil, fieldErr(kind.Str, "avatarRef", "must be a number")
			}
			ref := int(avatar.Int())
			cmd.AvatarRef = &ref
		}
		return cmd, nil

	case KindOpenRoom:
		name, err := requireString(kind.Str, payload, "name")
		if err != nil {
			return nil, err
		}
		return OpenRoom{Name: name}, nil

	case KindPostMessage:
		name, err := requireString(kind.Str, payload, "name")
		if err != nil {
			return nil, err
		}
		text, err := requireString(kind.Str, payload, "text")
		if err != nil {
			return nil, err
		}
		return PostMessage{Name: name, Text: text}, nil

	case KindRequestJoin:
		name, err := requireString(kind.Str, payload, "name")
		if err != nil {
			return nil, err
		}
		return RequestJoin{Name: name}, nil

	case KindApproveJoin:
		name, target, err := roomAndTarget(kind.Str, payload)
		if err != nil {
			return nil, err
		}
		return ApproveJoin{Name: name, TargetName: target}, nil

	case KindRejectJoin:
		name, target, err := roomAndTarget(kind.Str, payload)
		if err != nil {
			return nil, err
		}
		return RejectJoin{Name: name, TargetName: target}, nil

	case KindAddAdmin:
		name, target, err := roomAndTarget(kind.Str, payload)
		if err != nil {
			return nil, err
		}
		return AddAdmin{Name: name, TargetName: target}, nil

	case KindRemoveUser:
		name, target, err := roomAndTarget(kind.Str, payload)
		if err != nil {
			return nil, err
		}
		return RemoveUser{Name: name, TargetName: target}, nil

	case KindInbox:
		target, err := requireString(kind.Str, payload, "targetName")
		if err != nil {
			return nil, err
		}
		text, err := requireString(kind.Str, payload, "text")
		if err != nil {
			return nil, err
		}
		return Inbox{TargetName: target, Text: text}, nil

	case KindSnapshotRequest:
		return SnapshotRequest{}, nil

	case KindHeartbeat:
		return Heartbeat{}, nil
	}

	return nil, &UnknownKindError{Kind: kind.Str}
}

func roomAndTarget(cmd string, payload gjson.Result) (string, string, error) {
	name, err := requireString(cmd, payload, "name")
	if err != nil {
		return "", "", err
	}
	target, err := requireString(cmd, payload, "targetName")
	if err != nil {
		return "", "", err
	}
	return name, target, nil
}

func requireString(cmd string, payload gjson.Result, field string) (string, error) {
	v := payload.Get(field)
	if v.Type != gjson.String || v.Str == "" {
		return "", fieldErr(cmd, field, "must be a non-empty string")
	}
	return v.Str, nil
}

func requireBool(cmd string, payload gjson.Result, field string) (bool, error) {
	v := payload.Get(field)
	if v.Type != gjson.True && v.Type != gjson.False {
		return false, fieldErr(cmd, field, "must be a boolean")
	}
	return v.Bool(), nil
}

func requireInt(cmd string, payload gjson.Result, field string) (int, error) {
	v := payload.Get(field)
	if v.Type != gjson.Number {
		return 0, fieldErr(cmd, field, "must be a number")
	}
	return int(v.Int()), nil
}

func fieldErr(cmd, field, msg string) *DecodeError {
	return &DecodeError{Command: cmd, Message: fmt.Sprintf("field %q %s", field, msg)}
}
