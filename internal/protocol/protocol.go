package protocol

import "encoding/json"

const Version = "1.0"

// Session message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeSync    = "SYNC"
)

// Request channels (client -> authority).
const (
	TypePlaceItem  = "PLACE_ITEM"
	TypeMoveItem   = "MOVE_ITEM"
	TypeRotateItem = "ROTATE_ITEM"
	TypeRecallItem = "RECALL_ITEM"
	TypeUpdateItem = "UPDATE_ITEM"
	TypeDeleteItem = "DELETE_ITEM"
	TypeCloneItem  = "CLONE_ITEM"
)

// Reply/broadcast channels (authority -> clients).
const (
	TypeItemPlaced   = "ITEM_PLACED"
	TypeItemMoved    = "ITEM_MOVED"
	TypeItemRotated  = "ITEM_ROTATED"
	TypeItemRecalled = "ITEM_RECALLED"
	TypeItemUpdated  = "ITEM_UPDATED"
	TypeItemDeleted  = "ITEM_DELETED"
	TypeItemCloned   = "ITEM_CLONED"
)

// Channels maps each request channel to the reply channel that confirms it.
// The authority provisions exactly this set at startup and advertises it in
// WELCOME; clients refuse to operate until every name they need is present.
var Channels = map[string]string{
	TypePlaceItem:  TypeItemPlaced,
	TypeMoveItem:   TypeItemMoved,
	TypeRotateItem: TypeItemRotated,
	TypeRecallItem: TypeItemRecalled,
	TypeUpdateItem: TypeItemUpdated,
	TypeDeleteItem: TypeItemDeleted,
	TypeCloneItem:  TypeItemCloned,
}

// ChannelNames returns every request and reply channel, requests first,
// in a stable order suitable for the WELCOME advertisement.
func ChannelNames() []string {
	reqs := []string{
		TypePlaceItem, TypeMoveItem, TypeRotateItem, TypeRecallItem,
		TypeUpdateItem, TypeDeleteItem, TypeCloneItem,
	}
	out := make([]string, 0, 2*len(reqs))
	out = append(out, reqs...)
	for _, r := range reqs {
		out = append(out, Channels[r])
	}
	return out
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
