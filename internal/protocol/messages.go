package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorName       string `json:"actor_name"`
	ResumeToken     string `json:"resume_token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ActorID         string      `json:"actor_id"`
	ResumeToken     string      `json:"resume_token"`
	WorldParams     WorldParams `json:"world_params"`
	Channels        []string    `json:"channels"`
}

type WorldParams struct {
	WorldID          string     `json:"world_id"`
	TickRateHz       int        `json:"tick_rate_hz"`
	BoundsMin        [3]float64 `json:"bounds_min"`
	BoundsMax        [3]float64 `json:"bounds_max"`
	ConfirmTimeoutMs int        `json:"confirm_timeout_ms"`
	CatalogDigest    string     `json:"catalog_digest"`
}

// SYNC (server -> client): advisory copy of every placed object, sent once
// after WELCOME. Clients may use it for previews and pre-checks; it is never
// authoritative.
type SyncMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	WorldID         string           `json:"world_id"`
	ServerTick      uint64           `json:"server_tick"`
	Objects         []ObjectSnapshot `json:"objects"`
}

// ObjectSnapshot is the wire form of one placed object.
type ObjectSnapshot struct {
	InstanceID  string               `json:"instance_id"`
	TemplateID  string               `json:"template_id"`
	OwnerID     string               `json:"owner_id"`
	Position    [3]float64           `json:"position"`
	Orientation [3]float64           `json:"orientation"`
	PlacedAt    int64                `json:"placed_at"`
	Persistent  bool                 `json:"persistent"`
	Overrides   map[int]PartOverride `json:"overrides,omitempty"`
}

// PartOverride carries per-sub-part visual state. Applied at creation or
// restore; replies and snapshots carry it back verbatim.
type PartOverride struct {
	Tint       string     `json:"tint,omitempty"`
	Finish     string     `json:"finish,omitempty"`
	Opacity    float64    `json:"opacity,omitempty"`
	Size       [3]float64 `json:"size,omitempty"`
	Collidable bool       `json:"collidable"`
	Fixed      bool       `json:"fixed"`
}

// PLACE_ITEM
type PlaceItemMsg struct {
	Type            string               `json:"type"`
	ProtocolVersion string               `json:"protocol_version"`
	ReqID           string               `json:"req_id"`
	TemplateID      string               `json:"template_id"`
	Position        [3]float64           `json:"position"`
	Orientation     [3]float64           `json:"orientation"`
	Persistent      bool                 `json:"persistent"`
	Overrides       map[int]PartOverride `json:"overrides,omitempty"`
}

// MOVE_ITEM
type MoveItemMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ReqID           string     `json:"req_id"`
	InstanceID      string     `json:"instance_id"`
	Position        [3]float64 `json:"position"`
}

// ROTATE_ITEM
type RotateItemMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ReqID           string     `json:"req_id"`
	InstanceID      string     `json:"instance_id"`
	Orientation     [3]float64 `json:"orientation"`
}

// RECALL_ITEM
type RecallItemMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	InstanceID      string `json:"instance_id"`
}

// UPDATE_ITEM: partial edit of mutable non-transform fields.
// Nil fields are left untouched.
type UpdateItemMsg struct {
	Type            string               `json:"type"`
	ProtocolVersion string               `json:"protocol_version"`
	ReqID           string               `json:"req_id"`
	InstanceID      string               `json:"instance_id"`
	Overrides       map[int]PartOverride `json:"overrides,omitempty"`
	Persistent      *bool                `json:"persistent,omitempty"`
}

// DELETE_ITEM: owner-only hard removal, no inventory credit.
type DeleteItemMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	InstanceID      string `json:"instance_id"`
}

// CLONE_ITEM: validated copy of an existing object at a new transform.
type CloneItemMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ReqID           string     `json:"req_id"`
	InstanceID      string     `json:"instance_id"`
	Position        [3]float64 `json:"position"`
	Orientation     [3]float64 `json:"orientation"`
}

// ReplyMsg is the shared shape of every ITEM_* reply and broadcast.
// The requester receives it with its req_id set; everyone else receives the
// same message with req_id empty. A failed request is never broadcast.
type ReplyMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	OK              bool            `json:"ok"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
	ActorID         string          `json:"actor_id,omitempty"`
	InstanceID      string          `json:"instance_id,omitempty"`
	TemplateID      string          `json:"template_id,omitempty"`
	Position        *[3]float64     `json:"position,omitempty"`
	Orientation     *[3]float64     `json:"orientation,omitempty"`
	Object          *ObjectSnapshot `json:"object,omitempty"`
	ServerTick      uint64          `json:"server_tick"`
}
