package world

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"placecraft/internal/protocol"
	"placecraft/internal/sim/catalogs"
	"placecraft/internal/sim/spatial"
)

func newInstanceID() string { return uuid.NewString() }

// applyRequest resolves, validates, and applies one intent. Validation and
// mutation happen back to back on the loop goroutine; nothing can interleave.
func (w *World) applyRequest(actorID string, msg any, nowTick uint64) {
	switch m := msg.(type) {
	case protocol.PlaceItemMsg:
		w.applyPlace(actorID, m, nowTick)
	case protocol.MoveItemMsg:
		w.applyMove(actorID, m, nowTick)
	case protocol.RotateItemMsg:
		w.applyRotate(actorID, m, nowTick)
	case protocol.RecallItemMsg:
		w.applyRecall(actorID, m, nowTick)
	case protocol.UpdateItemMsg:
		w.applyUpdate(actorID, m, nowTick)
	case protocol.DeleteItemMsg:
		w.applyDelete(actorID, m, nowTick)
	case protocol.CloneItemMsg:
		w.applyClone(actorID, m, nowTick)
	default:
		w.logf("drop unknown request from %s: %T", actorID, msg)
	}
}

func (w *World) applyPlace(actorID string, m protocol.PlaceItemMsg, nowTick uint64) {
	reject := func(res spatial.Result) {
		w.rejectAndAudit(actorID, protocol.TypePlaceItem, protocol.TypeItemPlaced, m.ReqID, "", m.TemplateID, res, nowTick)
	}

	def, ok := w.catalogs.Resolve(m.TemplateID)
	if !ok || !def.Placeable {
		reject(spatial.Reject(spatial.ReasonInvalidType, "template %q not placeable", m.TemplateID))
		return
	}
	if err := validateOverrides(def, m.Overrides); err != "" {
		reject(spatial.Result{Reason: spatial.Reason(protocol.ErrBadRequest), Detail: err})
		return
	}
	if w.cfg.MaxObjectsPerOwner > 0 && len(w.store.OwnedBy(actorID)) >= w.cfg.MaxObjectsPerOwner {
		reject(spatial.Result{Reason: spatial.Reason(protocol.ErrBadRequest), Detail: "owner object limit reached"})
		return
	}
	if res := w.validator.CanPlaceAt(w.store, m.Position, def.BoundingSize, "", def.RequiresGround); !res.OK {
		reject(res)
		return
	}

	o := &PlacedObject{
		InstanceID:     w.nextInstance(),
		TemplateID:     def.ID,
		OwnerID:        actorID,
		Position:       m.Position,
		Orientation:    m.Orientation,
		PlacedAt:       time.Now().Unix(),
		Persistent:     m.Persistent,
		BoundingSize:   def.BoundingSize,
		RequiresGround: def.RequiresGround,
	}
	if len(m.Overrides) > 0 {
		o.Overrides = make(map[int]protocol.PartOverride, len(m.Overrides))
		for k, v := range m.Overrides {
			o.Overrides[k] = v
		}
	}
	w.store.Insert(o)

	snap := o.Snapshot()
	reply := protocol.ReplyMsg{
		Type:            protocol.TypeItemPlaced,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		OK:              true,
		ActorID:         actorID,
		InstanceID:      o.InstanceID,
		TemplateID:      o.TemplateID,
		Object:          &snap,
		ServerTick:      nowTick,
	}
	w.replyAndBroadcast(actorID, reply)
	w.audit(AuditEntry{Tick: nowTick, Actor: actorID, Action: protocol.TypePlaceItem, InstanceID: o.InstanceID, TemplateID: o.TemplateID, Pos: o.Position, OK: true})
}

func (w *World) applyMove(actorID string, m protocol.MoveItemMsg, nowTick uint64) {
	o := w.store.Get(m.InstanceID)
	if o == nil {
		w.rejectAndAudit(actorID, protocol.TypeMoveItem, protocol.TypeItemMoved, m.ReqID, m.InstanceID, "",
			spatial.Reject(spatial.ReasonUnknownInstance, "no such instance"), nowTick)
		return
	}
	res := w.validator.CanMoveItem(actorID, o.OwnerID, w.store, o.InstanceID, m.Position, o.BoundingSize, o.RequiresGround)
	if !res.OK {
		w.rejectAndAudit(actorID, protocol.TypeMoveItem, protocol.TypeItemMoved, m.ReqID, m.InstanceID, o.TemplateID, res, nowTick)
		return
	}

	o.Position = m.Position
	pos := o.Position
	reply := protocol.ReplyMsg{
		Type:            protocol.TypeItemMoved,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		OK:              true,
		ActorID:         actorID,
		InstanceID:      o.InstanceID,
		Position:        &pos,
		ServerTick:      nowTick,
	}
	w.replyAndBroadcast(actorID, reply)
	w.audit(AuditEntry{Tick: nowTick, Actor: actorID, Action: protocol.TypeMoveItem, InstanceID: o.InstanceID, TemplateID: o.TemplateID, Pos: o.Position, OK: true})
}

func (w *World) applyRotate(actorID string, m protocol.RotateItemMsg, nowTick uint64) {
	o := w.store.Get(m.InstanceID)
	if o == nil {
		w.rejectAndAudit(actorID, protocol.TypeRotateItem, protocol.TypeItemRotated, m.ReqID, m.InstanceID, "",
			spatial.Reject(spatial.ReasonUnknownInstance, "no such instance"), nowTick)
		return
	}
	if res := spatial.CanRotateItem(actorID, o.OwnerID); !res.OK {
		w.rejectAndAudit(actorID, protocol.TypeRotateItem, protocol.TypeItemRotated, m.ReqID, m.InstanceID, o.TemplateID, res, nowTick)
		return
	}

	o.Orientation = m.Orientation
	orient := o.Orientation
	reply := protocol.ReplyMsg{
		Type:            protocol.TypeItemRotated,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		OK:              true,
		ActorID:         actorID,
		InstanceID:      o.InstanceID,
		Orientation:     &orient,
		ServerTick:      nowTick,
	}
	w.replyAndBroadcast(actorID, reply)
	w.audit(AuditEntry{Tick: nowTick, Actor: actorID, Action: protocol.TypeRotateItem, InstanceID: o.InstanceID, TemplateID: o.TemplateID, OK: true})
}

func (w *World) applyRecall(actorID string, m protocol.RecallItemMsg, nowTick uint64) {
	o := w.store.Get(m.InstanceID)
	if o == nil {
		w.rejectAndAudit(actorID, protocol.TypeRecallItem, protocol.TypeItemRecalled, m.ReqID, m.InstanceID, "",
			spatial.Reject(spatial.ReasonUnknownInstance, "no such instance"), nowTick)
		return
	}
	if res := spatial.CanRecallItem(actorID, o.OwnerID); !res.OK {
		w.rejectAndAudit(actorID, protocol.TypeRecallItem, protocol.TypeItemRecalled, m.ReqID, m.InstanceID, o.TemplateID, res, nowTick)
		return
	}

	w.store.Remove(o.InstanceID)
	if w.crediter != nil {
		w.crediter.Credit(o.OwnerID, o.TemplateID, 1)
	}
	reply := protocol.ReplyMsg{
		Type:            protocol.TypeItemRecalled,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		OK:              true,
		ActorID:         actorID,
		InstanceID:      o.InstanceID,
		TemplateID:      o.TemplateID,
		ServerTick:      nowTick,
	}
	w.replyAndBroadcast(actorID, reply)
	w.audit(AuditEntry{Tick: nowTick, Actor: actorID, Action: protocol.TypeRecallItem, InstanceID: o.InstanceID, TemplateID: o.TemplateID, OK: true})
}

func (w *World) applyUpdate(actorID string, m protocol.UpdateItemMsg, nowTick uint64) {
	o := w.store.Get(m.InstanceID)
	if o == nil {
		w.rejectAndAudit(actorID, protocol.TypeUpdateItem, protocol.TypeItemUpdated, m.ReqID, m.InstanceID, "",
			spatial.Reject(spatial.ReasonUnknownInstance, "no such instance"), nowTick)
		return
	}
	if res := spatial.IsOwner(actorID, o.OwnerID); !res.OK {
		w.rejectAndAudit(actorID, protocol.TypeUpdateItem, protocol.TypeItemUpdated, m.ReqID, m.InstanceID, o.TemplateID, res, nowTick)
		return
	}
	if len(m.Overrides) > 0 {
		def, ok := w.catalogs.Resolve(o.TemplateID)
		if !ok {
			w.rejectAndAudit(actorID, protocol.TypeUpdateItem, protocol.TypeItemUpdated, m.ReqID, m.InstanceID, o.TemplateID,
				spatial.Reject(spatial.ReasonInvalidType, "template no longer resolvable"), nowTick)
			return
		}
		if err := validateOverrides(def, m.Overrides); err != "" {
			w.rejectAndAudit(actorID, protocol.TypeUpdateItem, protocol.TypeItemUpdated, m.ReqID, m.InstanceID, o.TemplateID,
				spatial.Result{Reason: spatial.Reason(protocol.ErrBadRequest), Detail: err}, nowTick)
			return
		}
	}

	if m.Overrides != nil {
		if o.Overrides == nil {
			o.Overrides = make(map[int]protocol.PartOverride, len(m.Overrides))
		}
		for k, v := range m.Overrides {
			o.Overrides[k] = v
		}
	}
	if m.Persistent != nil {
		o.Persistent = *m.Persistent
	}

	snap := o.Snapshot()
	reply := protocol.ReplyMsg{
		Type:            protocol.TypeItemUpdated,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		OK:              true,
		ActorID:         actorID,
		InstanceID:      o.InstanceID,
		Object:          &snap,
		ServerTick:      nowTick,
	}
	w.replyAndBroadcast(actorID, reply)
	w.audit(AuditEntry{Tick: nowTick, Actor: actorID, Action: protocol.TypeUpdateItem, InstanceID: o.InstanceID, TemplateID: o.TemplateID, OK: true})
}

func (w *World) applyDelete(actorID string, m protocol.DeleteItemMsg, nowTick uint64) {
	o := w.store.Get(m.InstanceID)
	if o == nil {
		w.rejectAndAudit(actorID, protocol.TypeDeleteItem, protocol.TypeItemDeleted, m.ReqID, m.InstanceID, "",
			spatial.Reject(spatial.ReasonUnknownInstance, "no such instance"), nowTick)
		return
	}
	if res := spatial.IsOwner(actorID, o.OwnerID); !res.OK {
		w.rejectAndAudit(actorID, protocol.TypeDeleteItem, protocol.TypeItemDeleted, m.ReqID, m.InstanceID, o.TemplateID, res, nowTick)
		return
	}

	w.store.Remove(o.InstanceID)
	reply := protocol.ReplyMsg{
		Type:            protocol.TypeItemDeleted,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		OK:              true,
		ActorID:         actorID,
		InstanceID:      o.InstanceID,
		ServerTick:      nowTick,
	}
	w.replyAndBroadcast(actorID, reply)
	w.audit(AuditEntry{Tick: nowTick, Actor: actorID, Action: protocol.TypeDeleteItem, InstanceID: o.InstanceID, TemplateID: o.TemplateID, OK: true})
}

func (w *World) applyClone(actorID string, m protocol.CloneItemMsg, nowTick uint64) {
	src := w.store.Get(m.InstanceID)
	if src == nil {
		w.rejectAndAudit(actorID, protocol.TypeCloneItem, protocol.TypeItemCloned, m.ReqID, m.InstanceID, "",
			spatial.Reject(spatial.ReasonUnknownInstance, "no such instance"), nowTick)
		return
	}
	if res := spatial.IsOwner(actorID, src.OwnerID); !res.OK {
		w.rejectAndAudit(actorID, protocol.TypeCloneItem, protocol.TypeItemCloned, m.ReqID, m.InstanceID, src.TemplateID, res, nowTick)
		return
	}
	// The copy is validated like a fresh placement; the source keeps its spot.
	if res := w.validator.CanPlaceAt(w.store, m.Position, src.BoundingSize, "", src.RequiresGround); !res.OK {
		w.rejectAndAudit(actorID, protocol.TypeCloneItem, protocol.TypeItemCloned, m.ReqID, m.InstanceID, src.TemplateID, res, nowTick)
		return
	}

	o := &PlacedObject{
		InstanceID:     w.nextInstance(),
		TemplateID:     src.TemplateID,
		OwnerID:        actorID,
		Position:       m.Position,
		Orientation:    m.Orientation,
		PlacedAt:       time.Now().Unix(),
		Persistent:     src.Persistent,
		BoundingSize:   src.BoundingSize,
		RequiresGround: src.RequiresGround,
	}
	if len(src.Overrides) > 0 {
		o.Overrides = make(map[int]protocol.PartOverride, len(src.Overrides))
		for k, v := range src.Overrides {
			o.Overrides[k] = v
		}
	}
	w.store.Insert(o)

	snap := o.Snapshot()
	reply := protocol.ReplyMsg{
		Type:            protocol.TypeItemCloned,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		OK:              true,
		ActorID:         actorID,
		InstanceID:      o.InstanceID,
		TemplateID:      o.TemplateID,
		Object:          &snap,
		ServerTick:      nowTick,
	}
	w.replyAndBroadcast(actorID, reply)
	w.audit(AuditEntry{Tick: nowTick, Actor: actorID, Action: protocol.TypeCloneItem, InstanceID: o.InstanceID, TemplateID: o.TemplateID, Pos: o.Position, OK: true})
}

// validateOverrides checks every override index against the template's part
// list. Returns a detail string, empty on success.
func validateOverrides(def catalogs.TemplateDef, overrides map[int]protocol.PartOverride) string {
	for idx := range overrides {
		if idx < 0 || idx >= len(def.Parts) {
			return "override index out of range"
		}
	}
	return ""
}

// rejectAndAudit sends a failure reply to the requester only. Rejections are
// expected outcomes, not system faults; they are never broadcast.
func (w *World) rejectAndAudit(actorID, action, replyType, reqID, instanceID, templateID string, res spatial.Result, nowTick uint64) {
	reply := protocol.ReplyMsg{
		Type:            replyType,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		OK:              false,
		Code:            string(res.Reason),
		Message:         res.Detail,
		InstanceID:      instanceID,
		ServerTick:      nowTick,
	}
	w.sendTo(actorID, reply)
	w.audit(AuditEntry{Tick: nowTick, Actor: actorID, Action: action, InstanceID: instanceID, TemplateID: templateID, Code: string(res.Reason)})
}

// replyAndBroadcast delivers the confirmed reply to the requester and the
// same message, without the correlation id, to every other client.
func (w *World) replyAndBroadcast(actorID string, reply protocol.ReplyMsg) {
	w.sendTo(actorID, reply)
	reply.ReqID = ""
	for id, cl := range w.clients {
		if id == actorID {
			continue
		}
		if b, err := json.Marshal(reply); err == nil {
			sendLatest(cl.Out, b)
		}
	}
}

func (w *World) sendTo(actorID string, reply protocol.ReplyMsg) {
	cl := w.clients[actorID]
	if cl == nil {
		return
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	sendLatest(cl.Out, b)
}

func (w *World) audit(entry AuditEntry) {
	if w.auditLogger != nil {
		_ = w.auditLogger.WriteAudit(entry)
	}
}
