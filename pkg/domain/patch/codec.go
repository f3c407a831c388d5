package patch

import (
	"encoding/json"
	"fmt"
)

// head is the part of the wire object shared by every op.
type head struct {
	Op Op `json:"op"`
	Meta
}

// MarshalJSON writes the patch as one flat object: the op, the meta fields
// and the payload fields side by side.
func (p Patch) MarshalJSON() ([]byte, error) {
	if p.Payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPatch)
	}
	body, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	h, err := json.Marshal(head{Op: p.Payload.Op(), Meta: p.Meta})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(h, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON reads the flat wire object and decodes the payload type
// selected by op.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	payload, err := decodePayload(h.Op, data)
	if err != nil {
		return err
	}
	*p = Patch{Meta: h.Meta, Payload: payload}
	return nil
}

func decodePayload(op Op, data []byte) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch op {
	case OpUpdate:
		var v Update
		err = json.Unmarshal(data, &v)
		payload = v
	case OpUpdateCell:
		var v UpdateCell
		err = json.Unmarshal(data, &v)
		payload = v
	case OpAddTask:
		var v AddTask
		err = json.Unmarshal(data, &v)
		payload = v
	case OpDeleteTask:
		var v DeleteTask
		err = json.Unmarshal(data, &v)
		payload = v
	case OpAddSubtask:
		var v AddSubtask
		err = json.Unmarshal(data, &v)
		payload = v
	case OpDeleteSubtask:
		var v DeleteSubtask
		err = json.Unmarshal(data, &v)
		payload = v
	case OpReorderSubtask:
		var v ReorderSubtask
		err = json.Unmarshal(data, &v)
		payload = v
	case OpUpdateComment:
		var v UpdateComment
		err = json.Unmarshal(data, &v)
		payload = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPatch, op, err)
	}
	return payload, nil
}

// Encode returns the wire bytes of a patch.
func Encode(p Patch) ([]byte, error) {
	return json.Marshal(p)
}

// Decode checks raw wire bytes against the patch schema and decodes them.
func Decode(data []byte) (Patch, error) {
	if err := Validate(data); err != nil {
		return Patch{}, err
	}
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// Ack is the relay's answer to a patch sent over the live channel.
type Ack struct {
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
