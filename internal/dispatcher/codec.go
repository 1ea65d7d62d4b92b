package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jobhub/messaging/internal/ws"
)

var (
	ErrUnknownKind = errors.New("dispatcher: unknown event kind")
	ErrNilEvent    = errors.New("dispatcher: nil event")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeError describes a frame that could not be turned into an Event.
type DecodeError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("decode frame: %s", e.Reason)
	}
	return fmt.Sprintf("decode %s frame: %s", e.Kind, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode maps an event to its wire frame.
func Encode(ev Event) (ws.Frame, error) {
	if ev == nil {
		return ws.Frame{}, ErrNilEvent
	}
	return ws.NewFrame(string(ev.Kind()), ev)
}

// Decode maps a raw wire message to an event. Malformed input yields *DecodeError;
// a well-formed frame of a kind this client does not know yields ErrUnknownKind.
func Decode(raw []byte) (Event, error) {
	f, err := ws.ParseFrame(raw)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid json", Err: err}
	}
	if f.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}

	kind := Kind(f.Type)
	switch kind {
	case KindMessage:
		var ev Message
		if err := decodePayload(kind, f.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindTypingStart, KindTypingStop:
		ev := Typing{Active: kind == KindTypingStart}
		if err := decodePayload(kind, f.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindRead:
		var ev Read
		if err := decodePayload(kind, f.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindCreateChat:
		var ev CreateChat
		if err := decodePayload(kind, f.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Type)
	}
}

func decodePayload(kind Kind, payload json.RawMessage, dst any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return &DecodeError{Kind: kind, Reason: "missing payload"}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return &DecodeError{Kind: kind, Reason: "invalid payload", Err: err}
	}
	if err := validate.Struct(dst); err != nil {
		return &DecodeError{Kind: kind, Reason: validationReason(err), Err: err}
	}
	return nil
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag())
	}
	return err.Error()
}
