package report

import (
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/fota.go/pkg/fota"
)

// Status payload fields
const (
	FieldDevice  = "device"
	FieldStage   = "stage"
	FieldFailed  = "failed"
	FieldVersion = "version"
	FieldSize    = "size"
	FieldError   = "error"
	FieldTime    = "time"
)

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

func numberValue(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

// NewStatus converts an event into a protobuf Struct.
func NewStatus(device string, ev fota.Event) *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldDevice: stringValue(device),
		FieldStage:  stringValue(ev.Stage.String()),
		FieldTime:   stringValue(ptypes.TimestampString(ptypes.TimestampNow())),
	}
	if ev.Version != "" {
		fields[FieldVersion] = stringValue(ev.Version)
	}
	if ev.Size > 0 {
		fields[FieldSize] = numberValue(float64(ev.Size))
	}
	if ev.Err != nil {
		fields[FieldFailed] = stringValue(ev.Failed.String())
		fields[FieldError] = stringValue(ev.Err.Error())
	}
	return &structpb.Struct{Fields: fields}
}

// Encode serializes the status of an event.
func Encode(device string, ev fota.Event) ([]byte, error) {
	return proto.Marshal(NewStatus(device, ev))
}

// Decode parses a status payload.
func Decode(payload []byte) (*structpb.Struct, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
