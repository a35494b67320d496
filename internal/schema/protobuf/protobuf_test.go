package protobuf

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/mqttgov/proxy/internal/schema"
)

// buildDescriptorSet constructs a minimal FileDescriptorSet for a single
// message "telemetry.Reading { string device_id = 1; double value = 2; }".
func buildDescriptorSet(t *testing.T) []byte {
	t.Helper()

	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	strType := descriptorpb.FieldDescriptorProto_TYPE_STRING
	dblType := descriptorpb.FieldDescriptorProto_TYPE_DOUBLE

	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("telemetry.proto"),
		Package: proto.String("telemetry"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Reading"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("device_id"), Number: proto.Int32(1), Label: &label, Type: &strType},
					{Name: proto.String("value"), Number: proto.Int32(2), Label: &label, Type: &dblType},
				},
			},
		},
	}

	fdSet := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fd}}
	b, err := proto.Marshal(fdSet)
	if err != nil {
		t.Fatalf("marshal descriptor set: %s", err)
	}
	return b
}

func testCompileAndValidate(t *testing.T) {
	c := New()
	compiled, err := c.Compile(schema.Definition{
		ID:          "reading_v1",
		Kind:        schema.Protobuf,
		Source:      buildDescriptorSet(t),
		MessageType: "telemetry.Reading",
	})
	if err != nil {
		t.Fatalf("compile: %s", err)
	}

	// a well-formed varint-tagged string field (field 1, wiretype 2) for
	// "abc" parses successfully under any proto3 message, which is exactly
	// the parse-as-validation contract this compiler implements.
	payload := []byte{0x0a, 0x03, 'a', 'b', 'c'}
	if err := compiled.Validate(payload, false); err != nil {
		t.Fatalf("expected valid payload, got %s", err)
	}
}

func testInvalidWireFormat(t *testing.T) {
	c := New()
	compiled, err := c.Compile(schema.Definition{
		ID:          "reading_v1",
		Kind:        schema.Protobuf,
		Source:      buildDescriptorSet(t),
		MessageType: "telemetry.Reading",
	})
	if err != nil {
		t.Fatalf("compile: %s", err)
	}

	// truncated varint length prefix: invalid wire format.
	payload := []byte{0x0a, 0xff}
	err = compiled.Validate(payload, false)
	if err == nil {
		t.Fatal("expected a protobuf parse error")
	}
	verr, ok := err.(*schema.ValidationError)
	if !ok || verr.Code != schema.CodeProtobufParseError {
		t.Fatalf("expected CodeProtobufParseError, got %v", err)
	}
}

func testUnknownMessageType(t *testing.T) {
	c := New()
	_, err := c.Compile(schema.Definition{
		ID:          "reading_v1",
		Kind:        schema.Protobuf,
		Source:      buildDescriptorSet(t),
		MessageType: "telemetry.DoesNotExist",
	})
	if err == nil {
		t.Fatal("expected compile error for unknown message type")
	}
}

func TestProtobuf(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"compile and validate", testCompileAndValidate},
		{"invalid wire format", testInvalidWireFormat},
		{"unknown message type", testUnknownMessageType},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
