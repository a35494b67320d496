// Package protobuf wraps google.golang.org/protobuf's protodesc/dynamicpb
// as a schema.Compiler/schema.CompiledSchema pair bound to a single
// fully-qualified message type resolved within a loaded descriptor set.
package protobuf

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/mqttgov/proxy/internal/schema"
)

// Compiler compiles a FileDescriptorSet plus a target message type name
// into a dynamicpb-backed validator.
type Compiler struct{}

// New returns a Protobuf schema compiler.
func New() *Compiler { return &Compiler{} }

// Kind implements schema.Compiler.
func (c *Compiler) Kind() schema.Kind { return schema.Protobuf }

// Compile implements schema.Compiler.
func (c *Compiler) Compile(def schema.Definition) (schema.CompiledSchema, error) {
	if def.MessageType == "" {
		return nil, fmt.Errorf("protobuf: schema %s: message_type is required", def.ID)
	}

	var fdSet descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(def.Source, &fdSet); err != nil {
		return nil, fmt.Errorf("protobuf: schema %s: failed to parse descriptor set: %w", def.ID, err)
	}

	files, err := protodesc.NewFiles(&fdSet)
	if err != nil {
		return nil, fmt.Errorf("protobuf: schema %s: failed to build file registry: %w", def.ID, err)
	}

	desc, err := files.FindDescriptorByName(protoreflect.FullName(def.MessageType))
	if err != nil {
		return nil, fmt.Errorf("protobuf: schema %s: message type %q not found: %w", def.ID, def.MessageType, err)
	}
	msgDesc, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("protobuf: schema %s: %q is not a message type", def.ID, def.MessageType)
	}

	return &compiledSchema{id: def.ID, msgType: dynamicpb.NewMessageType(msgDesc)}, nil
}

type compiledSchema struct {
	id      string
	msgType protoreflect.MessageType
}

// Validate attempts to parse the wire-format payload into the bound
// message type. Validation for Protobuf is exactly successful parsing:
// there is no separate structural check beyond what the wire format
// itself enforces. lenient is accepted for interface conformance but has
// no effect here.
func (c *compiledSchema) Validate(payload []byte, lenient bool) error {
	msg := c.msgType.New().Interface()
	if err := proto.Unmarshal(payload, msg); err != nil {
		return &schema.ValidationError{Code: schema.CodeProtobufParseError, Message: err.Error()}
	}
	return nil
}
