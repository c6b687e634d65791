package emission

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed payload.cue
var payloadSchemaSrc string

// PayloadSchema validates result payloads against #ResultPayload.
//
// Thread-safety: cue values are not safe for concurrent use, so Validate
// serializes through an internal mutex.
type PayloadSchema struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// NewPayloadSchema compiles the embedded schema.
func NewPayloadSchema() (*PayloadSchema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(payloadSchemaSrc, cue.Filename("payload.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#ResultPayload"))
	if !def.Exists() {
		return nil, fmt.Errorf("payload schema: #ResultPayload not defined")
	}
	return &PayloadSchema{ctx: ctx, def: def}, nil
}

// Validate returns one message per schema violation, or nil.
func (s *PayloadSchema) Validate(payload map[string]any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	val := s.ctx.Encode(payload)
	if err := val.Err(); err != nil {
		return []string{err.Error()}
	}
	err := s.def.Unify(val).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
